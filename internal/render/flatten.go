// ABOUTME: Flattens agent-produced markdown into plain text for channels without markdown rendering.
// ABOUTME: Keeps link targets and code content; drops formatting markers.

package render

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Flatten renders markdown as plain text. Emphasis and heading markers are
// dropped; links become "text (url)" so the target survives; code blocks and
// spans keep their content verbatim.
func Flatten(markdown string) string {
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}

		case *ast.Link:
			if !entering {
				dest := string(node.Destination)
				if dest != "" {
					buf.WriteString(" (" + dest + ")")
				}
			}

		case *ast.AutoLink:
			if entering {
				buf.Write(node.URL(src))
			}

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			}

		case *ast.ListItem:
			if entering {
				buf.WriteString("- ")
			}

		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimRight(buf.String(), "\n")
}
