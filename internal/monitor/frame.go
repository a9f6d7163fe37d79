// ABOUTME: Defensive decoding of inbound WebSocket frames into posts.
// ABOUTME: Malformed or irrelevant frames are dropped, never raised as errors.

package monitor

import "encoding/json"

// Post is the decoded inner payload of a "posted" frame.
type Post struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	RootID    string `json:"root_id"`
	Message   string `json:"message"`
	CreateAt  int64  `json:"create_at"`
}

// decodePostedFrame parses a raw frame and returns the inner post. Only
// frames with event "posted" and a decodable post payload are accepted; the
// post field may arrive either as a JSON object or as a JSON-encoded string
// (the backend double-encodes it). Everything else reports ok=false.
func decodePostedFrame(raw []byte) (Post, bool) {
	var frame struct {
		Event string `json:"event"`
		Data  struct {
			Post json.RawMessage `json:"post"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Post{}, false
	}
	if frame.Event != "posted" || len(frame.Data.Post) == 0 {
		return Post{}, false
	}

	inner := []byte(frame.Data.Post)
	var nested string
	if err := json.Unmarshal(inner, &nested); err == nil {
		inner = []byte(nested)
	}

	var post Post
	if err := json.Unmarshal(inner, &post); err != nil {
		return Post{}, false
	}
	return post, true
}
