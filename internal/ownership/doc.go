// Package ownership keeps multiple concurrent agent instances from replying
// in the same conversation thread. Claims live in an external forwarder
// service reached over HTTP; a local mention-TTL map exempts threads where
// this agent was addressed directly. The check is advisory and fails open
// by default.
package ownership
