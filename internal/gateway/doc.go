// Package gateway wires the whole service together.
//
// A Gateway owns one agent manager, one hook runner, one dedupe cache, and
// one adapter per enabled channel. Inbound messages from any channel funnel
// through HandleInbound: dedupe check, mention tracking, store record, agent
// turn, outbound delivery, dedupe mark. Connection loops for socket-based
// channels run under reconnect supervision; webhook channels mount on the
// local HTTP server next to the health and status endpoints.
package gateway
