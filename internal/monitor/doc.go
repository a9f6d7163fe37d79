// Package monitor owns the inbound side of a channel: long-lived WebSocket
// connections with a challenge handshake and defensive frame decoding, and
// an HTTP webhook registry for platforms that push events instead.
//
// A monitor performs exactly one connection attempt per ConnectOnce call and
// reports status transitions to an injected sink; the reconnect package
// drives it in a loop.
package monitor
