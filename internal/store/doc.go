// Package store persists gateway activity: inbound messages, delivery
// outcomes, and connection transitions. The SQLite implementation creates
// its schema on first open.
package store
