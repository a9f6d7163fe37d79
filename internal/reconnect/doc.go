// Package reconnect keeps long-lived channel connections alive by driving a
// connect function in a loop with exponential backoff and jitter.
package reconnect
