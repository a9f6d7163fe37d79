// Package hooks provides the lifecycle hook runner: a registry of named
// extension points (message_sending, message_sent, before_tool_call,
// session_start, session_end) invoked at fixed pipeline points.
//
// The runner is an explicitly constructed object passed through the call
// chain, not a process-wide singleton. Handlers for one operation run
// sequentially in (priority, registration) order; operations on different
// goroutines dispatch concurrently against the read-only registry.
package hooks
