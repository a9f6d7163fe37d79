// Package agent holds the runner contract and the manager that drives turns.
//
// A Runner is any reply-producing backend: a local model harness, a remote
// process, a test script. The Manager owns the registry, assigns turn IDs,
// and folds streamed events into a single reply while tool calls pass
// through the hook runner.
package agent
