// Package channel defines the shared contract between the gateway core and
// platform-specific channel adapters: outbound send requests and results,
// and the status sink monitors report connection transitions to.
package channel
