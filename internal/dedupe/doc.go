// Package dedupe provides a TTL-based, size-bounded cache for suppressing
// duplicate inbound messages across channel adapters.
package dedupe
