// Package auth provides JWT bearer authentication for the status API.
package auth
