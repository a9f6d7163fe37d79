// Package slack delivers outbound messages over the Slack Web API.
package slack
