// Package config loads the gateway YAML configuration.
package config
