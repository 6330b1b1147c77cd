// Package config loads the bridge configuration from AAI_-prefixed
// environment variables.
package config
