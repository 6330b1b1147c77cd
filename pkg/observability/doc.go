// Package observability bundles structured logging, Prometheus metrics and
// the health endpoints of the AAI bridge.
package observability
