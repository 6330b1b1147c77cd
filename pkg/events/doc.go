// Package events notifies the rest of the application about account
// lifecycle changes made by the AAI bridge.
//
// Emission is synchronous: subscribers run in registration order on the
// request goroutine, and the first failing subscriber aborts the dispatch.
// Application code that must react to logins, provisioning, or VO membership
// changes subscribes a Handler during startup. An optional WebhookForwarder
// pushes the same events to an external endpoint for cross-process
// consumers.
package events
