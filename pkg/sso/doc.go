// Package sso holds the HTTP-facing side of the Helmholtz AAI bridge: the
// OpenID Connect client, the database-backed session manager and the login,
// callback and logout handlers.
package sso
