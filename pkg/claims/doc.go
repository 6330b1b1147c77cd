// Package claims normalizes the userinfo response of the Helmholtz AAI into
// the fields the login pipeline needs.
//
// The AAI integrates exactly one claims shape: eduperson_unique_id as the
// stable subject identifier, the usual OIDC profile claims, and
// eduperson_entitlement as a list of structured strings. Entitlements
// matching the group pattern (":group:" followed by a "#" fragment) describe
// virtual organizations; everything else is a capability flag and is ignored
// by group synchronization.
package claims
