// Package auth defines the account entities shared across the AAI bridge:
// local users bound to a federation identity, plain groups, and virtual
// organizations overlaid on groups.
//
// A VirtualOrganization references its Group by foreign key instead of
// subclassing it; the display name is a pure function of the entitlement
// string and is never stored.
package auth
