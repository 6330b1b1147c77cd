// Package login implements the reconciliation that runs on every successful
// AAI callback: deciding whether the local user must be created or updated,
// resolving username and email collisions, and diffing the federation's
// group entitlements against stored VO memberships.
//
// The pipeline holds no state between requests and takes no locks; races
// between concurrent callbacks for the same identity are resolved through
// the store's uniqueness constraints (a lost create race becomes a re-read
// and update).
package login
