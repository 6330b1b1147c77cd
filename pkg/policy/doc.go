// Package policy decides whether an authenticated AAI identity may log in
// at all.
//
// Checks run in fixed order and short-circuit: VO allow-list, email
// verification, email uniqueness. Only the first failing reason is reported.
package policy
