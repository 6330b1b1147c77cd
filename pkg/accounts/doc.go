// Package accounts stores users, groups, virtual organizations and
// memberships on PostgreSQL.
//
// The store performs no in-process locking or caching; concurrent login
// callbacks for the same identity are arbitrated by the database's
// uniqueness constraints. Collisions surface as ErrUniqueViolation so that
// callers can turn "row already exists" races into a re-read.
package accounts
