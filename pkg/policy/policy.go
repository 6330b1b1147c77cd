package policy

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/accounts"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/claims"
)

// DeniedError reports a failed policy check. The reason is safe to show to
// the end user.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "access denied: " + e.Reason
}

// Directory is the read-only account lookup the policy needs. Lookups that
// match nothing return accounts.ErrNotFound.
type Directory interface {
	UserByFederationID(ctx context.Context, federationID string) (*auth.User, error)
	UserByEmail(ctx context.Context, email string) (*auth.User, error)
}

// Policy gates logins before any account is provisioned or updated.
type Policy struct {
	allowedVOs         []*regexp.Regexp
	enforceUniqueEmail bool
	dir                Directory
}

// New creates a policy.
//
// An empty allowedVOs list admits every virtual organization. When
// enforceUniqueEmail is set, a claims email already owned by a different
// local user denies the login.
func New(dir Directory, allowedVOs []*regexp.Regexp, enforceUniqueEmail bool) *Policy {
	return &Policy{
		allowedVOs:         allowedVOs,
		enforceUniqueEmail: enforceUniqueEmail,
		dir:                dir,
	}
}

// Evaluate runs the policy checks in fixed order and stops at the first
// failing one. It returns nil for an admitted login, a *DeniedError for a
// policy denial, or another error for a store fault.
func (p *Policy) Evaluate(ctx context.Context, c *claims.Claims) error {
	if len(p.allowedVOs) > 0 && !p.anyEntitlementAllowed(c.Entitlements) {
		return &DeniedError{
			Reason: "your virtual organizations are not allowed to log into this website",
		}
	}

	if !c.EmailVerified {
		return &DeniedError{Reason: "your email has not been verified"}
	}

	return p.checkEmailUnique(ctx, c)
}

func (p *Policy) anyEntitlementAllowed(entitlements []string) bool {
	for _, pattern := range p.allowedVOs {
		for _, entitlement := range entitlements {
			if pattern.MatchString(entitlement) {
				return true
			}
		}
	}
	return false
}

// checkEmailUnique denies a login whose email already belongs to a different
// user. For a known federation id the check only applies when the email
// would actually change.
func (p *Policy) checkEmailUnique(ctx context.Context, c *claims.Claims) error {
	if !p.enforceUniqueEmail {
		return nil
	}

	self, err := p.dir.UserByFederationID(ctx, c.FederationID)
	if err != nil && !errors.Is(err, accounts.ErrNotFound) {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if self != nil && self.Email == c.Email {
		return nil
	}

	owner, err := p.dir.UserByEmail(ctx, c.Email)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up email: %w", err)
	}

	if self == nil || owner.ID != self.ID {
		return &DeniedError{
			Reason: fmt.Sprintf("a user with the email %s already exists", c.Email),
		}
	}
	return nil
}
