package login

import (
	"context"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/claims"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/events"
)

// Store is the slice of account storage the login pipeline uses. Lookups
// that match nothing return accounts.ErrNotFound; inserts that collide with
// a uniqueness constraint return accounts.ErrUniqueViolation.
type Store interface {
	UserByFederationID(ctx context.Context, federationID string) (*auth.User, error)
	UserByUsername(ctx context.Context, username string) (*auth.User, error)
	UserByEmail(ctx context.Context, email string) (*auth.User, error)
	CreateUser(ctx context.Context, user *auth.User) error
	UpdateUser(ctx context.Context, user *auth.User) error

	VOByEntitlement(ctx context.Context, entitlement string) (*auth.VirtualOrganization, error)
	CreateVO(ctx context.Context, entitlement string) (*auth.VirtualOrganization, error)
	UserVOs(ctx context.Context, userID int64) ([]*auth.VirtualOrganization, error)
	AddMembership(ctx context.Context, userID, groupID int64) error
	RemoveMembership(ctx context.Context, userID, groupID int64) error
}

// Emitter delivers account lifecycle events to the application.
type Emitter interface {
	Emit(ctx context.Context, ev events.Event) error
}

func emit(ctx context.Context, em Emitter, typ events.Type, user *auth.User, vo *auth.VirtualOrganization, c *claims.Claims, info events.RequestInfo) error {
	ev := events.New(typ)
	ev.User = user
	ev.VO = vo
	ev.Request = info
	ev.Userinfo = c.Raw
	return em.Emit(ctx, ev)
}
