package login

import (
	"context"
	"errors"
	"fmt"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/accounts"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/claims"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/events"
)

// Reconciler finds or creates the local user for an AAI identity and keeps
// its attributes in sync with the claims.
type Reconciler struct {
	store              Store
	events             Emitter
	enforceUniqueEmail bool
}

// NewReconciler creates a reconciler. enforceUniqueEmail mirrors the policy
// setting; when set, an email change that would collide with a different
// user is skipped instead of applied.
func NewReconciler(store Store, em Emitter, enforceUniqueEmail bool) *Reconciler {
	return &Reconciler{
		store:              store,
		events:             em,
		enforceUniqueEmail: enforceUniqueEmail,
	}
}

// Reconcile resolves the claims to a local user. The federation id is the
// only lookup key: an unknown id creates a user, a known one applies any
// attribute changes. The second return value reports whether a user was
// created.
//
// Reconciling twice with identical claims performs no writes and emits no
// events on the second call.
func (r *Reconciler) Reconcile(ctx context.Context, c *claims.Claims, info events.RequestInfo) (*auth.User, bool, error) {
	user, err := r.store.UserByFederationID(ctx, c.FederationID)
	if errors.Is(err, accounts.ErrNotFound) {
		return r.create(ctx, c, info)
	}
	if err != nil {
		return nil, false, err
	}

	if err := r.update(ctx, user, c, info); err != nil {
		return nil, false, err
	}
	return user, false, nil
}

// create provisions a user for a previously unseen federation id. The
// username falls back to the federation id itself when preferred_username is
// already taken; the federation id is globally unique, so the fallback never
// collides with another identity's fallback.
func (r *Reconciler) create(ctx context.Context, c *claims.Claims, info events.RequestInfo) (*auth.User, bool, error) {
	username := c.PreferredUsername
	taken, err := r.usernameTaken(ctx, username, 0)
	if err != nil {
		return nil, false, err
	}
	if taken {
		username = c.FederationID
	}

	user := &auth.User{
		Username:     username,
		Email:        c.Email,
		FirstName:    c.GivenName,
		LastName:     c.FamilyName,
		FederationID: c.FederationID,
	}

	createErr := r.store.CreateUser(ctx, user)
	if errors.Is(createErr, accounts.ErrUniqueViolation) {
		// Lost a concurrent-create race. Re-read exactly once: if the
		// identity exists now, fall through to the update path.
		existing, readErr := r.store.UserByFederationID(ctx, c.FederationID)
		if errors.Is(readErr, accounts.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to provision %s: %w", c.FederationID, createErr)
		}
		if readErr != nil {
			return nil, false, readErr
		}
		if err := r.update(ctx, existing, c, info); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if createErr != nil {
		return nil, false, createErr
	}

	if err := emit(ctx, r.events, events.EventUserCreated, user, nil, c, info); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// update applies the field-by-field diff between the stored user and the
// claims. Username and email changes are dropped independently when they
// would collide with a different user; a blocked username change never
// blocks an allowed email change.
func (r *Reconciler) update(ctx context.Context, user *auth.User, c *claims.Claims, info events.RequestInfo) error {
	changed := false

	if user.Username != c.PreferredUsername {
		taken, err := r.usernameTaken(ctx, c.PreferredUsername, user.ID)
		if err != nil {
			return err
		}
		if !taken {
			user.Username = c.PreferredUsername
			changed = true
		}
	}
	if user.FirstName != c.GivenName {
		user.FirstName = c.GivenName
		changed = true
	}
	if user.LastName != c.FamilyName {
		user.LastName = c.FamilyName
		changed = true
	}
	if user.Email != c.Email {
		blocked, err := r.emailTaken(ctx, c.Email, user.ID)
		if err != nil {
			return err
		}
		if !blocked {
			user.Email = c.Email
			changed = true
		}
	}

	if !changed {
		return nil
	}

	if err := r.store.UpdateUser(ctx, user); err != nil {
		return err
	}
	return emit(ctx, r.events, events.EventUserUpdated, user, nil, c, info)
}

func (r *Reconciler) usernameTaken(ctx context.Context, username string, selfID int64) (bool, error) {
	owner, err := r.store.UserByUsername(ctx, username)
	if errors.Is(err, accounts.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner.ID != selfID, nil
}

func (r *Reconciler) emailTaken(ctx context.Context, email string, selfID int64) (bool, error) {
	if !r.enforceUniqueEmail {
		return false, nil
	}
	owner, err := r.store.UserByEmail(ctx, email)
	if errors.Is(err, accounts.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner.ID != selfID, nil
}
