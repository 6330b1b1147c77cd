package login

import (
	"context"
	"errors"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/claims"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/events"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/observability"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/policy"
)

// SessionEstablisher logs the reconciled user into the application and
// returns an opaque session id.
type SessionEstablisher interface {
	Establish(ctx context.Context, user *auth.User) (string, error)
}

// Result is the outcome of a successful login.
type Result struct {
	User      *auth.User
	Created   bool
	SessionID string
}

// Orchestrator runs the single pass performed per OAuth callback:
// policy check, user reconciliation, VO synchronization, session
// establishment, login event.
//
// A fault anywhere in the sequence aborts it without establishing a session.
// Writes already committed by earlier steps are not rolled back; the next
// login converges on the same state.
type Orchestrator struct {
	policy       *policy.Policy
	reconciler   *Reconciler
	synchronizer *Synchronizer
	sessions     SessionEstablisher
	events       Emitter
	log          *observability.Logger
	metrics      *observability.Metrics
}

// NewOrchestrator wires the login pipeline. metrics may be nil.
func NewOrchestrator(
	pol *policy.Policy,
	reconciler *Reconciler,
	synchronizer *Synchronizer,
	sessions SessionEstablisher,
	em Emitter,
	log *observability.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		policy:       pol,
		reconciler:   reconciler,
		synchronizer: synchronizer,
		sessions:     sessions,
		events:       em,
		log:          log,
		metrics:      metrics,
	}
}

// Login processes the userinfo of a completed external authentication.
// It returns *policy.DeniedError for a policy denial and
// *claims.MalformedClaimsError for an unusable userinfo response; any other
// error is an internal fault.
func (o *Orchestrator) Login(ctx context.Context, userinfo map[string]interface{}, info events.RequestInfo) (*Result, error) {
	c, err := claims.Parse(userinfo)
	if err != nil {
		o.metrics.ObserveLogin(observability.LoginMalformed)
		return nil, err
	}

	log := o.log.WithField("eduperson_unique_id", c.FederationID)

	if err := o.policy.Evaluate(ctx, c); err != nil {
		var deniedErr *policy.DeniedError
		if errors.As(err, &deniedErr) {
			o.metrics.ObserveLogin(observability.LoginDenied)
			log.WithField("reason", deniedErr.Reason).Info("login denied")
		} else {
			o.metrics.ObserveLogin(observability.LoginError)
		}
		return nil, err
	}

	user, created, err := o.reconciler.Reconcile(ctx, c, info)
	if err != nil {
		o.metrics.ObserveLogin(observability.LoginError)
		return nil, err
	}
	if created {
		o.metrics.UserProvisioned()
		log.WithField("username", user.Username).Info("provisioned new user")
	}

	if err := o.synchronizer.Synchronize(ctx, user, c, info); err != nil {
		o.metrics.ObserveLogin(observability.LoginError)
		return nil, err
	}

	sessionID, err := o.sessions.Establish(ctx, user)
	if err != nil {
		o.metrics.ObserveLogin(observability.LoginError)
		return nil, err
	}

	if err := emit(ctx, o.events, events.EventUserLoggedIn, user, nil, c, info); err != nil {
		o.metrics.ObserveLogin(observability.LoginError)
		return nil, err
	}

	o.metrics.ObserveLogin(observability.LoginSuccess)
	log.WithFields(map[string]interface{}{
		"username": user.Username,
		"created":  created,
	}).Info("user logged in")

	return &Result{User: user, Created: created, SessionID: sessionID}, nil
}
