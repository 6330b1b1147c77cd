package login

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/claims"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/events"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/observability"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/policy"
)

func testUserinfo() map[string]interface{} {
	return map[string]interface{}{
		"eduperson_unique_id":   testFederationID,
		"email":                 "kate.austen@example.com",
		"email_verified":        true,
		"preferred_username":    "kaausten",
		"given_name":            "Kate",
		"family_name":           "Austen",
		"eduperson_entitlement": []interface{}{hifisEntitlement},
	}
}

type orchestratorFixture struct {
	store        *fakeStore
	emitter      *recordingEmitter
	sessions     *fakeSessions
	orchestrator *Orchestrator
}

func newOrchestratorFixture(allowedVOs []*regexp.Regexp) *orchestratorFixture {
	store := newFakeStore()
	emitter := &recordingEmitter{}
	sessions := &fakeSessions{}
	log := observability.NewLogger(observability.ErrorLevel, io.Discard)

	o := NewOrchestrator(
		policy.New(store, allowedVOs, true),
		NewReconciler(store, emitter, true),
		NewSynchronizer(store, emitter, nil),
		sessions,
		emitter,
		log,
		nil,
	)
	return &orchestratorFixture{store: store, emitter: emitter, sessions: sessions, orchestrator: o}
}

func TestLoginFirstVisit(t *testing.T) {
	f := newOrchestratorFixture(nil)

	result, err := f.orchestrator.Login(context.Background(), testUserinfo(), testRequestInfo())

	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "kaausten", result.User.Username)
	assert.Equal(t, "session-1", result.SessionID)
	assert.Equal(t, []events.Type{
		events.EventUserCreated,
		events.EventVOCreated,
		events.EventVOEntered,
		events.EventUserLoggedIn,
	}, f.emitter.types())
}

func TestLoginSecondVisitOnlyLogsIn(t *testing.T) {
	f := newOrchestratorFixture(nil)

	_, err := f.orchestrator.Login(context.Background(), testUserinfo(), testRequestInfo())
	require.NoError(t, err)

	f.emitter.emitted = nil
	result, err := f.orchestrator.Login(context.Background(), testUserinfo(), testRequestInfo())

	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, []events.Type{events.EventUserLoggedIn}, f.emitter.types())
}

func TestLoginRejectsMalformedUserinfo(t *testing.T) {
	f := newOrchestratorFixture(nil)

	userinfo := testUserinfo()
	delete(userinfo, "email")

	_, err := f.orchestrator.Login(context.Background(), userinfo, testRequestInfo())

	var malformedErr *claims.MalformedClaimsError
	require.ErrorAs(t, err, &malformedErr)
	assert.Equal(t, "email", malformedErr.Claim)
	assert.Zero(t, f.store.writeCount(), "unusable claims must not touch the store")
	assert.Zero(t, f.sessions.calls)
}

func TestLoginDeniesUnverifiedEmail(t *testing.T) {
	f := newOrchestratorFixture(nil)

	userinfo := testUserinfo()
	userinfo["email_verified"] = false

	_, err := f.orchestrator.Login(context.Background(), userinfo, testRequestInfo())

	var deniedErr *policy.DeniedError
	require.ErrorAs(t, err, &deniedErr)
	assert.Zero(t, f.store.writeCount(), "a denied login must not provision anything")
	assert.Empty(t, f.emitter.emitted)
}

func TestLoginDeniesDisallowedVOs(t *testing.T) {
	f := newOrchestratorFixture([]*regexp.Regexp{regexp.MustCompile(`:group:UFZ-`)})

	_, err := f.orchestrator.Login(context.Background(), testUserinfo(), testRequestInfo())

	var deniedErr *policy.DeniedError
	require.ErrorAs(t, err, &deniedErr)
	assert.Zero(t, f.store.writeCount())
}

func TestLoginSessionFailureAbortsWithoutLoginEvent(t *testing.T) {
	f := newOrchestratorFixture(nil)
	f.sessions.err = errors.New("session store down")

	_, err := f.orchestrator.Login(context.Background(), testUserinfo(), testRequestInfo())

	require.Error(t, err)
	for _, ev := range f.emitter.emitted {
		assert.NotEqual(t, events.EventUserLoggedIn, ev.Type)
	}
}
