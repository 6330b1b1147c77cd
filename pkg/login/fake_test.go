package login

import (
	"context"
	"time"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/accounts"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/claims"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/events"
)

// fakeStore is an in-memory Store for pipeline tests. The optional hooks
// let tests inject races and faults that a real database would produce.
type fakeStore struct {
	users   map[int64]*auth.User
	vos     map[string]*auth.VirtualOrganization
	members map[int64]map[int64]bool

	nextUserID  int64
	nextGroupID int64
	nextVOID    int64

	createUserHook func(user *auth.User) error
	createVOHook   func(entitlement string) error
	userVOsHook    func(userID int64) ([]*auth.VirtualOrganization, error)

	createUserCalls int
	updateUserCalls int
	createVOCalls   int
	addCalls        int
	removeCalls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[int64]*auth.User),
		vos:     make(map[string]*auth.VirtualOrganization),
		members: make(map[int64]map[int64]bool),
	}
}

func copyUser(u *auth.User) *auth.User {
	c := *u
	return &c
}

func copyVO(vo *auth.VirtualOrganization) *auth.VirtualOrganization {
	c := *vo
	return &c
}

// insertUser stores a user verbatim, bypassing uniqueness checks. Tests use
// it to seed state.
func (f *fakeStore) insertUser(u *auth.User) *auth.User {
	if u.ID == 0 {
		f.nextUserID++
		u.ID = f.nextUserID
	} else if u.ID > f.nextUserID {
		f.nextUserID = u.ID
	}
	f.users[u.ID] = copyUser(u)
	return u
}

// insertVO stores a VO with a fresh group id, bypassing uniqueness checks.
func (f *fakeStore) insertVO(entitlement string) *auth.VirtualOrganization {
	f.nextGroupID++
	f.nextVOID++
	vo := &auth.VirtualOrganization{
		ID:          f.nextVOID,
		GroupID:     f.nextGroupID,
		Entitlement: entitlement,
		CreatedAt:   time.Now().UTC(),
	}
	f.vos[entitlement] = vo
	return vo
}

func (f *fakeStore) UserByFederationID(_ context.Context, federationID string) (*auth.User, error) {
	for _, u := range f.users {
		if u.FederationID == federationID {
			return copyUser(u), nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (f *fakeStore) UserByUsername(_ context.Context, username string) (*auth.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (f *fakeStore) UserByEmail(_ context.Context, email string) (*auth.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, accounts.ErrNotFound
}

func (f *fakeStore) CreateUser(ctx context.Context, user *auth.User) error {
	f.createUserCalls++
	if f.createUserHook != nil {
		hook := f.createUserHook
		f.createUserHook = nil
		if err := hook(user); err != nil {
			return err
		}
	}
	for _, u := range f.users {
		if u.Username == user.Username || u.FederationID == user.FederationID {
			return accounts.ErrUniqueViolation
		}
	}
	f.nextUserID++
	user.ID = f.nextUserID
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = copyUser(user)
	return nil
}

func (f *fakeStore) UpdateUser(_ context.Context, user *auth.User) error {
	f.updateUserCalls++
	if _, ok := f.users[user.ID]; !ok {
		return accounts.ErrNotFound
	}
	for _, u := range f.users {
		if u.ID != user.ID && u.Username == user.Username {
			return accounts.ErrUniqueViolation
		}
	}
	user.UpdatedAt = time.Now().UTC()
	f.users[user.ID] = copyUser(user)
	return nil
}

func (f *fakeStore) VOByEntitlement(_ context.Context, entitlement string) (*auth.VirtualOrganization, error) {
	vo, ok := f.vos[entitlement]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return copyVO(vo), nil
}

func (f *fakeStore) CreateVO(_ context.Context, entitlement string) (*auth.VirtualOrganization, error) {
	f.createVOCalls++
	if f.createVOHook != nil {
		hook := f.createVOHook
		f.createVOHook = nil
		if err := hook(entitlement); err != nil {
			return nil, err
		}
	}
	if _, ok := f.vos[entitlement]; ok {
		return nil, accounts.ErrUniqueViolation
	}
	return copyVO(f.insertVO(entitlement)), nil
}

func (f *fakeStore) UserVOs(_ context.Context, userID int64) ([]*auth.VirtualOrganization, error) {
	if f.userVOsHook != nil {
		return f.userVOsHook(userID)
	}
	var out []*auth.VirtualOrganization
	for _, vo := range f.vos {
		if f.members[userID][vo.GroupID] {
			out = append(out, copyVO(vo))
		}
	}
	return out, nil
}

func (f *fakeStore) AddMembership(_ context.Context, userID, groupID int64) error {
	f.addCalls++
	if f.members[userID] == nil {
		f.members[userID] = make(map[int64]bool)
	}
	f.members[userID][groupID] = true
	return nil
}

func (f *fakeStore) RemoveMembership(_ context.Context, userID, groupID int64) error {
	f.removeCalls++
	if !f.members[userID][groupID] {
		return accounts.ErrNotFound
	}
	delete(f.members[userID], groupID)
	return nil
}

func (f *fakeStore) writeCount() int {
	return f.createUserCalls + f.updateUserCalls + f.createVOCalls + f.addCalls + f.removeCalls
}

// recordingEmitter captures emitted events in order.
type recordingEmitter struct {
	emitted []events.Event
	failOn  events.Type
	failErr error
}

func (r *recordingEmitter) Emit(_ context.Context, ev events.Event) error {
	if r.failOn != "" && ev.Type == r.failOn {
		return r.failErr
	}
	r.emitted = append(r.emitted, ev)
	return nil
}

func (r *recordingEmitter) types() []events.Type {
	out := make([]events.Type, 0, len(r.emitted))
	for _, ev := range r.emitted {
		out = append(out, ev.Type)
	}
	return out
}

// fakeSessions hands out predictable session ids.
type fakeSessions struct {
	calls int
	err   error
}

func (f *fakeSessions) Establish(_ context.Context, _ *auth.User) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls++
	return "session-1", nil
}

const (
	testFederationID = "0ae8f9d7-23cd-4a3c-8f6b-0a1b2c3d4e5f@login.helmholtz.de"
	hifisEntitlement = "urn:geant:helmholtz.de:group:HIFIS#login.helmholtz.de"
	hdfEntitlement   = "urn:geant:helmholtz.de:group:HDF#login.helmholtz.de"
)

func testClaims(entitlements ...string) *claims.Claims {
	return &claims.Claims{
		FederationID:      testFederationID,
		Email:             "kate.austen@example.com",
		EmailVerified:     true,
		PreferredUsername: "kaausten",
		GivenName:         "Kate",
		FamilyName:        "Austen",
		Entitlements:      entitlements,
		Raw:               map[string]interface{}{"eduperson_unique_id": testFederationID},
	}
}

func testRequestInfo() events.RequestInfo {
	return events.RequestInfo{RemoteAddr: "203.0.113.7", UserAgent: "test-agent"}
}
