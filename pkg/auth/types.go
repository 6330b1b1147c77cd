package auth

import (
	"strings"
	"time"
)

// User represents a local account bound to exactly one Helmholtz AAI identity.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	// FederationID is the eduperson_unique_id claim, the AAI's stable
	// subject identifier. It is unique and immutable once set.
	FederationID string `json:"eduperson_unique_id"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Group represents a plain local group.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// VirtualOrganization overlays an AAI virtual organization on a local group.
// The group record holds generic membership; the VO record carries the
// entitlement that identifies it in the federation.
type VirtualOrganization struct {
	ID      int64 `json:"id"`
	GroupID int64 `json:"group_id"`

	// Entitlement is the raw eduperson_entitlement string, unique per VO.
	Entitlement string `json:"eduperson_entitlement"`

	CreatedAt time.Time `json:"created_at"`
}

// voDisplayMarker separates the authority prefix from the human-readable
// part of a group entitlement, e.g.
// "urn:geant:helmholtz.de:group:hereon#login.helmholtz.de".
const voDisplayMarker = ":group:"

// DisplayName returns the part of the entitlement after the ":group:"
// marker. Entitlements without the marker are returned unchanged.
func (vo *VirtualOrganization) DisplayName() string {
	return DisplayName(vo.Entitlement)
}

func (vo *VirtualOrganization) String() string {
	return vo.DisplayName()
}

// DisplayName derives the display name for a group entitlement string.
func DisplayName(entitlement string) string {
	if _, after, ok := strings.Cut(entitlement, voDisplayMarker); ok {
		return after
	}
	return entitlement
}
