package claims

import (
	"fmt"
	"regexp"
)

// Scopes requested from the Helmholtz AAI during login.
var Scopes = []string{"profile", "email", "eduperson_unique_id"}

// groupPattern identifies group-type entitlements. Other entitlement strings
// (capability flags and the like) do not produce VO memberships.
var groupPattern = regexp.MustCompile(`.*:group:.*#.*`)

// MalformedClaimsError reports a required claim missing from the userinfo
// response. It is fatal for the request and never retried.
type MalformedClaimsError struct {
	Claim string
}

func (e *MalformedClaimsError) Error() string {
	return fmt.Sprintf("malformed userinfo: missing required claim %q", e.Claim)
}

// Claims is the normalized, read-only view of the AAI userinfo response.
type Claims struct {
	// FederationID is the eduperson_unique_id claim.
	FederationID      string
	Email             string
	EmailVerified     bool
	PreferredUsername string
	GivenName         string
	FamilyName        string
	Entitlements      []string

	// Raw is the unmodified userinfo mapping, carried along for event
	// subscribers.
	Raw map[string]interface{}
}

// Parse normalizes the raw userinfo mapping returned by the AAI.
//
// Every required claim must be present; an empty preferred_username is
// substituted with the email address.
func Parse(userinfo map[string]interface{}) (*Claims, error) {
	c := &Claims{Raw: userinfo}

	var err error
	if c.FederationID, err = stringClaim(userinfo, "eduperson_unique_id"); err != nil {
		return nil, err
	}
	if c.Email, err = stringClaim(userinfo, "email"); err != nil {
		return nil, err
	}
	if c.EmailVerified, err = boolClaim(userinfo, "email_verified"); err != nil {
		return nil, err
	}
	if c.PreferredUsername, err = stringClaim(userinfo, "preferred_username"); err != nil {
		return nil, err
	}
	if c.GivenName, err = stringClaim(userinfo, "given_name"); err != nil {
		return nil, err
	}
	if c.FamilyName, err = stringClaim(userinfo, "family_name"); err != nil {
		return nil, err
	}
	if c.Entitlements, err = stringSliceClaim(userinfo, "eduperson_entitlement"); err != nil {
		return nil, err
	}

	if c.PreferredUsername == "" {
		c.PreferredUsername = c.Email
	}

	return c, nil
}

// GroupEntitlements returns the entitlements that name a virtual
// organization, preserving their order.
func (c *Claims) GroupEntitlements() []string {
	return FilterGroupEntitlements(c.Entitlements)
}

// IsGroupEntitlement reports whether s names a virtual organization.
func IsGroupEntitlement(s string) bool {
	return groupPattern.MatchString(s)
}

// FilterGroupEntitlements keeps only group-type entitlement strings.
func FilterGroupEntitlements(entitlements []string) []string {
	var groups []string
	for _, e := range entitlements {
		if groupPattern.MatchString(e) {
			groups = append(groups, e)
		}
	}
	return groups
}

func stringClaim(userinfo map[string]interface{}, key string) (string, error) {
	v, ok := userinfo[key]
	if !ok {
		return "", &MalformedClaimsError{Claim: key}
	}
	s, ok := v.(string)
	if !ok {
		return "", &MalformedClaimsError{Claim: key}
	}
	return s, nil
}

func boolClaim(userinfo map[string]interface{}, key string) (bool, error) {
	v, ok := userinfo[key]
	if !ok {
		return false, &MalformedClaimsError{Claim: key}
	}
	b, ok := v.(bool)
	if !ok {
		return false, &MalformedClaimsError{Claim: key}
	}
	return b, nil
}

func stringSliceClaim(userinfo map[string]interface{}, key string) ([]string, error) {
	v, ok := userinfo[key]
	if !ok {
		return nil, &MalformedClaimsError{Claim: key}
	}
	switch vals := v.(type) {
	case []string:
		return vals, nil
	case []interface{}:
		// JSON decoding yields []interface{}.
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, &MalformedClaimsError{Claim: key}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &MalformedClaimsError{Claim: key}
	}
}
