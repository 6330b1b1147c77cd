package sso

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/claims"
)

// ClientConfig holds the OIDC client registration for the AAI.
type ClientConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes defaults to oidc.ScopeOpenID plus claims.Scopes.
	Scopes []string
}

// Validate checks the required fields.
func (c *ClientConfig) Validate() error {
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	return nil
}

// Client talks OpenID Connect to the AAI. Endpoints come from the issuer's
// discovery document at construction time.
type Client struct {
	provider     *oidc.Provider
	oauth2Config *oauth2.Config
}

// NewClient discovers the issuer and builds the OAuth2 configuration.
func NewClient(ctx context.Context, config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = append([]string{oidc.ScopeOpenID}, claims.Scopes...)
	}

	return &Client{
		provider: provider,
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  config.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL returns the authorization endpoint URL carrying the state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state)
}

// Userinfo exchanges the authorization code and fetches the userinfo
// response as a raw claims mapping.
func (c *Client) Userinfo(ctx context.Context, code string) (map[string]interface{}, error) {
	token, err := c.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	userinfo, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}

	var raw map[string]interface{}
	if err := userinfo.Claims(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo: %w", err)
	}
	return raw, nil
}
