package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIssuer serves just enough OIDC discovery, token and userinfo for the
// client to complete a code exchange offline.
func fakeIssuer(t *testing.T, userinfo map[string]interface{}) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                 server.URL,
			"authorization_endpoint": server.URL + "/oauth2-as/oauth2-authz",
			"token_endpoint":         server.URL + "/oauth2/token",
			"userinfo_endpoint":      server.URL + "/oauth2/userinfo",
			"jwks_uri":               server.URL + "/oauth2/keys",
		})
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-1",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/oauth2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userinfo)
	})

	return server
}

func testClientConfig(issuerURL string) ClientConfig {
	return ClientConfig{
		IssuerURL:    issuerURL,
		ClientID:     "tsm-helmholtz-aai",
		ClientSecret: "secret",
		RedirectURL:  "https://tsm.example.com/auth/aai/callback",
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *ClientConfig)
	}{
		{"missing issuer", func(c *ClientConfig) { c.IssuerURL = "" }},
		{"missing client id", func(c *ClientConfig) { c.ClientID = "" }},
		{"missing client secret", func(c *ClientConfig) { c.ClientSecret = "" }},
		{"missing redirect url", func(c *ClientConfig) { c.RedirectURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testClientConfig("https://login.helmholtz.de/oauth2")
			tt.mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestNewClientDiscoversEndpoints(t *testing.T) {
	server := fakeIssuer(t, nil)

	client, err := NewClient(context.Background(), testClientConfig(server.URL))
	require.NoError(t, err)

	authURL, err := url.Parse(client.AuthCodeURL("state-1"))
	require.NoError(t, err)

	assert.Equal(t, "/oauth2-as/oauth2-authz", authURL.Path)
	query := authURL.Query()
	assert.Equal(t, "state-1", query.Get("state"))
	assert.Equal(t, "tsm-helmholtz-aai", query.Get("client_id"))
	assert.Equal(t, "openid profile email eduperson_unique_id", query.Get("scope"))
}

func TestClientUserinfo(t *testing.T) {
	server := fakeIssuer(t, map[string]interface{}{
		"sub":                 "uid-1@login.helmholtz.de",
		"eduperson_unique_id": "uid-1@login.helmholtz.de",
		"email":               "kate.austen@example.com",
	})

	client, err := NewClient(context.Background(), testClientConfig(server.URL))
	require.NoError(t, err)

	userinfo, err := client.Userinfo(context.Background(), "code-1")

	require.NoError(t, err)
	assert.Equal(t, "uid-1@login.helmholtz.de", userinfo["eduperson_unique_id"])
	assert.Equal(t, "kate.austen@example.com", userinfo["email"])
}
