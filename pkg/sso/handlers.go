package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/accounts"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/claims"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/events"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/login"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/observability"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/policy"
)

const (
	stateCookie     = "aai_state"
	returnURLCookie = "aai_return_url"
	sessionCookie   = "aai_session"

	// State cookies outlive a slow round trip to the AAI but not much more.
	stateCookieMaxAge = 600
)

// Authenticator is the OIDC client surface the handlers use.
type Authenticator interface {
	AuthCodeURL(state string) string
	Userinfo(ctx context.Context, code string) (map[string]interface{}, error)
}

// LoginService runs the local side of a completed external authentication.
type LoginService interface {
	Login(ctx context.Context, userinfo map[string]interface{}, info events.RequestInfo) (*login.Result, error)
}

// Handlers serves the AAI login, callback and logout endpoints.
type Handlers struct {
	auth          Authenticator
	logins        LoginService
	sessions      *SessionManager
	log           *observability.Logger
	secureCookies bool
}

// NewHandlers creates the HTTP handlers. secureCookies should only be
// disabled for plain-HTTP development setups.
func NewHandlers(auth Authenticator, logins LoginService, sessions *SessionManager, log *observability.Logger, secureCookies bool) *Handlers {
	return &Handlers{
		auth:          auth,
		logins:        logins,
		sessions:      sessions,
		log:           log,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers the AAI routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/aai/login", h.initiateLogin).Methods("GET")
	router.HandleFunc("/auth/aai/callback", h.handleCallback).Methods("GET")
	router.HandleFunc("/auth/aai/logout", h.logout).Methods("GET", "POST")
}

// initiateLogin handles GET /auth/aai/login.
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		h.log.WithError(err).Error("failed to generate state")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.setCookie(w, stateCookie, state, stateCookieMaxAge)

	if returnURL := r.URL.Query().Get("next"); safeReturnURL(returnURL) {
		h.setCookie(w, returnURLCookie, returnURL, stateCookieMaxAge)
	}

	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
}

// handleCallback handles GET /auth/aai/callback.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		h.log.WithFields(map[string]interface{}{
			"error":       errCode,
			"description": r.URL.Query().Get("error_description"),
		}).Warn("authorization failed upstream")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	state, err := r.Cookie(stateCookie)
	if err != nil {
		http.Error(w, "missing state cookie", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != state.Value {
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	userinfo, err := h.auth.Userinfo(r.Context(), code)
	if err != nil {
		h.log.WithError(err).Error("failed to fetch userinfo")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	result, err := h.logins.Login(r.Context(), userinfo, events.RequestInfo{
		RemoteAddr: remoteAddr(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	h.setCookie(w, sessionCookie, result.SessionID, int(h.sessions.TTL().Seconds()))
	h.clearCookie(w, stateCookie)

	returnURL := "/"
	if c, err := r.Cookie(returnURLCookie); err == nil {
		if safeReturnURL(c.Value) {
			returnURL = c.Value
		}
		h.clearCookie(w, returnURLCookie)
	}
	http.Redirect(w, r, returnURL, http.StatusFound)
}

// logout handles GET/POST /auth/aai/logout.
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if err := h.sessions.Delete(r.Context(), c.Value); err != nil {
			h.log.WithError(err).Error("failed to delete session")
		}
		h.clearCookie(w, sessionCookie)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// SessionFromRequest resolves the session cookie of an authenticated
// request, or accounts.ErrNotFound.
func (h *Handlers) SessionFromRequest(r *http.Request) (*Session, error) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, accounts.ErrNotFound
	}
	return h.sessions.Session(r.Context(), c.Value)
}

// writeLoginError maps pipeline errors to responses. Policy denials carry
// their reason to the user; everything else stays generic.
func (h *Handlers) writeLoginError(w http.ResponseWriter, err error) {
	var deniedErr *policy.DeniedError
	if errors.As(err, &deniedErr) {
		http.Error(w, deniedErr.Reason, http.StatusForbidden)
		return
	}

	var malformedErr *claims.MalformedClaimsError
	if errors.As(err, &malformedErr) {
		h.log.WithError(err).Warn("unusable userinfo response")
		http.Error(w, "the identity provider returned an unusable response", http.StatusBadRequest)
		return
	}

	h.log.WithError(err).Error("login failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (h *Handlers) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *Handlers) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, MaxAge: -1, Path: "/"})
}

// safeReturnURL admits only site-local paths, never absolute or
// protocol-relative URLs.
func safeReturnURL(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//")
}

func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if host, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(host)
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}

func newState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
