// Package auth resolves the caller's identity from a request.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"
)

const (
	stateCookie   = "oauthstate"
	sessionCookie = "id_token"
)

var (
	// ErrNoCredentials means the request carried no token at all.
	ErrNoCredentials = errors.New("no credentials")
	// ErrInvalidToken means a token was present but did not verify.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is a verified caller.
type Identity struct {
	Subject  string
	Username string
}

// Authenticator resolves the identity behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

// bearerToken returns the Authorization bearer token, or the session cookie
// when no header is present.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// OIDCConfig configures OIDCAuthenticator.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// PostLoginURL is where the callback sends the browser after login.
	PostLoginURL string
	// SecureCookies marks session cookies Secure.
	SecureCookies bool
}

// OIDCAuthenticator verifies OpenID Connect ID tokens and drives the
// authorization code login flow.
type OIDCAuthenticator struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	postLogin    string
	secure       bool
	logger       *slog.Logger
}

// NewOIDCAuthenticator discovers the provider at cfg.IssuerURL.
func NewOIDCAuthenticator(ctx context.Context, cfg OIDCConfig, logger *slog.Logger) (*OIDCAuthenticator, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("oidc configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	postLogin := cfg.PostLoginURL
	if postLogin == "" {
		postLogin = "/"
	}

	return &OIDCAuthenticator{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier:  provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		postLogin: postLogin,
		secure:    cfg.SecureCookies,
		logger:    logger.With("component", "auth"),
	}, nil
}

type claims struct {
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Email             string `json:"email"`
}

func (c claims) username(subject string) string {
	switch {
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.Name != "":
		return c.Name
	case c.Email != "":
		return c.Email
	}
	return subject
}

// Authenticate verifies the bearer token or session cookie.
func (a *OIDCAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, ErrNoCredentials
	}

	token, err := a.verifier.Verify(r.Context(), raw)
	if err != nil {
		a.logger.Debug("token verification failed", "error", err)
		return nil, ErrInvalidToken
	}

	var c claims
	if err := token.Claims(&c); err != nil {
		return nil, ErrInvalidToken
	}
	return &Identity{Subject: token.Subject, Username: c.username(token.Subject)}, nil
}

// LoginHandler redirects to the provider with a random state stored in a
// cookie.
func (a *OIDCAuthenticator) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		a.logger.Error("generate state", "error", err)
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   600,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler checks state, exchanges the code and stores the ID token
// in a session cookie.
func (a *OIDCAuthenticator) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		a.logger.Warn("token exchange failed", "error", err)
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusBadGateway)
		return
	}
	if _, err := a.verifier.Verify(r.Context(), rawIDToken); err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.postLogin, http.StatusSeeOther)
}

// LogoutHandler clears the session cookie.
func (a *OIDCAuthenticator) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, a.postLogin, http.StatusSeeOther)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// StaticAuthenticator maps fixed bearer tokens to identities. It is meant
// for development and tests.
type StaticAuthenticator struct {
	tokens map[string]Identity
}

// NewStaticAuthenticator returns an authenticator for the given token to
// username map. The username doubles as the subject.
func NewStaticAuthenticator(tokens map[string]string) *StaticAuthenticator {
	m := make(map[string]Identity, len(tokens))
	for token, user := range tokens {
		m[token] = Identity{Subject: "static|" + user, Username: user}
	}
	return &StaticAuthenticator{tokens: m}
}

// Authenticate looks the bearer token up in the static table.
func (a *StaticAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, ErrNoCredentials
	}
	id, ok := a.tokens[raw]
	if !ok {
		return nil, ErrInvalidToken
	}
	return &id, nil
}
