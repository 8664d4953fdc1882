package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/matrix-auth/core/grant"
	"github.com/matrix-auth/core/identity"
	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/session"
	"github.com/matrix-auth/core/store"
)

const (
	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"
	grantTypeClientCredentials = "client_credentials"
)

// tokenResponse is the RFC 6749 §5.1 access token response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenHandler serves the OAuth2 token endpoint: grant_type dispatch over
// authorization_code and refresh_token, client authentication via HTTP
// Basic or client_id/client_secret form fields.
type TokenHandler struct {
	Storage     store.Storage
	Clients     *oauth2client.Service
	Hasher      *identity.Hasher
	AccessTTL   time.Duration
	Now         func() time.Time
}

func (h *TokenHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *TokenHandler) accessTTL() time.Duration {
	if h.AccessTTL > 0 {
		return h.AccessTTL
	}
	return session.DefaultAccessTokenTTL
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, r, jsonError(http.StatusMethodNotAllowed, ErrInvalidRequest, "method not allowed"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, jsonError(http.StatusBadRequest, ErrInvalidRequest, "could not parse request body"))
		return
	}

	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case grantTypeAuthorizationCode:
		h.handleAuthorizationCode(w, r)
	case grantTypeRefreshToken:
		h.handleRefreshToken(w, r)
	case grantTypeClientCredentials:
		// Modeled for parity with the rest of the grant-type matrix;
		// no client is registered for it yet, so it's always rejected.
		writeError(w, r, jsonError(http.StatusBadRequest, ErrUnsupportedGrantType, ""))
	default:
		writeError(w, r, jsonError(http.StatusBadRequest, ErrUnsupportedGrantType, ""))
	}
}

func (h *TokenHandler) handleAuthorizationCode(w http.ResponseWriter, r *http.Request) {
	client, authErr := authenticateClient(r, h.Clients, h.Hasher)
	if authErr != nil {
		writeError(w, r, authErr)
		return
	}

	code := r.PostFormValue("code")
	redirectURI := r.PostFormValue("redirect_uri")
	verifier := r.PostFormValue("code_verifier")
	if code == "" {
		writeError(w, r, jsonError(http.StatusBadRequest, ErrInvalidRequest, "code is required"))
		return
	}

	result, err := grant.Exchange(r.Context(), h.Storage, code, redirectURI, client.ClientID, verifier, h.accessTTL(), h.now())
	if err != nil {
		if errors.Is(err, grant.ErrInvalidGrant) {
			writeError(w, r, jsonError(http.StatusBadRequest, ErrInvalidGrant, "invalid or already-used code"))
			return
		}
		writeError(w, r, jsonError(http.StatusInternalServerError, ErrServerError, ""))
		return
	}

	writeTokenResponse(w, tokenResponse{
		AccessToken:  result.AccessTokenString,
		TokenType:    "Bearer",
		ExpiresIn:    int(result.AccessToken.ExpiresAfter.Seconds()),
		RefreshToken: result.RefreshTokenString,
	})
}

func (h *TokenHandler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if _, authErr := authenticateClient(r, h.Clients, h.Hasher); authErr != nil {
		writeError(w, r, authErr)
		return
	}

	refreshToken := r.PostFormValue("refresh_token")
	if refreshToken == "" {
		writeError(w, r, jsonError(http.StatusBadRequest, ErrInvalidRequest, "refresh_token is required"))
		return
	}

	result, err := session.Refresh(r.Context(), h.Storage, refreshToken, h.accessTTL(), h.now())
	if err != nil {
		if errors.Is(err, session.ErrInvalidGrant) {
			writeError(w, r, jsonError(http.StatusBadRequest, ErrInvalidGrant, "invalid or already-used refresh token"))
			return
		}
		writeError(w, r, jsonError(http.StatusInternalServerError, ErrServerError, ""))
		return
	}

	writeTokenResponse(w, tokenResponse{
		AccessToken:  result.AccessTokenString,
		TokenType:    "Bearer",
		ExpiresIn:    int(result.AccessToken.ExpiresAfter.Seconds()),
		RefreshToken: result.RefreshTokenString,
	})
}

func writeTokenResponse(w http.ResponseWriter, resp tokenResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
