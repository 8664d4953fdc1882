package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/matrix-auth/core/identity"
	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/session"
	"github.com/matrix-auth/core/store"
	"github.com/matrix-auth/core/token"
)

// introspectionResponse is the RFC 7662 §2.2 introspection response. Active
// is the only field ever populated on a negative result: every other field
// is omitted so an inactive response never leaks token metadata.
type introspectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       int64  `json:"sub,omitempty"`
}

// IntrospectionHandler serves RFC 7662 token introspection. Only
// confidential clients may introspect: a client registered with
// token_endpoint_auth_method "none" is rejected outright, since it has no
// way to prove it's entitled to ask about a token's validity.
type IntrospectionHandler struct {
	Storage store.Storage
	Clients *oauth2client.Service
	Hasher  *identity.Hasher
}

func (h *IntrospectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, jsonError(http.StatusMethodNotAllowed, ErrInvalidRequest, "method not allowed"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeInactive(w)
		return
	}

	client, authErr := authenticateClient(r, h.Clients, h.Hasher)
	if authErr != nil {
		writeError(w, r, authErr)
		return
	}
	if client.Public() {
		writeError(w, r, jsonError(http.StatusUnauthorized, ErrInvalidClient, "public clients may not introspect tokens"))
		return
	}

	tok := r.PostFormValue("token")
	if tok == "" {
		writeInactive(w)
		return
	}

	kind, err := token.Classify(tok)
	if err != nil {
		writeInactive(w)
		return
	}

	switch kind {
	case token.KindAccess:
		h.introspectAccessToken(w, r, tok)
	case token.KindRefresh:
		h.introspectRefreshToken(w, r, tok)
	default:
		writeInactive(w)
	}
}

func (h *IntrospectionHandler) introspectAccessToken(w http.ResponseWriter, r *http.Request, tok string) {
	at, sess, err := session.LookupActiveAccessToken(r.Context(), h.Storage, tok)
	if err != nil {
		writeInactive(w)
		return
	}
	writeIntrospection(w, introspectionResponse{
		Active:    true,
		Scope:     joinScope(sess.Scope),
		ClientID:  sess.ClientID,
		TokenType: "access_token",
		Exp:       at.ExpiresAt().Unix(),
		Iat:       at.CreatedAt.Unix(),
		Sub:       sess.BrowserSessionID,
	})
}

func (h *IntrospectionHandler) introspectRefreshToken(w http.ResponseWriter, r *http.Request, tok string) {
	rt, sess, err := session.LookupActiveRefreshToken(r.Context(), h.Storage, tok)
	if err != nil {
		writeInactive(w)
		return
	}
	writeIntrospection(w, introspectionResponse{
		Active:    true,
		Scope:     joinScope(sess.Scope),
		ClientID:  sess.ClientID,
		TokenType: "refresh_token",
		Iat:       rt.CreatedAt.Unix(),
		Sub:       sess.BrowserSessionID,
	})
}

func joinScope(scope []string) string {
	out := ""
	for i, s := range scope {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func writeInactive(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(introspectionResponse{Active: false})
}

func writeIntrospection(w http.ResponseWriter, resp introspectionResponse) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
