package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/matrix-auth/core/httpapi"
	"github.com/matrix-auth/core/identity"
)

func TestIntrospectionHandlerRejectsClientWithoutSecret(t *testing.T) {
	f := newFixture(t)
	g := f.newGrant(t, []string{"openid"})
	f.fulfill(t, g, []string{"openid"})

	tokenH := &httpapi.TokenHandler{Storage: f.Storage, Clients: f.Clients, Hasher: identity.DefaultHasher()}
	w := httptest.NewRecorder()
	tokenH.ServeHTTP(w, postForm(t, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {*g.Code},
		"redirect_uri":  {g.RedirectURI},
		"client_id":     {f.Client.ClientID},
		"code_verifier": {"verifier"},
	}))
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	json.Unmarshal(w.Body.Bytes(), &tok)

	h := &httpapi.IntrospectionHandler{Storage: f.Storage, Clients: f.Clients, Hasher: identity.DefaultHasher()}
	w2 := httptest.NewRecorder()
	req := postForm(t, "/introspect", url.Values{"token": {tok.AccessToken}})
	req.SetBasicAuth(f.Client.ClientID, "")
	h.ServeHTTP(w2, req)

	// The confidential client has no secret hash set in this fixture, so
	// authentication itself fails before introspection logic runs.
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d body %s, want 401 (no secret configured)", w2.Code, w2.Body.String())
	}
}

func TestIntrospectionHandlerRejectsPublicClient(t *testing.T) {
	f := newFixture(t)
	publicClient := f.Client
	publicClient.ClientID = "public-app"
	publicClient.TokenEndpointAuthMethod = "none"
	publicClient.ClientSecretHash = nil
	if err := f.Storage.CreateClient(context.Background(), publicClient); err != nil {
		t.Fatal(err)
	}

	h := &httpapi.IntrospectionHandler{Storage: f.Storage, Clients: f.Clients, Hasher: identity.DefaultHasher()}
	req := postForm(t, "/introspect", url.Values{
		"token":     {"garbage"},
		"client_id": {publicClient.ClientID},
	})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d (public clients may not introspect)", w.Code, http.StatusUnauthorized)
	}
}

func TestIntrospectionHandlerMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	h := &httpapi.IntrospectionHandler{Storage: f.Storage, Clients: f.Clients, Hasher: identity.DefaultHasher()}

	req := httptest.NewRequest(http.MethodGet, "/introspect", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}
