package httpapi_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matrix-auth/core/grant"
	"github.com/matrix-auth/core/httpapi"
)

func TestAuthorizeHandlerRedirectsToCompletion(t *testing.T) {
	f := newFixture(t)
	h := &httpapi.AuthorizeHandler{
		Storage: f.Storage,
		Clients: f.Clients,
		Policy:  grant.DefaultPolicy(),
		CompletePath: func(grantID int64) string {
			return fmt.Sprintf("/authorize/%d", grantID)
		},
	}

	target := "/oauth2/authorize?" +
		"response_type=code&client_id=" + f.Client.ClientID +
		"&redirect_uri=" + f.Client.RedirectURIs[0] +
		"&scope=openid&code_challenge=" + grant.S256Challenge("verifier") + "&code_challenge_method=S256"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("got status %d body %s", w.Code, w.Body.String())
	}
	loc := w.Header().Get("Location")
	if loc == "" || loc[:len("/authorize/")] != "/authorize/" {
		t.Errorf("got Location %q, want a /authorize/:id redirect", loc)
	}
}

func TestAuthorizeHandlerUnknownClient(t *testing.T) {
	f := newFixture(t)
	h := &httpapi.AuthorizeHandler{
		Storage:      f.Storage,
		Clients:      f.Clients,
		Policy:       grant.DefaultPolicy(),
		CompletePath: func(grantID int64) string { return "" },
	}

	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize?response_type=code&client_id=nonexistent", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAuthorizeHandlerRequiresPKCEForPublicClient(t *testing.T) {
	f := newFixture(t)
	public := f.Client
	public.ClientID = "public-spa"
	public.TokenEndpointAuthMethod = "none"
	public.ClientSecretHash = nil
	if err := f.Storage.CreateClient(bgCtx(), public); err != nil {
		t.Fatal(err)
	}

	h := &httpapi.AuthorizeHandler{
		Storage:      f.Storage,
		Clients:      f.Clients,
		Policy:       grant.DefaultPolicy(),
		CompletePath: func(grantID int64) string { return "" },
	}

	target := "/oauth2/authorize?response_type=code&client_id=" + public.ClientID +
		"&redirect_uri=" + public.RedirectURIs[0] + "&scope=openid"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("got status %d body %s, want a redirect carrying invalid_request", w.Code, w.Body.String())
	}
	loc := w.Header().Get("Location")
	if want := "error=invalid_request"; !contains(loc, want) {
		t.Errorf("got Location %q, want it to contain %q", loc, want)
	}
}
