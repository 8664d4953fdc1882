package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/matrix-auth/core/httpapi"
	"github.com/matrix-auth/core/session"
)

func newCompletionHandler(f *fixture) *httpapi.CompletionHandler {
	h := &httpapi.CompletionHandler{
		Storage:  f.Storage,
		Clients:  f.Clients,
		Sessions: session.New(f.Storage),
		Oracle:   fakeOracle{},
		GrantID: func(r *http.Request) (int64, error) {
			return strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		},
		LoginPath:   func(returnTo string) string { return "/login?return_to=" + returnTo },
		ReauthPath:  func(returnTo string) string { return "/login?reauth=1&return_to=" + returnTo },
		ConsentPath: func(returnTo string) string { return "/consent?return_to=" + returnTo },
	}
	h.Cookies.Key = testKey
	return h
}

func TestCompletionHandlerRedirectsToLoginWithoutSession(t *testing.T) {
	f := newFixture(t)
	g := f.newGrant(t, []string{"openid"})
	h := newCompletionHandler(f)

	target := "/authorize/" + strconv.FormatInt(g.ID, 10) + "?id=" + strconv.FormatInt(g.ID, 10)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("got status %d", w.Code)
	}
	if loc := w.Header().Get("Location"); !contains(loc, "/login") {
		t.Errorf("got Location %q, want a /login redirect", loc)
	}
}

func TestCompletionHandlerRedirectsToConsentWhenUngranted(t *testing.T) {
	f := newFixture(t)
	g := f.newGrant(t, []string{"openid"})
	h := newCompletionHandler(f)

	target := "/authorize/" + strconv.FormatInt(g.ID, 10) + "?id=" + strconv.FormatInt(g.ID, 10)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Cookie", sessionCookieHeader(t, f))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("got status %d", w.Code)
	}
	if loc := w.Header().Get("Location"); !contains(loc, "/consent") {
		t.Errorf("got Location %q, want a /consent redirect", loc)
	}
}

func TestCompletionHandlerCompletesAfterConsent(t *testing.T) {
	f := newFixture(t)
	g := f.newGrant(t, []string{"openid"})
	if err := f.Clients.RecordConsent(bgCtx(), f.Session.UserID, f.Client.ClientID, []string{"openid"}); err != nil {
		t.Fatal(err)
	}
	h := newCompletionHandler(f)

	target := "/authorize/" + strconv.FormatInt(g.ID, 10) + "?id=" + strconv.FormatInt(g.ID, 10)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Cookie", sessionCookieHeader(t, f))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("got status %d body %s", w.Code, w.Body.String())
	}
	loc := w.Header().Get("Location")
	if !contains(loc, g.RedirectURI) || !contains(loc, "code=") {
		t.Errorf("got Location %q, want a redirect to %q carrying an authorization code", loc, g.RedirectURI)
	}
}

func TestCompletionHandlerAlreadyCompletedGrant(t *testing.T) {
	f := newFixture(t)
	g := f.newGrant(t, []string{"openid"})
	if err := f.Clients.RecordConsent(bgCtx(), f.Session.UserID, f.Client.ClientID, []string{"openid"}); err != nil {
		t.Fatal(err)
	}
	h := newCompletionHandler(f)

	target := "/authorize/" + strconv.FormatInt(g.ID, 10) + "?id=" + strconv.FormatInt(g.ID, 10)

	req1 := httptest.NewRequest(http.MethodGet, target, nil)
	req1.Header.Set("Cookie", sessionCookieHeader(t, f))
	h.ServeHTTP(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodGet, target, nil)
	req2.Header.Set("Cookie", sessionCookieHeader(t, f))
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req2)

	if w2.Code != http.StatusGone {
		t.Fatalf("got status %d, want %d for a re-completed grant", w2.Code, http.StatusGone)
	}
}
