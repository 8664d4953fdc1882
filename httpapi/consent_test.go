package httpapi_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/matrix-auth/core/httpapi"
)

func newConsentHandler(f *fixture) *httpapi.ConsentHandler {
	h := &httpapi.ConsentHandler{
		Storage: f.Storage,
		Clients: f.Clients,
		GrantID: func(r *http.Request) (int64, error) {
			return strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		},
		CompletePath: func(grantID int64) string {
			return fmt.Sprintf("/authorize/%d", grantID)
		},
	}
	h.Cookies.Key = testKey
	return h
}

// issueCSRFAuthenticated is issueCSRF with the fixture's session cookie
// attached, for handlers that require a logged-in caller on GET too.
func issueCSRFAuthenticated(t *testing.T, f *fixture, target string, serve func(w http.ResponseWriter, r *http.Request)) (string, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Cookie", sessionCookieHeader(t, f))
	w := httptest.NewRecorder()
	serve(w, req)

	body := w.Body.String()
	const marker = `name="csrf" value="`
	idx := strings.Index(body, marker)
	if idx < 0 {
		t.Fatalf("csrf field not found in rendered page: %s", body)
	}
	rest := body[idx+len(marker):]
	value := rest[:strings.Index(rest, `"`)]

	var csrfCookie string
	for _, c := range w.Result().Cookies() {
		if c.Name == "csrf" {
			csrfCookie = c.Name + "=" + c.Value
		}
	}
	if csrfCookie == "" {
		t.Fatal("csrf cookie not set")
	}
	return csrfCookie, value
}

func TestConsentHandlerAllowRecordsConsentAndRedirects(t *testing.T) {
	f := newFixture(t)
	g := f.newGrant(t, []string{"openid", "profile"})

	h := newConsentHandler(f)
	target := "/consent?id=" + strconv.FormatInt(g.ID, 10)
	csrfCookie, csrfValue := issueCSRFAuthenticated(t, f, target, h.ServeHTTP)

	req := postForm(t, target, url.Values{"csrf": {csrfValue}, "decision": {"allow"}})
	req.Header.Set("Cookie", csrfCookie+"; "+sessionCookieHeader(t, f))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("got status %d body %s", w.Code, w.Body.String())
	}
	if want := "/authorize/" + strconv.FormatInt(g.ID, 10); w.Header().Get("Location") != want {
		t.Errorf("got Location %q, want %q", w.Header().Get("Location"), want)
	}

	consent, err := f.Clients.FetchConsent(bgCtx(), f.Session.UserID, f.Client.ClientID)
	if err != nil {
		t.Fatal(err)
	}
	if len(consent.GrantedScope) != 2 {
		t.Errorf("got granted scope %v, want openid+profile recorded", consent.GrantedScope)
	}
}

func TestConsentHandlerDenyRedirectsToClientWithAccessDenied(t *testing.T) {
	f := newFixture(t)
	g := f.newGrant(t, []string{"openid"})

	h := newConsentHandler(f)
	target := "/consent?id=" + strconv.FormatInt(g.ID, 10)
	csrfCookie, csrfValue := issueCSRFAuthenticated(t, f, target, h.ServeHTTP)

	req := postForm(t, target, url.Values{"csrf": {csrfValue}, "decision": {"deny"}})
	req.URL.RawQuery = "id=" + strconv.FormatInt(g.ID, 10)
	req.Header.Set("Cookie", csrfCookie+"; "+sessionCookieHeader(t, f))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("got status %d body %s, want a redirect to the client", w.Code, w.Body.String())
	}
	loc := w.Header().Get("Location")
	if !contains(loc, g.RedirectURI) || !contains(loc, "error=access_denied") {
		t.Errorf("got Location %q, want it to redirect to %q with access_denied", loc, g.RedirectURI)
	}
}
