package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matrix-auth/core/cookie"
)

func newJarPair(t *testing.T) (issue *cookie.Jar, rec *httptest.ResponseRecorder) {
	t.Helper()
	key := make([]byte, 32)
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	issue = cookie.New(key, rec, req, true)
	return issue, rec
}

func replay(rec *httptest.ResponseRecorder) *cookie.Jar {
	key := make([]byte, 32)
	req2 := httptest.NewRequest(http.MethodPost, "/login", nil)
	for _, c := range rec.Result().Cookies() {
		req2.AddCookie(c)
	}
	return cookie.New(key, httptest.NewRecorder(), req2, true)
}

func TestIssueThenVerifySucceeds(t *testing.T) {
	jar, rec := newJarPair(t)
	tok, err := IssueOrRefresh(jar, DefaultTTL)
	if err != nil {
		t.Fatal(err)
	}

	jar2 := replay(rec)
	if err := Verify(jar2, tok.FormValue()); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestVerifyMissingCookie(t *testing.T) {
	key := make([]byte, 32)
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	jar := cookie.New(key, httptest.NewRecorder(), req, true)
	if err := Verify(jar, "anything"); err != ErrMissing {
		t.Errorf("Verify = %v, want ErrMissing", err)
	}
}

func TestVerifyTamperedFormValue(t *testing.T) {
	jar, rec := newJarPair(t)
	if _, err := IssueOrRefresh(jar, DefaultTTL); err != nil {
		t.Fatal(err)
	}
	jar2 := replay(rec)
	if err := Verify(jar2, "tampered-value"); err != ErrMismatch && err != ErrDecode {
		t.Errorf("Verify(tampered) = %v, want ErrMismatch/ErrDecode", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	jar, rec := newJarPair(t)
	tok, err := IssueOrRefresh(jar, -time.Second)
	if err != nil {
		t.Fatal(err)
	}
	jar2 := replay(rec)
	if err := Verify(jar2, tok.FormValue()); err != ErrExpired {
		t.Errorf("Verify(expired) = %v, want ErrExpired", err)
	}
}

func TestIssueOrRefreshKeepsSecretStable(t *testing.T) {
	jar, rec := newJarPair(t)
	first, err := IssueOrRefresh(jar, DefaultTTL)
	if err != nil {
		t.Fatal(err)
	}

	// A second GET in a later request carrying the first cookie must keep
	// the same secret, only pushing out the expiration, so outstanding
	// forms rendered from the first GET remain valid.
	key := make([]byte, 32)
	req2 := httptest.NewRequest(http.MethodGet, "/login", nil)
	for _, c := range rec.Result().Cookies() {
		req2.AddCookie(c)
	}
	jar2 := cookie.New(key, httptest.NewRecorder(), req2, true)
	second, err := IssueOrRefresh(jar2, DefaultTTL)
	if err != nil {
		t.Fatal(err)
	}
	if first.FormValue() != second.FormValue() {
		t.Error("secret changed across refresh within the same cookie jar")
	}
}
