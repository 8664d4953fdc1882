package httpapi

import (
	"context"
	"net/http"

	"github.com/matrix-auth/core/cookie"
	"github.com/matrix-auth/core/store"
)

// SessionCookieName is the cookie carrying the encrypted browser-session
// reference.
const SessionCookieName = "session"

// sessionCookieValue is the plaintext {browser_session_id} sealed inside
// the session cookie.
type sessionCookieValue struct {
	BrowserSessionID int64 `json:"browser_session_id"`
}

// loadBrowserSession resolves the caller's browser session from the
// session cookie, returning ok=false if the cookie is absent, undecryptable,
// or names a session that no longer exists or has been logged out.
func loadBrowserSession(ctx context.Context, jar *cookie.Jar, storage store.Storage) (store.BrowserSession, bool) {
	var v sessionCookieValue
	if !jar.Get(SessionCookieName, &v) {
		return store.BrowserSession{}, false
	}
	sess, err := storage.GetBrowserSession(ctx, v.BrowserSessionID)
	if err != nil || !sess.Active() {
		return store.BrowserSession{}, false
	}
	return sess, true
}

// saveBrowserSession attaches the session cookie for sess. A maxAge of 0
// makes it a session-lifetime cookie, cleared when the browser closes.
func saveBrowserSession(jar *cookie.Jar, sess store.BrowserSession) error {
	return jar.Set(SessionCookieName, sessionCookieValue{BrowserSessionID: sess.ID}, 0)
}

// clearBrowserSession removes the session cookie, used on logout.
func clearBrowserSession(jar *cookie.Jar) {
	jar.Clear(SessionCookieName)
}

// cookieConfig is a small constructor helper so handlers don't all repeat
// the same cookie.New call with the server's encryption key and TLS mode.
type cookieConfig struct {
	Key    []byte
	Secure bool
}

func (c cookieConfig) jar(w http.ResponseWriter, r *http.Request) *cookie.Jar {
	return cookie.New(c.Key, w, r, c.Secure)
}
