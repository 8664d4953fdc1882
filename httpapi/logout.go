package httpapi

import (
	"net/http"

	"github.com/matrix-auth/core/identity"
	"github.com/matrix-auth/core/store"
)

// LogoutHandler serves POST /logout: it ends the caller's browser session
// and clears the session cookie.
type LogoutHandler struct {
	Storage  store.Storage
	Identity *identity.Service
	Cookies  cookieConfig
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, jsonError(http.StatusMethodNotAllowed, ErrInvalidRequest, "method not allowed"))
		return
	}

	jar := h.Cookies.jar(w, r)
	if sess, ok := loadBrowserSession(r.Context(), jar, h.Storage); ok {
		_ = h.Identity.EndSession(r.Context(), sess.ID)
	}
	clearBrowserSession(jar)

	http.Redirect(w, r, "/", http.StatusFound)
}
