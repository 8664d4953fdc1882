package httpapi

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/matrix-auth/core/csrf"
	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/store"
)

// ConsentHandler serves the consent page of the grant that GrantID extracts
// from the request (cmd/authd mounts it at /consent, with the grant id
// carried inside return_to): GET shows the requested scope for the caller
// to approve, POST records the decision and redirects back to the
// completion endpoint to finish the grant.
type ConsentHandler struct {
	Storage store.Storage
	Clients *oauth2client.Service
	Cookies cookieConfig

	GrantID      func(*http.Request) (int64, error)
	CompletePath func(grantID int64) string
}

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize {{.ClientID}}</title></head>
<body>
<p>{{.ClientID}} is requesting access to: {{.Scope}}</p>
<form method="post" action="{{.Action}}">
<input type="hidden" name="csrf" value="{{.CSRF}}">
<button type="submit" name="decision" value="allow">Allow</button>
<button type="submit" name="decision" value="deny">Deny</button>
</form>
</body>
</html>`))

func (h *ConsentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	grantID, err := h.GrantID(r)
	if err != nil {
		writeError(w, r, displayedError(http.StatusNotFound, "unknown authorization request"))
		return
	}
	g, err := h.Storage.GetGrant(r.Context(), grantID)
	if err != nil {
		writeError(w, r, displayedError(http.StatusNotFound, "unknown authorization request"))
		return
	}

	jar := h.Cookies.jar(w, r)
	browserSession, ok := loadBrowserSession(r.Context(), jar, h.Storage)
	if !ok {
		writeError(w, r, displayedError(http.StatusUnauthorized, "not logged in"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		tok, err := csrf.IssueOrRefresh(jar, csrf.DefaultTTL)
		if err != nil {
			writeError(w, r, displayedError(http.StatusInternalServerError, "internal server error"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		consentTemplate.Execute(w, struct {
			ClientID string
			Scope    string
			Action   string
			CSRF     string
		}{ClientID: g.ClientID, Scope: strings.Join(g.Scope, " "), Action: r.URL.RequestURI(), CSRF: tok.FormValue()})

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			writeError(w, r, displayedError(http.StatusBadRequest, "failed to parse form"))
			return
		}
		if err := csrf.Verify(jar, r.PostFormValue("csrf")); err != nil {
			writeError(w, r, displayedError(http.StatusForbidden, "invalid or expired form"))
			return
		}
		if r.PostFormValue("decision") != "allow" {
			state := ""
			if g.State != nil {
				state = *g.State
			}
			writeError(w, r, redirectError(g.RedirectURI, state, ErrAccessDenied, "the user denied the request"))
			return
		}
		if err := h.Clients.RecordConsent(r.Context(), browserSession.UserID, g.ClientID, g.Scope); err != nil {
			writeError(w, r, displayedError(http.StatusInternalServerError, "internal server error"))
			return
		}
		http.Redirect(w, r, h.CompletePath(g.ID), http.StatusFound)

	default:
		writeError(w, r, jsonError(http.StatusMethodNotAllowed, ErrInvalidRequest, "method not allowed"))
	}
}
