package httpapi

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/orchestrator"
	"github.com/matrix-auth/core/session"
	"github.com/matrix-auth/core/signing"
	"github.com/matrix-auth/core/store"
)

// CompletionHandler serves GET /authorize/:id, the grant-completion
// orchestrator's HTTP boundary: it loads the grant and the caller's
// browser session, asks orchestrator.Complete what to do next, and turns
// the resulting Outcome into a redirect.
type CompletionHandler struct {
	Storage  store.Storage
	Clients  *oauth2client.Service
	Sessions *session.Service
	Oracle   signing.Oracle
	Cookies  cookieConfig

	// GrantID extracts the :id path parameter. Left router-agnostic so
	// this handler doesn't depend on gorilla/mux directly.
	GrantID func(*http.Request) (int64, error)

	LoginPath   func(returnTo string) string
	ReauthPath  func(returnTo string) string
	ConsentPath func(returnTo string) string

	Now func() time.Time
}

func (h *CompletionHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *CompletionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		http.Redirect(w, r, h.LoginPath(r.URL.String()), http.StatusFound)
		return
	}

	now := h.now()
	var outcome orchestrator.Outcome
	err = h.Storage.WithinTx(r.Context(), func(ctx context.Context, tx store.Storage) error {
		var completeErr error
		outcome, completeErr = orchestrator.Complete(ctx, tx, h.Clients, h.Sessions, h.Oracle, g, browserSession, now)
		return completeErr
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotPending) {
			writeError(w, r, displayedError(http.StatusGone, "this authorization request has already been used"))
			return
		}
		writeError(w, r, displayedError(http.StatusInternalServerError, "internal server error"))
		return
	}

	switch outcome.Kind {
	case orchestrator.OutcomeRequiresLogin:
		http.Redirect(w, r, h.LoginPath(r.URL.String()), http.StatusFound)
	case orchestrator.OutcomeRequiresReauth:
		http.Redirect(w, r, h.ReauthPath(r.URL.String()), http.StatusFound)
	case orchestrator.OutcomeRequiresConsent:
		http.Redirect(w, r, h.ConsentPath(r.URL.String()), http.StatusFound)
	case orchestrator.OutcomeCompleted:
		writeAuthorizationResponse(w, r, g.RedirectURI, g.ResponseMode, outcome.Response)
	}
}

// authorizationResponseParams renders resp as the RFC 6749 §4.1.2/§4.2.2
// query or fragment parameters appended to redirectURI.
func authorizationResponseParams(resp orchestrator.AuthorizationResponse) url.Values {
	v := url.Values{}
	if resp.State != nil {
		v.Set("state", *resp.State)
	}
	if resp.Code != nil {
		v.Set("code", *resp.Code)
	}
	if resp.AccessToken != nil {
		v.Set("access_token", *resp.AccessToken)
		v.Set("token_type", resp.TokenType)
		v.Set("expires_in", strconv.Itoa(resp.ExpiresIn))
	}
	if resp.RefreshToken != nil {
		v.Set("refresh_token", *resp.RefreshToken)
	}
	if resp.IDToken != nil {
		v.Set("id_token", *resp.IDToken)
	}
	return v
}

var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submitting...</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{range $k, $v := .Params}}<input type="hidden" name="{{$k}}" value="{{index $v 0}}">
{{end}}</form>
</body>
</html>`))

func writeAuthorizationResponse(w http.ResponseWriter, r *http.Request, redirectURI string, mode store.ResponseMode, resp orchestrator.AuthorizationResponse) {
	params := authorizationResponseParams(resp)

	switch mode {
	case store.ResponseModeFormPost:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		formPostTemplate.Execute(w, struct {
			Action string
			Params url.Values
		}{Action: redirectURI, Params: params})

	case store.ResponseModeFragment:
		target := redirectURI + "#" + params.Encode()
		http.Redirect(w, r, target, http.StatusSeeOther)

	default:
		separator := "?"
		if containsQuery(redirectURI) {
			separator = "&"
		}
		http.Redirect(w, r, redirectURI+separator+params.Encode(), http.StatusSeeOther)
	}
}

func containsQuery(rawURL string) bool {
	for i := 0; i < len(rawURL); i++ {
		if rawURL[i] == '?' {
			return true
		}
	}
	return false
}
