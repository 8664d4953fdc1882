package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matrix-auth/core/grant"
	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/store"
)

// AuthorizeHandler serves the authorization endpoint (cmd/authd mounts it
// at GET /authorize, not under /oauth2/): it validates the request
// against the registered client, creates a Pending grant, and redirects the
// browser to the completion endpoint to continue the interactive flow.
type AuthorizeHandler struct {
	Storage      store.Storage
	Clients      *oauth2client.Service
	Policy       grant.Policy
	CompletePath func(grantID int64) string
	Now          func() time.Time
}

func (h *AuthorizeHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *AuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, displayedError(http.StatusBadRequest, "failed to parse request"))
		return
	}
	q := r.Form

	clientID := q.Get("client_id")
	client, err := h.Clients.LookupClient(r.Context(), clientID)
	if err != nil {
		writeError(w, r, displayedError(http.StatusNotFound, "unknown client_id"))
		return
	}

	redirectURI, err := h.Clients.ResolveRedirectURI(client, q.Get("redirect_uri"))
	if err != nil {
		writeError(w, r, displayedError(http.StatusBadRequest, "invalid redirect_uri: "+err.Error()))
		return
	}

	state := q.Get("state")
	newRedirectErr := func(code, description string) *RouteError {
		return redirectError(redirectURI, state, code, description)
	}

	responseTypes := strings.Fields(q.Get("response_type"))
	if len(responseTypes) == 0 {
		writeError(w, r, newRedirectErr(ErrInvalidRequest, "response_type is required"))
		return
	}
	req := grant.Request{
		Client:      client,
		RedirectURI: redirectURI,
		Scope:       strings.Fields(q.Get("scope")),
		ResponseMode: store.ResponseMode(q.Get("response_mode")),
	}
	if req.ResponseMode == "" {
		req.ResponseMode = store.ResponseModeQuery
	}
	if state != "" {
		req.State = &state
	}
	if nonce := q.Get("nonce"); nonce != "" {
		req.Nonce = &nonce
	}
	if maxAge := q.Get("max_age"); maxAge != "" {
		if n, convErr := strconv.Atoi(maxAge); convErr == nil {
			req.MaxAge = &n
		}
	}
	for _, rt := range responseTypes {
		switch rt {
		case "code":
			req.ResponseTypeCode = true
		case "token":
			req.ResponseTypeToken = true
		case "id_token":
			req.ResponseTypeIDToken = true
		default:
			writeError(w, r, newRedirectErr(ErrInvalidRequest, "unsupported response_type "+rt))
			return
		}
	}

	if challenge := q.Get("code_challenge"); challenge != "" {
		method := q.Get("code_challenge_method")
		if method == "" {
			method = store.PKCEMethodPlain
		}
		req.PKCEChallenge = &challenge
		req.PKCEMethod = method
	}

	g, err := grant.New(r.Context(), h.Storage, h.Policy, req, h.now())
	if err != nil {
		switch err {
		case grant.ErrUnsupportedResponseType:
			writeError(w, r, newRedirectErr(ErrUnauthorizedClient, "response_type not registered for this client"))
		case grant.ErrInvalidResponseMode:
			writeError(w, r, newRedirectErr(ErrInvalidRequest, "unrecognized response_mode"))
		case grant.ErrPKCERequired:
			writeError(w, r, newRedirectErr(ErrInvalidRequest, "PKCE is required for this client"))
		default:
			writeError(w, r, newRedirectErr(ErrServerError, ""))
		}
		return
	}

	http.Redirect(w, r, h.CompletePath(g.ID), http.StatusFound)
}
