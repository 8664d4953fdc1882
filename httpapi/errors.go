// Package httpapi wires the authorization, token, introspection, and
// discovery endpoints onto handler structs implementing http.Handler,
// independent of any particular router.
package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// OAuth2 error codes used across the token and introspection endpoints.
const (
	ErrInvalidRequest       = "invalid_request"
	ErrInvalidClient        = "invalid_client"
	ErrInvalidGrant         = "invalid_grant"
	ErrUnauthorizedClient   = "unauthorized_client"
	ErrUnsupportedGrantType = "unsupported_grant_type"
	ErrInvalidScope         = "invalid_scope"
	ErrAccessDenied         = "access_denied"
	ErrServerError          = "server_error"
)

// RouteError is the one error shape every httpapi handler returns: it
// carries enough information for writeError to pick the right wire format
// (a redirect, a displayed page, or a JSON error body) without the handler
// itself touching http.ResponseWriter on the failure path.
type RouteError struct {
	// Kind selects how writeError renders this error.
	Kind RouteErrorKind

	// Status is the HTTP status code for Displayed and JSON kinds.
	Status int

	// Code is the OAuth2 error code (Redirect and JSON kinds).
	Code string

	// Description is a human-readable detail, included as
	// error_description or rendered directly for Displayed errors.
	Description string

	// State echoes the authorization request's state parameter back to
	// the client on a Redirect error.
	State string

	// RedirectURI is where a Redirect error sends the browser.
	RedirectURI string
}

// RouteErrorKind tags which variant a RouteError holds.
type RouteErrorKind int

const (
	// KindJSON renders {"error": ..., "error_description": ...} with
	// Status, for the token and introspection endpoints.
	KindJSON RouteErrorKind = iota
	// KindRedirect sends a 303 redirect to RedirectURI with state/error/
	// error_description appended as query parameters, for authorization
	// failures the client can still be told about.
	KindRedirect
	// KindDisplayed renders a plain-text page with Status, for
	// authorization failures that can't safely be redirected (e.g. an
	// unregistered or missing redirect_uri).
	KindDisplayed
)

// jsonError constructs a KindJSON RouteError.
func jsonError(status int, code, description string) *RouteError {
	return &RouteError{Kind: KindJSON, Status: status, Code: code, Description: description}
}

// redirectError constructs a KindRedirect RouteError.
func redirectError(redirectURI, state, code, description string) *RouteError {
	return &RouteError{Kind: KindRedirect, RedirectURI: redirectURI, State: state, Code: code, Description: description}
}

// displayedError constructs a KindDisplayed RouteError.
func displayedError(status int, description string) *RouteError {
	return &RouteError{Kind: KindDisplayed, Status: status, Description: description}
}

func (e *RouteError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Code
}

// writeError is the single HTTP-boundary mapping function: every handler's
// failure path ends here instead of writing to w directly.
func writeError(w http.ResponseWriter, r *http.Request, err *RouteError) {
	switch err.Kind {
	case KindRedirect:
		v := url.Values{}
		v.Set("state", err.State)
		v.Set("error", err.Code)
		if err.Description != "" {
			v.Set("error_description", err.Description)
		}
		target := err.RedirectURI
		if strings.Contains(target, "?") {
			target += "&" + v.Encode()
		} else {
			target += "?" + v.Encode()
		}
		http.Redirect(w, r, target, http.StatusSeeOther)

	case KindDisplayed:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(err.Status)
		w.Write([]byte(err.Description))

	default:
		writeJSONError(w, err.Status, err.Code, err.Description)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	body, marshalErr := json.Marshal(struct {
		Error       string `json:"error"`
		Description string `json:"error_description,omitempty"`
	}{code, description})
	if marshalErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}
