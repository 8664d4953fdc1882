package httpapi

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/matrix-auth/core/csrf"
	"github.com/matrix-auth/core/identity"
	"github.com/matrix-auth/core/store"
)

// RegisterHandler serves GET/POST /register: GET renders the account
// creation form, POST creates the user and logs them in immediately (email
// verification, if required, happens out-of-band via the excluded mailer
// collaborator).
type RegisterHandler struct {
	Identity *identity.Service
	Cookies  cookieConfig
}

var registerTemplate = template.Must(template.New("register").Parse(`<!DOCTYPE html>
<html>
<head><title>Create account</title></head>
<body>
<form method="post" action="{{.Action}}">
<input type="hidden" name="csrf" value="{{.CSRF}}">
<label>Username <input type="text" name="username"></label>
<label>Password <input type="password" name="password"></label>
<button type="submit">Register</button>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
</form>
</body>
</html>`))

func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jar := h.Cookies.jar(w, r)

	switch r.Method {
	case http.MethodGet:
		tok, err := csrf.IssueOrRefresh(jar, csrf.DefaultTTL)
		if err != nil {
			writeError(w, r, displayedError(http.StatusInternalServerError, "internal server error"))
			return
		}
		h.render(w, r, tok.FormValue(), "")

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			writeError(w, r, displayedError(http.StatusBadRequest, "failed to parse form"))
			return
		}
		if err := csrf.Verify(jar, r.PostFormValue("csrf")); err != nil {
			writeError(w, r, displayedError(http.StatusForbidden, "invalid or expired form"))
			return
		}

		user, err := h.Identity.Register(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
		if err != nil {
			msg := "could not create account"
			if errors.Is(err, store.ErrAlreadyExists) {
				msg = "username is already taken"
			}
			tok, tokErr := csrf.IssueOrRefresh(jar, csrf.DefaultTTL)
			if tokErr != nil {
				writeError(w, r, displayedError(http.StatusInternalServerError, "internal server error"))
				return
			}
			h.render(w, r, tok.FormValue(), msg)
			return
		}

		sess, err := h.Identity.StartSession(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, displayedError(http.StatusInternalServerError, "internal server error"))
			return
		}
		if err := saveBrowserSession(jar, sess); err != nil {
			writeError(w, r, displayedError(http.StatusInternalServerError, "internal server error"))
			return
		}

		http.Redirect(w, r, "/", http.StatusFound)

	default:
		writeError(w, r, jsonError(http.StatusMethodNotAllowed, ErrInvalidRequest, "method not allowed"))
	}
}

func (h *RegisterHandler) render(w http.ResponseWriter, r *http.Request, csrfValue, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	registerTemplate.Execute(w, struct {
		Action string
		CSRF   string
		Error  string
	}{Action: r.URL.Path, CSRF: csrfValue, Error: errMsg})
}
