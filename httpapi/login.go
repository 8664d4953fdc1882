package httpapi

import (
	"html/template"
	"net/http"

	"github.com/matrix-auth/core/csrf"
	"github.com/matrix-auth/core/identity"
)

// LoginHandler serves GET/POST /login: GET renders the credential form,
// POST authenticates the user and, on success, sets the session cookie and
// redirects to return_to.
type LoginHandler struct {
	Identity *identity.Service
	Cookies  cookieConfig
}

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Log in</title></head>
<body>
<form method="post" action="{{.Action}}">
<input type="hidden" name="csrf" value="{{.CSRF}}">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<label>Username <input type="text" name="username"></label>
<label>Password <input type="password" name="password"></label>
<button type="submit">Log in</button>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
</form>
</body>
</html>`))

type loginPageData struct {
	Action   string
	CSRF     string
	ReturnTo string
	Error    string
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

		sess, err := h.Identity.AuthenticateUsername(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"))
		if err != nil {
			tok, tokErr := csrf.IssueOrRefresh(jar, csrf.DefaultTTL)
			if tokErr != nil {
				writeError(w, r, displayedError(http.StatusInternalServerError, "internal server error"))
				return
			}
			h.render(w, r, tok.FormValue(), "invalid username or password")
			return
		}

		if err := saveBrowserSession(jar, sess); err != nil {
			writeError(w, r, displayedError(http.StatusInternalServerError, "internal server error"))
			return
		}

		returnTo := r.PostFormValue("return_to")
		if returnTo == "" {
			returnTo = "/"
		}
		http.Redirect(w, r, returnTo, http.StatusFound)

	default:
		writeError(w, r, jsonError(http.StatusMethodNotAllowed, ErrInvalidRequest, "method not allowed"))
	}
}

func (h *LoginHandler) render(w http.ResponseWriter, r *http.Request, csrfValue, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	loginTemplate.Execute(w, loginPageData{
		Action:   r.URL.Path,
		CSRF:     csrfValue,
		ReturnTo: r.URL.Query().Get("return_to"),
		Error:    errMsg,
	})
}
