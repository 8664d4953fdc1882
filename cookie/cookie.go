// Package cookie implements the encrypted, authenticated cookie jar that
// carries browser session state and CSRF state.
//
// Decryption failure (missing cookie, tampered value, wrong key) is folded
// into "absent" for most callers; only the CSRF path needs to distinguish
// the failure modes, and does so itself by inspecting the returned error.
package cookie

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/matrix-auth/core/pkg/aead"
)

// Jar reads and writes encrypted cookies against one request/response pair.
type Jar struct {
	key      []byte
	w        http.ResponseWriter
	r        *http.Request
	secure   bool
	sameSite http.SameSite
}

// New returns a Jar bound to a single request's cookies, sealed under key.
// key must be 32 bytes (AES-256). secure controls the cookie's Secure
// attribute and should be true outside of local development over plain HTTP.
func New(key []byte, w http.ResponseWriter, r *http.Request, secure bool) *Jar {
	return &Jar{key: key, w: w, r: r, secure: secure, sameSite: http.SameSiteLaxMode}
}

// Get decrypts and decodes the named cookie into dst. It reports ok=false
// when the cookie is absent, undecryptable, or malformed, with err set only
// when the caller asked for it via GetErr.
func (j *Jar) Get(name string, dst any) (ok bool) {
	_, ok = j.GetErr(name, dst)
	return ok
}

// GetErr is like Get but also returns the underlying error, distinguishing
// "no cookie" from "cookie present but failed to decrypt/decode".
func (j *Jar) GetErr(name string, dst any) (err error, ok bool) {
	c, err := j.r.Cookie(name)
	if err != nil {
		return err, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return err, false
	}

	plaintext, err := aead.Decrypt(raw, j.key)
	if err != nil {
		return err, false
	}

	if err := json.Unmarshal(plaintext, dst); err != nil {
		return err, false
	}
	return nil, true
}

// Set encrypts value and attaches it as a cookie named name, HttpOnly and
// path="/" as required of all security-state cookies.
func (j *Jar) Set(name string, value any, maxAge int) error {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return err
	}

	ciphertext, err := aead.Encrypt(plaintext, j.key)
	if err != nil {
		return err
	}

	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    base64.RawURLEncoding.EncodeToString(ciphertext),
		Path:     "/",
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: j.sameSite,
		MaxAge:   maxAge,
	})
	return nil
}

// Clear expires the named cookie immediately.
func (j *Jar) Clear(name string) {
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: j.sameSite,
		MaxAge:   -1,
	})
}
