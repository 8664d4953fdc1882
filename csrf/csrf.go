// Package csrf binds an unguessable value in an encrypted cookie to a
// hidden form field, with a TTL.
//
// A GET that renders a form refreshes the cookie's expiration while
// keeping its secret stable, so concurrently open tabs don't invalidate
// each other's forms; a POST requires the cookie to be present, unexpired,
// and byte-equal to the decoded form value.
package csrf

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/matrix-auth/core/cookie"
	"github.com/matrix-auth/core/pkg/aead"
)

// CookieName is the cookie csrf state is stored under.
const CookieName = "csrf"

// DefaultTTL is how long an issued token remains valid, and how far a
// refresh pushes the expiration out.
const DefaultTTL = time.Hour

var (
	// ErrMissing means the csrf cookie wasn't present on the request.
	ErrMissing = errors.New("csrf: missing cookie")
	// ErrExpired means the cookie was present but past its expiration.
	ErrExpired = errors.New("csrf: token expired")
	// ErrMismatch means the form value didn't match the cookie's secret.
	ErrMismatch = errors.New("csrf: token mismatch")
	// ErrDecode means the form value wasn't valid base64url.
	ErrDecode = errors.New("csrf: could not decode form value")
)

// secretSize is 32 random bytes.
const secretSize = 32

// Token is the CSRF state stored in the encrypted cookie.
type Token struct {
	Expiration time.Time
	Secret     [secretSize]byte
}

func generate(ttl time.Duration) (Token, error) {
	var secret [secretSize]byte
	b, err := aead.RandBytes(secretSize)
	if err != nil {
		return Token{}, err
	}
	copy(secret[:], b)
	return Token{Expiration: time.Now().Add(ttl), Secret: secret}, nil
}

func (t Token) refresh(ttl time.Duration) Token {
	return Token{Expiration: time.Now().Add(ttl), Secret: t.Secret}
}

func (t Token) expired() bool {
	return !time.Now().Before(t.Expiration)
}

// FormValue returns the value to embed in the rendered HTML form.
func (t Token) FormValue() string {
	return base64.RawURLEncoding.EncodeToString(t.Secret[:])
}

// IssueOrRefresh loads the existing csrf cookie from jar, if any. If it is
// missing, expired, or undecryptable, a fresh token is generated; otherwise
// the same secret is kept but its expiration is pushed out by ttl. The
// (possibly new) token is written back to the cookie jar and returned so the
// caller can render FormValue() into the page.
func IssueOrRefresh(jar *cookie.Jar, ttl time.Duration) (Token, error) {
	var existing Token
	var tok Token
	if jar.Get(CookieName, &existing) && !existing.expired() {
		tok = existing.refresh(ttl)
	} else {
		fresh, err := generate(ttl)
		if err != nil {
			return Token{}, err
		}
		tok = fresh
	}

	// MaxAge in whole seconds, at least 1 so the cookie isn't immediately
	// expired by rounding down a sub-second TTL.
	maxAge := int(ttl.Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	if err := jar.Set(CookieName, tok, maxAge); err != nil {
		return Token{}, err
	}
	return tok, nil
}

// Verify checks that jar carries an unexpired csrf cookie whose secret
// equals the decoded formValue, in constant time.
func Verify(jar *cookie.Jar, formValue string) error {
	var tok Token
	err, ok := jar.GetErr(CookieName, &tok)
	if !ok {
		if errors.Is(err, http.ErrNoCookie) {
			return ErrMissing
		}
		// Tampered or undecryptable: treat the same as missing, since an
		// attacker-controlled cookie carries no information either way.
		return ErrMissing
	}
	if tok.expired() {
		return ErrExpired
	}

	decoded, err := base64.RawURLEncoding.DecodeString(formValue)
	if err != nil {
		return ErrDecode
	}
	if len(decoded) != secretSize {
		return ErrMismatch
	}
	if subtle.ConstantTimeCompare(tok.Secret[:], decoded) != 1 {
		return ErrMismatch
	}
	return nil
}
