// Package netutil holds small URL-comparison helpers shared by the client
// registry: a normalizing parse that preserves query strings and returns
// the canonical *url.URL so callers can persist the normalized value.
package netutil

import (
	"net/url"
	"strings"
)

// NormalizeURL lowercases the scheme and host, strips the default port for
// the scheme (80 for http, 443 for https), and leaves path/query untouched.
func NormalizeURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	return u, nil
}

// URLEqual reports whether two URLs are equal after NormalizeURL, by exact
// string equality of the normalized form.
func URLEqual(a, b string) bool {
	na, err := NormalizeURL(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeURL(b)
	if err != nil {
		return false
	}
	return na.String() == nb.String()
}
