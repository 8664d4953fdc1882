package main

import (
	"encoding/base64"
	"fmt"
)

// Config is the on-disk configuration format for authd. It is intentionally
// small: the full configuration surface an OAuth2/OIDC deployment needs
// (connectors, static clients, TLS) is the excluded collaborator this
// module leaves to its caller, the way the teacher's cmd/dex/config.go
// leans on a much larger Config for the features this module doesn't own.
type Config struct {
	Issuer string `json:"issuer"`

	Web struct {
		ListenAddr string `json:"listenAddr"`
	} `json:"web"`

	Database struct {
		DSN string `json:"dsn"`
	} `json:"database"`

	Cookies struct {
		// Key is a base64-encoded 32-byte AES-256 key shared by the
		// session cookie jar and the CSRF cookie jar.
		Key string `json:"key"`
	} `json:"cookies"`

	Telemetry struct {
		// OTLPEndpoint is the OTLP/gRPC collector address (host:port). Left
		// empty, authd runs without tracing.
		OTLPEndpoint string `json:"otlpEndpoint"`
		Sampler      string `json:"sampler"`
	} `json:"telemetry"`

	Expiry struct {
		AccessToken     string `json:"accessToken"`
		GrantTTL        string `json:"grantTTL"`
		RefreshTokenTTL string `json:"refreshTokenTTL"`
	} `json:"expiry"`

	Logger struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"logger"`
}

// Validate checks the fields runServe can't safely default.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Issuer == "", "no issuer specified in config file"},
		{c.Database.DSN == "", "no database dsn specified in config file"},
		{c.Web.ListenAddr == "", "no web.listenAddr specified in config file"},
		{c.Cookies.Key == "", "no cookies.key specified in config file"},
	}

	for _, check := range checks {
		if check.bad {
			return fmt.Errorf("invalid config: %s", check.errMsg)
		}
	}

	key, err := base64.StdEncoding.DecodeString(c.Cookies.Key)
	if err != nil {
		return fmt.Errorf("invalid config: cookies.key is not valid base64: %v", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("invalid config: cookies.key must decode to exactly 32 bytes, got %d", len(key))
	}

	return nil
}

func (c Config) cookieKey() []byte {
	key, _ := base64.StdEncoding.DecodeString(c.Cookies.Key)
	return key
}
