package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-jose/go-jose/v4"

	"github.com/matrix-auth/core/httpapi"
)

func TestDiscoveryHandler(t *testing.T) {
	h := &httpapi.DiscoveryHandler{Issuer: "https://auth.example"}
	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	var doc struct {
		Issuer                string `json:"issuer"`
		AuthorizationEndpoint string `json:"authorization_endpoint"`
		TokenEndpoint         string `json:"token_endpoint"`
		JWKSURI               string `json:"jwks_uri"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Issuer != "https://auth.example" {
		t.Errorf("got issuer %q", doc.Issuer)
	}
	if doc.AuthorizationEndpoint != "https://auth.example/authorize" {
		t.Errorf("got authorization_endpoint %q", doc.AuthorizationEndpoint)
	}
	if doc.TokenEndpoint != "https://auth.example/token" {
		t.Errorf("got token_endpoint %q", doc.TokenEndpoint)
	}
}

func TestJWKSHandler(t *testing.T) {
	h := &httpapi.JWKSHandler{Oracle: fakeOracle{}}
	req := httptest.NewRequest(http.MethodGet, "/jwks.json", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	var keys jose.JSONWebKeySet
	if err := json.Unmarshal(w.Body.Bytes(), &keys); err != nil {
		t.Fatal(err)
	}
}

func TestJWKSHandlerNoOracle(t *testing.T) {
	h := &httpapi.JWKSHandler{}
	req := httptest.NewRequest(http.MethodGet, "/jwks.json", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
