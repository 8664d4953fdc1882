package netutil

import "testing"

func TestURLEqualStripsDefaultPort(t *testing.T) {
	if !URLEqual("https://App.example/cb", "https://app.example:443/cb") {
		t.Error("expected URLs to be equal after normalization")
	}
}

func TestURLEqualPreservesQuery(t *testing.T) {
	if URLEqual("https://app.example/cb?x=1", "https://app.example/cb?x=2") {
		t.Error("expected URLs with different query strings to differ")
	}
}

func TestURLEqualRejectsDifferentPath(t *testing.T) {
	if URLEqual("https://app.example/cb", "https://app.example/other") {
		t.Error("expected different paths to differ")
	}
}
