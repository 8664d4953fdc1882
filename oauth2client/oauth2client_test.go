package oauth2client_test

import (
	"context"
	"testing"

	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/store"
	"github.com/matrix-auth/core/store/memtest"
)

func newTestClient(t *testing.T, s store.Storage, redirectURIs ...string) store.Client {
	t.Helper()
	c := store.Client{
		ClientID:                "web",
		RedirectURIs:            redirectURIs,
		ResponseTypes:           []string{"code"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}
	if err := s.CreateClient(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestResolveRedirectURISingleRegistered(t *testing.T) {
	s := memtest.New()
	c := newTestClient(t, s, "https://app.example/cb")
	svc := oauth2client.New(s)

	got, err := svc.ResolveRedirectURI(c, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://app.example/cb" {
		t.Errorf("got %q", got)
	}
}

func TestResolveRedirectURIRequiresExplicitWhenMultiple(t *testing.T) {
	s := memtest.New()
	c := newTestClient(t, s, "https://app.example/cb", "https://app.example/cb2")
	svc := oauth2client.New(s)

	if _, err := svc.ResolveRedirectURI(c, ""); err != oauth2client.ErrRedirectURIRequired {
		t.Errorf("got %v, want ErrRedirectURIRequired", err)
	}
}

func TestResolveRedirectURIMismatch(t *testing.T) {
	s := memtest.New()
	c := newTestClient(t, s, "https://app.example/cb")
	svc := oauth2client.New(s)

	if _, err := svc.ResolveRedirectURI(c, "https://evil.example/cb"); err != oauth2client.ErrRedirectURIMismatch {
		t.Errorf("got %v, want ErrRedirectURIMismatch", err)
	}
}

func TestRecordAndFetchConsentUnions(t *testing.T) {
	s := memtest.New()
	newTestClient(t, s, "https://app.example/cb")
	svc := oauth2client.New(s)
	ctx := context.Background()

	if err := svc.RecordConsent(ctx, 1, "web", []string{"openid"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordConsent(ctx, 1, "web", []string{"profile"}); err != nil {
		t.Fatal(err)
	}

	consent, err := svc.FetchConsent(ctx, 1, "web")
	if err != nil {
		t.Fatal(err)
	}
	if len(consent.GrantedScope) != 2 {
		t.Errorf("got %v, want both openid and profile", consent.GrantedScope)
	}
}

func TestLacksConsent(t *testing.T) {
	if !oauth2client.LacksConsent([]string{"openid", "profile"}, []string{"openid"}) {
		t.Error("expected missing profile scope to be detected")
	}
	if oauth2client.LacksConsent([]string{"openid"}, []string{"openid", "profile"}) {
		t.Error("superset of granted scope should not lack consent")
	}
}
