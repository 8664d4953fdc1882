package grant_test

import (
	"context"
	"testing"
	"time"

	"github.com/matrix-auth/core/grant"
	"github.com/matrix-auth/core/store"
	"github.com/matrix-auth/core/store/memtest"
)

func newClient(t *testing.T, s store.Storage) store.Client {
	t.Helper()
	c := store.Client{
		ClientID:                "web",
		RedirectURIs:            []string{"https://app.example/cb"},
		ResponseTypes:           []string{"code"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}
	if err := s.CreateClient(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewPendingGrantHasCode(t *testing.T) {
	s := memtest.New()
	client := newClient(t, s)
	ctx := context.Background()

	g, err := grant.New(ctx, s, grant.DefaultPolicy(), grant.Request{
		Client:           client,
		RedirectURI:      client.RedirectURIs[0],
		Scope:            []string{"openid"},
		ResponseMode:     store.ResponseModeQuery,
		ResponseTypeCode: true,
		PKCEChallenge:    strPtr(grant.S256Challenge("verifier")),
		PKCEMethod:       store.PKCEMethodS256,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if g.Code == nil {
		t.Fatal("expected a code to be generated")
	}
	if g.Stage() != store.StagePending {
		t.Errorf("got stage %v, want Pending", g.Stage())
	}
}

func TestExchangeHappyPath(t *testing.T) {
	s := memtest.New()
	client := newClient(t, s)
	ctx := context.Background()
	now := time.Now()

	g, err := grant.New(ctx, s, grant.DefaultPolicy(), grant.Request{
		Client:           client,
		RedirectURI:      client.RedirectURIs[0],
		Scope:            []string{"openid"},
		ResponseMode:     store.ResponseModeQuery,
		ResponseTypeCode: true,
		PKCEChallenge:    strPtr(grant.S256Challenge("verifier")),
		PKCEMethod:       store.PKCEMethodS256,
	}, now)
	if err != nil {
		t.Fatal(err)
	}

	sess, err := s.CreateOAuthSession(ctx, store.OAuthSession{BrowserSessionID: 1, ClientID: client.ClientID, Scope: g.Scope, CreatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if err := grant.Fulfill(ctx, s, g.ID, sess.ID, now); err != nil {
		t.Fatal(err)
	}

	result, err := grant.Exchange(ctx, s, *g.Code, g.RedirectURI, client.ClientID, "verifier", 5*time.Minute, now)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if result.AccessTokenString == "" || result.RefreshTokenString == "" {
		t.Error("expected both tokens to be issued")
	}
}

func TestExchangeReplayRevokesTokens(t *testing.T) {
	s := memtest.New()
	client := newClient(t, s)
	ctx := context.Background()
	now := time.Now()

	g, err := grant.New(ctx, s, grant.DefaultPolicy(), grant.Request{
		Client:           client,
		RedirectURI:      client.RedirectURIs[0],
		ResponseMode:     store.ResponseModeQuery,
		ResponseTypeCode: true,
		PKCEChallenge:    strPtr(grant.S256Challenge("verifier")),
		PKCEMethod:       store.PKCEMethodS256,
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := s.CreateOAuthSession(ctx, store.OAuthSession{BrowserSessionID: 1, ClientID: client.ClientID, CreatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if err := grant.Fulfill(ctx, s, g.ID, sess.ID, now); err != nil {
		t.Fatal(err)
	}

	first, err := grant.Exchange(ctx, s, *g.Code, g.RedirectURI, client.ClientID, "verifier", 5*time.Minute, now)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := grant.Exchange(ctx, s, *g.Code, g.RedirectURI, client.ClientID, "verifier", 5*time.Minute, now); err != grant.ErrInvalidGrant {
		t.Fatalf("replay: got %v, want ErrInvalidGrant", err)
	}

	_, _, err = s.GetActiveAccessToken(ctx, first.AccessTokenString)
	if err != store.ErrNotFound {
		t.Errorf("expected original access token to be revoked, got %v", err)
	}
}

func TestExchangeWrongPKCEVerifier(t *testing.T) {
	s := memtest.New()
	client := newClient(t, s)
	ctx := context.Background()
	now := time.Now()

	g, err := grant.New(ctx, s, grant.DefaultPolicy(), grant.Request{
		Client:           client,
		RedirectURI:      client.RedirectURIs[0],
		ResponseMode:     store.ResponseModeQuery,
		ResponseTypeCode: true,
		PKCEChallenge:    strPtr(grant.S256Challenge("verifier")),
		PKCEMethod:       store.PKCEMethodS256,
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := s.CreateOAuthSession(ctx, store.OAuthSession{BrowserSessionID: 1, ClientID: client.ClientID, CreatedAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if err := grant.Fulfill(ctx, s, g.ID, sess.ID, now); err != nil {
		t.Fatal(err)
	}

	if _, err := grant.Exchange(ctx, s, *g.Code, g.RedirectURI, client.ClientID, "wrong-verifier", 5*time.Minute, now); err != grant.ErrInvalidGrant {
		t.Errorf("got %v, want ErrInvalidGrant", err)
	}
}

func strPtr(s string) *string { return &s }
