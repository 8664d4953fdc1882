package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/matrix-auth/core/grant"
	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/orchestrator"
	"github.com/matrix-auth/core/session"
	"github.com/matrix-auth/core/store"
	"github.com/matrix-auth/core/store/memtest"
)

type fakeOracle struct{}

func (fakeOracle) Sign(claims any) (string, error) { return "signed.id.token", nil }
func (fakeOracle) JWKS() jose.JSONWebKeySet        { return jose.JSONWebKeySet{} }

func setup(t *testing.T) (store.Storage, store.Client, store.BrowserSession) {
	t.Helper()
	s := memtest.New()
	ctx := context.Background()

	client := store.Client{
		ClientID:                "web",
		RedirectURIs:            []string{"https://app.example/cb"},
		ResponseTypes:           []string{"code"},
		GrantTypes:              []string{"authorization_code"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}
	if err := s.CreateClient(ctx, client); err != nil {
		t.Fatal(err)
	}

	user, err := s.CreateUser(ctx, "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := s.CreateBrowserSession(ctx, user.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendAuthentication(ctx, sess.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	sess, err = s.GetBrowserSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}

	return s, client, sess
}

func TestCompleteRequiresConsentWhenNoneGranted(t *testing.T) {
	s, client, sess := setup(t)
	ctx := context.Background()
	now := time.Now()

	g, err := grant.New(ctx, s, grant.DefaultPolicy(), grant.Request{
		Client:           client,
		RedirectURI:      client.RedirectURIs[0],
		Scope:            []string{"openid"},
		ResponseMode:     store.ResponseModeQuery,
		ResponseTypeCode: true,
		PKCEChallenge:    strPtr(grant.S256Challenge("v")),
		PKCEMethod:       store.PKCEMethodS256,
	}, now)
	if err != nil {
		t.Fatal(err)
	}

	clients := oauth2client.New(s)
	sessions := session.New(s)
	outcome, err := orchestrator.Complete(ctx, s, clients, sessions, fakeOracle{}, g, sess, now)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != orchestrator.OutcomeRequiresConsent {
		t.Errorf("got %v, want OutcomeRequiresConsent", outcome.Kind)
	}
}

func TestCompleteSucceedsAfterConsent(t *testing.T) {
	s, client, sess := setup(t)
	ctx := context.Background()
	now := time.Now()

	clients := oauth2client.New(s)
	if err := clients.RecordConsent(ctx, sess.UserID, client.ClientID, []string{"openid"}); err != nil {
		t.Fatal(err)
	}

	g, err := grant.New(ctx, s, grant.DefaultPolicy(), grant.Request{
		Client:           client,
		RedirectURI:      client.RedirectURIs[0],
		Scope:            []string{"openid"},
		ResponseMode:     store.ResponseModeQuery,
		ResponseTypeCode: true,
		PKCEChallenge:    strPtr(grant.S256Challenge("v")),
		PKCEMethod:       store.PKCEMethodS256,
	}, now)
	if err != nil {
		t.Fatal(err)
	}

	sessions := session.New(s)
	outcome, err := orchestrator.Complete(ctx, s, clients, sessions, fakeOracle{}, g, sess, now)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != orchestrator.OutcomeCompleted {
		t.Fatalf("got %v, want OutcomeCompleted", outcome.Kind)
	}
	if outcome.Response.Code == nil {
		t.Error("expected an authorization code in the response")
	}
}

func TestCompleteRequiresReauthWhenStale(t *testing.T) {
	s, client, sess := setup(t)
	ctx := context.Background()
	now := time.Now().Add(time.Hour)

	clients := oauth2client.New(s)
	if err := clients.RecordConsent(ctx, sess.UserID, client.ClientID, []string{"openid"}); err != nil {
		t.Fatal(err)
	}

	maxAge := 60
	g, err := grant.New(ctx, s, grant.DefaultPolicy(), grant.Request{
		Client:           client,
		RedirectURI:      client.RedirectURIs[0],
		Scope:            []string{"openid"},
		MaxAge:           &maxAge,
		ResponseMode:     store.ResponseModeQuery,
		ResponseTypeCode: true,
		PKCEChallenge:    strPtr(grant.S256Challenge("v")),
		PKCEMethod:       store.PKCEMethodS256,
	}, now)
	if err != nil {
		t.Fatal(err)
	}

	sessions := session.New(s)
	outcome, err := orchestrator.Complete(ctx, s, clients, sessions, fakeOracle{}, g, sess, now)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != orchestrator.OutcomeRequiresReauth {
		t.Errorf("got %v, want OutcomeRequiresReauth", outcome.Kind)
	}
}

func strPtr(s string) *string { return &s }
