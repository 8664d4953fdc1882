package gc_test

import (
	"context"
	"testing"
	"time"

	"github.com/matrix-auth/core/grant"
	"github.com/matrix-auth/core/internal/gc"
	"github.com/matrix-auth/core/store"
	"github.com/matrix-auth/core/store/memtest"
)

func strPtr(s string) *string { return &s }

func TestSweeperRemovesExpiredGrant(t *testing.T) {
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

	issued := time.Now().Add(-time.Hour)
	g, err := grant.New(ctx, s, grant.DefaultPolicy(), grant.Request{
		Client:           client,
		RedirectURI:      client.RedirectURIs[0],
		Scope:            []string{"openid"},
		ResponseMode:     store.ResponseModeQuery,
		ResponseTypeCode: true,
		PKCEChallenge:    strPtr(grant.S256Challenge("verifier")),
		PKCEMethod:       store.PKCEMethodS256,
	}, issued)
	if err != nil {
		t.Fatal(err)
	}

	sweeper := &gc.Sweeper{
		Storage:  s,
		GrantTTL: 5 * time.Minute,
		Now:      func() time.Time { return issued.Add(time.Hour) },
	}

	ctx2, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sweeper.Run(ctx2); err != nil {
		t.Fatalf("Run returned %v, want nil on cancellation", err)
	}

	if _, err := s.GetGrant(context.Background(), g.ID); err == nil {
		t.Error("expected the expired grant to be removed by the sweep")
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	s := memtest.New()
	sweeper := &gc.Sweeper{Storage: s, Interval: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
