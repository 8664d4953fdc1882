package identity_test

import (
	"context"
	"testing"

	"github.com/matrix-auth/core/identity"
	"github.com/matrix-auth/core/store/memtest"
)

func TestRegisterAndAuthenticateUsername(t *testing.T) {
	ctx := context.Background()
	svc := identity.New(memtest.New(), nil)

	if _, err := svc.Register(ctx, "alice", "p@ss"); err != nil {
		t.Fatal(err)
	}

	sess, err := svc.AuthenticateUsername(ctx, "alice", "p@ss")
	if err != nil {
		t.Fatalf("AuthenticateUsername: %v", err)
	}
	if sess.ID == 0 {
		t.Error("expected a created browser session")
	}
}

func TestAuthenticateUsernameWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := identity.New(memtest.New(), nil)
	if _, err := svc.Register(ctx, "alice", "p@ss"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.AuthenticateUsername(ctx, "alice", "wrong"); err != identity.ErrInvalidCredentials {
		t.Errorf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticateUsernameUnknownUser(t *testing.T) {
	ctx := context.Background()
	svc := identity.New(memtest.New(), nil)

	if _, err := svc.AuthenticateUsername(ctx, "ghost", "whatever"); err != identity.ErrInvalidCredentials {
		t.Errorf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	svc := identity.New(memtest.New(), nil)
	if _, err := svc.Register(ctx, "alice", "p@ss"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "alice", "other"); err == nil {
		t.Error("expected a collision error")
	}
}

func TestStartAndEndSession(t *testing.T) {
	ctx := context.Background()
	svc := identity.New(memtest.New(), nil)
	user, err := svc.Register(ctx, "alice", "p@ss")
	if err != nil {
		t.Fatal(err)
	}

	sess, err := svc.StartSession(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Active() {
		t.Fatal("new session should be active")
	}

	if err := svc.EndSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
}
