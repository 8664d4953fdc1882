package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/matrix-auth/core/cookie"
	"github.com/matrix-auth/core/grant"
	"github.com/matrix-auth/core/httpapi"
	"github.com/matrix-auth/core/oauth2client"
	"github.com/matrix-auth/core/store"
	"github.com/matrix-auth/core/store/memtest"
)

type fakeOracle struct{}

func (fakeOracle) Sign(claims any) (string, error) { return "signed.id.token", nil }
func (fakeOracle) JWKS() jose.JSONWebKeySet        { return jose.JSONWebKeySet{} }

// testKey is a fixed 32-byte AES-256 key for cookie/CSRF encryption in tests.
var testKey = []byte("01234567890123456789012345678901")

type fixture struct {
	Storage store.Storage
	Clients *oauth2client.Service
	Client  store.Client
	User    store.User
	Session store.BrowserSession
}

func newFixture(t *testing.T) *fixture {
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

	return &fixture{
		Storage: s,
		Clients: oauth2client.New(s),
		Client:  client,
		User:    user,
		Session: sess,
	}
}

// newGrant creates a Pending grant with a code response type and S256 PKCE
// challenge, requested against the fixture's registered client.
func (f *fixture) newGrant(t *testing.T, scope []string) store.AuthorizationGrant {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	g, err := grant.New(ctx, f.Storage, grant.DefaultPolicy(), grant.Request{
		Client:           f.Client,
		RedirectURI:      f.Client.RedirectURIs[0],
		Scope:            scope,
		ResponseMode:     store.ResponseModeQuery,
		ResponseTypeCode: true,
		PKCEChallenge:    strPtr(grant.S256Challenge("verifier")),
		PKCEMethod:       store.PKCEMethodS256,
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func strPtr(s string) *string { return &s }

func bgCtx() context.Context { return context.Background() }

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

// sessionCookiePayload mirrors httpapi's unexported session-cookie shape
// closely enough (same JSON tag) that a value sealed here decrypts
// correctly on the other side of loadBrowserSession.
type sessionCookiePayload struct {
	BrowserSessionID int64 `json:"browser_session_id"`
}

// sessionCookieHeader returns a "name=value" Cookie header carrying f's
// browser session, sealed the same way saveBrowserSession would.
func sessionCookieHeader(t *testing.T, f *fixture) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	jar := cookie.New(testKey, rec, req, false)
	if err := jar.Set(httpapi.SessionCookieName, sessionCookiePayload{BrowserSessionID: f.Session.ID}, 0); err != nil {
		t.Fatal(err)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == httpapi.SessionCookieName {
			return c.Name + "=" + c.Value
		}
	}
	t.Fatal("failed to mint session cookie")
	return ""
}
