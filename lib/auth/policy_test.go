package auth_test

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ccontavalli/accounts/lib/accounts"
	"github.com/ccontavalli/accounts/lib/accounts/atesting"
	"github.com/ccontavalli/accounts/lib/auth"
	"github.com/ccontavalli/accounts/lib/groups"
	"github.com/ccontavalli/accounts/lib/logger"
	"github.com/ccontavalli/accounts/lib/session"
	"github.com/ccontavalli/accounts/lib/srand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture bundles a fake accounts server, a client authenticated against
// it, and an accounts policy, plus a browser-like cookie jar so a test
// can issue a sequence of requests sharing one session.
type fixture struct {
	server *atesting.Server
	client *accounts.Client
	policy *auth.AccountsPolicy
	store  session.Store

	cookies []*http.Cookie
}

func newPolicyFixture(t *testing.T) *fixture {
	server := atesting.New()
	t.Cleanup(server.Close)
	server.AddUser(accounts.Profile{"username": "alice", "id": 1, "first_name": "Alice"})
	server.AddUser(accounts.Profile{"username": "bob", "id": 2, "first_name": "Bob"})

	client, err := accounts.New(server.Credentials("https://app.example.com"), accounts.WithLogger(logger.Nil))
	require.NoError(t, err)
	require.NoError(t, client.AcquireServiceToken(context.Background()))

	resolver := groups.NewResolver(map[string][]string{
		"editors": {"alice"},
		"admins":  {"carol"},
	})

	store := session.NewMemoryStore(rand.New(srand.Source))
	policy, err := auth.NewAccountsPolicy(client, resolver, store, auth.Config{
		LoginPath:    "/login",
		CallbackPath: "/callback",
		Logger:       logger.Nil,
	})
	require.NoError(t, err)

	return &fixture{server: server, client: client, policy: policy, store: store}
}

// request issues a request carrying the cookies collected so far, and
// keeps any newly set cookies for the next request.
func (f *fixture) request(path string) (*httptest.ResponseRecorder, *http.Request) {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	for _, cookie := range f.cookies {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	return w, r
}

func (f *fixture) keepCookies(w *httptest.ResponseRecorder) {
	f.cookies = append(f.cookies, w.Result().Cookies()...)
}

func TestLoginPathRedirects(t *testing.T) {
	f := newPolicyFixture(t)

	w, r := f.request("/login")
	username, err := f.policy.AuthenticatedUserID(w, r)
	assert.ErrorIs(t, err, auth.ErrorRedirected)
	assert.Empty(t, username)

	assert.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	assert.Contains(t, location, "/oauth/authorize")
	assert.Contains(t, location, "client_id=fake-app-id")
	assert.Contains(t, location, "redirect_uri=https%3A%2F%2Fapp.example.com%2Fcallback")
}

func TestCallbackAuthenticates(t *testing.T) {
	f := newPolicyFixture(t)
	f.server.AuthorizeCode("good-code", "alice")

	w, r := f.request("/callback?code=good-code")
	username, err := f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
	f.keepCookies(w)

	// An ordinary follow-up request resolves from the session alone.
	w, r = f.request("/somewhere")
	username, err = f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	sess := f.policy.Session(w, r)
	assert.Equal(t, "alice", sess.Username())
	require.NotNil(t, sess.Profile(), "username implies profile")
	assert.Equal(t, "Alice", sess.Profile()["first_name"])
	assert.NotNil(t, sess.Token())
}

func TestCallbackFailsClosed(t *testing.T) {
	f := newPolicyFixture(t)

	w, r := f.request("/callback?code=bad-code")
	username, err := f.policy.AuthenticatedUserID(w, r)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrorRedirected)
	assert.Empty(t, username)
	f.keepCookies(w)

	// The session must be left untouched: still anonymous.
	w, r = f.request("/somewhere")
	username, err = f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	assert.Empty(t, username)
}

func TestCallbackWithoutCode(t *testing.T) {
	f := newPolicyFixture(t)

	w, r := f.request("/callback")
	_, err := f.policy.AuthenticatedUserID(w, r)
	assert.Error(t, err)
}

func TestOrdinaryRequestsAreAnonymous(t *testing.T) {
	f := newPolicyFixture(t)

	w, r := f.request("/anything")
	username, err := f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	assert.Empty(t, username)
	assert.Empty(t, f.policy.UnauthenticatedUserID(w, r))
}

func TestEffectivePrincipals(t *testing.T) {
	f := newPolicyFixture(t)

	t.Run("Anonymous", func(t *testing.T) {
		w, r := f.request("/page")
		principals, err := f.policy.EffectivePrincipals(w, r)
		require.NoError(t, err)
		assert.Equal(t, []auth.Principal{auth.Everyone}, principals)
	})

	t.Run("AuthenticatedWithGroups", func(t *testing.T) {
		f.server.AuthorizeCode("code", "alice")
		w, r := f.request("/callback?code=code")
		_, err := f.policy.AuthenticatedUserID(w, r)
		require.NoError(t, err)
		f.keepCookies(w)

		w, r = f.request("/page")
		principals, err := f.policy.EffectivePrincipals(w, r)
		require.NoError(t, err)
		assert.Equal(t, []auth.Principal{
			auth.Everyone,
			auth.Authenticated,
			auth.UserPrincipal("alice"),
			auth.GroupPrincipal("editors"),
		}, principals)

		// Recomputed on every call, same result.
		again, err := f.policy.EffectivePrincipals(httptest.NewRecorder(), r)
		require.NoError(t, err)
		assert.Equal(t, principals, again)
	})
}

func TestEffectivePrincipalsNoGroups(t *testing.T) {
	f := newPolicyFixture(t)
	f.server.AuthorizeCode("code", "bob")

	w, r := f.request("/callback?code=code")
	_, err := f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	f.keepCookies(w)

	w, r = f.request("/page")
	principals, err := f.policy.EffectivePrincipals(w, r)
	require.NoError(t, err)
	assert.Equal(t, []auth.Principal{
		auth.Everyone,
		auth.Authenticated,
		auth.UserPrincipal("bob"),
	}, principals)
}

func TestForget(t *testing.T) {
	f := newPolicyFixture(t)
	f.server.AuthorizeCode("code", "alice")

	w, r := f.request("/callback?code=code")
	_, err := f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	f.keepCookies(w)

	w, r = f.request("/logout")
	err = f.policy.Forget(w, r)
	assert.ErrorIs(t, err, auth.ErrorRedirected)

	assert.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	assert.Contains(t, location, "/logout?")
	assert.Contains(t, location, "return_to=https%3A%2F%2Fapp.example.com%2F")

	// The whole session is gone.
	w, r = f.request("/page")
	username, err := f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	assert.Empty(t, username)
	assert.Nil(t, f.policy.Session(w, r).Profile())
}

func TestForgetIsIdempotent(t *testing.T) {
	f := newPolicyFixture(t)

	for i := 0; i < 2; i++ {
		w, r := f.request("/logout")
		assert.NoError(t, f.policy.Forget(w, r))
		assert.NotEqual(t, http.StatusFound, w.Code, "anonymous logout must not redirect")
		f.keepCookies(w)
	}
}

func TestRememberIsNoOp(t *testing.T) {
	f := newPolicyFixture(t)

	w, r := f.request("/page")
	f.policy.Remember(w, r, "mallory", accounts.Profile{"username": "mallory"})
	f.keepCookies(w)

	w, r = f.request("/page")
	username, err := f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	assert.Empty(t, username, "identity comes from the callback exchange only")
}

func TestUpdateProfile(t *testing.T) {
	f := newPolicyFixture(t)
	f.server.AuthorizeCode("code", "alice")

	w, r := f.request("/callback?code=code")
	_, err := f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	f.keepCookies(w)

	w, r = f.request("/profile")
	err = f.policy.UpdateProfile(w, r, map[string]interface{}{
		"first_name": "Alicia",
		"email":      "alicia@example.com",
	})
	require.NoError(t, err)

	// The cached copy was refreshed from the provider.
	sess := f.policy.Session(w, r)
	assert.Equal(t, "Alicia", sess.Profile()["first_name"])
	assert.Equal(t, []string{"alicia@example.com"}, sess.Profile().Emails())
}

func TestUpdateProfileRequiresIdentity(t *testing.T) {
	f := newPolicyFixture(t)

	w, r := f.request("/profile")
	err := f.policy.UpdateProfile(w, r, map[string]interface{}{"first_name": "X"})
	assert.ErrorIs(t, err, auth.ErrorNotAuthenticated)
}

func TestNewAccountsPolicyValidation(t *testing.T) {
	f := newPolicyFixture(t)

	_, err := auth.NewAccountsPolicy(nil, nil, f.store, auth.Config{})
	assert.Error(t, err)

	_, err = auth.NewAccountsPolicy(f.client, nil, nil, auth.Config{})
	assert.Error(t, err)

	_, err = auth.NewAccountsPolicy(f.client, nil, f.store, auth.Config{
		LoginPath:    "/same",
		CallbackPath: "/same",
	})
	assert.Error(t, err)
}
