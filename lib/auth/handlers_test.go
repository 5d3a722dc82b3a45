package auth_test

import (
	"net/http"
	"testing"

	"github.com/ccontavalli/accounts/lib/auth"
	"github.com/ccontavalli/accounts/lib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAuthenticated(t *testing.T) {
	f := newPolicyFixture(t)

	called := false
	handler := auth.RequireAuthenticated(f.policy, logger.Nil, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("AnonymousIsRejected", func(t *testing.T) {
		w, r := f.request("/private")
		handler(w, r)
		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("LoginPathStopsAfterRedirect", func(t *testing.T) {
		w, r := f.request("/login")
		handler(w, r)
		assert.False(t, called)
		assert.Equal(t, http.StatusFound, w.Code)
	})

	t.Run("AuthenticatedPassesThrough", func(t *testing.T) {
		f.server.AuthorizeCode("code", "alice")
		w, r := f.request("/callback?code=code")
		_, err := f.policy.AuthenticatedUserID(w, r)
		require.NoError(t, err)
		f.keepCookies(w)

		w, r = f.request("/private")
		handler(w, r)
		assert.True(t, called)
		assert.Equal(t, http.StatusTeapot, w.Code)
	})
}

func TestLoginHandler(t *testing.T) {
	f := newPolicyFixture(t)
	handler := auth.LoginHandler(f.policy, f.store, "/home", logger.Nil)

	t.Run("RedirectsToProvider", func(t *testing.T) {
		w, r := f.request("/login?redirect=/after")
		handler(w, r)
		f.keepCookies(w)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "/oauth/authorize")
	})

	t.Run("TargetIsStashed", func(t *testing.T) {
		w, r := f.request("/page")
		assert.Equal(t, "/after", f.policy.Session(w, r).RedirectTo)
	})

	t.Run("RefererFallback", func(t *testing.T) {
		g := newPolicyFixture(t)
		w, r := g.request("/login")
		r.Header.Set("Referer", "/came-from")
		handler := auth.LoginHandler(g.policy, g.store, "/home", logger.Nil)
		handler(w, r)
		g.keepCookies(w)

		w, r = g.request("/page")
		assert.Equal(t, "/came-from", g.policy.Session(w, r).RedirectTo)
	})

	t.Run("DefaultTarget", func(t *testing.T) {
		g := newPolicyFixture(t)
		handler := auth.LoginHandler(g.policy, g.store, "/home", logger.Nil)
		w, r := g.request("/login")
		handler(w, r)
		g.keepCookies(w)

		w, r = g.request("/page")
		assert.Equal(t, "/home", g.policy.Session(w, r).RedirectTo)
	})
}

func TestLoginHandlerAlreadyLoggedIn(t *testing.T) {
	f := newPolicyFixture(t)
	f.server.AuthorizeCode("code", "alice")

	w, r := f.request("/callback?code=code")
	_, err := f.policy.AuthenticatedUserID(w, r)
	require.NoError(t, err)
	f.keepCookies(w)

	handler := auth.LoginHandler(f.policy, f.store, "/home", logger.Nil)
	w, r = f.request("/login?redirect=/after")
	handler(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/after", w.Header().Get("Location"))
}

func TestCallbackHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newPolicyFixture(t)
		f.server.AuthorizeCode("code", "alice")

		login := auth.LoginHandler(f.policy, f.store, "/home", logger.Nil)
		w, r := f.request("/login?redirect=/after")
		login(w, r)
		f.keepCookies(w)

		callback := auth.CallbackHandler(f.policy, f.store, logger.Nil)
		w, r = f.request("/callback?code=code")
		callback(w, r)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/after", w.Header().Get("Location"))

		// The stashed target is consumed by the redirect.
		w, r = f.request("/page")
		assert.Empty(t, f.policy.Session(w, r).RedirectTo)
	})

	t.Run("NoStashedTarget", func(t *testing.T) {
		f := newPolicyFixture(t)
		f.server.AuthorizeCode("code", "alice")

		callback := auth.CallbackHandler(f.policy, f.store, logger.Nil)
		w, r := f.request("/callback?code=code")
		callback(w, r)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
	})

	t.Run("BadCode", func(t *testing.T) {
		f := newPolicyFixture(t)

		callback := auth.CallbackHandler(f.policy, f.store, logger.Nil)
		w, r := f.request("/callback?code=bad")
		callback(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestLogoutHandler(t *testing.T) {
	t.Run("LoggedIn", func(t *testing.T) {
		f := newPolicyFixture(t)
		f.server.AuthorizeCode("code", "alice")

		w, r := f.request("/callback?code=code")
		_, err := f.policy.AuthenticatedUserID(w, r)
		require.NoError(t, err)
		f.keepCookies(w)

		handler := auth.LogoutHandler(f.policy, "/bye", logger.Nil)
		w, r = f.request("/logout")
		handler(w, r)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "/logout?")
	})

	t.Run("Anonymous", func(t *testing.T) {
		f := newPolicyFixture(t)

		handler := auth.LogoutHandler(f.policy, "/bye", logger.Nil)
		w, r := f.request("/logout")
		handler(w, r)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/bye", w.Header().Get("Location"))
	})
}
