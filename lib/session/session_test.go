package session

import (
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ccontavalli/accounts/lib/accounts"
	"github.com/ccontavalli/accounts/lib/srand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSessionAuthenticate(t *testing.T) {
	sess := &Session{}
	assert.Empty(t, sess.Username())
	assert.Nil(t, sess.Profile())
	assert.Nil(t, sess.Token())

	profile := accounts.Profile{"username": "alice", "id": float64(1)}
	tok := &oauth2.Token{AccessToken: "abc"}
	sess.Authenticate("alice", profile, tok)

	assert.Equal(t, "alice", sess.Username())
	assert.NotNil(t, sess.Profile(), "username and profile are written together")
	assert.Equal(t, "abc", sess.Token().AccessToken)
}

func TestSessionClear(t *testing.T) {
	sess := &Session{RedirectTo: "/after"}
	sess.Authenticate("alice", accounts.Profile{"username": "alice"}, &oauth2.Token{AccessToken: "abc"})

	sess.Clear()
	assert.Empty(t, sess.Username())
	assert.Nil(t, sess.Profile())
	assert.Nil(t, sess.Token())
	assert.Empty(t, sess.RedirectTo)
}

func TestSessionUpdateProfile(t *testing.T) {
	sess := &Session{}
	sess.Authenticate("alice", accounts.Profile{"username": "alice"}, nil)

	sess.UpdateProfile(accounts.Profile{"username": "alice", "first_name": "Alicia"})
	assert.Equal(t, "alice", sess.Username())
	assert.Equal(t, "Alicia", sess.Profile()["first_name"])
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(rand.New(srand.Source))

	w1 := httptest.NewRecorder()
	r1 := httptest.NewRequest(http.MethodGet, "/", nil)
	sess := store.Load(w1, r1)
	require.NotNil(t, sess)
	assert.Equal(t, 1, store.Len())

	cookies := w1.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)

	// Same request: the freshly issued cookie resolves to the same session.
	again := store.Load(httptest.NewRecorder(), r1)
	assert.Same(t, sess, again)

	// A later request carrying the cookie gets the same session back.
	r2 := httptest.NewRequest(http.MethodGet, "/other", nil)
	r2.AddCookie(cookies[0])
	assert.Same(t, sess, store.Load(httptest.NewRecorder(), r2))
	assert.Equal(t, 1, store.Len())

	// A request without the cookie gets a distinct session.
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	other := store.Load(httptest.NewRecorder(), r3)
	assert.NotSame(t, sess, other)
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStoreUnknownCookie(t *testing.T) {
	store := NewMemoryStore(rand.New(srand.Source))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "stale-id"})

	w := httptest.NewRecorder()
	sess := store.Load(w, r)
	require.NotNil(t, sess)
	// A stale id is replaced with a fresh session and cookie.
	require.Len(t, w.Result().Cookies(), 1)
	assert.NotEqual(t, "stale-id", w.Result().Cookies()[0].Value)
}
