// Package session holds the per-browser state the authentication policy
// reads and writes: the resolved username, the cached profile, the user's
// access token and a transient post-login redirect target.
//
// The authentication policy is the only writer. If two in-flight requests
// share one session, the last writer wins; callers needing stronger
// guarantees must serialize at the store level.
package session

import (
	"github.com/ccontavalli/accounts/lib/accounts"
	"golang.org/x/oauth2"
)

// Session is the state kept for one client session.
//
// Username and Profile are always written together (see Authenticate): a
// session with a username but no profile does not occur.
type Session struct {
	username string
	profile  accounts.Profile
	token    *oauth2.Token

	// RedirectTo is where to send the browser after the login flow
	// completes. Set by the login handler, consumed by the callback.
	RedirectTo string
}

// Username returns the authenticated username, or "" for an anonymous
// session.
func (s *Session) Username() string {
	return s.username
}

// Profile returns the cached profile document, or nil for an anonymous
// session.
func (s *Session) Profile() accounts.Profile {
	return s.profile
}

// Authenticate stores the outcome of a successful login.
//
// All three values are written in one step so the session can never be
// observed with a username but no profile.
func (s *Session) Authenticate(username string, profile accounts.Profile, tok *oauth2.Token) {
	s.username = username
	s.profile = profile
	s.token = tok
}

// UpdateProfile replaces the cached profile of an authenticated session.
func (s *Session) UpdateProfile(profile accounts.Profile) {
	s.profile = profile
	s.username = profile.Username()
}

// Clear empties the session entirely. Used on logout.
func (s *Session) Clear() {
	*s = Session{}
}

// Token and SetToken make Session an accounts.TokenStore, so a client can
// be bound to the session with Client.ForSession.
func (s *Session) Token() *oauth2.Token {
	return s.token
}

func (s *Session) SetToken(tok *oauth2.Token) {
	s.token = tok
}

var _ accounts.TokenStore = (*Session)(nil)
