// Package auth decides, per request, whether the caller is anonymous,
// mid-login, or authenticated, and derives the principal set the
// application authorizes against.
//
// The decision is not persisted: it is rederived on every call from the
// request path and the session contents. Two policies are provided - the
// accounts backed AccountsPolicy, and a StubPolicy fixture for tests and
// local development. Deployments pick one at startup through the Policy
// interface; they are not mixed at runtime.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ccontavalli/accounts/lib/accounts"
	"github.com/ccontavalli/accounts/lib/groups"
	"github.com/ccontavalli/accounts/lib/logger"
	"github.com/ccontavalli/accounts/lib/session"
)

// ErrorRedirected is returned by policy methods that answered the request
// with a redirect. The response is complete; the caller must stop
// processing and write nothing further.
var ErrorRedirected = errors.New("request was redirected")

// ErrorNotAuthenticated is returned by operations that require a logged
// in user when the session is anonymous.
var ErrorNotAuthenticated = errors.New("not authenticated")

// Policy resolves the identity and principals of each request.
type Policy interface {
	// AuthenticatedUserID returns the username of the caller, or "" for
	// anonymous requests.
	//
	// On the configured login path it redirects the browser to the
	// identity provider and returns ErrorRedirected. On the callback
	// path it completes the login (exchanging the authorization code and
	// populating the session); a failed exchange is returned as an error
	// and never as a logged in user. On every other path it only reads
	// the session - no network calls.
	AuthenticatedUserID(w http.ResponseWriter, r *http.Request) (string, error)

	// UnauthenticatedUserID returns the username cached in the session,
	// without side effects on any path.
	UnauthenticatedUserID(w http.ResponseWriter, r *http.Request) string

	// EffectivePrincipals returns the principal set of the caller:
	// always Everyone, plus Authenticated, user: and group: principals
	// once an identity resolves.
	EffectivePrincipals(w http.ResponseWriter, r *http.Request) ([]Principal, error)

	// Remember records principal as logged in, where the policy supports
	// it. The accounts policy establishes identity exclusively through
	// the oauth callback, so there it is a no-op.
	Remember(w http.ResponseWriter, r *http.Request, principal string, profile accounts.Profile)

	// Forget logs the caller out.
	//
	// With an identity present it clears the session, redirects to the
	// provider's logout URL and returns ErrorRedirected. On an anonymous
	// session it is a silent no-op: logging out twice is not an error.
	Forget(w http.ResponseWriter, r *http.Request) error
}

// Config carries the host paths the AccountsPolicy compares requests
// against. Paths are matched verbatim.
type Config struct {
	// LoginPath starts the oauth flow. Defaults to "/login".
	LoginPath string
	// CallbackPath receives the authorization code. Defaults to
	// accounts.CallbackPath, which is what the redirect URI registered
	// with the server points at.
	CallbackPath string
	// LogoutRedirect is the application path the accounts server sends
	// the browser back to after logout. Defaults to "/".
	LogoutRedirect string

	Logger logger.Logger
}

func (c *Config) setDefaults() {
	if c.LoginPath == "" {
		c.LoginPath = "/login"
	}
	if c.CallbackPath == "" {
		c.CallbackPath = accounts.CallbackPath
	}
	if c.LogoutRedirect == "" {
		c.LogoutRedirect = "/"
	}
	if c.Logger == nil {
		c.Logger = logger.Go
	}
}

// AccountsPolicy authenticates against the accounts server.
type AccountsPolicy struct {
	client   *accounts.Client
	groups   *groups.Resolver
	sessions session.Store
	config   Config
}

var _ Policy = (*AccountsPolicy)(nil)

// NewAccountsPolicy builds the accounts backed policy.
//
// resolver may be nil when no local group table is configured; identities
// then carry no group principals.
func NewAccountsPolicy(client *accounts.Client, resolver *groups.Resolver, sessions session.Store, config Config) (*AccountsPolicy, error) {
	if client == nil {
		return nil, fmt.Errorf("accounts client is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	config.setDefaults()
	if config.LoginPath == config.CallbackPath {
		return nil, fmt.Errorf("login path and callback path must differ, both are %q", config.LoginPath)
	}

	return &AccountsPolicy{
		client:   client,
		groups:   resolver,
		sessions: sessions,
		config:   config,
	}, nil
}

func (p *AccountsPolicy) AuthenticatedUserID(w http.ResponseWriter, r *http.Request) (string, error) {
	sess := p.sessions.Load(w, r)

	switch r.URL.Path {
	case p.config.LoginPath:
		http.Redirect(w, r, p.client.AuthorizationURL(), http.StatusFound)
		return "", ErrorRedirected

	case p.config.CallbackPath:
		// Fail closed: any error below leaves the session untouched and
		// the caller anonymous.
		code := r.URL.Query().Get("code")
		tok, err := p.client.ExchangeCode(r.Context(), code)
		if err != nil {
			return "", err
		}

		me, err := p.client.WithToken(tok).GetProfile(r.Context())
		if err != nil {
			return "", err
		}

		sess.Authenticate(me.Username(), me, tok)
		p.config.Logger.Infof("auth: %q logged in", me.Username())
		return me.Username(), nil
	}

	return sess.Username(), nil
}

func (p *AccountsPolicy) UnauthenticatedUserID(w http.ResponseWriter, r *http.Request) string {
	return p.sessions.Load(w, r).Username()
}

func (p *AccountsPolicy) EffectivePrincipals(w http.ResponseWriter, r *http.Request) ([]Principal, error) {
	principals := []Principal{Everyone}

	username, err := p.AuthenticatedUserID(w, r)
	if err != nil {
		return nil, err
	}
	if username == "" {
		return principals, nil
	}

	principals = append(principals, Authenticated, UserPrincipal(username))
	if p.groups != nil {
		for _, group := range p.groups.MembershipOf(username) {
			principals = append(principals, GroupPrincipal(group))
		}
	}
	return principals, nil
}

// Remember is a no-op: identity is established exclusively by the oauth
// callback exchange, never by the application claiming one.
func (p *AccountsPolicy) Remember(w http.ResponseWriter, r *http.Request, principal string, profile accounts.Profile) {
}

func (p *AccountsPolicy) Forget(w http.ResponseWriter, r *http.Request) error {
	sess := p.sessions.Load(w, r)
	username := sess.Username()
	if username == "" {
		return nil
	}

	returnTo := joinURL(p.client.Credentials().ApplicationURL, p.config.LogoutRedirect)
	target := p.client.LogoutURL(returnTo)

	sess.Clear()
	p.config.Logger.Infof("auth: %q logged out", username)
	http.Redirect(w, r, target, http.StatusFound)
	return ErrorRedirected
}

// Session returns the session of the request. Handlers use it to stash
// the post-login redirect target and to read the cached profile.
func (p *AccountsPolicy) Session(w http.ResponseWriter, r *http.Request) *session.Session {
	return p.sessions.Load(w, r)
}

// UpdateProfile writes fields to the provider profile of the logged in
// caller, then refreshes the session's cached copy from the provider so
// the session never holds a stale document.
func (p *AccountsPolicy) UpdateProfile(w http.ResponseWriter, r *http.Request, fields map[string]interface{}) error {
	sess := p.sessions.Load(w, r)
	if sess.Username() == "" {
		return ErrorNotAuthenticated
	}

	fresh, err := p.client.ForSession(sess).UpdateProfile(r.Context(), sess.Profile(), fields)
	if err != nil {
		return err
	}
	sess.UpdateProfile(fresh)
	return nil
}

// joinURL appends an application path to a base URL.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
