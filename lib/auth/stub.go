package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ccontavalli/accounts/lib/accounts"
	"github.com/ccontavalli/accounts/lib/logger"
	"github.com/ccontavalli/accounts/lib/session"
)

// StubUser is one entry of the stub policy's fixed user table.
type StubUser struct {
	Password string
	Profile  accounts.Profile
}

// ParseStubUsers parses the flat user table of the stub policy.
//
// Each non-empty line (or ";" separated segment) is either
// "username,password" or "username,password,{profile json}". Users
// without an explicit profile get a default one; ids are assigned in
// configuration order, starting at 1.
func ParseStubUsers(config string) (map[string]StubUser, error) {
	users := map[string]StubUser{}

	split := func(r rune) bool { return r == '\n' || r == ';' }
	id := 0
	for _, line := range strings.FieldsFunc(config, split) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ",", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid stub user %q - expected 'username,password[,profile]'", line)
		}
		username, password := strings.TrimSpace(parts[0]), parts[1]

		profile := accounts.Profile{
			"first_name": "Test",
			"last_name":  "User",
			"full_name":  "Test User",
		}
		if len(parts) == 3 {
			profile = accounts.Profile{}
			if err := json.Unmarshal([]byte(parts[2]), &profile); err != nil {
				return nil, fmt.Errorf("invalid profile for stub user %q: %w", username, err)
			}
		}
		id++
		profile["id"] = id
		profile["username"] = username

		users[username] = StubUser{Password: password, Profile: profile}
	}
	return users, nil
}

// StubPolicy authenticates against a fixed username/password table
// instead of the accounts server. It exists for tests and local
// development; pick it over AccountsPolicy at startup, never at runtime.
//
// A request carrying matching "username" and "password" parameters is
// remembered as logged in. The login path redirects to FormPath, where
// the application is expected to serve a login form posting those
// parameters.
type StubPolicy struct {
	users    map[string]StubUser
	groups   func(username string) []string
	sessions session.Store
	config   Config

	// FormPath is where the login path sends the browser.
	FormPath string
}

var _ Policy = (*StubPolicy)(nil)

// NewStubPolicy builds the stub policy. membership may be nil.
func NewStubPolicy(users map[string]StubUser, membership func(username string) []string, sessions session.Store, config Config) (*StubPolicy, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	config.setDefaults()

	return &StubPolicy{
		users:    users,
		groups:   membership,
		sessions: sessions,
		config:   config,
		FormPath: "/stub-login-form",
	}, nil
}

func (p *StubPolicy) AuthenticatedUserID(w http.ResponseWriter, r *http.Request) (string, error) {
	sess := p.sessions.Load(w, r)

	switch r.URL.Path {
	case p.config.LoginPath:
		http.Redirect(w, r, p.FormPath, http.StatusFound)
		return "", ErrorRedirected
	case p.config.CallbackPath:
		return sess.Username(), nil
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	if user, found := p.users[username]; found && user.Password == password {
		p.Remember(w, r, username, user.Profile)
		return username, nil
	}
	return sess.Username(), nil
}

func (p *StubPolicy) UnauthenticatedUserID(w http.ResponseWriter, r *http.Request) string {
	return p.sessions.Load(w, r).Username()
}

func (p *StubPolicy) EffectivePrincipals(w http.ResponseWriter, r *http.Request) ([]Principal, error) {
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
		for _, group := range p.groups(username) {
			principals = append(principals, GroupPrincipal(group))
		}
	}
	return principals, nil
}

// Remember stores the user in the session. Unlike the accounts policy the
// stub has no callback exchange, so this is where identity is written.
func (p *StubPolicy) Remember(w http.ResponseWriter, r *http.Request, principal string, profile accounts.Profile) {
	p.sessions.Load(w, r).Authenticate(principal, profile, nil)
}

func (p *StubPolicy) Forget(w http.ResponseWriter, r *http.Request) error {
	p.sessions.Load(w, r).Clear()
	return nil
}

// LoginFormHandler serves a minimal login form for the stub policy, and
// redirects to the callback path once the credentials check out.
func (p *StubPolicy) LoginFormHandler(log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failed := ""
		if r.Method == http.MethodPost {
			username, err := p.AuthenticatedUserID(w, r)
			if err != nil {
				log.Errorf("stub login failed: %v", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if username != "" {
				http.Redirect(w, r, p.config.CallbackPath, http.StatusFound)
				return
			}
			failed = "<div>Username or password incorrect</div>"
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body>%s
<form method="POST" action="">
  <div><label for="username">Username:</label> <input name="username" id="username" /></div>
  <div><label for="password">Password:</label> <input name="password" type="password" id="password" /></div>
  <div><input type="submit" /></div>
</form>
</body></html>`, failed)
	}
}
