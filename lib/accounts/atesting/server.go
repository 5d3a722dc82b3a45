// Package atesting provides an in-process fake accounts server for tests.
//
// The fake mimics the subset of the accounts API this repository talks
// to: the oauth token endpoint (including the server's null expires_in
// quirk), profile fetch and update, scoped and global user search,
// contact infos and message creation. State lives in memory and every
// mutation is visible through accessors, so tests can assert on it.
package atesting

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ccontavalli/accounts/lib/accounts"
)

// ServiceToken is the access token handed out for the client_credentials
// grant.
const ServiceToken = "fake-service-token"

// Server is a fake accounts server.
type Server struct {
	*httptest.Server

	mu sync.Mutex
	// username -> profile.
	users map[string]accounts.Profile
	// authorization code -> username it authenticates.
	codes map[string]string
	// access token -> username it belongs to.
	tokens map[string]string
	// payloads received on the messages endpoint.
	messages []url.Values

	// ExpiresIn is the raw value emitted as expires_in on token
	// responses. Defaults to "null", matching the real server's quirk
	// for non-expiring tokens.
	ExpiresIn string
}

// New starts a fake accounts server. Call Close when done.
func New() *Server {
	s := &Server{
		users:     map[string]accounts.Profile{},
		codes:     map[string]string{},
		tokens:    map[string]string{ServiceToken: ""},
		ExpiresIn: "null",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", s.handleToken)
	mux.HandleFunc("/api/user.json", s.handleProfile)
	mux.HandleFunc("/api/application_users.json", s.handleSearch)
	mux.HandleFunc("/api/users.json", s.handleSearch)
	mux.HandleFunc("/api/contact_infos.json", s.handleContactInfos)
	mux.HandleFunc("/api/messages.json", s.handleMessages)
	s.Server = httptest.NewServer(mux)
	return s
}

// Credentials returns application credentials pointing at this fake.
func (s *Server) Credentials(applicationURL string) accounts.Credentials {
	return accounts.Credentials{
		ServerURL:         s.URL,
		ApplicationID:     "fake-app-id",
		ApplicationSecret: "fake-app-secret",
		ApplicationURL:    applicationURL,
	}
}

// AddUser registers a user. The profile must carry at least username and id.
func (s *Server) AddUser(profile accounts.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[profile.Username()] = profile
}

// User returns the current profile of username, or nil.
func (s *Server) User(username string) accounts.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[username]
}

// AuthorizeCode makes code exchangeable for a token owned by username.
func (s *Server) AuthorizeCode(code, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = username
}

// Messages returns the payloads posted to the messages endpoint.
func (s *Server) Messages() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values{}, s.messages...)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var token string
	switch grant := r.PostForm.Get("grant_type"); grant {
	case "authorization_code":
		username, found := s.codes[r.PostForm.Get("code")]
		if !found {
			http.Error(w, `{"error": "invalid_grant"}`, http.StatusBadRequest)
			return
		}
		delete(s.codes, r.PostForm.Get("code"))
		token = "fake-user-token-" + username
		s.tokens[token] = username
	case "client_credentials":
		token = ServiceToken
	default:
		http.Error(w, `{"error": "unsupported_grant_type"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token": %q, "token_type": "bearer", "expires_in": %s}`, token, s.ExpiresIn)
}

// caller resolves the bearer token of a request to a username. The empty
// string with ok=true is the service account.
func (s *Server) caller(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return "", false
	}

	username, found := s.tokens[token]
	return username, found
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username, found := s.caller(r)
	if !found || username == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.users[username])
	case http.MethodPut:
		var fields map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for key, value := range fields {
			if key == "email" {
				// Emails live in contact_infos, the profile field is ignored.
				continue
			}
			s.users[username][key] = value
		}
		writeJSON(w, map[string]string{"status": "ok"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.caller(r); !found {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	query := r.URL.Query().Get("q")
	pattern := strings.TrimPrefix(query, "username:")
	pattern = strings.ReplaceAll(pattern, "%", "*")

	var items []accounts.Profile
	for username, profile := range s.users {
		if matched, _ := doublestar.Match(pattern, username); matched {
			items = append(items, profile)
		}
	}

	orderBy := r.URL.Query().Get("order_by")
	if orderBy == "" {
		orderBy = "username"
	}
	// Stable-sort once per field, least significant first, so the first
	// order_by field ends up dominant.
	fields := strings.Split(orderBy, ",")
	for i := len(fields) - 1; i >= 0; i-- {
		names := strings.Fields(fields[i])
		if len(names) == 0 {
			continue
		}
		name := names[0]
		sort.SliceStable(items, func(i, j int) bool {
			return fmt.Sprint(items[i][name]) < fmt.Sprint(items[j][name])
		})
	}

	writeJSON(w, accounts.SearchResult{Items: items, TotalCount: len(items)})
}

func (s *Server) handleContactInfos(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username, found := s.caller(r)
	if !found || username == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var info map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	profile := s.users[username]
	infos, _ := profile["contact_infos"].([]interface{})
	profile["contact_infos"] = append(infos, info)
	writeJSON(w, info)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.caller(r); !found {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.messages = append(s.messages, r.PostForm)
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
