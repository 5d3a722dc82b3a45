package session

import (
	"encoding/hex"
	"math/rand"
	"net/http"
	"sync"
)

// CookieName is the cookie carrying the session identifier.
const CookieName = "accountssid"

// Store attaches a Session to each incoming request.
type Store interface {
	// Load returns the session of the request, creating (and announcing,
	// through a cookie on w) a fresh one if the request carries none.
	Load(w http.ResponseWriter, r *http.Request) *Session
}

// MemoryStore keeps sessions in process memory, keyed by a random
// identifier carried in a cookie.
//
// Sessions survive for the lifetime of the process only, which matches
// the token lifecycle: tokens are never persisted beyond it.
type MemoryStore struct {
	rng *rand.Rand

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates a store. Pass rand.New(srand.Source) so session
// identifiers are not predictable.
func NewMemoryStore(rng *rand.Rand) *MemoryStore {
	return &MemoryStore{
		rng:      rng,
		sessions: map[string]*Session{},
	}
}

func (m *MemoryStore) Load(w http.ResponseWriter, r *http.Request) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cookie, err := r.Cookie(CookieName); err == nil {
		if sess, found := m.sessions[cookie.Value]; found {
			return sess
		}
	}

	id := m.newID()
	sess := &Session{}
	m.sessions[id] = sess

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
	})
	// Make the session visible to later middleware in the same request.
	r.AddCookie(&http.Cookie{Name: CookieName, Value: id})
	return sess
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) newID() string {
	buffer := make([]byte, 16)
	m.rng.Read(buffer)
	return hex.EncodeToString(buffer)
}
