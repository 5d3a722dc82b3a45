package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ccontavalli/accounts/lib/logger"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/oauth2"
)

var boltBucket = []byte("tokens")

// BoltTokenStore is a TokenStore persisted in a bbolt database, so a
// token survives process restarts. The service token is the typical
// tenant: with it persisted, a restart does not need the accounts server
// to be reachable before serving traffic.
//
// Reads are served from memory; SetToken writes through to disk. A
// failed write keeps the token in memory and is logged, persistence is
// best effort.
type BoltTokenStore struct {
	db  *bolt.DB
	key []byte
	log logger.Logger

	mu  sync.RWMutex
	tok *oauth2.Token
}

// OpenBoltTokenStore opens (creating if needed) the database at path and
// returns the store holding the token named key. Call Close when done.
func OpenBoltTokenStore(path, key string, log logger.Logger) (*BoltTokenStore, error) {
	if path == "" {
		return nil, fmt.Errorf("token store path is required")
	}
	if log == nil {
		log = logger.Go
	}
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0660, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open token store %q: %w", path, err)
	}

	s := &BoltTokenStore{db: db, key: []byte(key), log: log}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltTokenStore) Close() error {
	return s.db.Close()
}

func (s *BoltTokenStore) load() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		data := bucket.Get(s.key)
		if data == nil {
			return nil
		}

		var tok oauth2.Token
		if err := json.Unmarshal(data, &tok); err != nil {
			return fmt.Errorf("corrupt token %q in store: %w", s.key, err)
		}
		s.tok = &tok
		return nil
	})
}

func (s *BoltTokenStore) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok
}

func (s *BoltTokenStore) SetToken(tok *oauth2.Token) {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		if tok == nil {
			return bucket.Delete(s.key)
		}
		data, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		return bucket.Put(s.key, data)
	})
	if err != nil {
		s.log.Errorf("could not persist token %q: %v", s.key, err)
	}
}

var _ TokenStore = (*BoltTokenStore)(nil)
