package accounts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// TokenStore holds the current bearer token for a logical actor: the
// per-session token of a logged in user, or the process-wide token of the
// service account.
//
// A TokenStore does nothing beyond get and set. Token lifecycle decisions
// (when to exchange, when to overwrite) belong to the Client and the
// authentication policy.
type TokenStore interface {
	// Token returns the current token, or nil if none was stored.
	Token() *oauth2.Token
	// SetToken replaces the current token.
	SetToken(tok *oauth2.Token)
}

// MemoryTokenStore is a TokenStore safe for concurrent use.
type MemoryTokenStore struct {
	mu  sync.RWMutex
	tok *oauth2.Token
}

func (s *MemoryTokenStore) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok
}

func (s *MemoryTokenStore) SetToken(tok *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = tok
}

// tokenResponse is the wire shape of a successful /oauth/token response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// normalizeTokenResponse strips an explicitly null expires_in field from a
// raw token response.
//
// The accounts server sends "expires_in": null for tokens that do not
// expire, which generic oauth response parsing rejects as malformed. This
// is a quirk of that one provider, not an oauth rule, which is why the
// cleanup lives in its own step instead of the parser: if the server is
// ever fixed, delete this function.
func normalizeTokenResponse(data []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}

	raw, found := fields["expires_in"]
	if !found || string(bytes.TrimSpace(raw)) != "null" {
		return data, nil
	}

	delete(fields, "expires_in")
	return json.Marshal(fields)
}

// parseTokenResponse turns a raw /oauth/token response body into a token.
func parseTokenResponse(data []byte) (*oauth2.Token, error) {
	normalized, err := normalizeTokenResponse(data)
	if err != nil {
		return nil, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(normalized, &resp); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token response carries no access_token")
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return tok, nil
}
