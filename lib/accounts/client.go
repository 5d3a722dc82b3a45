// Package accounts implements the client side of the accounts server API:
// the oauth2 grants used to obtain bearer tokens, and the authenticated
// REST calls built on top of them (user search, profiles, messages).
//
// A Client is created once per process with the application Credentials.
// At startup the application calls AcquireServiceToken to obtain the
// process-wide service token used for calls made on behalf of the
// application itself. Calls on behalf of a logged in user go through a
// session-bound copy of the client, created with ForSession or WithToken:
//
//	client, err := accounts.New(creds)
//	if err != nil { ... }
//	if err := client.AcquireServiceToken(ctx); err != nil {
//		// fail fast - do not serve requests half initialized.
//	}
//
//	me, err := client.WithToken(tok).GetProfile(ctx)
//
// Message delivery is pluggable: SendMessage composes the payload and
// hands it to the configured MessageSender, so deployments can swap the
// network delivery for a log or in-memory sink.
package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ccontavalli/accounts/lib/logger"
	"golang.org/x/oauth2"
)

// maxResponseSize bounds how much of an accounts server response is read.
const maxResponseSize = 1 << 20

// Paths of the accounts server API used by this client.
const (
	authorizePath    = "/oauth/authorize"
	tokenPath        = "/oauth/token"
	logoutPath       = "/logout"
	profilePath      = "/api/user.json"
	searchPath       = "/api/application_users.json"
	globalSearchPath = "/api/users.json"
	contactInfosPath = "/api/contact_infos.json"
	messagesPath     = "/api/messages.json"
)

// Client performs authenticated calls against one accounts server on
// behalf of one application.
//
// The zero value is not usable, use New. Client methods are safe for
// concurrent use once AcquireServiceToken completed.
type Client struct {
	creds Credentials
	conf  *oauth2.Config

	http   *http.Client
	log    logger.Logger
	sender MessageSender

	// service holds the process-wide client_credentials token, written
	// once by AcquireServiceToken and read-only afterwards.
	service TokenStore
	// session, when set, holds the token of the user this copy of the
	// client is bound to. It takes precedence over the service token.
	session TokenStore
}

type options struct {
	http    *http.Client
	log     logger.Logger
	store   TokenStore
	sender  MessageSender
	timeout time.Duration
}

// Modifier applies a configuration change to a Client being constructed.
type Modifier func(*options) error

// WithHTTPClient replaces the http client used for all provider calls.
func WithHTTPClient(client *http.Client) Modifier {
	return func(o *options) error {
		o.http = client
		return nil
	}
}

// WithLogger sets the logger. Defaults to logger.Go.
func WithLogger(log logger.Logger) Modifier {
	return func(o *options) error {
		o.log = log
		return nil
	}
}

// WithTokenStore replaces the store holding the service token.
func WithTokenStore(store TokenStore) Modifier {
	return func(o *options) error {
		o.store = store
		return nil
	}
}

// WithMessageSender replaces the sink messages are delivered to.
//
// By default messages are posted to the accounts server through the
// client itself.
func WithMessageSender(sender MessageSender) Modifier {
	return func(o *options) error {
		o.sender = sender
		return nil
	}
}

// WithTimeout overrides the default timeout of provider calls.
//
// The timeout is applied to the default http client only; it is ignored
// when WithHTTPClient is also supplied.
func WithTimeout(timeout time.Duration) Modifier {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be > 0, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// New creates a Client for the accounts server named by creds.
func New(creds Credentials, mods ...Modifier) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	opts := &options{
		log:     logger.Go,
		timeout: 30 * time.Second,
	}
	for _, m := range mods {
		if err := m(opts); err != nil {
			return nil, err
		}
	}
	if opts.http == nil {
		// Provider calls must fail, not hang: always carry a finite timeout.
		opts.http = &http.Client{Timeout: opts.timeout}
	}
	if opts.store == nil {
		opts.store = &MemoryTokenStore{}
	}

	client := &Client{
		creds: creds,
		conf: &oauth2.Config{
			ClientID:     creds.ApplicationID,
			ClientSecret: creds.ApplicationSecret,
			RedirectURL:  creds.RedirectURI(),
			Endpoint: oauth2.Endpoint{
				AuthURL:  joinURL(creds.ServerURL, authorizePath),
				TokenURL: joinURL(creds.ServerURL, tokenPath),
			},
		},
		http:    opts.http,
		log:     opts.log,
		service: opts.store,
		sender:  opts.sender,
	}
	if client.sender == nil {
		client.sender = NewNetworkSender(client)
	}
	return client, nil
}

// ForSession returns a copy of the client whose calls authenticate with
// the token held in store, falling back to the service token if the store
// is empty.
//
// The copy shares everything else with the original client, so it is
// cheap to create per request.
func (c *Client) ForSession(store TokenStore) *Client {
	bound := *c
	bound.session = store
	return &bound
}

// WithToken is ForSession for a single, already obtained token.
func (c *Client) WithToken(tok *oauth2.Token) *Client {
	store := &MemoryTokenStore{}
	store.SetToken(tok)
	return c.ForSession(store)
}

// Credentials returns the application credentials the client was built with.
func (c *Client) Credentials() Credentials {
	return c.creds
}

// AuthorizationURL returns the accounts server URL to redirect a browser
// to in order to start the authorization code flow. Pure construction, no
// network call.
func (c *Client) AuthorizationURL() string {
	return c.conf.AuthCodeURL("")
}

// LogoutURL returns the accounts server logout URL, asking the server to
// send the browser back to returnTo afterwards.
func (c *Client) LogoutURL(returnTo string) string {
	query := url.Values{"return_to": {returnTo}}
	return joinURL(c.creds.ServerURL, logoutPath) + "?" + query.Encode()
}

// ExchangeCode exchanges an authorization code received on the callback
// for a token. Failures are reported as *ExchangeError and must be treated
// as "not logged in" by the caller.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, &ExchangeError{Grant: "authorization_code", Err: fmt.Errorf("empty authorization code")}
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.conf.RedirectURL},
		"client_id":     {c.creds.ApplicationID},
		"client_secret": {c.creds.ApplicationSecret},
	}
	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return nil, &ExchangeError{Grant: "authorization_code", Err: err}
	}
	return tok, nil
}

// AcquireServiceToken obtains the process-wide service token through the
// client_credentials grant and stores it for later calls.
//
// Call it once at startup, before serving requests, and treat an error as
// fatal: the token is not retried automatically, and without it every
// application-level call would fail anyway.
func (c *Client) AcquireServiceToken(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.creds.ApplicationID},
		"client_secret": {c.creds.ApplicationSecret},
	}
	tok, err := c.requestToken(ctx, form)
	if err != nil {
		return &ExchangeError{Grant: "client_credentials", Err: err}
	}

	c.service.SetToken(tok)
	c.log.Infof("accounts: service token acquired from %s", c.creds.ServerURL)
	return nil
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, body)
	}
	return parseTokenResponse(body)
}

// token returns the bearer token to authenticate the next call with: the
// session token if this client is bound to one, the service token
// otherwise.
func (c *Client) token() (*oauth2.Token, error) {
	if c.session != nil {
		if tok := c.session.Token(); tok != nil {
			return tok, nil
		}
	}
	if tok := c.service.Token(); tok != nil {
		return tok, nil
	}
	return nil, fmt.Errorf("no access token available - AcquireServiceToken was never called")
}

// Request performs an authenticated call against the accounts server API
// and returns the raw response body.
//
// Non-2xx responses are returned as *RequestError carrying status and
// body. query and body may be nil.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) ([]byte, error) {
	tok, err := c.token()
	if err != nil {
		return nil, err
	}

	endpoint := joinURL(c.creds.ServerURL, path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Method: method, Path: path, Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// GetJSON performs an authenticated GET and decodes the response into v.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, v interface{}) error {
	data, err := c.Request(ctx, http.MethodGet, path, query, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}

// PostForm performs an authenticated form-encoded POST.
func (c *Client) PostForm(ctx context.Context, path string, data url.Values) ([]byte, error) {
	return c.Request(ctx, http.MethodPost, path, nil, "application/x-www-form-urlencoded", []byte(data.Encode()))
}

func (c *Client) sendJSON(ctx context.Context, method, path string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return c.Request(ctx, method, path, nil, "application/json", body)
}

// Search queries the users of this application.
//
// query supports the server's wildcard syntax ("jo%" or "username:bob").
// orderBy names the profile fields to sort on, ascending; the server keeps
// the order stable for ties. Pass "" for the server default.
func (c *Client) Search(ctx context.Context, query, orderBy string) (*SearchResult, error) {
	params := url.Values{"q": {query}}
	if orderBy != "" {
		params.Set("order_by", orderBy)
	}

	var result SearchResult
	if err := c.GetJSON(ctx, searchPath, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GlobalSearch queries the full user population of the accounts server,
// not just the users of this application.
func (c *Client) GlobalSearch(ctx context.Context, query string) (*SearchResult, error) {
	var result SearchResult
	if err := c.GetJSON(ctx, globalSearchPath, url.Values{"q": {query}}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProfile fetches the profile of the user the client is bound to (or
// of the service account, if no session token is bound).
func (c *Client) GetProfile(ctx context.Context) (Profile, error) {
	var profile Profile
	if err := c.GetJSON(ctx, profilePath, nil, &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// GetProfileByUsername resolves username among this application's users.
// Returns *UserNotFoundError if there is no exact match.
func (c *Client) GetProfileByUsername(ctx context.Context, username string) (Profile, error) {
	result, err := c.Search(ctx, "username:"+username, "")
	if err != nil {
		return nil, err
	}
	for _, item := range result.Items {
		if item.Username() == username {
			return item, nil
		}
	}
	return nil, &UserNotFoundError{Username: username}
}

// UpdateProfile writes fields to the profile of the bound user and
// returns the refetched, fresh profile.
//
// The accounts server models email addresses as contact_infos
// sub-resources, not profile fields, so a changed email is first created
// as a contact info and only then the remaining fields are written. The
// order matters to the server and must not be swapped. current is the
// profile as last seen, used to detect whether the email actually changed.
func (c *Client) UpdateProfile(ctx context.Context, current Profile, fields map[string]interface{}) (Profile, error) {
	if email, _ := fields["email"].(string); email != "" && !contains(current.Emails(), email) {
		contact := map[string]string{"type": "EmailAddress", "value": email}
		if _, err := c.sendJSON(ctx, http.MethodPost, contactInfosPath, contact); err != nil {
			return nil, err
		}
	}

	if _, err := c.sendJSON(ctx, http.MethodPut, profilePath, fields); err != nil {
		return nil, err
	}

	// Refetch so callers never cache a stale email/name pairing.
	return c.GetProfile(ctx)
}

// SendMessage composes a message to username and hands it to the
// configured MessageSender.
//
// Returns *UserNotFoundError (and performs no delivery) when username has
// no exact match, and *DeliveryError when the sender fails; the composed
// payload is not corrupted by a delivery failure.
func (c *Client) SendMessage(ctx context.Context, username, subject, textBody, htmlBody string) error {
	result, err := c.GlobalSearch(ctx, "username:"+username)
	if err != nil {
		return err
	}

	userID, found := 0, false
	for _, item := range result.Items {
		if item.Username() == username {
			userID, found = item.ID(), true
		}
	}
	if !found {
		return &UserNotFoundError{Username: username}
	}

	if htmlBody == "" {
		escaped := strings.ReplaceAll(html.EscapeString(textBody), "\n", "\n<br/>")
		htmlBody = "<html><body>" + escaped + "</body></html>"
	}

	id := strconv.Itoa(userID)
	payload := url.Values{
		"user_id":        {id},
		"to[user_ids][]": {id},
		"subject":        {subject},
		"body[text]":     {textBody},
		"body[html]":     {htmlBody},
	}

	if err := c.sender.Send(ctx, payload); err != nil {
		return &DeliveryError{Err: err}
	}
	c.log.Debugf("accounts: message %q sent to %s (id %s)", subject, username, id)
	return nil
}

func contains(list []string, value string) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}
