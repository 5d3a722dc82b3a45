package accounts

import (
	"encoding/json"
	"strings"
)

// CallbackPath is the path on the application where the accounts server
// redirects the browser at the end of the authorization code flow.
//
// The redirect URI registered with the accounts server is always the
// application URL joined with this path.
const CallbackPath = "/callback"

// Credentials identifies this application to the accounts server.
//
// Credentials are immutable after construction of a Client.
type Credentials struct {
	// ServerURL is the base URL of the accounts server, for example
	// "https://accounts.example.com".
	ServerURL string
	// ApplicationID and ApplicationSecret are the oauth client id and
	// secret assigned to this application by the accounts server.
	ApplicationID     string
	ApplicationSecret string
	// ApplicationURL is the base URL this application is served from.
	// The oauth redirect URI is derived from it.
	ApplicationURL string
}

// RedirectURI returns the oauth callback URL of this application.
func (c Credentials) RedirectURI() string {
	return joinURL(c.ApplicationURL, CallbackPath)
}

// Validate returns an error describing the first missing field, if any.
func (c Credentials) Validate() error {
	switch {
	case c.ServerURL == "":
		return errMissing("ServerURL")
	case c.ApplicationID == "":
		return errMissing("ApplicationID")
	case c.ApplicationSecret == "":
		return errMissing("ApplicationSecret")
	case c.ApplicationURL == "":
		return errMissing("ApplicationURL")
	}
	return nil
}

// Profile is a user document as returned by the accounts server.
//
// The server owns the schema, so the document is kept as an open mapping.
// Typed accessors are provided for the fields this library needs.
type Profile map[string]interface{}

// Username returns the username field, or "" if absent.
func (p Profile) Username() string {
	username, _ := p["username"].(string)
	return username
}

// ID returns the numeric user id, or 0 if absent.
func (p Profile) ID() int {
	switch id := p["id"].(type) {
	case float64:
		// encoding/json decodes numbers in open documents as float64.
		return int(id)
	case json.Number:
		n, _ := id.Int64()
		return int(n)
	case int:
		return id
	}
	return 0
}

// FullName returns a printable name, falling back to the username.
func (p Profile) FullName() string {
	if name, _ := p["full_name"].(string); name != "" {
		return name
	}
	first, _ := p["first_name"].(string)
	last, _ := p["last_name"].(string)
	if name := strings.TrimSpace(first + " " + last); name != "" {
		return name
	}
	return p.Username()
}

// Emails returns the values of all EmailAddress contact infos.
func (p Profile) Emails() []string {
	infos, _ := p["contact_infos"].([]interface{})
	var emails []string
	for _, entry := range infos {
		info, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if kind, _ := info["type"].(string); kind != "EmailAddress" {
			continue
		}
		if value, _ := info["value"].(string); value != "" {
			emails = append(emails, value)
		}
	}
	return emails
}

// SearchResult is the response of the user search endpoints.
type SearchResult struct {
	Items      []Profile `json:"items"`
	TotalCount int       `json:"total_count"`
}

// joinURL appends a path to a base URL, tolerating a trailing slash.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
