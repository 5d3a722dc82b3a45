// Package khttp provides small helpers for working with http requests and URLs.
package khttp

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// RemoteIP returns the remote client IP address from a request.
//
// It gives precedence to the X-Forwarded-For header to work correctly
// behind proxies.
func RemoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// X-Forwarded-For can be a comma-separated list of IPs.
		// The first one is the original client.
		if parts := strings.Split(fwd, ","); len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RequestURL reconstructs the full URL requested by the client.
//
// r.URL on a server request only carries the path and query. RequestURL
// fills in the scheme and host from the request itself, so the result can
// be handed back to the client as a redirect target.
func RequestURL(r *http.Request) *url.URL {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	return &u
}

// JoinURLQuery joins two raw url queries with "&", tolerating either
// side being empty.
func JoinURLQuery(q1, q2 string) string {
	if q1 == "" || q2 == "" {
		return q1 + q2
	}
	return q1 + "&" + q2
}
