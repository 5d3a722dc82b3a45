package auth

import (
	"errors"
	"net/http"

	"github.com/ccontavalli/accounts/lib/logger"
	"github.com/ccontavalli/accounts/lib/session"
)

// RequireAuthenticated wraps handler so it only runs for requests with a
// resolved identity; everything else gets a 401. How to react to the 401
// is the application's business - this helper just enforces the boundary.
func RequireAuthenticated(policy Policy, log logger.Logger, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := policy.AuthenticatedUserID(w, r)
		if errors.Is(err, ErrorRedirected) {
			return
		}
		if err != nil {
			log.Errorf("authentication failed on %s: %v", r.URL.Path, err)
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
		if username == "" {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

// LoginHandler serves the configured login path: it records where the
// browser should land after the flow and lets the policy redirect to the
// identity provider.
//
// The target is taken from the "redirect" parameter, then the Referer,
// then defaultTarget. Already logged in users are sent straight to the
// target.
func LoginHandler(policy Policy, store session.Store, defaultTarget string, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("redirect")
		if target == "" {
			target = r.Referer()
		}
		if target == "" || target == r.URL.Path {
			target = defaultTarget
		}

		sess := store.Load(w, r)
		if sess.Username() != "" {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		sess.RedirectTo = target

		_, err := policy.AuthenticatedUserID(w, r)
		if err != nil && !errors.Is(err, ErrorRedirected) {
			log.Errorf("could not start login: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// CallbackHandler serves the oauth callback path: the policy exchanges
// the code, and on success the browser is sent to the target stored by
// LoginHandler.
func CallbackHandler(policy Policy, store session.Store, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := policy.AuthenticatedUserID(w, r)
		if errors.Is(err, ErrorRedirected) {
			return
		}
		if err != nil || username == "" {
			log.Errorf("login callback failed: %v", err)
			http.Error(w, "login failed", http.StatusUnauthorized)
			return
		}

		sess := store.Load(w, r)
		target := sess.RedirectTo
		sess.RedirectTo = ""
		if target == "" {
			target = "/"
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// LogoutHandler serves the logout path. The policy redirects to the
// provider logout when a user was logged in; anonymous visitors are sent
// to fallback directly.
func LogoutHandler(policy Policy, fallback string, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := policy.Forget(w, r)
		if errors.Is(err, ErrorRedirected) {
			return
		}
		if err != nil {
			log.Errorf("logout failed: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, fallback, http.StatusFound)
	}
}
