// Package web implements the http surface of the example application: a
// small site that logs users in through the accounts server, shows and
// edits their profile, searches users and sends them messages.
package web

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/ccontavalli/accounts/lib/accounts"
	"github.com/ccontavalli/accounts/lib/auth"
	"github.com/ccontavalli/accounts/lib/logger"
	"github.com/ccontavalli/accounts/lib/session"
	"github.com/kataras/muxie"
)

// ProfileUpdater applies profile edits for the logged in caller.
// *auth.AccountsPolicy implements it; stub deployments plug in
// SessionUpdater instead.
type ProfileUpdater interface {
	UpdateProfile(w http.ResponseWriter, r *http.Request, fields map[string]interface{}) error
}

// App holds the wired dependencies of the example site.
//
// Client may be nil when running against the stub policy with no accounts
// server; the handlers that need it then answer 503.
type App struct {
	Client   *accounts.Client
	Policy   auth.Policy
	Sessions session.Store
	Updater  ProfileUpdater
	Log      logger.Logger
}

// Router builds the site routes. extra registers additional handlers,
// like the stub login form, before the router is sealed.
func (a *App) Router(extra func(mux *muxie.Mux)) http.Handler {
	mux := muxie.NewMux()

	mux.HandleFunc("/", a.Home)
	mux.HandleFunc("/profile", auth.RequireAuthenticated(a.Policy, a.Log, a.Profile))
	mux.HandleFunc("/users", auth.RequireAuthenticated(a.Policy, a.Log, a.Users))
	mux.HandleFunc("/message", auth.RequireAuthenticated(a.Policy, a.Log, a.Message))

	mux.HandleFunc("/login", auth.LoginHandler(a.Policy, a.Sessions, "/profile", a.Log))
	mux.HandleFunc(accounts.CallbackPath, auth.CallbackHandler(a.Policy, a.Sessions, a.Log))
	mux.HandleFunc("/logout", auth.LogoutHandler(a.Policy, "/", a.Log))

	if extra != nil {
		extra(mux)
	}
	return mux
}

var homeTemplate = template.Must(template.New("home").Parse(`<html><body>
<h1>accounts example</h1>
{{if .Username}}
<p>Logged in as <b>{{.FullName}}</b> ({{.Username}}).</p>
<p><a href="/profile">profile</a> | <a href="/users">search users</a> | <a href="/message">send a message</a> | <a href="/logout">log out</a></p>
{{else}}
<p>You are not logged in. <a href="/login">Log in</a>.</p>
{{end}}
</body></html>`))

func (a *App) Home(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Load(w, r)
	render(w, a.Log, homeTemplate, map[string]interface{}{
		"Username": sess.Username(),
		"FullName": sess.Profile().FullName(),
	})
}

var profileTemplate = template.Must(template.New("profile").Parse(`<html><body>
<h1>{{.FullName}}</h1>
<p>Username: {{.Username}} (id {{.ID}})</p>
<p>Emails: {{range .Emails}}{{.}} {{end}}</p>
<form method="POST" action="/profile">
  <div><label>First name: <input name="first_name" value="{{.FirstName}}" /></label></div>
  <div><label>Last name: <input name="last_name" value="{{.LastName}}" /></label></div>
  <div><label>Email: <input name="email" /></label></div>
  <div><input type="submit" value="Update" /></div>
</form>
<p><a href="/">home</a></p>
</body></html>`))

func (a *App) Profile(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Load(w, r)

	if r.Method == http.MethodPost {
		fields := map[string]interface{}{}
		for _, key := range []string{"first_name", "last_name", "email"} {
			if value := r.FormValue(key); value != "" {
				fields[key] = value
			}
		}
		if err := a.Updater.UpdateProfile(w, r, fields); err != nil {
			a.Log.Errorf("profile update for %q failed: %v", sess.Username(), err)
			http.Error(w, "could not update profile", http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, "/profile", http.StatusFound)
		return
	}

	profile := sess.Profile()
	first, _ := profile["first_name"].(string)
	last, _ := profile["last_name"].(string)
	render(w, a.Log, profileTemplate, map[string]interface{}{
		"Username":  profile.Username(),
		"ID":        profile.ID(),
		"FullName":  profile.FullName(),
		"FirstName": first,
		"LastName":  last,
		"Emails":    profile.Emails(),
	})
}

var usersTemplate = template.Must(template.New("users").Parse(`<html><body>
<h1>User search</h1>
<form method="GET" action="/users">
  <input name="q" value="{{.Query}}" placeholder="username:al%" />
  <input type="submit" value="Search" />
</form>
{{if .Result}}
<p>{{.Result.TotalCount}} match(es).</p>
<table border="1">
<tr><th>Username</th><th>Name</th></tr>
{{range .Result.Items}}<tr><td>{{.Username}}</td><td>{{.FullName}}</td></tr>
{{end}}</table>
{{end}}
<p><a href="/">home</a></p>
</body></html>`))

func (a *App) Users(w http.ResponseWriter, r *http.Request) {
	if a.Client == nil {
		http.Error(w, "no accounts backend configured", http.StatusServiceUnavailable)
		return
	}

	data := map[string]interface{}{"Query": r.URL.Query().Get("q")}
	if query, _ := data["Query"].(string); query != "" {
		result, err := a.Client.Search(r.Context(), query, "username")
		if err != nil {
			a.Log.Errorf("user search %q failed: %v", query, err)
			http.Error(w, "search failed", http.StatusBadGateway)
			return
		}
		data["Result"] = result
	}
	render(w, a.Log, usersTemplate, data)
}

var messageTemplate = template.Must(template.New("message").Parse(`<html><body>
<h1>Send a message</h1>
{{if .Status}}<p><b>{{.Status}}</b></p>{{end}}
<form method="POST" action="/message">
  <div><label>To (username): <input name="username" /></label></div>
  <div><label>Subject: <input name="subject" /></label></div>
  <div><label>Body: <textarea name="body"></textarea></label></div>
  <div><input type="submit" value="Send" /></div>
</form>
<p><a href="/">home</a></p>
</body></html>`))

func (a *App) Message(w http.ResponseWriter, r *http.Request) {
	if a.Client == nil {
		http.Error(w, "no accounts backend configured", http.StatusServiceUnavailable)
		return
	}

	data := map[string]interface{}{}
	if r.Method == http.MethodPost {
		username := r.FormValue("username")
		err := a.Client.SendMessage(r.Context(), username, r.FormValue("subject"), r.FormValue("body"), "")
		switch {
		case errors.Is(err, accounts.ErrUserNotFound):
			data["Status"] = "No such user: " + username
		case err != nil:
			a.Log.Errorf("message to %q failed: %v", username, err)
			http.Error(w, "delivery failed", http.StatusBadGateway)
			return
		default:
			data["Status"] = "Message sent to " + username
		}
	}
	render(w, a.Log, messageTemplate, data)
}

// SessionUpdater applies profile edits to the session document only, for
// deployments running on the stub policy with no accounts server behind
// them.
type SessionUpdater struct {
	Sessions session.Store
}

func (u *SessionUpdater) UpdateProfile(w http.ResponseWriter, r *http.Request, fields map[string]interface{}) error {
	sess := u.Sessions.Load(w, r)
	if sess.Username() == "" {
		return auth.ErrorNotAuthenticated
	}

	profile := accounts.Profile{}
	for key, value := range sess.Profile() {
		profile[key] = value
	}
	for key, value := range fields {
		if key == "email" {
			infos, _ := profile["contact_infos"].([]interface{})
			profile["contact_infos"] = append(infos, map[string]interface{}{
				"type": "EmailAddress", "value": value,
			})
			continue
		}
		profile[key] = value
	}
	sess.UpdateProfile(profile)
	return nil
}

func render(w http.ResponseWriter, log logger.Logger, t *template.Template, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.Execute(w, data); err != nil {
		log.Errorf("rendering %s failed: %v", t.Name(), err)
	}
}
