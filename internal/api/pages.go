package api

import (
	"html/template"
	"net/http"
	"net/url"

	"github.com/gwlsn/buswatch/internal/auth"
	"github.com/gwlsn/buswatch/internal/logger"
)

const generatedAvatarBase = "https://api.dicebear.com/7.x/avataaars/svg"

// Tile is a static dashboard panel.
type Tile struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

var dashboardTiles = []Tile{
	{ID: "bus-tracking", Title: "Bus Tracking", Summary: "Live positions of buses on active routes."},
	{ID: "route-information", Title: "Route Information", Summary: "Stops, schedules and detours per route."},
	{ID: "passenger-count", Title: "Passenger Count", Summary: "Boardings and occupancy by stop."},
	{ID: "analytics", Title: "Analytics", Summary: "Ridership trends over the last 30 days."},
}

var loginTemplate = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Sign in · buswatch</title></head>
<body style="font-family:sans-serif;max-width:24rem;margin:4rem auto">
<h1>buswatch</h1>
{{if .Error}}<p role="alert" style="color:#b00">{{.Error}}</p>{{end}}
<form method="post" action="/auth/login">
  <h2>Sign in</h2>
  <input type="email" name="email" placeholder="Email" required>
  <input type="password" name="password" placeholder="Password" required>
  <button type="submit">Sign in</button>
</form>
{{if .Signup}}<form method="post" action="/auth/signup">
  <h2>Create account</h2>
  <input type="text" name="name" placeholder="Name">
  <input type="email" name="email" placeholder="Email" required>
  <input type="password" name="password" placeholder="Password" required>
  <button type="submit">Sign up</button>
</form>{{end}}
{{range .Providers}}<p><a href="/auth/oauth/{{.}}">Continue with {{.}}</a></p>{{end}}
</body></html>`))

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>buswatch</title></head>
<body style="font-family:sans-serif;margin:2rem">
<header style="display:flex;align-items:center;gap:1rem">
  <img src="{{.Avatar}}" alt="" width="40" height="40" style="border-radius:50%">
  <strong>{{.User.Name}}</strong>
  <form method="post" action="/auth/logout"><button type="submit">Sign out</button></form>
</header>
<div id="toasts"></div>
<main style="display:grid;grid-template-columns:repeat(2,1fr);gap:1rem">
{{range .Tiles}}<section id="{{.ID}}"><h2>{{.Title}}</h2><p>{{.Summary}}</p></section>
{{end}}</main>
<script>
const events = new EventSource("/api/session/stream");
events.addEventListener("session", (e) => {
  if (JSON.parse(e.data).status === "unauthenticated") location.assign("{{.LoginPath}}");
});
events.addEventListener("toast", (e) => {
  const p = document.createElement("p");
  p.textContent = JSON.parse(e.data).message;
  document.getElementById("toasts").append(p);
});
</script>
</body></html>`))

type loginView struct {
	Error     string
	Signup    bool
	Providers []auth.ProviderKind
}

type dashboardView struct {
	User      *auth.AuthUser
	Avatar    string
	Tiles     []Tile
	LoginPath string
}

// LoginPage handles GET on the login path. It shows the loading placeholder
// until the session is known and sends signed-in visitors to the dashboard.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	state := sessionState(r)
	switch auth.Decide(state.Status) {
	case auth.DecisionLoading:
		auth.PlaceholderHandler().ServeHTTP(w, r)
		return
	case auth.DecisionGranted:
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	message := r.URL.Query().Get("error")
	if message == "" {
		message = state.Error
	}
	h.renderLogin(w, http.StatusOK, message)
}

// Dashboard handles GET /
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, h.loginPath, http.StatusFound)
		return
	}
	render(w, http.StatusOK, dashboardTemplate, dashboardView{
		User:      user,
		Avatar:    avatarURL(user),
		Tiles:     dashboardTiles,
		LoginPath: h.loginPath,
	})
}

// DashboardSummary handles GET /api/dashboard
func (h *Handler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   user,
		"avatar": avatarURL(user),
		"tiles":  dashboardTiles,
	})
}

func (h *Handler) renderLogin(w http.ResponseWriter, status int, message string) {
	render(w, status, loginTemplate, loginView{Error: message, Signup: h.allowSignup, Providers: h.providers})
}

// avatarURL returns the user's photo, or a generated avatar seeded by name.
func avatarURL(user *auth.AuthUser) string {
	if user.PhotoURL != "" {
		return user.PhotoURL
	}
	return generatedAvatarBase + "?" + url.Values{"seed": {user.Name}}.Encode()
}

func render(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		logger.Warn("Failed to render page", "template", tmpl.Name(), "error", err)
	}
}
