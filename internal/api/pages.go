package api

import (
	"html/template"
	"log/slog"
	"net/http"
)

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><title>Sign in</title></head>
<body>
<h1>Welcome to ContentPilot</h1>
<p>Sign in to create your first AI content profile.</p>
</body></html>
`))

var intakePage = template.Must(template.New("intake").Parse(`<!doctype html>
<html><head><title>Content profile intake</title></head>
<body>
<h1>Let's build your content profile</h1>
<p>Signed in as {{.UserID}}. Start a conversation with <code>POST /api/intake</code>.</p>
</body></html>
`))

// loginPageHandler renders the sign-in page, sending signed-in users on to the intake.
func (s *Server) loginPageHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookupSession(r); ok {
		http.Redirect(w, r, "/intake", http.StatusTemporaryRedirect)
		return
	}
	renderPage(w, loginPage, nil)
}

func (s *Server) intakePageHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	renderPage(w, intakePage, struct{ UserID string }{sess.UserID})
}

func renderPage(w http.ResponseWriter, tmpl *template.Template, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		slog.Error("Server.renderPage: template failed", "template", tmpl.Name(), "error", err)
	}
}
