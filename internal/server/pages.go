package server

import (
	"html/template"
	"net/http"

	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
)

const pageStyle = `<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: #f5f5f5;
    color: #1a1a1a;
    display: flex;
    align-items: flex-start;
    justify-content: center;
    min-height: 100vh;
    padding: 3rem 1rem;
  }
  .card {
    background: #fff;
    border: 1px solid #e0e0e0;
    border-radius: 8px;
    padding: 2.5rem 2rem;
    width: 100%;
    max-width: 640px;
    box-shadow: 0 1px 3px rgba(0,0,0,0.06);
  }
  .card h1 { font-size: 1.25rem; font-weight: 600; margin-bottom: 0.25rem; }
  .card h2 { font-size: 1rem; font-weight: 600; margin: 1.25rem 0 0.4rem; }
  .card p.sub { font-size: 0.85rem; color: #666; margin-bottom: 1.5rem; }
  .card ul { margin-left: 1.2rem; font-size: 0.9rem; }
  .notice {
    background: #f8f9fa;
    border: 1px solid #e0e0e0;
    border-radius: 6px;
    padding: 0.6rem 0.75rem;
    font-size: 0.85rem;
    margin-bottom: 1rem;
  }
  .error {
    background: #fef2f2;
    color: #991b1b;
    border: 1px solid #fecaca;
    border-radius: 6px;
    padding: 0.6rem 0.75rem;
    font-size: 0.85rem;
    margin-bottom: 1rem;
    word-break: break-word;
  }
  a.button {
    display: inline-block;
    padding: 0.55rem 1rem;
    background: #1a73e8;
    color: #fff;
    border-radius: 6px;
    text-decoration: none;
    font-size: 0.9rem;
  }
  code { font-size: 0.8rem; }
</style>`

// messagePage renders a single notice or error.
var messagePage = template.Must(template.New("message").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
` + pageStyle + `
</head>
<body>
<div class="card">
  <h1>{{.Title}}</h1>
  {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
  {{if .Message}}<div class="notice">{{.Message}}</div>{{end}}
  {{if .LinkURL}}<a class="button" href="{{.LinkURL}}">{{.LinkText}}</a>{{end}}
</div>
</body>
</html>`))

type messageData struct {
	Title    string
	Message  string
	Error    string
	LinkURL  string
	LinkText string
}

// clientViewPage lists the reports a servable token can run.
var clientViewPage = template.Must(template.New("client_view").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.ClientName}} reports</title>
` + pageStyle + `
</head>
<body>
<div class="card">
  <h1>{{.ClientName}}</h1>
  <p class="sub">Dataset <code>{{.ProjectID}}.{{.DatasetID}}</code>, access until {{.Expires}}</p>
  {{range .Categories}}
  <h2>{{.Name}}</h2>
  {{if .Description}}<p class="sub">{{.Description}}</p>{{end}}
  <ul>
    {{range .Reports}}<li>{{.Name}} <code>{{.ID}}</code></li>{{end}}
  </ul>
  {{end}}
  <div class="notice" style="margin-top:1.5rem">
    Run a report with <code>POST /api/query?token=…</code> and a body of
    <code>{"category": "…", "report": "…"}</code>. <code>/api/dry_run</code> returns the bytes it would scan.
  </div>
</div>
</body>
</html>`))

func renderMessage(w http.ResponseWriter, status int, data messageData) {
	setPageHeaders(w)
	w.WriteHeader(status)
	_ = messagePage.Execute(w, data)
}

// renderAccessDenied is the page shown for every token failure.
func renderAccessDenied(w http.ResponseWriter) {
	renderMessage(w, http.StatusForbidden, messageData{
		Title: "Access denied",
		Error: apperrors.ErrAccessDenied.Error(),
	})
}
