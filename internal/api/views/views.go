// Package views holds the HTML pages served by the funnel and the admin console.
package views

import (
	"embed"
	"html/template"
	"time"

	"example.com/backstage/services/keygate/internal/models"
)

//go:embed templates/*.html
var files embed.FS

// Page template names
const (
	Landing    = "landing.html"
	ScriptInfo = "script_info.html"
	Checkpoint = "checkpoint.html"
	Key        = "key.html"
	Blocked    = "blocked.html"
	Admin      = "admin.html"
)

// LandingPage is the data for the landing view
type LandingPage struct {
	StartPath string
}

// CheckpointPage is the data for an intermediate funnel step
type CheckpointPage struct {
	Step   string
	Number int
	Total  int
	Link   string
}

// KeyPage is the data for the final step
type KeyPage struct {
	Key       *models.AccessKey
	Permanent bool
	Hours     int
	Minutes   int
	Seconds   int
	ResetPath string
}

// BlockedPage is the data for the blocked view
type BlockedPage struct {
	Message string
	Reason  string
	Expiry  models.Expiry
	ID      string
}

// AdminPage is the data for the admin console
type AdminPage struct {
	Keys          []models.AccessKey
	Blacklist     []models.BlacklistEntry
	Progress      []models.ProgressRecord
	Notifications []models.Notification
	Query         string
	Now           time.Time
}

var funcs = template.FuncMap{
	"expiry": formatExpiry,
	"action": func(path, query string) template.URL {
		if query == "" {
			return template.URL(path)
		}
		return template.URL(path + "?" + query)
	},
	"live": func(k models.AccessKey, now time.Time) bool {
		return k.Live(now)
	},
}

// Templates parses every page
func Templates() *template.Template {
	return template.Must(template.New("").Funcs(funcs).ParseFS(files, "templates/*.html"))
}

func formatExpiry(e models.Expiry) string {
	if e.IsPermanent() {
		return "Indefinite"
	}
	return e.Time().UTC().Format("2006-01-02 15:04 MST")
}
