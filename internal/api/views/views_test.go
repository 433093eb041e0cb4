package views

import (
	"bytes"
	"testing"
	"time"

	"example.com/backstage/services/keygate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, name string, data interface{}) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Templates().ExecuteTemplate(&buf, name, data))
	return buf.String()
}

func TestKeyPage(t *testing.T) {
	key := &models.AccessKey{Token: "TheBasement_abc", Expiry: models.At(time.Now().Add(time.Hour))}
	out := render(t, Key, KeyPage{Key: key, Hours: 1, Minutes: 2, Seconds: 3, ResetPath: "/reset-key"})
	assert.Contains(t, out, "TheBasement_abc")
	assert.Contains(t, out, "01:02:03")

	out = render(t, Key, KeyPage{Key: key, Permanent: true, ResetPath: "/reset-key"})
	assert.Contains(t, out, "never expires")
	assert.NotContains(t, out, "timer")
}

func TestBlockedPage(t *testing.T) {
	out := render(t, Blocked, BlockedPage{Message: "Your IP has been blacklisted", ID: "BL-ABCDEFGH", Expiry: models.Permanent()})
	assert.Contains(t, out, "BL-ABCDEFGH")
	assert.Contains(t, out, "Indefinite")
	assert.Contains(t, out, "Tried to bypass the key system")
}

func TestAdminPageCarriesQuery(t *testing.T) {
	now := time.Now()
	out := render(t, Admin, AdminPage{
		Keys:      []models.AccessKey{{Token: "K1", Owner: "1.2.3.4", MaxUsers: 2, Expiry: models.At(now.Add(time.Hour))}},
		Blacklist: []models.BlacklistEntry{{ID: "ABC123", Type: models.SubjectIP, Value: "6.6.6.6", Expiry: models.Permanent()}},
		Query:     "access_code=s3cret",
		Now:       now,
	})
	assert.Contains(t, out, `action="/admin/keys/delete?access_code=s3cret"`)
	assert.Contains(t, out, "K1")
	assert.Contains(t, out, "live")
	assert.Contains(t, out, "6.6.6.6")
}

func TestStaticPages(t *testing.T) {
	assert.Contains(t, render(t, Landing, LandingPage{StartPath: "/start"}), `href="/start"`)
	assert.Contains(t, render(t, ScriptInfo, nil), "Script Info")
	assert.Contains(t, render(t, Checkpoint, CheckpointPage{Step: "checkpoint2", Number: 2, Total: 3, Link: "https://link-target.net/1203734/key"}), "Checkpoint 2 of 3")
}
