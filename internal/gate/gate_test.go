package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/backstage/services/keygate/config"
	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/services"
	"example.com/backstage/services/keygate/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const goodReferer = "https://linkvertise.com/1203734/the-basement-key1"

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) GateDecision(outcome string) {
	m.Called(outcome)
}

func (m *MockRecorder) Escalation() {
	m.Called()
}

type fixture struct {
	gate      *Gate
	blacklist *services.BlacklistRegistry
	tracker   *services.Tracker
}

func testFunnel() Funnel {
	return NewFunnel(config.FunnelConfig{
		ReferrerDomains: []string{"linkvertise.com"},
		BlockedPath:     "/blocked",
		Steps: []config.StepConfig{
			{Name: "step1", Path: "/start"},
			{Name: "step2", Path: "/checkpoint2"},
			{Name: "key", Path: "/key"},
		},
	})
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	blacklist := services.NewBlacklistRegistry(store.NewCollection[models.BlacklistEntry](backend, store.Blacklist), now)
	tracker := services.NewTracker(store.NewCollection[models.ProgressRecord](backend, store.Progress), now)
	return &fixture{
		gate:      New(testFunnel(), blacklist, tracker, opts),
		blacklist: blacklist,
		tracker:   tracker,
	}
}

func (f *fixture) route(t *testing.T, step string) Route {
	t.Helper()
	r, ok := f.gate.Funnel().Route(step)
	require.True(t, ok)
	return r
}

func (f *fixture) blocked(t *testing.T, ip string) bool {
	t.Helper()
	status, err := f.blacklist.IsBlocked(context.Background(), models.SubjectIP, ip)
	require.NoError(t, err)
	return status.Blocked
}

func TestFinalStepWithEmptyProgressIsAlwaysBlocked(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	route := f.route(t, "key")

	referers := []string{"", goodReferer, "https://example.com/", "not a url", "https://sub.linkvertise.com/x"}
	for i, referer := range referers {
		ip := "10.0.0." + string(rune('1'+i))
		d := f.gate.Evaluate(ctx, Request{ClientIP: ip, Path: "/key", Referer: referer}, route)
		assert.Equal(t, RedirectBlocked, d.Outcome, "referer %q", referer)
		assert.Equal(t, "/blocked", d.Location)
		assert.True(t, f.blocked(t, ip))
	}
}

func TestSkippedStepWithBadReferrerEscalates(t *testing.T) {
	f := newFixture(t, Options{BypassReason: "bypass attempt"})
	ctx := context.Background()
	require.NoError(t, f.tracker.RecordStep(ctx, "1.2.3.4", "step1"))

	d := f.gate.Evaluate(ctx, Request{ClientIP: "1.2.3.4", Path: "/checkpoint2", Referer: "https://evil.example/"}, f.route(t, "step2"))
	assert.Equal(t, RedirectBlocked, d.Outcome)
	require.NotNil(t, d.Entry)
	assert.Equal(t, "bypass attempt", d.Entry.Reason)
	assert.True(t, d.Entry.Expiry.IsPermanent())
	assert.True(t, f.blocked(t, "1.2.3.4"))
}

func TestNextStepWithReferrerIsRecorded(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.tracker.RecordStep(ctx, "1.2.3.4", "step1"))

	d := f.gate.Evaluate(ctx, Request{ClientIP: "1.2.3.4", Path: "/checkpoint2", Referer: goodReferer}, f.route(t, "step2"))
	assert.Equal(t, Allow, d.Outcome)

	done, err := f.tracker.HasCompleted(ctx, "1.2.3.4", []string{"step1", "step2"})
	require.NoError(t, err)
	assert.True(t, done)

	// a completed step can be revisited without a referrer
	d = f.gate.Evaluate(ctx, Request{ClientIP: "1.2.3.4", Path: "/checkpoint2"}, f.route(t, "step2"))
	assert.Equal(t, Allow, d.Outcome)
	assert.False(t, f.blocked(t, "1.2.3.4"))
}

func TestRevisitAfterLaterStepRedirectsForward(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, s := range []string{"step1", "step2", "key"} {
		require.NoError(t, f.tracker.RecordStep(ctx, "1.2.3.4", s))
	}

	d := f.gate.Evaluate(ctx, Request{ClientIP: "1.2.3.4", Path: "/checkpoint2"}, f.route(t, "step2"))
	assert.Equal(t, RedirectNext, d.Outcome)
	assert.Equal(t, "/key", d.Location)

	d = f.gate.Evaluate(ctx, Request{ClientIP: "1.2.3.4", Path: "/key"}, f.route(t, "key"))
	assert.Equal(t, Allow, d.Outcome)
}

func TestRenewedKeyHolderCanRevisitKeyAfterSweep(t *testing.T) {
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	blacklist := services.NewBlacklistRegistry(store.NewCollection[models.BlacklistEntry](backend, store.Blacklist), clock)
	tracker := services.NewTracker(store.NewCollection[models.ProgressRecord](backend, store.Progress), clock)
	keys := services.NewKeyRegistry(store.NewCollection[models.AccessKey](backend, store.Keys), tracker, services.KeyOptions{Clock: clock})
	g := New(testFunnel(), blacklist, tracker, Options{})
	keyRoute, ok := g.Funnel().Route("key")
	require.True(t, ok)

	for _, s := range []string{"step1", "step2", "key"} {
		require.NoError(t, tracker.RecordStep(ctx, "1.2.3.4", s))
	}
	_, err = keys.IssueForOwner(ctx, "1.2.3.4", 0, 0)
	require.NoError(t, err)

	now = now.Add(25 * time.Hour)
	_, err = keys.IssueForOwner(ctx, "1.2.3.4", 0, 0)
	require.NoError(t, err)
	_, err = keys.SweepExpired(ctx)
	require.NoError(t, err)

	d := g.Evaluate(ctx, Request{ClientIP: "1.2.3.4", Path: "/key"}, keyRoute)
	assert.Equal(t, Allow, d.Outcome)
	assert.Nil(t, d.Entry)

	status, err := blacklist.IsBlocked(ctx, models.SubjectIP, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

func TestBlacklistedClientIsRedirected(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.blacklist.Add(ctx, models.SubjectIP, "6.6.6.6", "spam", services.PermanentTTL)
	require.NoError(t, err)
	for _, s := range []string{"step1", "step2"} {
		require.NoError(t, f.tracker.RecordStep(ctx, "6.6.6.6", s))
	}

	d := f.gate.Evaluate(ctx, Request{ClientIP: "6.6.6.6", Path: "/checkpoint2"}, f.route(t, "step2"))
	assert.Equal(t, RedirectBlocked, d.Outcome)
	assert.Nil(t, d.Entry)

	assert.Equal(t, Allow, f.gate.CheckBlacklist(ctx, Request{ClientIP: "6.6.6.6", Path: "/blocked"}).Outcome)
	assert.Equal(t, Allow, f.gate.CheckBlacklist(ctx, Request{ClientIP: "6.6.6.6", Path: "/admin/keys"}).Outcome)
	assert.Equal(t, RedirectBlocked, f.gate.CheckBlacklist(ctx, Request{ClientIP: "6.6.6.6", Path: "/"}).Outcome)
	assert.Equal(t, RedirectBlocked, f.gate.CheckBlacklist(ctx, Request{ClientIP: "6.6.6.6", Path: "/administrator"}).Outcome)
}

func TestRecorderCountsDecisions(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("GateDecision", "redirect_blocked").Once()
	recorder.On("Escalation").Once()

	f := newFixture(t, Options{Recorder: recorder})
	f.gate.Evaluate(context.Background(), Request{ClientIP: "1.1.1.1", Path: "/key"}, f.route(t, "key"))

	recorder.AssertExpectations(t)
}

func TestReferrerAllowed(t *testing.T) {
	funnel := testFunnel()
	assert.True(t, funnel.ReferrerAllowed("https://linkvertise.com/abc"))
	assert.True(t, funnel.ReferrerAllowed("https://LinkVertise.com"))
	assert.True(t, funnel.ReferrerAllowed("https://publisher.linkvertise.com/abc"))
	assert.False(t, funnel.ReferrerAllowed("https://evillinkvertise.com/"))
	assert.False(t, funnel.ReferrerAllowed("https://linkvertise.com.attacker.io/"))
	assert.False(t, funnel.ReferrerAllowed("https://attacker.io/?r=linkvertise.com"))
	assert.False(t, funnel.ReferrerAllowed(""))
}

func TestFunnelRoutes(t *testing.T) {
	funnel := testFunnel()

	r, ok := funnel.Route("key")
	require.True(t, ok)
	assert.Equal(t, []string{"step1", "step2", "key"}, r.Requires)
	assert.Equal(t, []string{"step1", "step2"}, r.prior())

	next, ok := funnel.Next("step1")
	require.True(t, ok)
	assert.Equal(t, "/checkpoint2", next.Path)

	_, ok = funnel.Next("key")
	assert.False(t, ok)
	_, ok = funnel.Route("missing")
	assert.False(t, ok)
}

func TestRequireMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, Options{})
	ctx := context.Background()
	require.NoError(t, f.tracker.RecordStep(ctx, "5.6.7.8", "step1"))

	r := gin.New()
	r.Use(f.gate.Blacklist())
	r.GET("/checkpoint2", f.gate.Require(f.route(t, "step2")), func(c *gin.Context) {
		c.String(http.StatusOK, "checkpoint 2")
	})
	r.GET("/blocked", func(c *gin.Context) { c.String(http.StatusOK, "blocked") })

	req := httptest.NewRequest(http.MethodGet, "/checkpoint2", nil)
	req.Header.Set("X-Forwarded-For", "::ffff:5.6.7.8, 10.0.0.1")
	req.Header.Set("Referer", goodReferer)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "checkpoint 2", w.Body.String())

	// a fresh client skipping step1 is sent to the blocked view
	req = httptest.NewRequest(http.MethodGet, "/checkpoint2", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/blocked", w.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/blocked", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
