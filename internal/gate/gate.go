// Package gate enforces funnel order and the IP blacklist in front of the
// checkpoint routes. Every evaluation ends in Allow, RedirectNext or
// RedirectBlocked; the Gate never reports an error to its caller.
package gate

import (
	"context"
	"strings"

	"example.com/backstage/services/keygate/internal/models"
	"example.com/backstage/services/keygate/internal/services"

	"github.com/rs/zerolog/log"
)

// Outcome is the Gate's verdict
type Outcome int

const (
	Allow Outcome = iota
	RedirectNext
	RedirectBlocked
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectNext:
		return "redirect_next"
	case RedirectBlocked:
		return "redirect_blocked"
	default:
		return "unknown"
	}
}

// Request is the part of an inbound request the Gate looks at
type Request struct {
	ClientIP string
	Path     string
	Referer  string
}

// Decision is the result of Evaluate
type Decision struct {
	Outcome  Outcome
	Location string
	Reason   string
	// Entry is set when this evaluation blacklisted the client
	Entry *models.BlacklistEntry
}

// Blacklist is the subset of the blacklist registry the Gate uses
type Blacklist interface {
	IsBlocked(ctx context.Context, t models.SubjectType, value string) (services.BlockStatus, error)
	Escalate(ctx context.Context, ip, reason string, ttl services.TTL) (*models.BlacklistEntry, error)
}

// Progress is the subset of the checkpoint tracker the Gate uses
type Progress interface {
	Get(ctx context.Context, clientID string) (models.ProgressRecord, error)
	RecordStep(ctx context.Context, clientID, step string) error
}

// Recorder counts Gate activity
type Recorder interface {
	GateDecision(outcome string)
	Escalation()
}

// Auditor receives escalations for the audit trail
type Auditor interface {
	RecordEscalation(ctx context.Context, req Request, entry *models.BlacklistEntry)
}

// Options configures escalations
type Options struct {
	BypassReason string
	BypassTTL    services.TTL
	Recorder     Recorder
	Auditor      Auditor
}

// Gate evaluates requests against the funnel
type Gate struct {
	funnel    Funnel
	blacklist Blacklist
	progress  Progress
	reason    string
	ttl       services.TTL
	recorder  Recorder
	auditor   Auditor
}

// New creates a Gate
func New(funnel Funnel, blacklist Blacklist, progress Progress, opts Options) *Gate {
	if opts.BypassReason == "" {
		opts.BypassReason = "bypass attempt"
	}
	if !opts.BypassTTL.Permanent && opts.BypassTTL.Duration <= 0 {
		opts.BypassTTL = services.PermanentTTL
	}
	return &Gate{
		funnel:    funnel,
		blacklist: blacklist,
		progress:  progress,
		reason:    opts.BypassReason,
		ttl:       opts.BypassTTL,
		recorder:  opts.Recorder,
		auditor:   opts.Auditor,
	}
}

// Funnel returns the funnel the Gate enforces
func (g *Gate) Funnel() Funnel {
	return g.funnel
}

// Exempt reports whether path is always reachable, even for blocked clients
func (g *Gate) Exempt(path string) bool {
	return path == g.funnel.BlockedPath || path == "/admin" || strings.HasPrefix(path, "/admin/")
}

// CheckBlacklist is the first Gate step on its own, for routes outside the funnel.
// Only redirects are counted; the funnel routes count their own decision.
func (g *Gate) CheckBlacklist(ctx context.Context, req Request) Decision {
	d, blocked := g.checkBlacklist(ctx, req)
	if !blocked {
		return Decision{Outcome: Allow}
	}
	g.observe(d)
	return d
}

// Evaluate decides whether req may reach route
func (g *Gate) Evaluate(ctx context.Context, req Request, route Route) Decision {
	d := g.evaluate(ctx, req, route)
	g.observe(d)
	return d
}

func (g *Gate) evaluate(ctx context.Context, req Request, route Route) Decision {
	if d, blocked := g.checkBlacklist(ctx, req); blocked {
		return d
	}
	if len(route.Requires) == 0 {
		return Decision{Outcome: Allow}
	}

	rec, err := g.progress.Get(ctx, req.ClientIP)
	if err != nil {
		return g.unavailable(req, err)
	}

	if rec.HasAll(route.Requires) {
		// a revisit after a later step is complete jumps ahead
		if furthest, ok := g.funnel.furthest(rec.Has); ok && g.funnel.index(furthest.Name) > g.funnel.index(route.Step) {
			return Decision{Outcome: RedirectNext, Location: furthest.Path, Reason: "step already completed"}
		}
		return Decision{Outcome: Allow}
	}

	if g.funnel.ReferrerAllowed(req.Referer) && rec.HasAll(route.prior()) {
		if err := g.progress.RecordStep(ctx, req.ClientIP, route.Step); err != nil {
			return g.unavailable(req, err)
		}
		return Decision{Outcome: Allow, Reason: "step earned"}
	}

	return g.escalate(ctx, req, route)
}

func (g *Gate) checkBlacklist(ctx context.Context, req Request) (Decision, bool) {
	if g.Exempt(req.Path) {
		return Decision{}, false
	}
	status, err := g.blacklist.IsBlocked(ctx, models.SubjectIP, req.ClientIP)
	if err != nil {
		return g.unavailable(req, err), true
	}
	if !status.Blocked {
		return Decision{}, false
	}
	return Decision{
		Outcome:  RedirectBlocked,
		Location: g.funnel.BlockedPath,
		Reason:   status.Message,
	}, true
}

func (g *Gate) escalate(ctx context.Context, req Request, route Route) Decision {
	entry, err := g.blacklist.Escalate(ctx, req.ClientIP, g.reason, g.ttl)
	if err != nil {
		log.Error().Err(err).Str("client_ip", req.ClientIP).Msg("Failed to blacklist bypass attempt")
		return Decision{Outcome: RedirectBlocked, Location: g.funnel.BlockedPath, Reason: g.reason}
	}

	log.Warn().
		Str("client_ip", req.ClientIP).
		Str("path", req.Path).
		Str("step", route.Step).
		Str("referer", req.Referer).
		Str("blacklist_id", entry.ID).
		Msg("Bypass attempt blacklisted")

	if g.recorder != nil {
		g.recorder.Escalation()
	}
	if g.auditor != nil {
		g.auditor.RecordEscalation(ctx, req, entry)
	}
	return Decision{
		Outcome:  RedirectBlocked,
		Location: g.funnel.BlockedPath,
		Reason:   g.reason,
		Entry:    entry,
	}
}

// unavailable fails closed without blacklisting anyone
func (g *Gate) unavailable(req Request, err error) Decision {
	log.Error().Err(err).Str("client_ip", req.ClientIP).Str("path", req.Path).Msg("Gate could not read state")
	return Decision{Outcome: RedirectBlocked, Location: g.funnel.BlockedPath, Reason: "service unavailable"}
}

func (g *Gate) observe(d Decision) {
	if g.recorder != nil {
		g.recorder.GateDecision(d.Outcome.String())
	}
}
