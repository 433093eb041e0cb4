package gate

import (
	"net/url"
	"strings"

	"example.com/backstage/services/keygate/config"
)

// Step is one funnel checkpoint
type Step struct {
	Name         string
	Path         string
	AffiliateURL string
}

// Route is what a protected path demands. Requires lists every step up to
// and including Step, in funnel order.
type Route struct {
	Step     string
	Requires []string
}

// prior returns the steps that must already be complete before Step can be earned
func (r Route) prior() []string {
	if len(r.Requires) == 0 {
		return nil
	}
	return r.Requires[:len(r.Requires)-1]
}

// Funnel is the ordered list of checkpoints and the referrer allow-list
type Funnel struct {
	Steps           []Step
	ReferrerDomains []string
	BlockedPath     string
}

// NewFunnel builds a funnel from configuration
func NewFunnel(cfg config.FunnelConfig) Funnel {
	f := Funnel{
		ReferrerDomains: cfg.ReferrerDomains,
		BlockedPath:     cfg.BlockedPath,
	}
	for _, s := range cfg.Steps {
		f.Steps = append(f.Steps, Step{Name: s.Name, Path: s.Path, AffiliateURL: s.AffiliateURL})
	}
	if f.BlockedPath == "" {
		f.BlockedPath = "/blocked"
	}
	return f
}

// Entry returns the first step. Entering the funnel is never gated.
func (f Funnel) Entry() Step {
	return f.Steps[0]
}

// Final returns the step that hands out the key
func (f Funnel) Final() Step {
	return f.Steps[len(f.Steps)-1]
}

// StepNames returns every step name in order
func (f Funnel) StepNames() []string {
	names := make([]string, len(f.Steps))
	for i, s := range f.Steps {
		names[i] = s.Name
	}
	return names
}

// Route returns the requirements for the named step. ok is false for unknown steps.
func (f Funnel) Route(step string) (Route, bool) {
	for i, s := range f.Steps {
		if s.Name == step {
			return Route{Step: s.Name, Requires: f.StepNames()[:i+1]}, true
		}
	}
	return Route{}, false
}

// Next returns the step after the named one
func (f Funnel) Next(step string) (Step, bool) {
	for i, s := range f.Steps {
		if s.Name == step && i+1 < len(f.Steps) {
			return f.Steps[i+1], true
		}
	}
	return Step{}, false
}

// furthest returns the last funnel step present in done
func (f Funnel) furthest(has func(string) bool) (Step, bool) {
	for i := len(f.Steps) - 1; i >= 0; i-- {
		if has(f.Steps[i].Name) {
			return f.Steps[i], true
		}
	}
	return Step{}, false
}

func (f Funnel) index(step string) int {
	for i, s := range f.Steps {
		if s.Name == step {
			return i
		}
	}
	return -1
}

// ReferrerAllowed reports whether referer's host is an allow-listed domain or
// one of its subdomains. Referer is client-supplied, so this only raises the
// cost of skipping a step.
func (f Funnel) ReferrerAllowed(referer string) bool {
	if referer == "" {
		return false
	}
	u, err := url.Parse(referer)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range f.ReferrerDomains {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
