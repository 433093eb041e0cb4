package models

import "time"

// ProgressRecord tracks which funnel steps a client has reached.
// Steps keeps insertion order for auditing.
type ProgressRecord struct {
	ClientID   string    `json:"ip"`
	Steps      []string  `json:"steps"`
	LastAccess time.Time `json:"lastAccess"`
}

// Has reports whether step was completed.
func (p *ProgressRecord) Has(step string) bool {
	for _, s := range p.Steps {
		if s == step {
			return true
		}
	}
	return false
}

// HasAll reports whether every step in steps was completed.
func (p *ProgressRecord) HasAll(steps []string) bool {
	for _, s := range steps {
		if !p.Has(s) {
			return false
		}
	}
	return true
}
