package models

import (
	"strings"
	"time"
)

// SubjectType identifies what a blacklist entry bans.
type SubjectType string

const (
	SubjectIP     SubjectType = "ip"
	SubjectPlayer SubjectType = "player"
)

// Valid reports whether t is a known subject type.
func (t SubjectType) Valid() bool {
	return t == SubjectIP || t == SubjectPlayer
}

// BlacklistEntry bans an IP or a player name until Expiry.
type BlacklistEntry struct {
	ID        string      `json:"blacklistId"`
	Type      SubjectType `json:"type"`
	Value     string      `json:"value"`
	Reason    string      `json:"reason,omitempty"`
	Expiry    Expiry      `json:"expiry"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Matches compares the subject, case-insensitively for players.
func (e *BlacklistEntry) Matches(t SubjectType, value string) bool {
	if e.Type != t {
		return false
	}
	if t == SubjectPlayer {
		return strings.EqualFold(e.Value, value)
	}
	return e.Value == value
}

// Active reports whether the ban is still in force at now.
func (e *BlacklistEntry) Active(now time.Time) bool {
	return !e.Expiry.Passed(now)
}
