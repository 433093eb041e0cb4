package models

import "time"

// OwnerAdmin marks keys minted from the admin console.
const OwnerAdmin = "admin"

// AccessKey is a time-limited credential handed out at the end of the funnel.
type AccessKey struct {
	Token        string    `json:"key"`
	Owner        string    `json:"ip"`
	MaxUsers     int       `json:"maxUsers"`
	CreatedAt    time.Time `json:"createdAt"`
	Expiry       Expiry    `json:"expiresAt"`
	Expired      bool      `json:"expired"`
	Consumers    []string  `json:"usedBy"`
	AdminCreated bool      `json:"adminCreated,omitempty"`
}

// HasConsumer reports whether id is already bound to the key.
func (k *AccessKey) HasConsumer(id string) bool {
	for _, c := range k.Consumers {
		if c == id {
			return true
		}
	}
	return false
}

// Live reports whether the key is neither flagged nor past its expiry.
func (k *AccessKey) Live(now time.Time) bool {
	return !k.Expired && !k.Expiry.Passed(now)
}

// InUse mirrors the legacy flag shown in the admin console.
func (k *AccessKey) InUse() bool {
	return len(k.Consumers) > 0
}
