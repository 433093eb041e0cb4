package models

import "time"

// NotificationKind distinguishes broadcast messages from kick orders.
type NotificationKind string

const (
	KindNotification NotificationKind = "notification"
	KindKick         NotificationKind = "kick"
)

// Notification is a message queued for the in-game client poller.
type Notification struct {
	Text      string           `json:"message"`
	Kind      NotificationKind `json:"type"`
	CreatedAt time.Time        `json:"createdAt"`
}
