package models

import "time"

// NotificationType classifies notification events for client rendering.
type NotificationType string

const (
	NotificationTypeApplication NotificationType = "application"
	NotificationTypeAdmission   NotificationType = "admission"
	NotificationTypeSelection   NotificationType = "selection"
	NotificationTypePromotion   NotificationType = "promotion"
)

// Notification is an opaque message delivered to a user's inbox.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Message   string           `db:"message" json:"message"`
	Type      NotificationType `db:"type" json:"type"`
	Read      bool             `db:"read" json:"read"`
	ReadAt    *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
