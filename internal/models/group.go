package models

import (
	"github.com/google/uuid"
)

// Group lifecycle states. A group starts PENDING and is activated by the
// onboarding flow once the owner finishes setup.
const (
	GroupStatusPending = "PENDING"
	GroupStatusActive  = "ACTIVE"

	GroupPrivacyPrivate = "PRIVATE"
	GroupPrivacyPublic  = "PUBLIC"
)

// Group is a paid community created after a confirmed checkout.
//
// PaymentReference carries the unique index that makes materialization
// idempotent: the webhook path and the polling path may both try to create
// the same group, and the second insert must collapse into a no-op.
type Group struct {
	BaseModel
	Name                 string    `json:"name"`
	Category             string    `json:"category"`
	UserID               uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	User                 *User     `json:"user,omitempty"`
	PaymentReference     *string   `gorm:"uniqueIndex" json:"payment_reference"`
	TransactionReference string    `json:"transaction_reference"`
	PaidAmount           float64   `json:"paid_amount"`
	Status               string    `json:"status"`
	Privacy              string    `json:"privacy"`
	Channels             []Channel `json:"channels,omitempty"`
}

// Channel is a message channel inside a group. Every group gets a default
// "General" channel on creation.
type Channel struct {
	BaseModel
	GroupID uuid.UUID `gorm:"type:uuid;index" json:"group_id"`
	Name    string    `json:"name"`
}
