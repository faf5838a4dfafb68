package models

import (
	"github.com/google/uuid"
)

// CheckoutIntent is the durable form of the client-held checkout state.
// It is written before the browser is redirected to the hosted checkout page
// and must survive the cross-origin round trip; it is consumed exactly once
// when the payment is confirmed and the group is materialized.
type CheckoutIntent struct {
	BaseModel
	PaymentReference string    `gorm:"uniqueIndex" json:"payment_reference"`
	UserID           uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	GroupName        string    `json:"group_name"`
	Category         string    `json:"category"`
	CustomerEmail    string    `json:"customer_email"`
	PaymentMethod    string    `json:"payment_method"`
	Amount           float64   `json:"amount"`
}
