package models

import "time"

// Notification intent statuses
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// ClaimNotification is a persisted claim-ready notification intent. The
// intent is written in the same transaction as its FulfillmentRecord, so a
// redelivered event can never create a second one. Delivery is best-effort
// and never rolls back the record.
type ClaimNotification struct {
	ID          string     `json:"id" db:"id"`
	TxHash      string     `json:"tx_hash" db:"tx_hash"`
	LogIndex    uint       `json:"log_index" db:"log_index"`
	User        string     `json:"user" db:"user_address"`
	Rarity      string     `json:"rarity" db:"rarity"`
	Merchandise []string   `json:"merchandise" db:"merchandise"`
	ClaimURL    string     `json:"claim_url" db:"claim_url"`
	Status      string     `json:"status" db:"status"`
	Attempts    int        `json:"attempts" db:"attempts"`
	LastError   *string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
}
