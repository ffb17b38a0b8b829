package models

import (
	"math/big"
	"time"
)

// ClaimStatus is the fulfillment lifecycle state of a record
type ClaimStatus string

const (
	StatusPendingClaim ClaimStatus = "PENDING_CLAIM"
	StatusClaimed      ClaimStatus = "CLAIMED"
	StatusShipped      ClaimStatus = "SHIPPED"
	StatusCancelled    ClaimStatus = "CANCELLED"
)

// validTransitions encodes the claim lifecycle:
// PENDING_CLAIM -> {CLAIMED, CANCELLED}, CLAIMED -> {SHIPPED, CANCELLED}.
// SHIPPED and CANCELLED are terminal.
var validTransitions = map[ClaimStatus][]ClaimStatus{
	StatusPendingClaim: {StatusClaimed, StatusCancelled},
	StatusClaimed:      {StatusShipped, StatusCancelled},
	StatusShipped:      {},
	StatusCancelled:    {},
}

// IsValidStatus reports whether s is a known claim status
func IsValidStatus(s ClaimStatus) bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition reports whether the lifecycle allows from -> to
func CanTransition(from, to ClaimStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions
func IsTerminal(s ClaimStatus) bool {
	return IsValidStatus(s) && len(validTransitions[s]) == 0
}

// FulfillmentRecord is the durable outcome of one successfully processed burn.
// Created exactly once per event identity. Merchandise is resolved from the
// rarity at creation time and frozen thereafter. Records are never deleted.
type FulfillmentRecord struct {
	TxHash           string      `json:"tx_hash" db:"tx_hash"`
	LogIndex         uint        `json:"log_index" db:"log_index"`
	BlockNumber      uint64      `json:"block_number" db:"block_number"`
	User             string      `json:"user" db:"user_address"`
	TokenID          string      `json:"token_id" db:"token_id"`
	Rarity           string      `json:"rarity" db:"rarity"`
	Merchandise      []string    `json:"merchandise" db:"merchandise"`
	UserRewardWei    *big.Int    `json:"user_reward_wei" db:"user_reward_wei"`
	CharityAmountWei *big.Int    `json:"charity_amount_wei" db:"charity_amount_wei"`
	Status           ClaimStatus `json:"status" db:"status"`
	NeedsReview      bool        `json:"needs_review" db:"needs_review"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// Key returns the record's event identity
func (r *FulfillmentRecord) Key() EventKey {
	return EventKey{TxHash: r.TxHash, LogIndex: r.LogIndex}
}
