package models

import (
	"math/big"
	"time"
)

// CharitySnapshot is one reconciliation cycle over the charity-collection
// wallet. ObservedBalanceWei is on-chain ground truth; AccumulatedWei is the
// service's expectation from event sums. Snapshot history is append-only.
type CharitySnapshot struct {
	ID                 int64     `json:"id" db:"id"`
	ObservedBalanceWei *big.Int  `json:"observed_balance_wei" db:"observed_balance_wei"`
	ObservedDeltaWei   *big.Int  `json:"observed_delta_wei" db:"observed_delta_wei"`
	AccumulatedWei     *big.Int  `json:"accumulated_wei" db:"accumulated_wei"`
	Anomalous          bool      `json:"anomalous" db:"anomalous"`
	GeneratedAt        time.Time `json:"generated_at" db:"generated_at"`
}

// Discrepancy returns |ObservedDeltaWei - AccumulatedWei|
func (s *CharitySnapshot) Discrepancy() *big.Int {
	diff := new(big.Int).Sub(s.ObservedDeltaWei, s.AccumulatedWei)
	return diff.Abs(diff)
}
