package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BurnEvent represents an NFTBurned event as observed on chain.
// (TxHash, LogIndex) is the globally unique event identity; a finalized
// event for a given identity is immutable.
type BurnEvent struct {
	TxHash           common.Hash    `json:"tx_hash"`
	LogIndex         uint           `json:"log_index"`
	BlockNumber      uint64         `json:"block_number"`
	BlockHash        common.Hash    `json:"block_hash"`
	User             common.Address `json:"user"`
	TokenID          *big.Int       `json:"token_id"`
	Rarity           string         `json:"rarity"`
	UserRewardWei    *big.Int       `json:"user_reward_wei"`
	CharityAmountWei *big.Int       `json:"charity_amount_wei"`
}

// Key returns the durable event identity
func (e *BurnEvent) Key() EventKey {
	return EventKey{TxHash: e.TxHash.Hex(), LogIndex: e.LogIndex}
}

// EventKey identifies a single on-chain event
type EventKey struct {
	TxHash   string `json:"tx_hash"`
	LogIndex uint   `json:"log_index"`
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash, k.LogIndex)
}
