package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    ClaimStatus
		to      ClaimStatus
		allowed bool
	}{
		{StatusPendingClaim, StatusClaimed, true},
		{StatusPendingClaim, StatusCancelled, true},
		{StatusPendingClaim, StatusShipped, false},
		{StatusClaimed, StatusShipped, true},
		{StatusClaimed, StatusCancelled, true},
		{StatusClaimed, StatusPendingClaim, false},
		{StatusShipped, StatusCancelled, false},
		{StatusShipped, StatusClaimed, false},
		{StatusCancelled, StatusPendingClaim, false},
		{StatusCancelled, StatusClaimed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(StatusPendingClaim))
	assert.False(t, IsTerminal(StatusClaimed))
	assert.True(t, IsTerminal(StatusShipped))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(ClaimStatus("BOGUS")))
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus(StatusPendingClaim))
	assert.True(t, IsValidStatus(StatusShipped))
	assert.False(t, IsValidStatus(ClaimStatus("DELIVERED")))
}

func TestEventKeyString(t *testing.T) {
	key := EventKey{TxHash: "0xabc", LogIndex: 7}
	assert.Equal(t, "0xabc:7", key.String())
}
