package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packedBurnLog(t *testing.T, parser *EventParser, user common.Address, tokenID *big.Int, rarity string, reward, charityAmount *big.Int) types.Log {
	t.Helper()

	data, err := parser.contractABI.Events["NFTBurned"].Inputs.NonIndexed().Pack(rarity, reward, charityAmount)
	require.NoError(t, err)

	return types.Log{
		Address: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Topics: []common.Hash{
			parser.EventID(),
			common.BytesToHash(user.Bytes()),
			common.BigToHash(tokenID),
		},
		Data:        data,
		BlockNumber: 1234,
		TxHash:      common.HexToHash("0xdead"),
		Index:       3,
		BlockHash:   common.HexToHash("0xbeef"),
	}
}

func TestParseLog(t *testing.T) {
	parser, err := NewEventParser()
	require.NoError(t, err)

	user := common.HexToAddress("0x4444444444444444444444444444444444444444")
	log := packedBurnLog(t, parser, user, big.NewInt(77), "Elite", big.NewInt(1000), big.NewInt(500))

	event, err := parser.ParseLog(log)
	require.NoError(t, err)

	assert.Equal(t, log.TxHash, event.TxHash)
	assert.Equal(t, uint(3), event.LogIndex)
	assert.Equal(t, uint64(1234), event.BlockNumber)
	assert.Equal(t, user, event.User)
	assert.Equal(t, 0, event.TokenID.Cmp(big.NewInt(77)))
	assert.Equal(t, "Elite", event.Rarity)
	assert.Equal(t, 0, event.UserRewardWei.Cmp(big.NewInt(1000)))
	assert.Equal(t, 0, event.CharityAmountWei.Cmp(big.NewInt(500)))
}

func TestParseLogUnknownRarityPassesThrough(t *testing.T) {
	parser, err := NewEventParser()
	require.NoError(t, err)

	user := common.HexToAddress("0x4444444444444444444444444444444444444444")
	log := packedBurnLog(t, parser, user, big.NewInt(1), "Mythic", big.NewInt(0), big.NewInt(0))

	// The parser does not judge rarity values; that is a pipeline concern
	event, err := parser.ParseLog(log)
	require.NoError(t, err)
	assert.Equal(t, "Mythic", event.Rarity)
}

func TestParseLogRejectsForeignTopic(t *testing.T) {
	parser, err := NewEventParser()
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{common.HexToHash("0x01")},
	}

	assert.False(t, parser.Matches(log))
	_, err = parser.ParseLog(log)
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	parser, err := NewEventParser()
	require.NoError(t, err)

	assert.True(t, parser.Matches(types.Log{Topics: []common.Hash{parser.EventID()}}))
	assert.False(t, parser.Matches(types.Log{}))
}
