// File: internal/chain/parser.go
package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// NFTBurnedABI is the fragment of the burn manager contract this service
// listens to. The user and token id are indexed; rarity and amounts ride
// in the data section.
const NFTBurnedABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true,  "internalType": "address", "name": "user",             "type": "address"},
		{"indexed": true,  "internalType": "uint256", "name": "tokenId",          "type": "uint256"},
		{"indexed": false, "internalType": "string",  "name": "rarity",           "type": "string"},
		{"indexed": false, "internalType": "uint256", "name": "userRewardWei",    "type": "uint256"},
		{"indexed": false, "internalType": "uint256", "name": "charityAmountWei", "type": "uint256"}
	],
	"name": "NFTBurned",
	"type": "event"
}]`

// EventParser decodes NFTBurned logs into burn events
type EventParser struct {
	contractABI abi.ABI
	eventID     common.Hash
	logger      *logrus.Logger
}

// NewEventParser creates a parser for the burn manager event
func NewEventParser() (*EventParser, error) {
	parsedABI, err := abi.JSON(strings.NewReader(NFTBurnedABI))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Failed to parse NFTBurned ABI", err.Error())
	}

	event, ok := parsedABI.Events["NFTBurned"]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "NFTBurned event missing from ABI", "")
	}

	return &EventParser{
		contractABI: parsedABI,
		eventID:     event.ID,
		logger:      utils.GetLogger(),
	}, nil
}

// EventID returns the topic hash of the NFTBurned event
func (ep *EventParser) EventID() common.Hash {
	return ep.eventID
}

// Matches reports whether a log is an NFTBurned emission
func (ep *EventParser) Matches(log types.Log) bool {
	return len(log.Topics) > 0 && log.Topics[0] == ep.eventID
}

// ParseLog decodes a single NFTBurned log
func (ep *EventParser) ParseLog(log types.Log) (*models.BurnEvent, error) {
	if !ep.Matches(log) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Log is not an NFTBurned event",
			log.TxHash.Hex())
	}
	if len(log.Topics) < 3 {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "NFTBurned log missing indexed topics",
			log.TxHash.Hex())
	}

	var data struct {
		Rarity           string
		UserRewardWei    *big.Int
		CharityAmountWei *big.Int
	}
	if err := ep.contractABI.UnpackIntoInterface(&data, "NFTBurned", log.Data); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Failed to unpack NFTBurned data", err.Error())
	}

	return &models.BurnEvent{
		TxHash:           log.TxHash,
		LogIndex:         uint(log.Index),
		BlockNumber:      log.BlockNumber,
		BlockHash:        log.BlockHash,
		User:             common.BytesToAddress(log.Topics[1].Bytes()),
		TokenID:          new(big.Int).SetBytes(log.Topics[2].Bytes()),
		Rarity:           data.Rarity,
		UserRewardWei:    data.UserRewardWei,
		CharityAmountWei: data.CharityAmountWei,
	}, nil
}
