// File: internal/chain/source.go
package chain

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// Source is the ordered feed of confirmed burn events plus the chain
// queries the reconciliation path needs
type Source interface {
	QueryHistorical(ctx context.Context, fromBlock, toBlock uint64) ([]*models.BurnEvent, error)
	Subscribe(ctx context.Context, fromBlock uint64) (<-chan *models.BurnEvent, <-chan error, error)
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
	LatestBlock(ctx context.Context) (uint64, error)
	Close() error
}

// BurnEventSource reads NFTBurned events from the burn manager contract.
// Subscriptions are implemented by polling; plain RPC endpoints rarely
// offer log subscriptions.
type BurnEventSource struct {
	manager      Manager
	parser       *EventParser
	contractAddr common.Address
	pipelineCfg  *config.PipelineConfig
	logger       *logrus.Logger
}

// NewBurnEventSource creates an event source for the configured contract
func NewBurnEventSource(manager Manager, chainCfg *config.ChainConfig, pipelineCfg *config.PipelineConfig) (*BurnEventSource, error) {
	if !utils.IsValidAddress(chainCfg.BurnManagerAddress) {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Invalid burn manager contract address", chainCfg.BurnManagerAddress)
	}

	parser, err := NewEventParser()
	if err != nil {
		return nil, err
	}

	return &BurnEventSource{
		manager:      manager,
		parser:       parser,
		contractAddr: common.HexToAddress(chainCfg.BurnManagerAddress),
		pipelineCfg:  pipelineCfg,
		logger:       utils.GetLogger(),
	}, nil
}

// QueryHistorical returns all NFTBurned events in [fromBlock, toBlock],
// ordered by block number then log index. Large ranges are split into
// batches to stay inside node query limits.
func (s *BurnEventSource) QueryHistorical(ctx context.Context, fromBlock, toBlock uint64) ([]*models.BurnEvent, error) {
	if fromBlock > toBlock {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid block range",
			"fromBlock exceeds toBlock")
	}

	batchSize := uint64(s.pipelineCfg.BatchSize)
	if batchSize == 0 {
		batchSize = 1000
	}

	var events []*models.BurnEvent
	for start := fromBlock; start <= toBlock; {
		end := start + batchSize - 1
		if end > toBlock {
			end = toBlock
		}

		batch, err := s.queryRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)

		if end == toBlock {
			break
		}
		start = end + 1
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	return events, nil
}

func (s *BurnEventSource) queryRange(ctx context.Context, fromBlock, toBlock uint64) ([]*models.BurnEvent, error) {
	client, err := s.manager.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{s.contractAddr},
		Topics:    [][]common.Hash{{s.parser.EventID()}},
	}

	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to filter logs", err.Error())
	}

	events := make([]*models.BurnEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		event, err := s.parser.ParseLog(log)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tx_hash":   log.TxHash.Hex(),
				"log_index": log.Index,
			}).Warn("Skipping unparseable log")
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// Subscribe delivers confirmed burn events starting at fromBlock. Events
// are only emitted once they are at least ConfirmationBlocks deep. The
// channels close when ctx is cancelled.
func (s *BurnEventSource) Subscribe(ctx context.Context, fromBlock uint64) (<-chan *models.BurnEvent, <-chan error, error) {
	events := make(chan *models.BurnEvent, 64)
	errs := make(chan error, 1)

	go s.pollLoop(ctx, fromBlock, events, errs)

	return events, errs, nil
}

func (s *BurnEventSource) pollLoop(ctx context.Context, fromBlock uint64, events chan<- *models.BurnEvent, errs chan<- error) {
	defer close(events)
	defer close(errs)

	next := fromBlock
	ticker := time.NewTicker(s.pipelineCfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := s.manager.GetLatestBlockNumber(ctx)
		if err != nil {
			s.reportError(ctx, errs, err)
			continue
		}

		confirmed := confirmedHead(head, uint64(s.pipelineCfg.ConfirmationBlocks))
		if confirmed < next {
			continue
		}

		batch, err := s.QueryHistorical(ctx, next, confirmed)
		if err != nil {
			s.reportError(ctx, errs, err)
			continue
		}

		for _, event := range batch {
			select {
			case <-ctx.Done():
				return
			case events <- event:
			}
		}

		next = confirmed + 1
	}
}

func (s *BurnEventSource) reportError(ctx context.Context, errs chan<- error, err error) {
	select {
	case <-ctx.Done():
	case errs <- err:
	default:
		// The consumer is behind on errors; logging is enough
		s.logger.WithError(err).Warn("Dropping poll error, consumer busy")
	}
}

// GetBalance returns the native balance of an address at the latest block
func (s *BurnEventSource) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	client, err := s.manager.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	balance, err := client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get balance", err.Error())
	}
	return balance, nil
}

// LatestBlock returns the current chain head
func (s *BurnEventSource) LatestBlock(ctx context.Context) (uint64, error) {
	return s.manager.GetLatestBlockNumber(ctx)
}

// Close releases the underlying connection
func (s *BurnEventSource) Close() error {
	return s.manager.Close()
}

// confirmedHead clips the head to the deepest block considered final
func confirmedHead(head, confirmations uint64) uint64 {
	if head < confirmations {
		return 0
	}
	return head - confirmations
}
