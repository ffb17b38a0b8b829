// File: internal/chain/client.go
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// Manager defines the node connection manager interface
type Manager interface {
	GetClient(ctx context.Context) (*ethclient.Client, error)
	HealthCheck(ctx context.Context) error
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
}

// ConnectionManager implements the Manager interface
type ConnectionManager struct {
	config       *config.ChainConfig
	primaryURL   string
	backupURLs   []string
	currentIndex int
	client       *ethclient.Client
	logger       *logrus.Logger

	// mu guards client, stats, lastHealthCheck and isHealthy
	mu              sync.RWMutex
	stats           ConnectionStats
	lastHealthCheck time.Time
	isHealthy       bool
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Reconnects      uint64    `json:"reconnects"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	NetworkID       uint64    `json:"network_id"`
	LatestBlock     uint64    `json:"latest_block"`
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *config.ChainConfig) *ConnectionManager {
	return &ConnectionManager{
		config:       cfg,
		primaryURL:   cfg.NodeURL,
		backupURLs:   cfg.BackupNodes,
		currentIndex: 0,
		logger:       utils.GetLogger(),
		stats: ConnectionStats{
			CurrentURL: cfg.NodeURL,
		},
	}
}

// GetClient returns the current client, dialing on first use. Safe for
// concurrent use; the pipeline and the charity accountant share one
// manager.
func (cm *ConnectionManager) GetClient(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.RLock()
	client := cm.client
	lastCheck := cm.lastHealthCheck
	cm.mu.RUnlock()

	if client == nil {
		return cm.connect(ctx)
	}

	// Revalidate stale connections before handing them out
	if time.Since(lastCheck) > time.Minute {
		if err := cm.quickHealthCheck(ctx, client); err != nil {
			cm.logger.WithError(err).Warn("Client health check failed, reconnecting")
			return cm.reconnect(ctx)
		}
		cm.mu.Lock()
		cm.lastHealthCheck = time.Now()
		cm.mu.Unlock()
	}

	cm.mu.Lock()
	cm.stats.TotalRequests++
	cm.mu.Unlock()

	return client, nil
}

// connect establishes a new connection, rotating through backup nodes
func (cm *ConnectionManager) connect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	urls := cm.getAllURLs()

	for attempt := 0; attempt < cm.config.RetryAttempts; attempt++ {
		for i, url := range urls {
			cm.logger.WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt + 1,
			}).Info("Attempting node connection")

			client, err := cm.dialWithTimeout(ctx, url)
			if err != nil {
				cm.logger.WithError(err).WithField("url", url).Warn("Connection failed")
				cm.stats.FailedRequests++
				continue
			}

			if err := cm.quickHealthCheck(ctx, client); err != nil {
				client.Close()
				cm.logger.WithError(err).WithField("url", url).Warn("Health check failed after connection")
				continue
			}

			cm.client = client
			cm.currentIndex = i
			cm.stats.CurrentURL = url
			cm.stats.LastConnectedAt = time.Now()
			cm.stats.IsHealthy = true
			cm.isHealthy = true
			cm.lastHealthCheck = time.Now()

			cm.logger.WithField("url", url).Info("Connected to node")
			return client, nil
		}

		if attempt < cm.config.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cm.config.RetryDelay):
			}
		}
	}

	return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to connect to any node",
		"All connection attempts exhausted")
}

// reconnect drops the current connection and dials again
func (cm *ConnectionManager) reconnect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}
	cm.stats.Reconnects++
	cm.mu.Unlock()

	return cm.connect(ctx)
}

// dialWithTimeout creates a connection with timeout
func (cm *ConnectionManager) dialWithTimeout(ctx context.Context, url string) (*ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.config.RequestTimeout)
	defer cancel()

	return ethclient.DialContext(dialCtx, url)
}

// quickHealthCheck performs a quick health check
func (cm *ConnectionManager) quickHealthCheck(ctx context.Context, client *ethclient.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := client.NetworkID(checkCtx)
	return err
}

// HealthCheck verifies the node responds and serves the expected network
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	client, err := cm.GetClient(ctx)
	if err != nil {
		cm.setUnhealthy()
		return err
	}

	networkID, err := client.NetworkID(ctx)
	if err != nil {
		cm.setUnhealthy()
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to get network ID", err.Error())
	}

	expectedNetworkID := uint64(cm.config.NetworkID)
	if networkID.Uint64() != expectedNetworkID {
		cm.setUnhealthy()
		return utils.NewAppError(utils.ErrCodeConnection,
			"Network ID mismatch",
			fmt.Sprintf("expected %d, got %d", expectedNetworkID, networkID.Uint64()))
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		cm.setUnhealthy()
		return utils.NewAppError(utils.ErrCodeConnection, "Failed to get latest block", err.Error())
	}

	cm.mu.Lock()
	cm.stats.NetworkID = networkID.Uint64()
	cm.stats.LatestBlock = blockNumber
	cm.stats.LastHealthCheck = time.Now()
	cm.stats.IsHealthy = true
	cm.lastHealthCheck = time.Now()
	cm.isHealthy = true
	currentURL := cm.stats.CurrentURL
	cm.mu.Unlock()

	cm.logger.WithFields(logrus.Fields{
		"network_id":   networkID.Uint64(),
		"latest_block": blockNumber,
		"url":          currentURL,
	}).Info("Health check passed")

	return nil
}

func (cm *ConnectionManager) setUnhealthy() {
	cm.mu.Lock()
	cm.isHealthy = false
	cm.stats.IsHealthy = false
	cm.mu.Unlock()
}

// GetLatestBlockNumber returns the latest block number
func (cm *ConnectionManager) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	client, err := cm.GetClient(ctx)
	if err != nil {
		return 0, err
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get block number", err.Error())
	}

	cm.mu.Lock()
	cm.stats.LatestBlock = blockNumber
	cm.mu.Unlock()

	return blockNumber, nil
}

// IsConnected returns whether the manager is connected
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client != nil && cm.isHealthy
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}

	cm.isHealthy = false
	cm.logger.Info("Connection manager closed")
	return nil
}

// Stats returns a snapshot of the connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}

// getAllURLs returns all available URLs starting from current index
func (cm *ConnectionManager) getAllURLs() []string {
	urls := []string{cm.primaryURL}
	urls = append(urls, cm.backupURLs...)

	if cm.currentIndex > 0 && cm.currentIndex < len(urls) {
		rotated := make([]string, len(urls))
		copy(rotated, urls[cm.currentIndex:])
		copy(rotated[len(urls)-cm.currentIndex:], urls[:cm.currentIndex])
		return rotated
	}

	return urls
}
