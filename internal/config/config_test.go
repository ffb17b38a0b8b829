package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			NodeURL:            "https://ethereum-rpc.publicnode.com",
			NetworkID:          1,
			BurnManagerAddress: "0x5555555555555555555555555555555555555555",
			RequestTimeout:     30 * time.Second,
		},
		Storage: StorageConfig{
			Type:             "sqlite",
			ConnectionString: "./data/test.db",
		},
		Pipeline: PipelineConfig{
			PollInterval: 15 * time.Second,
			ReorgMargin:  12,
		},
		Charity: CharityConfig{
			WalletAddress: "0x6666666666666666666666666666666666666666",
			ToleranceWei:  "0",
		},
		Notifications: NotificationConfig{
			Enabled: true,
			Channel: "log",
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "fof-fulfillment-service", cfg.App.Name)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, uint64(12), cfg.Pipeline.ReorgMargin)
	assert.Equal(t, 6, cfg.Pipeline.ConfirmationBlocks)
	assert.Equal(t, 15*time.Second, cfg.Pipeline.PollInterval)
	assert.Equal(t, "0", cfg.Charity.ToleranceWei)
	assert.Equal(t, "log", cfg.Notifications.Channel)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateMissingContract(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.BurnManagerAddress = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateBadContractAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.BurnManagerAddress = "not-hex"
	assert.Error(t, cfg.Validate())
}

func TestValidateMissingCharityWallet(t *testing.T) {
	cfg := validConfig()
	cfg.Charity.WalletAddress = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateWebhookRequiresURL(t *testing.T) {
	cfg := validConfig()
	cfg.Notifications.Channel = "webhook"
	cfg.Notifications.WebhookURL = ""
	assert.Error(t, cfg.Validate())

	cfg.Notifications.WebhookURL = "https://example.com/hook"
	assert.NoError(t, cfg.Validate())
}

func TestValidatePollInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.PollInterval = 0
	assert.Error(t, cfg.Validate())
}
