package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Chain         ChainConfig        `mapstructure:"chain"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Pipeline      PipelineConfig     `mapstructure:"pipeline"`
	Charity       CharityConfig      `mapstructure:"charity"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains blockchain connection configuration
type ChainConfig struct {
	NodeURL            string        `mapstructure:"node_url"`
	NetworkID          int           `mapstructure:"network_id"`
	BackupNodes        []string      `mapstructure:"backup_nodes"`
	BurnManagerAddress string        `mapstructure:"burn_manager_address"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// PipelineConfig contains event pipeline configuration
type PipelineConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	ConfirmationBlocks int           `mapstructure:"confirmation_blocks"`
	ReorgMargin        uint64        `mapstructure:"reorg_margin"`
	StartBlock         uint64        `mapstructure:"start_block"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
}

// CharityConfig contains charity reconciliation configuration
type CharityConfig struct {
	WalletAddress string        `mapstructure:"wallet_address"`
	ToleranceWei  string        `mapstructure:"tolerance_wei"`
	ReportEvery   time.Duration `mapstructure:"report_every"` // 0 disables the internal ticker
}

// NotificationConfig contains claim-notification configuration
type NotificationConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Channel       string        `mapstructure:"channel"` // webhook, log
	WebhookURL    string        `mapstructure:"webhook_url"`
	ClaimURL      string        `mapstructure:"claim_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	DispatchEvery time.Duration `mapstructure:"dispatch_every"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("FOF_FULFILLMENT")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if nodeURL := os.Getenv("CHAIN_NODE_URL"); nodeURL != "" {
		config.Chain.NodeURL = nodeURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "fof-fulfillment-service")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Chain defaults
	viper.SetDefault("chain.node_url", "https://ethereum-rpc.publicnode.com")
	viper.SetDefault("chain.network_id", 1)
	viper.SetDefault("chain.request_timeout", "30s")
	viper.SetDefault("chain.retry_attempts", 3)
	viper.SetDefault("chain.retry_delay", "5s")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/fulfillment.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Pipeline defaults
	viper.SetDefault("pipeline.poll_interval", "15s")
	viper.SetDefault("pipeline.batch_size", 1000)
	viper.SetDefault("pipeline.confirmation_blocks", 6)
	viper.SetDefault("pipeline.reorg_margin", 12)
	viper.SetDefault("pipeline.start_block", 0)
	viper.SetDefault("pipeline.retry_attempts", 3)
	viper.SetDefault("pipeline.retry_delay", "5s")

	// Charity defaults (domain cadence is every two months; the external
	// scheduler drives this, the internal ticker is off by default)
	viper.SetDefault("charity.tolerance_wei", "0")
	viper.SetDefault("charity.report_every", "0")

	// Notification defaults
	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.channel", "log")
	viper.SetDefault("notifications.timeout", "30s")
	viper.SetDefault("notifications.retry_attempts", 3)
	viper.SetDefault("notifications.retry_delay", "10s")
	viper.SetDefault("notifications.dispatch_every", "30s")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.NodeURL == "" {
		return fmt.Errorf("chain node URL is required")
	}
	if c.Chain.BurnManagerAddress == "" {
		return fmt.Errorf("burn manager contract address is required")
	}
	if !utils.IsValidAddress(c.Chain.BurnManagerAddress) {
		return fmt.Errorf("burn manager contract address is not a valid address: %s", c.Chain.BurnManagerAddress)
	}
	if c.Charity.WalletAddress == "" {
		return fmt.Errorf("charity wallet address is required")
	}
	if !utils.IsValidAddress(c.Charity.WalletAddress) {
		return fmt.Errorf("charity wallet address is not a valid address: %s", c.Charity.WalletAddress)
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("pipeline poll interval must be positive")
	}
	if c.Notifications.Enabled && c.Notifications.Channel == "webhook" && c.Notifications.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required when the webhook channel is enabled")
	}
	return nil
}
