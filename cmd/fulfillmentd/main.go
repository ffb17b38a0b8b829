// File: cmd/fulfillmentd/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arawrdn/fof-fulfillment-service/internal/chain"
	"github.com/arawrdn/fof-fulfillment-service/internal/charity"
	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/internal/metrics"
	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/internal/notification"
	"github.com/arawrdn/fof-fulfillment-service/internal/pipeline"
	"github.com/arawrdn/fof-fulfillment-service/internal/server"
	"github.com/arawrdn/fof-fulfillment-service/internal/storage"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the fulfillment service components together
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	connection *chain.ConnectionManager
	store      storage.Store
	source     chain.Source
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	dispatcher *notification.Dispatcher
	pipeline   *pipeline.Pipeline
	accountant *charity.Accountant
	server     *server.HTTPServer
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := app.initializeChain(); err != nil {
		return fmt.Errorf("failed to initialize chain source: %w", err)
	}

	app.registry = prometheus.NewRegistry()
	app.metrics = metrics.New(app.registry)

	notifier, err := notification.NewNotifier(&app.config.Notifications)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}
	app.dispatcher = notification.NewDispatcher(app.store, notifier, &app.config.Notifications, app.metrics)

	app.pipeline = pipeline.New(app.source, app.store, &app.config.Pipeline,
		&app.config.Notifications, app.metrics, app.dispatcher)

	app.accountant, err = charity.NewAccountant(app.source, app.store, &app.config.Charity, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create charity accountant: %w", err)
	}

	app.server = server.NewHTTPServer(&app.config.Server, app.store, app.connection, app.accountant, app.metrics, app.registry)

	app.logger.Info("All components initialized successfully")
	return nil
}

func (app *Application) initializeStorage() error {
	storageCfg := &storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	}

	store, err := storage.NewStorage(storageCfg)
	if err != nil {
		return err
	}
	if err := store.Connect(); err != nil {
		return err
	}
	if err := store.Migrate(); err != nil {
		return err
	}

	app.store = store
	return nil
}

func (app *Application) initializeChain() error {
	app.connection = chain.NewConnectionManager(&app.config.Chain)

	source, err := chain.NewBurnEventSource(app.connection, &app.config.Chain, &app.config.Pipeline)
	if err != nil {
		return err
	}
	app.source = source
	return nil
}

// Start brings up the service: API first, then the dispatcher, the
// charity ticker and finally the event pipeline
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting fulfillment service")

	// Verify the node and network ID before processing anything
	if err := app.connection.HealthCheck(app.ctx); err != nil {
		return fmt.Errorf("node health check failed: %w", err)
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.dispatcher.Start(app.ctx)

	go app.accountant.Run(app.ctx, app.config.Charity.ReportEvery)

	go func() {
		if err := app.pipeline.Run(app.ctx); err != nil && app.ctx.Err() == nil {
			app.logger.WithError(err).Fatal("Event pipeline halted")
		}
	}()

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"node_url":       app.config.Chain.NodeURL,
		"contract":       app.config.Chain.BurnManagerAddress,
	}).Info("Fulfillment service started")

	return nil
}

// Stop shuts the service down gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping fulfillment service")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.dispatcher != nil {
		app.dispatcher.Wait()
	}

	if app.source != nil {
		if err := app.source.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close chain source")
		}
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("Fulfillment service stopped")
	return nil
}

// CLI Commands

var rootCmd = &cobra.Command{
	Use:     "fulfillmentd",
	Short:   "FOF burn fulfillment service",
	Long:    `Listens for NFTBurned events, records merchandise fulfillments exactly once, and reconciles the charity wallet against recorded amounts.`,
	Version: AppVersion,
	RunE:    runService,
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// replayCmd reprocesses history from a given block. Already applied
// events are skipped by the idempotency store.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Reprocess burn events from a block",
	RunE: func(cmd *cobra.Command, args []string) error {
		fromBlock, err := cmd.Flags().GetUint64("from")
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Stop()

		fmt.Printf("Replaying burn events from block %d...\n", fromBlock)
		applied, err := app.pipeline.Replay(app.ctx, fromBlock)
		if err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}

		fmt.Printf("Replay complete: %d new records applied\n", applied)
		return nil
	},
}

// reportCmd runs one reconciliation cycle and prints the snapshot
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a charity reconciliation snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Stop()

		snapshot, err := app.accountant.GenerateSnapshot(app.ctx)
		if err != nil {
			return fmt.Errorf("reconciliation failed: %w", err)
		}

		printSnapshot(snapshot)
		return nil
	},
}

func printSnapshot(snapshot *models.CharitySnapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Snapshot ID:\t%d\n", snapshot.ID)
	fmt.Fprintf(w, "Generated at:\t%s\n", snapshot.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Observed balance (wei):\t%s\n", snapshot.ObservedBalanceWei.String())
	fmt.Fprintf(w, "Observed delta (wei):\t%s\n", snapshot.ObservedDeltaWei.String())
	fmt.Fprintf(w, "Accumulated (wei):\t%s\n", snapshot.AccumulatedWei.String())
	fmt.Fprintf(w, "Discrepancy (wei):\t%s\n", snapshot.Discrepancy().String())
	fmt.Fprintf(w, "Anomalous:\t%t\n", snapshot.Anomalous)
	w.Flush()

	if snapshot.Anomalous {
		fmt.Println("\nWARNING: discrepancy exceeds tolerance, review required")
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fulfillmentd %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Node: %s\n", cfg.Chain.NodeURL)
		fmt.Printf("Contract: %s\n", cfg.Chain.BurnManagerAddress)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Charity wallet: %s\n", cfg.Charity.WalletAddress)

		return nil
	},
}

func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	replayCmd.Flags().Uint64("from", 0, "block number to replay from")
	replayCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(reportCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
