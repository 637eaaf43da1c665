// IoTwx Cloud Controller
// Main entry point for the cloud controller process: ingests station
// readings (writing located ones to the persistence façade),
// maintains the assignment controller, and flushes the batch cycle to
// the short-lived state store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iotwx/meshnet/internal/assignment"
	"github.com/iotwx/meshnet/internal/broker"
	"github.com/iotwx/meshnet/internal/config"
	"github.com/iotwx/meshnet/internal/controller"
	"github.com/iotwx/meshnet/internal/ingest"
	"github.com/iotwx/meshnet/internal/persistence"
	"github.com/iotwx/meshnet/internal/statestore"
)

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "controller",
		Short: "IoTwx cloud controller",
		Long:  "Ingests station readings over the broker, writes them to the persistence façade, runs the assignment controller, and batches station state into the short-lived state store.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the controller service",
		RunE:  runController,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("iotwx controller v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/iotwx/controller.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Persistence.BaseURL == "" {
		return fmt.Errorf("persistence.base_url is required")
	}
	if cfg.StateStore.RedisAddr == "" {
		return fmt.Errorf("state_store.redis_addr is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerCfg := broker.DefaultConfig()
	brokerCfg.BrokerIP = cfg.MQTT.BrokerIP
	brokerCfg.BrokerPort = cfg.MQTT.BrokerPort
	brokerCfg.ClientID = "iotwx-controller"
	if cfg.MQTT.MsgTopic != "" {
		brokerCfg.MsgTopic = cfg.MQTT.MsgTopic
	}
	if cfg.MQTT.EdgeTopicTemplate != "" {
		brokerCfg.EdgeTopicTemplate = cfg.MQTT.EdgeTopicTemplate
	}

	brokerClient, err := broker.New(brokerCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer brokerClient.Close()

	persistenceCfg := persistence.DefaultConfig(cfg.Persistence.BaseURL)
	if cfg.Persistence.Timeout > 0 {
		persistenceCfg.Timeout = cfg.Persistence.Timeout
	}
	persistenceClient := persistence.New(persistenceCfg)

	rdb := newRedisClient(cfg.StateStore.RedisAddr, cfg.StateStore.RedisDB)
	defer rdb.Close()
	store := statestore.New(rdb, cfg.Station.ActiveStationTimeout)

	buffer := ingest.NewBuffer()
	merger := ingest.NewMerger(buffer, persistenceAdapter{client: persistenceClient})
	batchCycle := ingest.NewBatchCycle(buffer, stateStoreAdapter{store: store}, nil, cfg.Station.ActiveStationTimeout)

	assignCfg := assignment.Config{
		Hysteresis: cfg.Assignment.Hysteresis,
		RSSIMin:    cfg.Assignment.RSSIMin,
		RSSIMax:    cfg.Assignment.RSSIMax,
		JoinDwell:  cfg.Assignment.JoinDwell,
	}
	assignCtrl := assignment.New(assignCfg, brokerClient, nil)

	edgeTimeout := cfg.MQTT.AssignmentTimeout
	if edgeTimeout <= 0 {
		edgeTimeout = cfg.Station.ActiveStationTimeout
	}
	ctrlCfg := controller.Config{
		BatchInterval:        cfg.Station.BatchInterval,
		ActiveStationTimeout: cfg.Station.ActiveStationTimeout,
		EdgeTimeout:          edgeTimeout,
		SweepInterval:        30 * time.Second,
	}
	ctrl := controller.New(ctrlCfg, brokerClient, merger, batchCycle, assignCtrl)

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	fmt.Printf("received signal %v, shutting down\n", sig)

	ctrl.Stop()
	return nil
}
