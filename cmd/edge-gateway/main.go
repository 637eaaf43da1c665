// IoTwx Edge Gateway
// Main entry point for the edge gateway process.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iotwx/meshnet/internal/broker"
	"github.com/iotwx/meshnet/internal/config"
	"github.com/iotwx/meshnet/internal/edge"
	"github.com/iotwx/meshnet/internal/loadmodel"
	"github.com/iotwx/meshnet/internal/lora"
)

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "edge-gateway",
		Short: "IoTwx edge gateway",
		Long:  "Runs on the Pi-class gateway: owns the LoRa transport, the load model, and the station state machine.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the gateway service",
		RunE:  runGateway,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("iotwx edge-gateway v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/iotwx/edge-gateway.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.EdgeID == "" {
		return fmt.Errorf("edge_id is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, err := lora.NewConcentratordTransport(ctx, lora.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize lora transport: %w", err)
	}
	defer transport.Close()

	brokerCfg := broker.DefaultConfig()
	brokerCfg.BrokerIP = cfg.MQTT.BrokerIP
	brokerCfg.BrokerPort = cfg.MQTT.BrokerPort
	brokerCfg.ClientID = cfg.EdgeID
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

	gwCfg := edge.DefaultConfig(cfg.EdgeID)
	gwCfg.RecvTimeout = cfg.Radio.RcvTimeout
	gwCfg.OverloadThreshold = cfg.Radio.OverloadThreshold
	gwCfg.KeepAliveInterval = cfg.Radio.KeepAliveInterval
	gwCfg.ActiveTimeout = cfg.Station.ActiveStationTimeout
	gwCfg.PongPolicy = edge.PongPolicy{
		Duration:        cfg.Radio.PongDuration,
		InitialDelayMax: cfg.Radio.PongInitialDelayMax,
		Interval:        10 * time.Millisecond,
	}
	gwCfg.Weights = loadmodel.Weights{
		CPU:       cfg.Radio.WeightCPU,
		Mem:       cfg.Radio.WeightMem,
		Stations:  cfg.Radio.WeightStations,
		Midpoint:  cfg.Radio.Midpoint,
		Steepness: cfg.Radio.Steepness,
	}
	gwCfg.ReadingTopic = brokerCfg.MsgTopic

	gateway := edge.NewGateway(gwCfg, transport, brokerClient)

	if err := brokerClient.SubscribeAssignments(cfg.EdgeID, func(d broker.Directive) {
		log.Printf("edge %s: assignment directive: station=%s status=%s", cfg.EdgeID, d.StationID, d.Status)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to assignment topic: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("starting edge gateway %s", cfg.EdgeID)
	gateway.Start(ctx)

	sig := <-sigChan
	log.Printf("received signal %v, shutting down", sig)

	gateway.Stop()
	log.Println("shutdown complete")
	return nil
}
