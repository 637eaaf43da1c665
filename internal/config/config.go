// Package config defines the one recognized YAML configuration schema
// (§6) shared by both binaries: mqtt/radio/station/assignment
// sections. It is loaded once at startup and never mutated at
// runtime — an invalid file is a fatal ConfigInvalid error before any
// goroutine starts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigInvalid is returned by Load/Validate for a malformed or
// incomplete configuration file (§7).
type ConfigInvalid struct {
	Reason string
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// MQTT holds the broker connection settings.
type MQTT struct {
	BrokerIP          string        `yaml:"broker_ip"`
	BrokerPort        int           `yaml:"broker_port"`
	MsgTopic          string        `yaml:"msg_topic"`
	EdgeTopicTemplate string        `yaml:"edge_topic_template"`
	AssignmentTimeout time.Duration `yaml:"assignment_timeout"`
}

// Radio holds the edge gateway's LoRa and load-model tunables.
type Radio struct {
	RcvTimeout          time.Duration `yaml:"rcv_timeout"`
	OverloadThreshold   float64       `yaml:"overload_threshold"`
	KeepAliveInterval   time.Duration `yaml:"keep_alive_interval"`
	PongDuration        time.Duration `yaml:"pong_duration"`
	PongInitialDelayMax time.Duration `yaml:"pong_initial_delay_max"`
	WeightCPU           float64       `yaml:"weight_cpu"`
	WeightMem           float64       `yaml:"weight_mem"`
	WeightStations      float64       `yaml:"weight_stations"`
	Midpoint            float64       `yaml:"midpoint"`
	Steepness           float64       `yaml:"steepness"`
}

// Station holds the controller's station lifecycle tunables.
type Station struct {
	ActiveStationTimeout time.Duration `yaml:"active_station_timeout"`
	BatchInterval        time.Duration `yaml:"batch_interval"`
}

// Assignment holds the assignment controller's scoring tunables.
type Assignment struct {
	Hysteresis float64 `yaml:"hysteresis"`
	RSSIMin    float64 `yaml:"rssi_min"`
	RSSIMax    float64 `yaml:"rssi_max"`
	JoinDwell  float64 `yaml:"join_dwell"`
}

// Persistence holds the persistence façade's endpoint.
type Persistence struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StateStore holds the short-lived state store's connection.
type StateStore struct {
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// Config is the frozen, validated configuration for both binaries.
// Each process reads only the sections it needs.
type Config struct {
	EdgeID      string      `yaml:"edge_id"`
	MQTT        MQTT        `yaml:"mqtt"`
	Radio       Radio       `yaml:"radio"`
	Station     Station     `yaml:"station"`
	Assignment  Assignment  `yaml:"assignment"`
	Persistence Persistence `yaml:"persistence"`
	StateStore  StateStore  `yaml:"state_store"`
}

// Default returns a Config populated with every tunable's documented
// default (§4.3, §4.4, §4.6, §4.7, §6).
func Default() Config {
	return Config{
		MQTT: MQTT{
			BrokerPort:        1883,
			MsgTopic:          "iotwx/%s",
			EdgeTopicTemplate: "edge/%s/assignments",
			AssignmentTimeout: 30 * time.Second,
		},
		Radio: Radio{
			RcvTimeout:          2 * time.Second,
			OverloadThreshold:   0.85,
			KeepAliveInterval:   60 * time.Second,
			PongDuration:        3 * time.Second,
			PongInitialDelayMax: 500 * time.Millisecond,
			WeightCPU:           0.4,
			WeightMem:           0.3,
			WeightStations:      0.3,
			Midpoint:            5,
			Steepness:           1,
		},
		Station: Station{
			ActiveStationTimeout: 5 * time.Minute,
			BatchInterval:        30 * time.Second,
		},
		Assignment: Assignment{
			Hysteresis: 0.1,
			RSSIMin:    -120,
			RSSIMax:    -30,
			JoinDwell:  5,
		},
		Persistence: Persistence{
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads and parses a YAML config file, applying Default() first
// so unset fields keep their documented defaults, then validates it.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, &ConfigInvalid{Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on a configuration that cannot possibly run
// (§7 ConfigInvalid). It checks that mqtt.broker_ip is set,
// mqtt.broker_port is positive, radio.overload_threshold is in (0,1],
// assignment.rssi_min is below assignment.rssi_max, and both station
// durations are positive; other fields are not checked.
func (c Config) Validate() error {
	if c.MQTT.BrokerIP == "" {
		return &ConfigInvalid{Reason: "mqtt.broker_ip is required"}
	}
	if c.MQTT.BrokerPort <= 0 {
		return &ConfigInvalid{Reason: "mqtt.broker_port must be positive"}
	}
	if c.Radio.OverloadThreshold <= 0 || c.Radio.OverloadThreshold > 1 {
		return &ConfigInvalid{Reason: "radio.overload_threshold must be in (0,1]"}
	}
	if c.Assignment.RSSIMin >= c.Assignment.RSSIMax {
		return &ConfigInvalid{Reason: "assignment.rssi_min must be less than assignment.rssi_max"}
	}
	if c.Station.ActiveStationTimeout <= 0 {
		return &ConfigInvalid{Reason: "station.active_station_timeout must be positive"}
	}
	if c.Station.BatchInterval <= 0 {
		return &ConfigInvalid{Reason: "station.batch_interval must be positive"}
	}
	return nil
}
