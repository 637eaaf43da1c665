// Package broker wraps an MQTT client for the pipeline's two
// publish/subscribe needs (§4.5): at-least-once delivery, automatic
// reconnect through paho's own retry loop, and the two topic families
// named in §6.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/iotwx/meshnet/internal/backoff"
)

const qosAtLeastOnce = 1

// Config holds the broker connection and topic settings (§6).
type Config struct {
	BrokerIP            string
	BrokerPort          int
	ClientID            string
	MsgTopic            string // template, e.g. "iotwx/%s"
	EdgeTopicTemplate   string // template, e.g. "edge/%s/assignments"
	AssignmentTimeout   time.Duration
	ReconnectBackoff    backoff.Config // only Initial and Max are used; see New
}

// DefaultConfig matches the spec's defaults.
func DefaultConfig() Config {
	return Config{
		BrokerPort:        1883,
		MsgTopic:          "iotwx/%s",
		EdgeTopicTemplate: "edge/%s/assignments",
		AssignmentTimeout: 30 * time.Second,
		ReconnectBackoff: backoff.Config{
			Initial:    30 * time.Second,
			Max:        5 * time.Minute,
			Multiplier: 2.0,
			Jitter:     0.25,
		},
	}
}

// Directive is the JSON shape published on an edge's assignment topic (§6).
type Directive struct {
	StationID string `json:"station_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Client wraps a paho MQTT client. It satisfies edge.Publisher and
// assignment.Publisher so both the gateway and controller processes
// can depend on the broker through those narrow interfaces.
type Client struct {
	cfg    Config
	client mqtt.Client
}

// New connects to the broker. The underlying paho client manages its
// own reconnect loop once AutoReconnect is set, and the connection-lost
// handler logs drops. ReconnectBackoff.Initial becomes paho's
// connect-retry interval and ReconnectBackoff.Max its maximum
// reconnect interval; Multiplier and Jitter are not passed to paho, so
// reconnect delays are not jittered.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.BrokerIP, cfg.BrokerPort))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.ReconnectBackoff.Initial)
	opts.SetMaxReconnectInterval(cfg.ReconnectBackoff.Max)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Printf("broker: connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("broker: connected to %s:%d", cfg.BrokerIP, cfg.BrokerPort)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("broker: initial connect: %w", token.Error())
	}

	return &Client{cfg: cfg, client: client}, nil
}

// Publish sends payload on topic at QoS 1 (§4.5 at-least-once).
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	token := c.client.Publish(topic, qosAtLeastOnce, false, payload)
	token.Wait()
	return token.Error()
}

// PublishDirective publishes an assignment directive to
// edge/{edge_id}/assignments (§6).
func (c *Client) PublishDirective(ctx context.Context, edgeID, stationID, status string) error {
	topic := fmt.Sprintf(c.cfg.EdgeTopicTemplate, edgeID)
	payload, err := json.Marshal(Directive{
		StationID: stationID,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode directive: %w", err)
	}
	return c.Publish(ctx, topic, payload)
}

// SubscribeAssignments subscribes the edge to its own assignment topic.
func (c *Client) SubscribeAssignments(edgeID string, handler func(Directive)) error {
	topic := fmt.Sprintf(c.cfg.EdgeTopicTemplate, edgeID)
	token := c.client.Subscribe(topic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		var d Directive
		if err := json.Unmarshal(msg.Payload(), &d); err != nil {
			log.Printf("broker: malformed directive on %s: %v", topic, err)
			return
		}
		handler(d)
	})
	token.Wait()
	return token.Error()
}

// SubscribeReadings subscribes the controller to every station's
// reading topic via the MQTT wildcard (§4.5).
func (c *Client) SubscribeReadings(handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe("iotwx/#", qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Close disconnects cleanly, waiting up to 250ms for in-flight work.
func (c *Client) Close() {
	c.client.Disconnect(250)
}
