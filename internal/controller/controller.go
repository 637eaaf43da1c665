// Package controller is the cloud controller's orchestrator: it wires
// the broker subscription, the ingestion merger, the assignment
// controller, and the batch cycle into one process with a Start/Stop
// lifecycle, mirroring the teacher's engine.Engine shape (one
// goroutine per concern, joined on a WaitGroup, torn down via a
// cancelable context).
package controller

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/iotwx/meshnet/internal/assignment"
	"github.com/iotwx/meshnet/internal/ingest"
	"github.com/iotwx/meshnet/internal/protocol"
)

// Broker is the narrow capability the controller needs from the
// message broker: wildcard-subscribe to readings.
type Broker interface {
	SubscribeReadings(handler func(topic string, payload []byte)) error
}

// Config holds the controller's liveness and batch tunables (§3 Data
// Model: station eviction after active_station_timeout, edge leaves
// after a timeout).
type Config struct {
	BatchInterval        time.Duration
	ActiveStationTimeout time.Duration
	EdgeTimeout          time.Duration
	SweepInterval        time.Duration
}

// Controller is the cloud controller orchestrator.
type Controller struct {
	cfg        Config
	broker     Broker
	merger     *ingest.Merger
	batchCycle *ingest.BatchCycle
	assignCtrl *assignment.Controller

	mu              sync.Mutex
	lastSeenEdge    map[string]time.Time
	lastSeenStation map[string]time.Time
	knownEdges      map[string]bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New wires a Controller from its already-constructed collaborators.
func New(cfg Config, broker Broker, merger *ingest.Merger, batchCycle *ingest.BatchCycle, assignCtrl *assignment.Controller) *Controller {
	return &Controller{
		cfg:             cfg,
		broker:          broker,
		merger:          merger,
		batchCycle:      batchCycle,
		assignCtrl:      assignCtrl,
		lastSeenEdge:    make(map[string]time.Time),
		lastSeenStation: make(map[string]time.Time),
		knownEdges:      make(map[string]bool),
	}
}

// Start subscribes to the readings topic and launches the batch and
// liveness-sweep loops.
func (c *Controller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.broker.SubscribeReadings(func(topic string, payload []byte) {
		c.handleMessage(ctx, topic, payload)
	}); err != nil {
		cancel()
		return err
	}

	c.wg.Add(2)
	go c.batchLoop(ctx)
	go c.livenessLoop(ctx)

	log.Println("controller started")
	return nil
}

// Stop cancels all goroutines and waits for them to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	log.Println("controller stopped")
}

func (c *Controller) handleMessage(ctx context.Context, topic string, payload []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("controller: malformed envelope on %s: %v", topic, err)
		return
	}

	stationID := env.StationID()
	if stationID == "" {
		return
	}

	now := time.Now()

	c.mu.Lock()
	c.lastSeenStation[stationID] = now
	c.mu.Unlock()

	if edgeID, ok := env["edge_id"].(string); ok && edgeID != "" {
		c.mu.Lock()
		c.lastSeenEdge[edgeID] = now
		isNew := !c.knownEdges[edgeID]
		c.knownEdges[edgeID] = true
		c.mu.Unlock()

		if isNew {
			c.assignCtrl.OnEdgeJoin(edgeID)
		}

		var rssi float64
		if v, ok := env["rssi"].(float64); ok {
			rssi = v
		}
		c.assignCtrl.OnStationJoin(ctx, stationID, map[string]float64{edgeID: rssi})
	}

	c.merger.Handle(ctx, env, now)
}

// batchLoop fires the ingestion batch cycle on a fixed interval,
// letting an in-flight iteration finish before shutdown (§5: "never
// aborts mid-iteration").
func (c *Controller) batchLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.batchCycle.Run(context.Background(), time.Now())
		}
	}
}

// livenessLoop evicts stations and edges that have gone quiet past
// their documented timeout (§3: "evicted from in-memory set after
// active_station_timeout"; "[edge] leaves after timeout"), cascading
// into the assignment controller's OnStationLeave/OnEdgeLeave.
func (c *Controller) livenessLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Controller) sweep(ctx context.Context) {
	now := time.Now()

	c.mu.Lock()
	var staleStations, staleEdges []string
	for sid, last := range c.lastSeenStation {
		if now.Sub(last) > c.cfg.ActiveStationTimeout {
			staleStations = append(staleStations, sid)
			delete(c.lastSeenStation, sid)
		}
	}
	for eid, last := range c.lastSeenEdge {
		if now.Sub(last) > c.cfg.EdgeTimeout {
			staleEdges = append(staleEdges, eid)
			delete(c.lastSeenEdge, eid)
			delete(c.knownEdges, eid)
		}
	}
	c.mu.Unlock()

	for _, sid := range staleStations {
		c.assignCtrl.OnStationLeave(ctx, sid)
	}
	for _, eid := range staleEdges {
		c.assignCtrl.OnEdgeLeave(ctx, eid)
	}
}
