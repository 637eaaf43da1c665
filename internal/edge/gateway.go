package edge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iotwx/meshnet/internal/loadmodel"
	"github.com/iotwx/meshnet/internal/lora"
	"github.com/iotwx/meshnet/internal/protocol"
)

// Publisher is the narrow broker capability Gateway needs: publish a
// reading/station-info envelope, at-least-once (§4.5).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// AssignmentDirective is a cloud-to-edge message on
// `edge/{edge_id}/assignments` (§6).
type AssignmentDirective struct {
	StationID string `json:"station_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Config holds the edge gateway's runtime tunables (§6 radio.* keys).
type Config struct {
	EdgeID            string
	RecvTimeout       time.Duration
	OverloadThreshold float64
	KeepAliveInterval time.Duration
	ActiveTimeout     time.Duration
	PongPolicy        PongPolicy
	Weights           loadmodel.Weights
	ReadingTopic      string // template, e.g. "iotwx/%s"
}

// DefaultConfig matches the defaults named across §4.3/§4.4/§6.
func DefaultConfig(edgeID string) Config {
	return Config{
		EdgeID:            edgeID,
		RecvTimeout:       2 * time.Second,
		OverloadThreshold: 0.85,
		KeepAliveInterval: 60 * time.Second,
		ActiveTimeout:     5 * time.Minute,
		PongPolicy:        DefaultPongPolicy(),
		Weights:           loadmodel.DefaultWeights(),
		ReadingTopic:      "iotwx/%s",
	}
}

// Gateway is the edge process's orchestrator: it owns the radio
// receive loop, the per-station state machine, the load model, and
// publishes accepted frames to the broker. Its Start/Stop shape
// mirrors a cooperative-task engine: one goroutine per concern,
// joined on a WaitGroup and torn down via a cancelable context.
type Gateway struct {
	cfg       Config
	transport lora.Transport
	publisher Publisher
	model     *loadmodel.Model

	mu         sync.Mutex
	stations   map[string]*Station
	routeDrops int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewGateway wires a transport and a broker publisher into a Gateway.
func NewGateway(cfg Config, transport lora.Transport, publisher Publisher) *Gateway {
	return &Gateway{
		cfg:       cfg,
		transport: transport,
		publisher: publisher,
		model:     loadmodel.New(cfg.Weights, cfg.OverloadThreshold, 30*time.Second),
		stations:  make(map[string]*Station),
	}
}

// Start launches the receive loop and the keep-alive ticker.
func (g *Gateway) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.wg.Add(2)
	go g.receiveLoop(ctx)
	go g.keepAliveLoop(ctx)

	log.Printf("edge gateway %s started", g.cfg.EdgeID)
}

// Stop cancels all goroutines and waits for them to exit.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	log.Printf("edge gateway %s stopped", g.cfg.EdgeID)
}

func (g *Gateway) receiveLoop(ctx context.Context) {
	defer g.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		recv, ok, err := g.transport.Recv(ctx, g.cfg.RecvTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// TransportBusy or a transient radio error: retry next tick.
			continue
		}
		if !ok {
			continue
		}

		g.handleFrame(ctx, recv.Data, recv.RSSI)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, data []byte, rssi int) {
	frame, err := protocol.Decode(data)
	if err != nil {
		// MalformedFrame: drop and continue (§7).
		return
	}

	stationID := frame.ID()
	now := time.Now()

	switch frame.Type() {
	case protocol.FrameTypePing:
		g.handlePing(ctx, stationID, now, rssi)
		return
	case protocol.FrameTypeDisconnect:
		g.mu.Lock()
		if st, ok := g.stations[stationID]; ok {
			st.OnDisconnect()
		}
		g.mu.Unlock()
		return
	case protocol.FrameTypeKeepAlive:
		// Edges emit keep-alives, they don't consume them from stations.
		return
	}

	to, hasTo := frame.Target()
	allowRelay := frame.AllowRelay()

	g.mu.Lock()
	st, attachedHere := g.stations[stationID]
	isAttached := attachedHere && st.State == StateAttached
	decision := Route(g.cfg.EdgeID, to, hasTo, allowRelay, isAttached)
	if decision == RouteAccept {
		if st == nil {
			st = &Station{ID: stationID, State: StatePonged}
			g.stations[stationID] = st
		}
		st.OnAttachFrame(now)
		st.Touch(now)
	} else {
		g.routeDrops++
	}
	g.mu.Unlock()

	if decision == RouteDrop {
		return
	}

	env := protocol.Expand(frame, rssi, now)
	env["edge_id"] = g.cfg.EdgeID
	payload, err := env.Encode()
	if err != nil {
		return
	}

	topic := fmt.Sprintf(g.cfg.ReadingTopic, stationID)
	if err := g.publisher.Publish(ctx, topic, payload); err != nil {
		// BrokerUnavailable: enqueue-drop, no unbounded buffering (§7).
		log.Printf("edge %s: publish to %s failed: %v", g.cfg.EdgeID, topic, err)
	}
}

func (g *Gateway) handlePing(ctx context.Context, stationID string, now time.Time, rssi int) {
	if g.model.Overloaded() {
		return // REFUSE new pings while overloaded (§4.3)
	}

	g.mu.Lock()
	st, ok := g.stations[stationID]
	if !ok {
		st = &Station{ID: stationID}
		g.stations[stationID] = st
	}
	st.OnPing(now, rssi)
	n := len(g.stations)
	g.mu.Unlock()

	g.model.Update(now, loadmodel.Sample{StationCount: n})

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		pongBurst(ctx, g.transport, g.cfg.PongPolicy, g.cfg.EdgeID, stationID, g.model, rssi)
	}()
}

func (g *Gateway) keepAliveLoop(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepAndPing(ctx)
		}
	}
}

func (g *Gateway) sweepAndPing(ctx context.Context) {
	now := time.Now()

	g.mu.Lock()
	attached := make([]string, 0, len(g.stations))
	for id, st := range g.stations {
		if st.Sweep(now, g.cfg.KeepAliveInterval, g.cfg.ActiveTimeout) {
			delete(g.stations, id) // DETACHED: remove, caller flushes via the broker merger downstream
			continue
		}
		if st.State == StateAttached {
			attached = append(attached, id)
		}
	}
	g.mu.Unlock()

	for _, id := range attached {
		frame := protocol.NewKeepAlive(g.cfg.EdgeID, id)
		data, err := frame.Encode()
		if err != nil {
			continue
		}
		if err := g.transport.Send(ctx, data); err != nil {
			log.Printf("edge %s: keep-alive to %s failed: %v", g.cfg.EdgeID, id, err)
		}
	}
}

// Snapshot returns a copy of the current station states, for status
// reporting and tests.
func (g *Gateway) Snapshot() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]State, len(g.stations))
	for id, st := range g.stations {
		out[id] = st.State
	}
	return out
}

// RouteDrops returns the count of frames dropped by routing (§4.4: a
// packet addressed to a different edge is "dropped, with counter
// increment").
func (g *Gateway) RouteDrops() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.routeDrops
}
