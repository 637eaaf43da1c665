package edge

import (
	"context"
	"math/rand"
	"time"

	"github.com/iotwx/meshnet/internal/loadmodel"
	"github.com/iotwx/meshnet/internal/lora"
	"github.com/iotwx/meshnet/internal/protocol"
)

// PongPolicy holds the burst timing tunables from §4.4.
type PongPolicy struct {
	Duration        time.Duration // pong_duration, default 3s
	InitialDelayMax time.Duration // pong_initial_delay_max, default 500ms
	Interval        time.Duration // time between repeated pongs within a burst
}

// DefaultPongPolicy matches the reference gateway's send_pongs().
func DefaultPongPolicy() PongPolicy {
	return PongPolicy{
		Duration:        3 * time.Second,
		InitialDelayMax: 500 * time.Millisecond,
		Interval:        10 * time.Millisecond,
	}
}

// pongBurst emits repeated pong frames for a station over the
// transport, started after a random initial delay to reduce collision
// probability across edges answering the same ping (§4.4). It runs on
// its own goroutine so the caller's receive loop is never blocked.
// Send's transport lock keeps radio access exclusive against incoming
// traffic: a pong whose Send finds the transport busy is skipped and
// the burst continues on the next tick.
func pongBurst(ctx context.Context, tr lora.Transport, policy PongPolicy, edgeID, stationID string, model *loadmodel.Model, pingRSSI int) {
	delay := time.Duration(rand.Int63n(int64(policy.InitialDelayMax) + 1))
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	deadline := time.Now().Add(policy.Duration)
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()

	for {
		frame := protocol.NewPong(edgeID, stationID, model.Current(), pingRSSI, 0)
		data, err := frame.Encode()
		if err == nil {
			_ = tr.Send(ctx, data) // fire-and-forget: LoRa has no ack (§4.4)
		}

		if time.Now().After(deadline) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
