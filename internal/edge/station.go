// Package edge implements the gateway side of the pipeline: the
// per-station state machine, pong burst policy, and packet routing
// described in §4.4, wired to the LoRa transport and broker client by
// Gateway.
package edge

import "time"

// State is a station's attachment state as tracked by one edge.
type State int

const (
	StateUnknown State = iota
	StatePonged
	StateAttached
	StateStale
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StatePonged:
		return "ponged"
	case StateAttached:
		return "attached"
	case StateStale:
		return "stale"
	case StateDetached:
		return "detached"
	default:
		return "invalid"
	}
}

// Station tracks one station as seen by this edge.
type Station struct {
	ID string

	State       State
	LastSeen    time.Time
	LastPingRSSI int
}

// OnPing transitions UNKNOWN -> PONGED on receipt of a ping, provided
// the edge is not overloaded (the caller is responsible for that
// check before calling this — see §4.3 Overloaded).
func (s *Station) OnPing(now time.Time, rssi int) {
	if s.State == StateUnknown || s.State == StateDetached {
		s.State = StatePonged
	}
	s.LastSeen = now
	s.LastPingRSSI = rssi
}

// OnAttachFrame transitions PONGED -> ATTACHED on the first non-ping,
// non-keep-alive frame addressed to this edge (§4.4).
func (s *Station) OnAttachFrame(now time.Time) {
	if s.State == StatePonged {
		s.State = StateAttached
	}
	s.LastSeen = now
}

// Touch records traffic from an already-attached station without
// changing its state — it also recovers a STALE station back to
// ATTACHED, since any frame is evidence of liveness.
func (s *Station) Touch(now time.Time) {
	if s.State == StateStale {
		s.State = StateAttached
	}
	s.LastSeen = now
}

// OnDisconnect transitions any state to DETACHED on an explicit D frame.
func (s *Station) OnDisconnect() {
	s.State = StateDetached
}

// Sweep applies the keep-alive and active-station timeouts (§4.4):
// ATTACHED -> STALE after keepAlive of silence, STALE -> DETACHED
// after activeTimeout of silence. Returns true if the station just
// became DETACHED (the caller should flush its sensor buffer and
// remove it).
func (s *Station) Sweep(now time.Time, keepAlive, activeTimeout time.Duration) (justDetached bool) {
	silence := now.Sub(s.LastSeen)

	switch s.State {
	case StateAttached:
		if silence > keepAlive {
			s.State = StateStale
		}
	case StateStale:
		if silence > activeTimeout {
			s.State = StateDetached
			return true
		}
	}
	return false
}
