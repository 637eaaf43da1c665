package edge

import (
	"testing"
	"time"
)

func TestStationLifecycle(t *testing.T) {
	t0 := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	st := &Station{ID: "stn-1"}

	st.OnPing(t0, -80)
	if st.State != StatePonged {
		t.Fatalf("after ping: state = %v, want PONGED", st.State)
	}

	st.OnAttachFrame(t0.Add(time.Second))
	if st.State != StateAttached {
		t.Fatalf("after attach frame: state = %v, want ATTACHED", st.State)
	}

	keepAlive := 60 * time.Second
	activeTimeout := 5 * time.Minute

	if st.Sweep(t0.Add(30*time.Second), keepAlive, activeTimeout) {
		t.Fatalf("sweep fired too early")
	}
	if st.State != StateAttached {
		t.Fatalf("state changed prematurely: %v", st.State)
	}

	if st.Sweep(t0.Add(2*time.Minute), keepAlive, activeTimeout) {
		t.Fatalf("sweep should transition to STALE, not DETACHED, yet")
	}
	if st.State != StateStale {
		t.Fatalf("after keep-alive timeout: state = %v, want STALE", st.State)
	}

	if !st.Sweep(t0.Add(10*time.Minute), keepAlive, activeTimeout) {
		t.Fatalf("sweep should report DETACHED after active timeout")
	}
	if st.State != StateDetached {
		t.Fatalf("after active timeout: state = %v, want DETACHED", st.State)
	}
}

func TestStationRecoversFromStaleOnTraffic(t *testing.T) {
	t0 := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	st := &Station{ID: "stn-1", State: StateStale, LastSeen: t0}

	st.Touch(t0.Add(time.Second))
	if st.State != StateAttached {
		t.Fatalf("Touch did not recover STALE station: %v", st.State)
	}
}

func TestStationDisconnectFromAnyState(t *testing.T) {
	for _, s := range []State{StateUnknown, StatePonged, StateAttached, StateStale} {
		st := &Station{ID: "stn-1", State: s}
		st.OnDisconnect()
		if st.State != StateDetached {
			t.Fatalf("OnDisconnect from %v did not reach DETACHED", s)
		}
	}
}

func TestRoute(t *testing.T) {
	cases := []struct {
		name         string
		to           string
		hasTo        bool
		allowRelay   bool
		attachedHere bool
		want         RoutingDecision
	}{
		{"addressed here", "edge-1", true, false, false, RouteAccept},
		{"addressed elsewhere", "edge-2", true, false, false, RouteDrop},
		{"no target, relay allowed", "", false, true, false, RouteAccept},
		{"no target, attached here", "", false, false, true, RouteAccept},
		{"no target, neither", "", false, false, false, RouteDrop},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Route("edge-1", tc.to, tc.hasTo, tc.allowRelay, tc.attachedHere)
			if got != tc.want {
				t.Fatalf("Route() = %v, want %v", got, tc.want)
			}
		})
	}
}
