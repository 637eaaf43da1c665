package assignment

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Publisher emits the two directive kinds named in §4.7/§6.
type Publisher interface {
	PublishDirective(ctx context.Context, edgeID, stationID, status string) error
}

// stationView is a station as tracked by the controller: the
// reachability row (§3 "station → {edge: rssi}"). Dwell state lives
// in pendingFirstSeen/pendingSeenBy until the station has joined.
type stationView struct {
	id     string
	seenBy map[string]float64
}

// Controller is the assignment controller (§4.7): it owns the
// reachability graph, the previous/current AssignmentMap, and emits
// directives on every change.
type Controller struct {
	cfg       Config
	publisher Publisher
	now       func() time.Time

	mu         sync.Mutex
	stations   map[string]*stationView
	edges      map[string]struct{}
	assignment map[string]string // station id -> edge id, absent = unassigned

	pendingFirstSeen map[string]time.Time
	pendingSeenBy    map[string]map[string]float64
}

// New constructs a Controller. now defaults to time.Now if nil.
func New(cfg Config, publisher Publisher, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		cfg:              cfg,
		publisher:        publisher,
		now:              now,
		stations:         make(map[string]*stationView),
		edges:            make(map[string]struct{}),
		assignment:       make(map[string]string),
		pendingFirstSeen: make(map[string]time.Time),
		pendingSeenBy:    make(map[string]map[string]float64),
	}
}

// OnEdgeJoin registers a new edge as available for assignment.
func (c *Controller) OnEdgeJoin(edgeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edges[edgeID] = struct{}{}
}

// OnEdgeLeave removes an edge, orphans its assigned stations, strips
// the edge from their reachability rows, and greedily re-assigns each
// orphan (§4.7: "stations orphaned by the departure are re-assigned
// greedily").
func (c *Controller) OnEdgeLeave(ctx context.Context, edgeID string) {
	c.mu.Lock()

	if _, ok := c.edges[edgeID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.edges, edgeID)

	var orphans []string
	for sid, eid := range c.assignment {
		if eid == edgeID {
			orphans = append(orphans, sid)
		}
	}
	sort.Strings(orphans)

	for _, sid := range orphans {
		if sv, ok := c.stations[sid]; ok {
			delete(sv.seenBy, edgeID)
		}
	}

	changes := make(map[string][2]string, len(orphans))
	for _, sid := range orphans {
		old := c.assignment[sid]
		delete(c.assignment, sid)
		if sv, ok := c.stations[sid]; ok {
			c.assignGreedyLocked(sid, sv)
		}
		changes[sid] = [2]string{old, c.assignment[sid]}
	}

	c.mu.Unlock()

	c.emitDiffs(ctx, changes)
}

// OnStationJoin handles one observation of a station (§4.7 dwell
// gating): the station is held pending until it has been observed for
// at least join_dwell seconds, then assigned greedily. Once a station
// has fully joined, subsequent calls refresh its reachability row and
// re-run the greedy assignment to keep it current (mirroring the
// reference's behavior of calling assign on every later message).
func (c *Controller) OnStationJoin(ctx context.Context, stationID string, seenBy map[string]float64) {
	now := c.now()

	c.mu.Lock()

	filtered := c.filterReachableLocked(seenBy)

	if sv, ok := c.stations[stationID]; ok {
		sv.seenBy = mergeSeenBy(sv.seenBy, filtered)
		old := c.assignment[stationID]
		c.assignGreedyLocked(stationID, sv)
		newEdge := c.assignment[stationID]
		c.mu.Unlock()
		if old != newEdge {
			c.emitDiffs(ctx, map[string][2]string{stationID: {old, newEdge}})
		}
		return
	}

	firstSeen, pending := c.pendingFirstSeen[stationID]
	if !pending {
		c.pendingFirstSeen[stationID] = now
		c.pendingSeenBy[stationID] = filtered
		c.mu.Unlock()
		return
	}
	c.pendingSeenBy[stationID] = mergeSeenBy(c.pendingSeenBy[stationID], filtered)

	if now.Sub(firstSeen).Seconds() < c.cfg.JoinDwell {
		c.mu.Unlock()
		return
	}

	sv := &stationView{id: stationID, seenBy: c.pendingSeenBy[stationID]}
	c.stations[stationID] = sv
	delete(c.pendingFirstSeen, stationID)
	delete(c.pendingSeenBy, stationID)

	c.assignGreedyLocked(stationID, sv)
	newEdge := c.assignment[stationID]
	c.mu.Unlock()

	if newEdge != "" {
		c.emitDiffs(ctx, map[string][2]string{stationID: {"", newEdge}})
	}
}

// OnStationLeave removes a station entirely.
func (c *Controller) OnStationLeave(ctx context.Context, stationID string) {
	c.mu.Lock()
	old, had := c.assignment[stationID]
	delete(c.assignment, stationID)
	delete(c.stations, stationID)
	delete(c.pendingFirstSeen, stationID)
	delete(c.pendingSeenBy, stationID)
	c.mu.Unlock()

	if had && old != "" {
		c.emitDiffs(ctx, map[string][2]string{stationID: {old, ""}})
	}
}

func (c *Controller) filterReachableLocked(seenBy map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(seenBy))
	for eid, rssi := range seenBy {
		if _, ok := c.edges[eid]; ok {
			out[eid] = rssi
		}
	}
	return out
}

func mergeSeenBy(a, b map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// assignedCountLocked returns how many stations are currently assigned
// to edgeID, excluding exclude (so a station being re-scored does not
// count itself).
func (c *Controller) assignedCountLocked(edgeID, exclude string) int {
	n := 0
	for sid, eid := range c.assignment {
		if eid == edgeID && sid != exclude {
			n++
		}
	}
	return n
}

// assignGreedyLocked assigns one station to its argmax-score reachable
// edge (§4.7 assign_station / the infeasible fallback), with ties
// broken toward the previous assignment, then the lexicographically
// smaller edge id.
func (c *Controller) assignGreedyLocked(stationID string, sv *stationView) {
	if len(sv.seenBy) == 0 {
		delete(c.assignment, stationID)
		return
	}

	prev := c.assignment[stationID]
	total := len(c.stations)

	edgeIDs := make([]string, 0, len(sv.seenBy))
	for eid := range sv.seenBy {
		edgeIDs = append(edgeIDs, eid)
	}
	sort.Strings(edgeIDs)

	var best string
	var bestScore float64
	for i, eid := range edgeIDs {
		s := score(c.cfg, sv.seenBy[eid], c.assignedCountLocked(eid, stationID), total, eid == prev)
		if i == 0 || s > bestScore+1e-12 {
			best, bestScore = eid, s
			continue
		}
		if s > bestScore-1e-12 && s < bestScore+1e-12 {
			// tie: prefer previous, else keep the lexicographically
			// smaller id already chosen by the sorted iteration order.
			if eid == prev {
				best, bestScore = eid, s
			}
		}
	}

	c.assignment[stationID] = best
}

// Resolve runs the full min-cost-flow re-solve (§4.7), falling back to
// per-station greedy assignment if the flow is infeasible — i.e. at
// least one station has no reachable edge and so cannot be routed
// from source to sink. A full re-solve is optional on join/leave but
// available here for periodic rebalancing.
func (c *Controller) Resolve(ctx context.Context) {
	c.mu.Lock()

	stationIDs := make([]string, 0, len(c.stations))
	for sid := range c.stations {
		stationIDs = append(stationIDs, sid)
	}
	sort.Strings(stationIDs)

	edgeIDs := make([]string, 0, len(c.edges))
	for eid := range c.edges {
		edgeIDs = append(edgeIDs, eid)
	}
	sort.Strings(edgeIDs)

	if len(stationIDs) == 0 || len(edgeIDs) == 0 {
		old := c.assignment
		c.assignment = make(map[string]string)
		c.mu.Unlock()
		c.emitDiffs(ctx, diffAssignments(old, c.snapshotAssignment()))
		return
	}

	old := make(map[string]string, len(c.assignment))
	for k, v := range c.assignment {
		old[k] = v
	}

	stationIdx := make(map[string]int, len(stationIDs))
	for i, sid := range stationIDs {
		stationIdx[sid] = i
	}
	edgeIdx := make(map[string]int, len(edgeIDs))
	for i, eid := range edgeIDs {
		edgeIdx[eid] = i
	}

	// node layout: 0 = source, 1..S = stations, S+1..S+E = edges, last = sink
	S, E := len(stationIDs), len(edgeIDs)
	source := 0
	sink := 1 + S + E
	g := newFlowGraph(sink + 1)

	total := S
	for i, sid := range stationIDs {
		g.addEdge(source, 1+i, 1, 0)
		sv := c.stations[sid]
		prev := old[sid]
		for eid, rssi := range sv.seenBy {
			ei, ok := edgeIdx[eid]
			if !ok {
				continue
			}
			s := score(c.cfg, rssi, c.assignedCountLocked(eid, sid), total, eid == prev)
			g.addEdge(1+i, 1+S+ei, 1, -s)
		}
	}
	for j := range edgeIDs {
		g.addEdge(1+S+j, sink, S, 0)
	}

	achieved := g.minCostMaxFlow(source, sink)

	newAssignment := make(map[string]string, S)
	if achieved == S {
		// extract assignment from positive-flow station->edge arcs
		for i, sid := range stationIDs {
			for _, e := range g.edges[1+i] {
				if e.cap > 0 && e.flow > 0 && e.to >= 1+S && e.to <= S+E {
					newAssignment[sid] = edgeIDs[e.to-1-S]
				}
			}
		}
	} else {
		// infeasible: fall back to per-station greedy for everyone (matches
		// the reference's NetworkXUnfeasible handler).
		c.assignment = make(map[string]string)
		for _, sid := range stationIDs {
			c.assignGreedyLocked(sid, c.stations[sid])
		}
		newAssignment = c.assignment
	}

	c.assignment = newAssignment
	c.mu.Unlock()

	c.emitDiffs(ctx, diffAssignments(old, newAssignment))
}

func diffAssignments(old, updated map[string]string) map[string][2]string {
	changes := make(map[string][2]string)
	seen := make(map[string]bool)
	for sid, eid := range updated {
		seen[sid] = true
		if old[sid] != eid {
			changes[sid] = [2]string{old[sid], eid}
		}
	}
	for sid, eid := range old {
		if !seen[sid] && eid != "" {
			changes[sid] = [2]string{eid, ""}
		}
	}
	return changes
}

func (c *Controller) snapshotAssignment() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.assignment))
	for k, v := range c.assignment {
		out[k] = v
	}
	return out
}

// emitDiffs publishes an "unassigned" directive to the old edge and an
// "assigned" directive to the new edge for every changed station.
// Failures are logged, never retried (§4.7): the next re-solve
// republishes the intended state.
func (c *Controller) emitDiffs(ctx context.Context, changes map[string][2]string) {
	for sid, change := range changes {
		oldEdge, newEdge := change[0], change[1]
		if oldEdge != "" {
			if err := c.publisher.PublishDirective(ctx, oldEdge, sid, "unassigned"); err != nil {
				log.Printf("assignment: unassign directive station=%s edge=%s failed: %v", sid, oldEdge, err)
			}
		}
		if newEdge != "" {
			if err := c.publisher.PublishDirective(ctx, newEdge, sid, "assigned"); err != nil {
				log.Printf("assignment: assign directive station=%s edge=%s failed: %v", sid, newEdge, err)
			}
		}
	}
}

// Assignments returns a copy of the current AssignmentMap.
func (c *Controller) Assignments() map[string]string {
	return c.snapshotAssignment()
}

// EdgeLoads returns the number of stations currently assigned to each edge.
func (c *Controller) EdgeLoads() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	loads := make(map[string]int, len(c.edges))
	for eid := range c.edges {
		loads[eid] = 0
	}
	for _, eid := range c.assignment {
		loads[eid]++
	}
	return loads
}
