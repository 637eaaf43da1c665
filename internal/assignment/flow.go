package assignment

import "math"

// flowEdge is one arc in the residual graph.
type flowEdge struct {
	to       int
	cap      int
	cost     float64
	flow     int
	reverse  int // index of the reverse edge in graph[to]
}

type flowGraph struct {
	n     int
	edges [][]flowEdge
}

func newFlowGraph(n int) *flowGraph {
	return &flowGraph{n: n, edges: make([][]flowEdge, n)}
}

func (g *flowGraph) addEdge(from, to, cap int, cost float64) {
	g.edges[from] = append(g.edges[from], flowEdge{to: to, cap: cap, cost: cost, reverse: len(g.edges[to])})
	g.edges[to] = append(g.edges[to], flowEdge{to: from, cap: 0, cost: -cost, reverse: len(g.edges[from]) - 1})
}

// minCostMaxFlow runs successive shortest augmenting paths using
// Bellman-Ford (the station->edge costs are negative scores, but the
// source/station/edge/sink layering is acyclic so no negative cycle
// can form). Returns the achieved flow value; callers compare it
// against the required flow to detect infeasibility (§4.7).
func (g *flowGraph) minCostMaxFlow(source, sink int) (flowValue int) {
	for {
		dist := make([]float64, g.n)
		inQueue := make([]bool, g.n)
		prevEdge := make([]int, g.n)
		prevNode := make([]int, g.n)
		for i := range dist {
			dist[i] = math.Inf(1)
			prevNode[i] = -1
		}
		dist[source] = 0

		queue := []int{source}
		inQueue[source] = true

		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			inQueue[u] = false

			for i, e := range g.edges[u] {
				if e.cap-e.flow <= 0 {
					continue
				}
				if dist[u]+e.cost < dist[e.to]-1e-12 {
					dist[e.to] = dist[u] + e.cost
					prevNode[e.to] = u
					prevEdge[e.to] = i
					if !inQueue[e.to] {
						queue = append(queue, e.to)
						inQueue[e.to] = true
					}
				}
			}
		}

		if prevNode[sink] == -1 {
			return flowValue
		}

		// Find the bottleneck capacity along the path (the source->station
		// arcs have unit capacity, so this is 1 here, but computed
		// generally).
		augment := math.MaxInt32
		for v := sink; v != source; {
			u := prevNode[v]
			e := g.edges[u][prevEdge[v]]
			if e.cap-e.flow < augment {
				augment = e.cap - e.flow
			}
			v = u
		}

		for v := sink; v != source; {
			u := prevNode[v]
			idx := prevEdge[v]
			g.edges[u][idx].flow += augment
			rev := g.edges[u][idx].reverse
			g.edges[v][rev].flow -= augment
			v = u
		}

		flowValue += augment
	}
}
