package cdn

import (
	"fmt"
	"sync"
)

// EdgeStatus is the simulated health of an edge.
type EdgeStatus string

const (
	EdgeHealthy  EdgeStatus = "healthy"
	EdgeDegraded EdgeStatus = "degraded"
	EdgeDown     EdgeStatus = "down"
)

// Edge is a simulated CDN point of presence.
type Edge struct {
	ID       string     `json:"id"`
	Location string     `json:"location"`
	Capacity int        `json:"capacity"`
	Status   EdgeStatus `json:"status"`
}

// DefaultEdges returns the built-in fleet.
func DefaultEdges() []Edge {
	return []Edge{
		{ID: "us-east-1", Location: "Virginia, US", Capacity: 4, Status: EdgeHealthy},
		{ID: "us-west-2", Location: "Oregon, US", Capacity: 3, Status: EdgeHealthy},
		{ID: "eu-west-1", Location: "Dublin, IE", Capacity: 2, Status: EdgeHealthy},
		{ID: "ap-southeast-1", Location: "Singapore, SG", Capacity: 1, Status: EdgeHealthy},
	}
}

// EdgeSelector picks the edge that serves a new session.
type EdgeSelector interface {
	Select() Edge
}

// NewEdgeSelector builds a selector by strategy name: "round-robin" (default)
// or "weighted".
func NewEdgeSelector(strategy string, edges []Edge) (EdgeSelector, error) {
	if len(edges) == 0 {
		return nil, fmt.Errorf("edge selector: no edges configured")
	}
	switch strategy {
	case "", "round-robin":
		return NewRoundRobinSelector(edges), nil
	case "weighted":
		return NewWeightedSelector(edges), nil
	default:
		return nil, fmt.Errorf("edge selector: unknown strategy %q", strategy)
	}
}

// usable drops edges that are down, keeping all of them when every edge is down.
func usable(edges []Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.Status != EdgeDown {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return edges
	}
	return out
}

// RoundRobinSelector cycles through the edges that are not down.
type RoundRobinSelector struct {
	mu    sync.Mutex
	edges []Edge
	next  int
}

// NewRoundRobinSelector returns a selector starting at the first usable edge.
func NewRoundRobinSelector(edges []Edge) *RoundRobinSelector {
	return &RoundRobinSelector{edges: usable(edges)}
}

// Select implements EdgeSelector.
func (s *RoundRobinSelector) Select() Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.edges[s.next%len(s.edges)]
	s.next++
	return e
}

// WeightedSelector spreads sessions in proportion to edge capacity using
// smooth weighted round robin, so the sequence is deterministic.
type WeightedSelector struct {
	mu      sync.Mutex
	edges   []Edge
	current []int
	total   int
}

// NewWeightedSelector returns a capacity-weighted selector. Edges with a
// non-positive capacity get weight 1.
func NewWeightedSelector(edges []Edge) *WeightedSelector {
	edges = usable(edges)
	s := &WeightedSelector{edges: edges, current: make([]int, len(edges))}
	for _, e := range edges {
		s.total += weight(e)
	}
	return s
}

// Select implements EdgeSelector.
func (s *WeightedSelector) Select() Edge {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := 0
	for i, e := range s.edges {
		s.current[i] += weight(e)
		if s.current[i] > s.current[best] {
			best = i
		}
	}
	s.current[best] -= s.total
	return s.edges[best]
}

func weight(e Edge) int {
	if e.Capacity <= 0 {
		return 1
	}
	return e.Capacity
}

// FixedSelector always returns the same edge.
type FixedSelector struct {
	Edge Edge
}

// Select implements EdgeSelector.
func (s FixedSelector) Select() Edge {
	return s.Edge
}
