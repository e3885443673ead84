// Package layout computes 2D positions for a graph snapshot using a layered
// hierarchical assignment: rank by topological depth, x by sibling order
// within a rank, y by rank. The computation is a pure function of the
// snapshot, so an unchanged node/edge set always lands on identical
// positions and re-layout after an unrelated merge does not shuffle nodes.
package layout

import (
	"sync"

	"github.com/lumenlab/redline/internal/core/model"
)

// Position is a node's 2D placement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

const (
	DefaultNodeSpacing = 180.0
	DefaultRankSpacing = 120.0
)

// Engine caches the last computed positions and recomputes only when the
// node or edge count changes. Metadata-only mutations (verification toggles,
// relabels) reuse the cached placement, avoiding visual churn during
// redline editing.
type Engine struct {
	mu          sync.Mutex
	nodeSpacing float64
	rankSpacing float64

	lastNodes int
	lastEdges int
	cached    map[string]Position
}

func NewEngine(nodeSpacing, rankSpacing float64) *Engine {
	if nodeSpacing <= 0 {
		nodeSpacing = DefaultNodeSpacing
	}
	if rankSpacing <= 0 {
		rankSpacing = DefaultRankSpacing
	}
	return &Engine{nodeSpacing: nodeSpacing, rankSpacing: rankSpacing}
}

// Positions returns placements for every node in the snapshot, recomputing
// only when the counts changed since the previous call. The returned map is
// a copy; mutating it cannot disturb other consumers of the cache.
func (e *Engine) Positions(snap model.GraphSnapshot) map[string]Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cached == nil || snap.NodeCount() != e.lastNodes || snap.EdgeCount() != e.lastEdges {
		e.cached = Compute(snap, e.nodeSpacing, e.rankSpacing)
		e.lastNodes = snap.NodeCount()
		e.lastEdges = snap.EdgeCount()
	}
	out := make(map[string]Position, len(e.cached))
	for id, p := range e.cached {
		out[id] = p
	}
	return out
}

// Invalidate drops the cache so the next Positions call recomputes.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cached = nil
}

// Compute performs the layered assignment. Ranks come from a longest-path
// Kahn traversal; nodes trapped in a cycle are placed one rank below the
// deepest resolved rank, in snapshot order. Within a rank, x follows the
// snapshot's node order, which is insertion order and therefore stable.
func Compute(snap model.GraphSnapshot, nodeSpacing, rankSpacing float64) map[string]Position {
	indegree := make(map[string]int, len(snap.Nodes))
	out := make(map[string][]string, len(snap.Nodes))
	for _, n := range snap.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range snap.Edges {
		if _, ok := indegree[e.Source]; !ok {
			continue
		}
		if _, ok := indegree[e.Target]; !ok {
			continue
		}
		if e.Source == e.Target {
			continue
		}
		out[e.Source] = append(out[e.Source], e.Target)
		indegree[e.Target]++
	}

	rank := make(map[string]int, len(snap.Nodes))
	var queue []string
	for _, n := range snap.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
			rank[n.ID] = 0
		}
	}

	processed := 0
	maxRank := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range out[id] {
			if r := rank[id] + 1; r > rank[next] {
				rank[next] = r
				if r > maxRank {
					maxRank = r
				}
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// Nodes never dequeued sit on a cycle. Park them on their own rank
	// rather than failing; arrival order keeps the result deterministic.
	if processed < len(snap.Nodes) {
		cycleRank := maxRank + 1
		for _, n := range snap.Nodes {
			if indegree[n.ID] > 0 {
				rank[n.ID] = cycleRank
			}
		}
	}

	// Sibling order within each rank follows snapshot order.
	sibling := make(map[string]int, len(snap.Nodes))
	perRank := make(map[int]int)
	for _, n := range snap.Nodes {
		r := rank[n.ID]
		sibling[n.ID] = perRank[r]
		perRank[r]++
	}

	positions := make(map[string]Position, len(snap.Nodes))
	for _, n := range snap.Nodes {
		positions[n.ID] = Position{
			X: float64(sibling[n.ID]) * nodeSpacing,
			Y: float64(rank[n.ID]) * rankSpacing,
		}
	}
	return positions
}
