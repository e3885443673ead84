// Package store holds the canonical deduplicated node/edge set for one job.
// It applies incremental merges from the stream, buffers edges whose
// endpoints have not arrived, and exposes the local mutations used by
// redline editing. The store is the source of truth for the session only;
// the backend stream replays from the start on every (re)connect.
package store

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/core/model"
)

var (
	ErrNodeNotFound = errors.New("store: node not found")
	ErrEdgeNotFound = errors.New("store: edge not found")
)

// DefaultPendingEdgeMaxCycles bounds how many merge cycles an edge may wait
// for a missing endpoint before it is discarded with a warning.
const DefaultPendingEdgeMaxCycles = 25

// DanglingHandler is invoked when a pending edge is evicted because its
// endpoint never arrived. Called outside the store lock.
type DanglingHandler func(edge model.WireEdge, missingNode string)

type pendingEdge struct {
	wire     model.WireEdge
	enqueued uint64 // merge cycle at enqueue time
}

// GraphStore is exclusively owned by one workbench session. All methods are
// safe for concurrent use; stream merges and redline mutations interleave on
// whatever order they arrive (last-write-wins, accepted race).
type GraphStore struct {
	mu sync.Mutex

	nodes     map[string]*model.Node
	nodeOrder []string
	edges     map[string]*model.Edge
	edgeOrder []string

	// Edges waiting for a node, keyed by the missing node id.
	pending   map[string][]pendingEdge
	maxCycles uint64
	cycle     uint64

	onDangling DanglingHandler
	logger     *zap.Logger
}

// Option configures a GraphStore.
type Option func(*GraphStore)

// WithPendingEdgeMaxCycles overrides the pending-edge retention bound.
func WithPendingEdgeMaxCycles(n int) Option {
	return func(s *GraphStore) {
		if n > 0 {
			s.maxCycles = uint64(n)
		}
	}
}

// WithDanglingHandler installs the eviction callback.
func WithDanglingHandler(h DanglingHandler) Option {
	return func(s *GraphStore) { s.onDangling = h }
}

func New(logger *zap.Logger, opts ...Option) *GraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GraphStore{
		nodes:     make(map[string]*model.Node),
		edges:     make(map[string]*model.Edge),
		pending:   make(map[string][]pendingEdge),
		maxCycles: DefaultPendingEdgeMaxCycles,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MergeIncoming applies one graph_update batch and returns the resulting
// snapshot. Nodes and edges already present by id are left untouched
// (first-writer-wins), which makes the merge idempotent. Nodes are merged
// before edges so intra-batch dependencies resolve; edges referencing a
// node that is still missing afterwards are buffered until it arrives or
// the retention bound passes. Cost is O(batch size).
func (s *GraphStore) MergeIncoming(nodes []model.WireNode, edges []model.WireEdge) model.GraphSnapshot {
	var evicted []struct {
		wire    model.WireEdge
		missing string
	}

	s.mu.Lock()
	s.cycle++

	for _, w := range nodes {
		if w.ID == "" {
			continue
		}
		if _, exists := s.nodes[w.ID]; exists {
			continue
		}
		n := w.ToNode()
		s.nodes[n.ID] = &n
		s.nodeOrder = append(s.nodeOrder, n.ID)
		s.flushPendingLocked(n.ID)
	}

	for _, w := range edges {
		s.addEdgeLocked(w)
	}

	// Evict pending edges that have waited too long.
	for missing, list := range s.pending {
		kept := list[:0]
		for _, p := range list {
			if s.cycle-p.enqueued >= s.maxCycles {
				evicted = append(evicted, struct {
					wire    model.WireEdge
					missing string
				}{p.wire, missing})
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(s.pending, missing)
		} else {
			s.pending[missing] = kept
		}
	}

	snap := s.snapshotLocked()
	handler := s.onDangling
	s.mu.Unlock()

	for _, ev := range evicted {
		s.logger.Warn("discarding edge with unresolved endpoint",
			zap.String("source", ev.wire.Source),
			zap.String("target", ev.wire.Target),
			zap.String("missing_node", ev.missing))
		if handler != nil {
			handler(ev.wire, ev.missing)
		}
	}

	return snap
}

// flushPendingLocked re-attempts edges that were waiting for nodeID. An edge
// may still be missing its other endpoint, in which case addEdgeLocked
// re-buffers it under that id; its retention window restarts since the edge
// made progress.
func (s *GraphStore) flushPendingLocked(nodeID string) {
	waiting := s.pending[nodeID]
	if len(waiting) == 0 {
		return
	}
	delete(s.pending, nodeID)
	for _, p := range waiting {
		s.addEdgeLocked(p.wire)
	}
}

// addEdgeLocked merges one wire edge. Identity is derived by probing
// ordinals for the (source, target) pair: the first free slot is taken, and
// an occupied slot whose edge carries the same label means this is a replay
// of an edge we already hold, so it is skipped (first-writer-wins).
func (s *GraphStore) addEdgeLocked(w model.WireEdge) {
	if w.Source == "" || w.Target == "" {
		return
	}
	if _, ok := s.nodes[w.Source]; !ok {
		s.pending[w.Source] = append(s.pending[w.Source], pendingEdge{wire: w, enqueued: s.cycle})
		return
	}
	if _, ok := s.nodes[w.Target]; !ok {
		s.pending[w.Target] = append(s.pending[w.Target], pendingEdge{wire: w, enqueued: s.cycle})
		return
	}

	for ordinal := 0; ; ordinal++ {
		id := model.EdgeID(w.Source, w.Target, ordinal)
		existing, occupied := s.edges[id]
		if !occupied {
			e := w.ToEdge(id)
			s.edges[id] = &e
			s.edgeOrder = append(s.edgeOrder, id)
			return
		}
		if existing.Label == w.Label {
			// Same logical edge arriving again.
			return
		}
	}
}

// DeleteNode removes the node and every edge touching it. Returns the ids
// of the cascaded edges and whether the node existed.
func (s *GraphStore) DeleteNode(id string) (removedEdges []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[id]; !exists {
		return nil, false
	}
	delete(s.nodes, id)
	s.nodeOrder = removeString(s.nodeOrder, id)

	for _, edgeID := range s.edgeOrder {
		e := s.edges[edgeID]
		if e.Source == id || e.Target == id {
			removedEdges = append(removedEdges, edgeID)
		}
	}
	for _, edgeID := range removedEdges {
		delete(s.edges, edgeID)
		s.edgeOrder = removeString(s.edgeOrder, edgeID)
	}
	return removedEdges, true
}

// DeleteEdge removes a single edge.
func (s *GraphStore) DeleteEdge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.edges[id]; !exists {
		return false
	}
	delete(s.edges, id)
	s.edgeOrder = removeString(s.edgeOrder, id)
	return true
}

// RewireEdge points an edge at new endpoints. Empty strings keep the
// current endpoint. The edge keeps its id; identity never changes after
// creation. Returns the updated edge.
func (s *GraphStore) RewireEdge(id, newSource, newTarget string) (model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.edges[id]
	if !exists {
		return model.Edge{}, ErrEdgeNotFound
	}
	if newSource != "" {
		if _, ok := s.nodes[newSource]; !ok {
			return model.Edge{}, fmt.Errorf("%w: rewire source %q", ErrNodeNotFound, newSource)
		}
	}
	if newTarget != "" {
		if _, ok := s.nodes[newTarget]; !ok {
			return model.Edge{}, fmt.Errorf("%w: rewire target %q", ErrNodeNotFound, newTarget)
		}
	}
	if newSource != "" {
		e.Source = newSource
	}
	if newTarget != "" {
		e.Target = newTarget
	}
	return *e, nil
}

// ToggleNodeVerified flips a node's verification flag and returns the new
// value.
func (s *GraphStore) ToggleNodeVerified(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, exists := s.nodes[id]
	if !exists {
		return false, ErrNodeNotFound
	}
	n.Verified = !n.Verified
	return n.Verified, nil
}

// ToggleEdgeVerified flips an edge's verification flag and returns the new
// value.
func (s *GraphStore) ToggleEdgeVerified(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.edges[id]
	if !exists {
		return false, ErrEdgeNotFound
	}
	e.Verified = !e.Verified
	return e.Verified, nil
}

// Snapshot returns an immutable copy of the current graph in insertion
// order.
func (s *GraphStore) Snapshot() model.GraphSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *GraphStore) snapshotLocked() model.GraphSnapshot {
	snap := model.GraphSnapshot{
		Nodes: make([]model.Node, 0, len(s.nodeOrder)),
		Edges: make([]model.Edge, 0, len(s.edgeOrder)),
	}
	for _, id := range s.nodeOrder {
		snap.Nodes = append(snap.Nodes, *s.nodes[id])
	}
	for _, id := range s.edgeOrder {
		snap.Edges = append(snap.Edges, *s.edges[id])
	}
	return snap
}

// Counts returns the current node and edge counts.
func (s *GraphStore) Counts() (nodes, edges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes), len(s.edges)
}

// PendingEdgeCount reports how many edges are buffered waiting for a node.
func (s *GraphStore) PendingEdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range s.pending {
		n += len(list)
	}
	return n
}

func removeString(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
