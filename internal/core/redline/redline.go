// Package redline gates the destructive graph mutations behind an explicit
// editing mode. Entering or leaving the mode is a pure local toggle with no
// backend round-trip; it only controls which MutationIntents are accepted.
// Accepted mutations apply to the local store immediately (optimistic) and
// are queued for server sync in parallel, never the other way around.
package redline

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/core/model"
	"github.com/lumenlab/redline/internal/core/store"
	"github.com/lumenlab/redline/internal/patchsync"
)

var (
	// ErrReadOnly is returned for delete/rewire/verify intents while the
	// controller is not in redline mode.
	ErrReadOnly = errors.New("redline: mutations require redline mode")

	// ErrUnsupportedIntent is returned for merge intents, which go through
	// the merge resolver instead.
	ErrUnsupportedIntent = errors.New("redline: intent not handled by this controller")
)

// Mode is the controller's editing state.
type Mode string

const (
	ModeReadOnly Mode = "read_only"
	ModeActive   Mode = "redline_active"
)

// Controller is the redline editing state machine for one workbench
// session.
type Controller struct {
	mu     sync.Mutex
	active bool

	store   *store.GraphStore
	patches patchsync.Enqueuer
	logger  *zap.Logger
}

func NewController(s *store.GraphStore, patches patchsync.Enqueuer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{store: s, patches: patches, logger: logger}
}

// Enable enters redline mode.
func (c *Controller) Enable() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
}

// Disable returns to read-only mode.
func (c *Controller) Disable() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// Mode reports the current editing state.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ModeActive
	}
	return ModeReadOnly
}

// Apply executes one mutation intent: local store first, then a matching
// patch enqueued for the backend. The patch is fire-and-forget; a send
// failure surfaces as a notification elsewhere and the local edit stands.
func (c *Controller) Apply(intent model.MutationIntent) error {
	if intent.Kind == model.MutationMerge {
		return ErrUnsupportedIntent
	}
	if c.Mode() != ModeActive {
		return ErrReadOnly
	}

	switch intent.Kind {
	case model.MutationDeleteNode:
		removedEdges, ok := c.store.DeleteNode(intent.ID)
		if !ok {
			return store.ErrNodeNotFound
		}
		c.logger.Info("node deleted",
			zap.String("node", intent.ID),
			zap.Int("cascaded_edges", len(removedEdges)))
		c.patches.Enqueue(model.Patch{NodesDeleted: []string{intent.ID}})

	case model.MutationDeleteEdge:
		if !c.store.DeleteEdge(intent.ID) {
			return store.ErrEdgeNotFound
		}
		c.patches.Enqueue(model.Patch{EdgesDeleted: []string{intent.ID}})

	case model.MutationRewireEdge:
		updated, err := c.store.RewireEdge(intent.ID, intent.NewSource, intent.NewTarget)
		if err != nil {
			return err
		}
		c.patches.Enqueue(model.Patch{EdgeUpdated: &model.EdgeUpdate{
			ID:     updated.ID,
			Source: updated.Source,
			Target: updated.Target,
		}})

	case model.MutationToggleNodeVerified:
		verified, err := c.store.ToggleNodeVerified(intent.ID)
		if err != nil {
			return err
		}
		c.patches.Enqueue(model.Patch{NodeVerified: &model.VerifiedFlag{
			ID:       intent.ID,
			Verified: verified,
		}})

	case model.MutationToggleEdgeVerified:
		verified, err := c.store.ToggleEdgeVerified(intent.ID)
		if err != nil {
			return err
		}
		c.patches.Enqueue(model.Patch{EdgeVerified: &model.VerifiedFlag{
			ID:       intent.ID,
			Verified: verified,
		}})

	default:
		return fmt.Errorf("redline: unknown mutation kind %q", intent.Kind)
	}
	return nil
}
