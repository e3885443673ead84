// Package core assembles the per-job workbench session: the graph store fed
// by the stream ingestor, the layout engine, redline editing with patch
// sync, the merge resolver, and the shared evidence bridge. One Workbench
// exists per open job; switching jobs closes the old session before the new
// one connects.
package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/config"
	"github.com/lumenlab/redline/internal/core/evidence"
	"github.com/lumenlab/redline/internal/core/layout"
	"github.com/lumenlab/redline/internal/core/mergeop"
	"github.com/lumenlab/redline/internal/core/model"
	"github.com/lumenlab/redline/internal/core/redline"
	"github.com/lumenlab/redline/internal/core/store"
	"github.com/lumenlab/redline/internal/ingest"
	"github.com/lumenlab/redline/internal/metrics"
	"github.com/lumenlab/redline/internal/notify"
	"github.com/lumenlab/redline/internal/patchsync"
)

// Deps carries the externally owned collaborators. Transport is required;
// Metrics and Logger may be nil.
type Deps struct {
	Transport ingest.Transport
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Workbench is one live graph-editing session for a single job.
type Workbench struct {
	JobID     string
	ProjectID string

	Store    *store.GraphStore
	Layout   *layout.Engine
	Redline  *redline.Controller
	Merges   *mergeop.Resolver
	Evidence *evidence.Bridge
	Notifier *notify.Center
	Ingestor *ingest.Ingestor
	Patches  *patchsync.Syncer

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	snapSubs map[int]func(model.GraphSnapshot)
	nextSub  int
}

func NewWorkbench(jobID, projectID string, cfg *config.Config, deps Deps) *Workbench {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("job", jobID))

	w := &Workbench{
		JobID:     jobID,
		ProjectID: projectID,
		logger:    logger,
		metrics:   deps.Metrics,
		snapSubs:  make(map[int]func(model.GraphSnapshot)),
	}

	w.Notifier = notify.NewCenter(notify.DefaultCapacity, logger)

	w.Store = store.New(logger,
		store.WithPendingEdgeMaxCycles(cfg.Graph.PendingEdgeMaxCycles),
		store.WithDanglingHandler(func(e model.WireEdge, missing string) {
			if deps.Metrics != nil {
				deps.Metrics.DanglingDropped.Inc()
			}
			w.Notifier.Publish(notify.LevelWarning, "graph",
				fmt.Sprintf("relation %q (%s -> %s) discarded: node %s never arrived",
					e.Label, e.Source, e.Target, missing))
		}))

	w.Layout = layout.NewEngine(cfg.Layout.NodeSpacing, cfg.Layout.RankSpacing)
	w.Evidence = evidence.NewBridge()

	w.Patches = patchsync.New(patchsync.Config{
		Endpoint:  patchEndpoint(cfg.Patch.Endpoint, jobID),
		Timeout:   time.Duration(cfg.Patch.TimeoutMS) * time.Millisecond,
		QueueSize: cfg.Patch.QueueSize,
	}, w.Notifier, deps.Metrics, logger)

	w.Redline = redline.NewController(w.Store, w.Patches, logger)
	w.Merges = mergeop.NewResolver(projectID, w.Patches, logger)

	w.Ingestor = ingest.New(deps.Transport, w.Store, ingest.Config{
		AutoReconnect:     cfg.Stream.AutoReconnect,
		ReconnectInitial:  time.Duration(cfg.Stream.ReconnectInitial) * time.Millisecond,
		ReconnectMax:      time.Duration(cfg.Stream.ReconnectMax) * time.Millisecond,
		ReconnectAttempts: cfg.Stream.ReconnectAttempts,
	}, w.Notifier, deps.Metrics, logger)
	w.Ingestor.OnSnapshot(w.broadcast)

	return w
}

// patchEndpoint substitutes the job id into the configured endpoint
// template, or appends it when the template has no placeholder.
func patchEndpoint(template, jobID string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, jobID)
	}
	return strings.TrimRight(template, "/") + "/" + jobID
}

// Open starts consuming the job's stream.
func (w *Workbench) Open() error {
	return w.Ingestor.Subscribe(w.JobID)
}

// Close releases the stream connection and drains the patch queue. Always
// called when the session ends, whatever the exit path.
func (w *Workbench) Close() {
	w.Ingestor.Stop()
	w.Patches.Close()
	w.logger.Info("workbench session closed")
}

// Snapshot returns the current immutable graph.
func (w *Workbench) Snapshot() model.GraphSnapshot {
	return w.Store.Snapshot()
}

// View returns the snapshot together with its layout positions.
func (w *Workbench) View() (model.GraphSnapshot, map[string]layout.Position) {
	snap := w.Store.Snapshot()
	return snap, w.Layout.Positions(snap)
}

// SubscribeSnapshots registers an observer for post-merge snapshots and
// returns an unsubscribe func.
func (w *Workbench) SubscribeSnapshots(fn func(model.GraphSnapshot)) func() {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.snapSubs[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.snapSubs, id)
		w.mu.Unlock()
	}
}

func (w *Workbench) broadcast(snap model.GraphSnapshot) {
	if w.metrics != nil {
		w.metrics.PendingEdges.Set(float64(w.Store.PendingEdgeCount()))
	}
	w.mu.Lock()
	subs := make([]func(model.GraphSnapshot), 0, len(w.snapSubs))
	for _, fn := range w.snapSubs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
