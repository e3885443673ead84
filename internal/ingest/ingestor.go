// Package ingest owns the live event-stream subscription for a job. At any
// instant at most one connection is open: subscribing to a new job (or
// reconnecting) always tears down the previous subscription first, on every
// exit path. The ingestor is an explicit state machine (Idle, Connecting,
// Streaming, Closed, Errored) with a single frame-handling path; transport
// and parse failures are absorbed here and surfaced as state transitions
// plus notifications, never as panics or corrupted store state.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/core/model"
	"github.com/lumenlab/redline/internal/metrics"
	"github.com/lumenlab/redline/internal/notify"
)

// State is the ingestor's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrNoSubscription is returned by Reconnect before any Subscribe call.
var ErrNoSubscription = errors.New("ingest: no prior subscription to reconnect")

// Merger receives parsed graph_update batches. Satisfied by
// *store.GraphStore.
type Merger interface {
	MergeIncoming(nodes []model.WireNode, edges []model.WireEdge) model.GraphSnapshot
}

// Config controls reconnection behavior. With AutoReconnect off (the
// default), a transport failure parks the ingestor in Errored and waits for
// an explicit Reconnect; with it on, the ingestor retries with exponential
// backoff, announcing every attempt.
type Config struct {
	AutoReconnect     bool
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
}

const (
	DefaultReconnectInitial  = time.Second
	DefaultReconnectMax      = 30 * time.Second
	DefaultReconnectAttempts = 5
)

type Ingestor struct {
	transport Transport
	merger    Merger
	notifier  *notify.Center
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config

	// onSnapshot, if set, observes the snapshot after every merge.
	onSnapshot func(model.GraphSnapshot)

	mu         sync.Mutex
	state      State
	jobID      string
	generation uint64
	conn       Conn
	cancel     context.CancelFunc
	done       chan struct{}
}

func New(transport Transport, merger Merger, cfg Config, notifier *notify.Center, m *metrics.Metrics, logger *zap.Logger) *Ingestor {
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = DefaultReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		transport: transport,
		merger:    merger,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		state:     StateIdle,
	}
}

// OnSnapshot installs the post-merge observer. Call before Subscribe.
func (in *Ingestor) OnSnapshot(fn func(model.GraphSnapshot)) {
	in.mu.Lock()
	in.onSnapshot = fn
	in.mu.Unlock()
}

// State returns the current lifecycle state.
func (in *Ingestor) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// JobID returns the job of the current (or most recent) subscription.
func (in *Ingestor) JobID() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.jobID
}

// Subscribe opens the stream for jobID. Any prior subscription is closed
// synchronously before the new connection is dialed, so two connections
// never overlap.
func (in *Ingestor) Subscribe(jobID string) error {
	in.teardown()

	in.mu.Lock()
	in.generation++
	gen := in.generation
	in.jobID = jobID
	in.state = StateConnecting
	in.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := in.transport.Open(ctx, jobID)
	if err != nil {
		cancel()
		in.transitionIf(gen, StateErrored)
		in.logger.Warn("failed to open stream", zap.String("job", jobID), zap.Error(err))
		if in.notifier != nil {
			in.notifier.Publish(notify.LevelError, "ingest",
				fmt.Sprintf("could not connect to job stream: %v", err))
		}
		return fmt.Errorf("subscribe to job %s: %w", jobID, err)
	}

	done := make(chan struct{})
	in.mu.Lock()
	if in.generation != gen {
		// A newer Subscribe raced us; this connection must not survive.
		in.mu.Unlock()
		cancel()
		conn.Close()
		close(done)
		return nil
	}
	in.conn = conn
	in.cancel = cancel
	in.done = done
	in.state = StateStreaming
	in.mu.Unlock()

	in.logger.Info("stream subscribed", zap.String("job", jobID))
	go in.readLoop(ctx, gen, jobID, conn, done)
	return nil
}

// Reconnect re-subscribes to the most recent job. Explicit, user-triggered
// counterpart to the automatic backoff loop.
func (in *Ingestor) Reconnect() error {
	in.mu.Lock()
	jobID := in.jobID
	in.mu.Unlock()
	if jobID == "" {
		return ErrNoSubscription
	}
	if in.metrics != nil {
		in.metrics.Reconnects.Inc()
	}
	return in.Subscribe(jobID)
}

// Stop closes the current subscription, if any, and parks the ingestor in
// Closed. Safe to call repeatedly and on every exit path.
func (in *Ingestor) Stop() {
	in.teardown()
	in.mu.Lock()
	in.generation++ // invalidate any in-flight reconnect loop
	if in.state == StateStreaming || in.state == StateConnecting || in.state == StateErrored {
		in.state = StateClosed
	}
	in.mu.Unlock()
}

// teardown cancels and waits out the current read loop. The wait happens
// outside the lock so the loop can finish its own state transition.
func (in *Ingestor) teardown() {
	in.mu.Lock()
	conn, cancel, done := in.conn, in.cancel, in.done
	in.conn, in.cancel, in.done = nil, nil, nil
	in.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
}

func (in *Ingestor) readLoop(ctx context.Context, gen uint64, jobID string, conn Conn, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	for {
		data, err := conn.Next()
		if err != nil {
			if ctx.Err() != nil {
				// Deliberate teardown (unmount, job switch, Stop).
				in.transitionIf(gen, StateClosed)
				return
			}
			in.transitionIf(gen, StateErrored)
			in.logger.Warn("stream transport error",
				zap.String("job", jobID), zap.Error(err))
			if in.notifier != nil {
				in.notifier.Publish(notify.LevelError, "ingest",
					fmt.Sprintf("job stream disconnected: %v", err))
			}
			in.maybeReconnect(gen, jobID)
			return
		}
		if finished := in.handleFrame(gen, jobID, data); finished {
			return
		}
	}
}

// handleFrame processes one raw frame. Malformed frames are logged and
// dropped; they never stop the stream or reach the store.
func (in *Ingestor) handleFrame(gen uint64, jobID string, data []byte) (finished bool) {
	if in.metrics != nil {
		in.metrics.StreamEvents.Inc()
	}

	var ev model.StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		if in.metrics != nil {
			in.metrics.MalformedEvents.Inc()
		}
		in.logger.Warn("dropping malformed stream frame",
			zap.String("job", jobID), zap.Error(err))
		return false
	}

	switch ev.Type {
	case model.EventConnected:
		in.logger.Debug("stream handshake", zap.String("job", jobID))

	case model.EventGraphUpdate:
		snap := in.merger.MergeIncoming(ev.Nodes, ev.Edges)
		if in.metrics != nil {
			in.metrics.MergesApplied.Inc()
		}
		in.mu.Lock()
		observer := in.onSnapshot
		stale := in.generation != gen
		in.mu.Unlock()
		// A stale frame from a superseded subscription must not be
		// broadcast as current state.
		if observer != nil && !stale {
			observer(snap)
		}

	case model.EventComplete:
		in.transitionIf(gen, StateClosed)
		in.logger.Info("stream complete", zap.String("job", jobID))
		if in.notifier != nil {
			in.notifier.Publish(notify.LevelInfo, "ingest", "extraction stream complete")
		}
		return true

	case model.EventError:
		in.transitionIf(gen, StateErrored)
		in.logger.Warn("stream reported failure",
			zap.String("job", jobID), zap.String("message", ev.Message))
		if in.notifier != nil {
			in.notifier.Publish(notify.LevelError, "ingest",
				fmt.Sprintf("extraction failed: %s", ev.Message))
		}
		return true

	default:
		in.logger.Warn("unknown stream event type",
			zap.String("job", jobID), zap.String("type", string(ev.Type)))
	}
	return false
}

// maybeReconnect runs the automatic backoff loop after a transport error.
// Every attempt is announced; the loop aborts as soon as a newer
// subscription supersedes it.
func (in *Ingestor) maybeReconnect(gen uint64, jobID string) {
	if !in.cfg.AutoReconnect {
		return
	}
	go func() {
		delay := in.cfg.ReconnectInitial
		current := gen
		for attempt := 1; attempt <= in.cfg.ReconnectAttempts; attempt++ {
			time.Sleep(delay)

			in.mu.Lock()
			stale := in.generation != current || in.jobID != jobID || in.state != StateErrored
			in.mu.Unlock()
			if stale {
				return
			}

			if in.metrics != nil {
				in.metrics.Reconnects.Inc()
			}
			in.logger.Info("reconnecting stream",
				zap.String("job", jobID), zap.Int("attempt", attempt))
			if in.notifier != nil {
				in.notifier.Publish(notify.LevelInfo, "ingest",
					fmt.Sprintf("reconnecting to job stream (attempt %d)", attempt))
			}

			err := in.Subscribe(jobID)
			if err == nil {
				return
			}
			// Subscribe bumped the generation; track the newest failure.
			in.mu.Lock()
			current = in.generation
			in.mu.Unlock()

			delay *= 2
			if delay > in.cfg.ReconnectMax {
				delay = in.cfg.ReconnectMax
			}
		}
		if in.notifier != nil {
			in.notifier.Publish(notify.LevelError, "ingest",
				"automatic reconnection gave up; reconnect manually")
		}
	}()
}

// transitionIf moves to next only if the subscription that requested the
// transition is still the current one.
func (in *Ingestor) transitionIf(gen uint64, next State) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.generation != gen {
		return
	}
	in.state = next
}
