// Package patchsync ships local redline mutations to the backend as
// single-operation PATCH requests. The queue is one-way and fire-and-forget:
// callers never wait on the network, and a failed send is reported as a
// non-blocking warning without rolling back local state. Reconciliation, if
// any, happens on the next full stream replay.
package patchsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/core/model"
	"github.com/lumenlab/redline/internal/metrics"
	"github.com/lumenlab/redline/internal/notify"
)

// Sender is the synchronous sending surface. The merge resolver uses it
// directly because merge confirmation is awaited, unlike redline patches.
type Sender interface {
	Send(ctx context.Context, p model.Patch) error
}

// Enqueuer is the asynchronous surface used by the redline controller.
type Enqueuer interface {
	Enqueue(p model.Patch)
}

type Config struct {
	// Endpoint is the job's extraction resource URL; every patch goes
	// there as an HTTP PATCH.
	Endpoint string
	Timeout  time.Duration
	// QueueSize bounds the outbound buffer. A full queue drops the patch
	// with a warning rather than blocking the operator.
	QueueSize int
}

const (
	DefaultTimeout   = 10 * time.Second
	DefaultQueueSize = 256
)

type Syncer struct {
	endpoint string
	client   *http.Client
	queue    chan model.Patch
	notifier *notify.Center
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(cfg Config, notifier *notify.Center, m *metrics.Metrics, logger *zap.Logger) *Syncer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		queue:    make(chan model.Patch, cfg.QueueSize),
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Enqueue hands a patch to the outbound worker without blocking. If the
// queue is full, or the syncer has already been closed, the patch is
// dropped and the operator is warned; local state stays authoritative
// either way.
func (s *Syncer) Enqueue(p model.Patch) {
	var reason string
	s.mu.Lock()
	if s.closed {
		reason = "session sync already closed; edit was applied locally but not synced"
	} else {
		select {
		case s.queue <- p:
		default:
			reason = "patch queue full; edit was applied locally but not synced"
		}
	}
	s.mu.Unlock()

	if reason == "" {
		return
	}
	s.logger.Warn("dropping patch", zap.String("reason", reason))
	if s.notifier != nil {
		s.notifier.Publish(notify.LevelWarning, "patchsync", reason)
	}
}

func (s *Syncer) worker() {
	defer s.wg.Done()
	for p := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
		err := s.Send(ctx, p)
		cancel()
		if err != nil {
			s.logger.Warn("patch send failed", zap.Error(err))
			if s.notifier != nil {
				s.notifier.Publish(notify.LevelWarning, "patchsync",
					fmt.Sprintf("failed to sync edit: %v", err))
			}
		}
	}
}

// Send issues one PATCH synchronously. Each request carries a fresh UUID
// idempotency key so the server can deduplicate retries.
func (s *Syncer) Send(ctx context.Context, p model.Patch) error {
	if s.metrics != nil {
		s.metrics.PatchesSent.Inc()
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build patch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.New().String())

	resp, err := s.client.Do(req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PatchFailures.Inc()
		}
		return fmt.Errorf("send patch: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if s.metrics != nil {
			s.metrics.PatchFailures.Inc()
		}
		return fmt.Errorf("patch rejected: %s", resp.Status)
	}
	return nil
}

// Close drains the queue and stops the worker. Safe to call more than once;
// patches enqueued after Close are dropped with a warning.
func (s *Syncer) Close() {
	s.closeOnce.Do(func() {
		// The flag must be visible before the channel closes so a racing
		// Enqueue drops the patch instead of sending on a closed channel.
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.queue)
	})
	s.wg.Wait()
}
