package patchsync

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/core/model"
	"github.com/lumenlab/redline/internal/metrics"
	"github.com/lumenlab/redline/internal/notify"
)

type captured struct {
	mu      sync.Mutex
	bodies  []model.Patch
	headers []http.Header
	methods []string
}

func (c *captured) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p model.Patch
		_ = json.Unmarshal(body, &p)
		c.mu.Lock()
		c.bodies = append(c.bodies, p)
		c.headers = append(c.headers, r.Header.Clone())
		c.methods = append(c.methods, r.Method)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *captured) wait(t *testing.T, n int) []model.Patch {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.bodies)
		c.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.bodies, n)
	return append([]model.Patch(nil), c.bodies...)
}

func TestEnqueue_SendsPatchWithRequestID(t *testing.T) {
	rec := &captured{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	s := New(Config{Endpoint: srv.URL}, nil, metrics.New(), zap.NewNop())
	s.Enqueue(model.Patch{NodesDeleted: []string{"n1"}})
	got := rec.wait(t, 1)
	s.Close()

	assert.Equal(t, []string{"n1"}, got[0].NodesDeleted)
	assert.Equal(t, http.MethodPatch, rec.methods[0])
	assert.NotEmpty(t, rec.headers[0].Get("X-Request-Id"))
	assert.Equal(t, "application/json", rec.headers[0].Get("Content-Type"))
}

func TestEnqueue_PreservesOrder(t *testing.T) {
	rec := &captured{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	s := New(Config{Endpoint: srv.URL}, nil, nil, zap.NewNop())
	s.Enqueue(model.Patch{EdgeVerified: &model.VerifiedFlag{ID: "e1", Verified: true}})
	s.Enqueue(model.Patch{EdgeVerified: &model.VerifiedFlag{ID: "e1", Verified: false}})
	got := rec.wait(t, 2)
	s.Close()

	assert.True(t, got[0].EdgeVerified.Verified)
	assert.False(t, got[1].EdgeVerified.Verified)
}

func TestSendFailure_WarnsWithoutBlocking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	center := notify.NewCenter(10, zap.NewNop())
	warned := make(chan notify.Notification, 1)
	center.Subscribe(func(n notify.Notification) { warned <- n })

	s := New(Config{Endpoint: srv.URL}, center, nil, zap.NewNop())
	s.Enqueue(model.Patch{EdgesDeleted: []string{"e9"}})

	select {
	case n := <-warned:
		assert.Equal(t, notify.LevelWarning, n.Level)
		assert.Equal(t, "patchsync", n.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a warning notification for the failed patch")
	}
	s.Close()
}

func TestEnqueueAfterClose_DropsWithWarning(t *testing.T) {
	rec := &captured{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	center := notify.NewCenter(10, zap.NewNop())
	s := New(Config{Endpoint: srv.URL}, center, nil, zap.NewNop())
	s.Close()

	// A mutation racing session teardown lands here; it must be dropped,
	// not panic the caller.
	s.Enqueue(model.Patch{EdgesDeleted: []string{"e1"}})

	rec.mu.Lock()
	assert.Empty(t, rec.bodies)
	rec.mu.Unlock()

	active := center.Active()
	require.Len(t, active, 1)
	assert.Equal(t, notify.LevelWarning, active[0].Level)
	assert.Equal(t, "patchsync", active[0].Source)

	// Still safe to close again.
	s.Close()
}

func TestClose_DrainsQueue(t *testing.T) {
	rec := &captured{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	s := New(Config{Endpoint: srv.URL}, nil, nil, zap.NewNop())
	for i := 0; i < 5; i++ {
		s.Enqueue(model.Patch{NodesDeleted: []string{"n"}})
	}
	s.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.bodies, 5)
}
