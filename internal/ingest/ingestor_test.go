package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/core/model"
	"github.com/lumenlab/redline/internal/core/store"
	"github.com/lumenlab/redline/internal/notify"
)

// streamServer serves a scripted SSE stream per job and tracks how many
// connections are open at once.
type streamServer struct {
	frames []string // raw data payloads, one SSE event each

	open    atomic.Int32
	maxOpen atomic.Int32
	dials   atomic.Int32

	// hold keeps connections open after the script until closed.
	hold chan struct{}
}

func newStreamServer(frames ...string) *streamServer {
	return &streamServer{frames: frames, hold: make(chan struct{})}
}

func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.dials.Add(1)
	n := s.open.Add(1)
	for {
		max := s.maxOpen.Load()
		if n <= max || s.maxOpen.CompareAndSwap(max, n) {
			break
		}
	}
	defer s.open.Add(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)

	fmt.Fprint(w, "event: connected\ndata: {\"type\":\"connected\"}\n\n")
	flusher.Flush()
	for _, frame := range s.frames {
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
	}

	select {
	case <-s.hold:
	case <-r.Context().Done():
	}
}

func waitState(t *testing.T, in *Ingestor, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return in.State() == want },
		2*time.Second, 5*time.Millisecond, "ingestor never reached %s (now %s)", want, in.State())
}

func TestSubscribe_MergesStreamedUpdates(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newStreamServer(
		`{"type":"graph_update","nodes":[{"id":"n1","label":"Alpha","type":"Entity"}],"edges":[]}`,
		`{"type":"graph_update","nodes":[{"id":"n2","label":"Beta","type":"Entity"}],"edges":[{"source":"n1","target":"n2","label":"causes"}]}`,
		`{"type":"complete"}`,
	)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	g := store.New(zap.NewNop())
	in := New(NewSSETransport(ts.URL, ts.Client()), g, Config{}, nil, nil, zap.NewNop())

	require.NoError(t, in.Subscribe("job-1"))
	waitState(t, in, StateClosed)
	in.Stop()

	snap := g.Snapshot()
	require.Equal(t, 2, snap.NodeCount())
	require.Equal(t, 1, snap.EdgeCount())
	assert.Equal(t, "n1", snap.Edges[0].Source)
	assert.Equal(t, "n2", snap.Edges[0].Target)
	assert.Equal(t, "causes", snap.Edges[0].Label)
}

// countingTransport hands out connections that stay open until closed and
// tracks how many are open at once. Because the ingestor tears down the
// prior subscription synchronously, the max must never exceed one.
type countingTransport struct {
	open    atomic.Int32
	maxOpen atomic.Int32
	dials   atomic.Int32
}

func (t *countingTransport) Open(ctx context.Context, jobID string) (Conn, error) {
	t.dials.Add(1)
	n := t.open.Add(1)
	for {
		max := t.maxOpen.Load()
		if n <= max || t.maxOpen.CompareAndSwap(max, n) {
			break
		}
	}
	return &countingConn{t: t, ctx: ctx, closed: make(chan struct{})}, nil
}

type countingConn struct {
	t      *countingTransport
	ctx    context.Context
	closed chan struct{}
	once   sync.Once
}

func (c *countingConn) Next() ([]byte, error) {
	select {
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	case <-c.closed:
		return nil, context.Canceled
	}
}

func (c *countingConn) Close() error {
	c.once.Do(func() {
		c.t.open.Add(-1)
		close(c.closed)
	})
	return nil
}

func TestSubscribe_SingleActiveConnectionAcrossJobChanges(t *testing.T) {
	defer goleak.VerifyNone(t)

	tr := &countingTransport{}
	g := store.New(zap.NewNop())
	in := New(tr, g, Config{}, nil, nil, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, in.Subscribe(fmt.Sprintf("job-%d", i)))
		waitState(t, in, StateStreaming)
	}
	in.Stop()

	assert.Equal(t, int32(5), tr.dials.Load())
	assert.Equal(t, int32(1), tr.maxOpen.Load(),
		"more than one stream connection was open at the same instant")
	assert.Equal(t, int32(0), tr.open.Load())
}

func TestAutoReconnect_RedialsWithBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)

	var dialCount atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dialCount.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
		flusher.Flush()
		if n == 1 {
			return // drop the first connection mid-stream
		}
		fmt.Fprint(w, "data: {\"type\":\"complete\"}\n\n")
		flusher.Flush()
	}))
	defer ts.Close()

	center := notify.NewCenter(10, zap.NewNop())
	g := store.New(zap.NewNop())
	in := New(NewSSETransport(ts.URL, ts.Client()), g, Config{
		AutoReconnect:     true,
		ReconnectInitial:  10 * time.Millisecond,
		ReconnectAttempts: 3,
	}, center, nil, zap.NewNop())

	require.NoError(t, in.Subscribe("job-1"))
	waitState(t, in, StateClosed)
	in.Stop()

	assert.Equal(t, int32(2), dialCount.Load())

	// The retry was announced, not silent.
	var sawReconnect bool
	for _, n := range center.All() {
		if strings.Contains(n.Message, "reconnecting") {
			sawReconnect = true
		}
	}
	assert.True(t, sawReconnect)
}

func TestMalformedFrame_DroppedWithoutCrashing(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newStreamServer(
		`{this is not json`,
		`{"type":"graph_update","nodes":[{"id":"n1","label":"A","type":"Entity"}]}`,
		`{"type":"complete"}`,
	)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	g := store.New(zap.NewNop())
	in := New(NewSSETransport(ts.URL, ts.Client()), g, Config{}, nil, nil, zap.NewNop())

	require.NoError(t, in.Subscribe("job-1"))
	waitState(t, in, StateClosed)
	in.Stop()

	assert.Equal(t, 1, g.Snapshot().NodeCount())
}

func TestStreamErrorEvent_SurfacesAndReleases(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newStreamServer(`{"type":"error","message":"extraction blew up"}`)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	center := notify.NewCenter(10, zap.NewNop())
	g := store.New(zap.NewNop())
	in := New(NewSSETransport(ts.URL, ts.Client()), g, Config{}, center, nil, zap.NewNop())

	require.NoError(t, in.Subscribe("job-1"))
	waitState(t, in, StateErrored)
	in.Stop()

	require.Eventually(t, func() bool { return srv.open.Load() == 0 },
		2*time.Second, 5*time.Millisecond, "connection not released after error event")

	var sawError bool
	for _, n := range center.Active() {
		if n.Level == notify.LevelError {
			sawError = true
		}
	}
	assert.True(t, sawError, "stream failure was not surfaced as a notification")
}

func TestTransportDrop_NoSilentRetryByDefault(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newStreamServer()
	ts := httptest.NewServer(srv)

	g := store.New(zap.NewNop())
	in := New(NewSSETransport(ts.URL, ts.Client()), g, Config{}, nil, nil, zap.NewNop())

	require.NoError(t, in.Subscribe("job-1"))
	waitState(t, in, StateStreaming)

	// Kill the server: the transport drops.
	close(srv.hold)
	ts.Close()
	waitState(t, in, StateErrored)

	// No automatic redial happened.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), srv.dials.Load())
	in.Stop()
}

func TestReconnect_Explicit(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newStreamServer(`{"type":"complete"}`)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer close(srv.hold)

	g := store.New(zap.NewNop())
	in := New(NewSSETransport(ts.URL, ts.Client()), g, Config{}, nil, nil, zap.NewNop())

	assert.ErrorIs(t, in.Reconnect(), ErrNoSubscription)

	require.NoError(t, in.Subscribe("job-1"))
	waitState(t, in, StateClosed)

	require.NoError(t, in.Reconnect())
	waitState(t, in, StateClosed)
	in.Stop()

	assert.Equal(t, int32(2), srv.dials.Load())
}

func TestWebSocketTransport(t *testing.T) {
	defer goleak.VerifyNone(t)

	upgrader := websocket.Upgrader{}
	var wg sync.WaitGroup
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wg.Add(1)
		defer wg.Done()
		defer ws.Close()
		frames := []string{
			`{"type":"graph_update","nodes":[{"id":"w1","label":"A","type":"Entity"}]}`,
			`{"type":"complete"}`,
		}
		for _, f := range frames {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Wait for the client close handshake.
		ws.ReadMessage()
	}))
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):]
	g := store.New(zap.NewNop())
	in := New(NewWebSocketTransport(wsURL, nil), g, Config{}, nil, nil, zap.NewNop())

	require.NoError(t, in.Subscribe("job-1"))
	waitState(t, in, StateClosed)
	in.Stop()
	wg.Wait()

	assert.Equal(t, 1, g.Snapshot().NodeCount())
}

func TestOnSnapshot_ObserverSeesEveryMerge(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newStreamServer(
		`{"type":"graph_update","nodes":[{"id":"n1","label":"A","type":"Entity"}]}`,
		`{"type":"graph_update","nodes":[{"id":"n2","label":"B","type":"Entity"}]}`,
		`{"type":"complete"}`,
	)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	g := store.New(zap.NewNop())
	in := New(NewSSETransport(ts.URL, ts.Client()), g, Config{}, nil, nil, zap.NewNop())

	var mu sync.Mutex
	var counts []int
	in.OnSnapshot(func(s model.GraphSnapshot) {
		mu.Lock()
		counts = append(counts, s.NodeCount())
		mu.Unlock()
	})

	require.NoError(t, in.Subscribe("job-1"))
	waitState(t, in, StateClosed)
	in.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, counts)
}
