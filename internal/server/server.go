// Package server exposes the workbench over HTTP: session lifecycle, graph
// snapshots with layout, a live SSE feed of post-merge snapshots, redline
// mutations, the two-step entity merge, evidence highlights, notifications
// and Prometheus metrics. One session is live at a time; opening a job
// closes the previous session first.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumenlab/redline/internal/config"
	"github.com/lumenlab/redline/internal/core"
	"github.com/lumenlab/redline/internal/core/evidence"
	"github.com/lumenlab/redline/internal/core/layout"
	"github.com/lumenlab/redline/internal/core/mergeop"
	"github.com/lumenlab/redline/internal/core/model"
	"github.com/lumenlab/redline/internal/core/redline"
	"github.com/lumenlab/redline/internal/core/store"
	"github.com/lumenlab/redline/internal/ingest"
	"github.com/lumenlab/redline/internal/metrics"
)

type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	// NewTransport builds the stream transport for a new session. Tests
	// override it to point at fixture servers.
	NewTransport func() ingest.Transport

	mu sync.Mutex
	wb *core.Workbench
}

func New(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}
	s.NewTransport = func() ingest.Transport {
		if cfg.Stream.Transport == "websocket" {
			return ingest.NewWebSocketTransport(cfg.Stream.BaseURL, nil)
		}
		return ingest.NewSSETransport(cfg.Stream.BaseURL, nil)
	}
	return s
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	r.POST("/sessions", s.OpenSession)
	r.GET("/sessions", s.SessionStatus)
	r.DELETE("/sessions", s.CloseSession)
	r.POST("/sessions/reconnect", s.ReconnectSession)

	r.GET("/graph", s.GetGraph)
	r.GET("/graph/events", s.StreamGraph)

	r.GET("/redline", s.GetRedlineMode)
	r.POST("/redline", s.SetRedlineMode)
	r.POST("/mutations", s.ApplyMutation)

	r.POST("/merge/select", s.SelectMerge)
	r.POST("/merge/confirm", s.ConfirmMerge)
	r.POST("/merge/reset", s.ResetMerge)

	r.GET("/evidence", s.GetEvidence)
	r.POST("/evidence", s.ActivateEvidence)
	r.DELETE("/evidence", s.ClearEvidence)

	r.GET("/notifications", s.ListNotifications)
	r.POST("/notifications/:id/dismiss", s.DismissNotification)

	return r
}

// Run starts the HTTP server on the configured port.
func (s *Server) Run() error {
	return s.SetupRouter().Run(":" + s.cfg.Server.Port)
}

// Shutdown closes the live session, if any.
func (s *Server) Shutdown() {
	s.mu.Lock()
	wb := s.wb
	s.wb = nil
	s.mu.Unlock()
	if wb != nil {
		wb.Close()
	}
}

func (s *Server) current() (*core.Workbench, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wb, s.wb != nil
}

type OpenSessionRequest struct {
	JobID     string `json:"job_id" binding:"required"`
	ProjectID string `json:"project_id"`
}

func (s *Server) OpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	wb := core.NewWorkbench(req.JobID, req.ProjectID, s.cfg, core.Deps{
		Transport: s.NewTransport(),
		Metrics:   s.metrics,
		Logger:    s.logger,
	})

	// Swap in the new session before connecting; the old one is closed
	// synchronously so two stream connections never overlap.
	s.mu.Lock()
	prev := s.wb
	s.wb = wb
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	if err := wb.Open(); err != nil {
		s.logger.Warn("session opened but stream connection failed",
			zap.String("job", req.JobID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to connect to job stream"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job_id": req.JobID, "state": wb.Ingestor.State().String()})
}

func (s *Server) SessionStatus(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	nodes, edges := wb.Store.Counts()
	c.JSON(http.StatusOK, gin.H{
		"job_id":        wb.JobID,
		"project_id":    wb.ProjectID,
		"state":         wb.Ingestor.State().String(),
		"redline_mode":  wb.Redline.Mode(),
		"nodes":         nodes,
		"edges":         edges,
		"pending_edges": wb.Store.PendingEdgeCount(),
	})
}

func (s *Server) CloseSession(c *gin.Context) {
	s.mu.Lock()
	wb := s.wb
	s.wb = nil
	s.mu.Unlock()
	if wb == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	wb.Close()
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (s *Server) ReconnectSession(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	if err := wb.Ingestor.Reconnect(); err != nil {
		if errors.Is(err, ingest.ErrNoSubscription) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Reconnect failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": wb.Ingestor.State().String()})
}

// GraphView is the snapshot plus layout positions, as served to clients.
type GraphView struct {
	Nodes     []model.Node               `json:"nodes"`
	Edges     []model.Edge               `json:"edges"`
	Positions map[string]layout.Position `json:"positions"`
}

func graphView(wb *core.Workbench) GraphView {
	snap, positions := wb.View()
	return GraphView{Nodes: snap.Nodes, Edges: snap.Edges, Positions: positions}
}

func (s *Server) GetGraph(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	c.JSON(http.StatusOK, graphView(wb))
}

// StreamGraph feeds the client every post-merge snapshot over SSE, starting
// with the current state. A slow client only loses intermediate snapshots,
// never the latest one it reads next.
func (s *Server) StreamGraph(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}

	updates := make(chan model.GraphSnapshot, 8)
	unsub := wb.SubscribeSnapshots(func(snap model.GraphSnapshot) {
		select {
		case updates <- snap:
		default:
		}
	})
	defer unsub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	if !s.writeView(c, wb) {
		return
	}
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-updates:
			if !s.writeView(c, wb) {
				return
			}
		}
	}
}

func (s *Server) writeView(c *gin.Context, wb *core.Workbench) bool {
	payload, err := json.Marshal(graphView(wb))
	if err != nil {
		s.logger.Warn("failed to encode graph view", zap.Error(err))
		return false
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

func (s *Server) GetRedlineMode(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": wb.Redline.Mode()})
}

type SetRedlineRequest struct {
	Active bool `json:"active"`
}

func (s *Server) SetRedlineMode(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	var req SetRedlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Active {
		wb.Redline.Enable()
	} else {
		wb.Redline.Disable()
	}
	c.JSON(http.StatusOK, gin.H{"mode": wb.Redline.Mode()})
}

func (s *Server) ApplyMutation(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	var intent model.MutationIntent
	if err := c.ShouldBindJSON(&intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := wb.Redline.Apply(intent); err != nil {
		switch {
		case errors.Is(err, redline.ErrReadOnly):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, redline.ErrUnsupportedIntent):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Merges go through /merge/select and /merge/confirm"})
		case errors.Is(err, store.ErrNodeNotFound), errors.Is(err, store.ErrEdgeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, graphView(wb))
}

type MergeSelectRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

func (s *Server) SelectMerge(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	var req MergeSelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.SourceID != "" {
		wb.Merges.SelectSource(req.SourceID)
	}
	if req.TargetID != "" {
		wb.Merges.SelectTarget(req.TargetID)
	}
	source, target := wb.Merges.Selection()
	c.JSON(http.StatusOK, gin.H{
		"source_id": source,
		"target_id": target,
		"ready":     wb.Merges.Ready(),
	})
}

func (s *Server) ConfirmMerge(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	if err := wb.Merges.ConfirmMerge(c.Request.Context()); err != nil {
		switch {
		case errors.Is(err, mergeop.ErrSelectionIncomplete), errors.Is(err, mergeop.ErrSelfMerge):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, mergeop.ErrMergeInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "Merge request failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "merged"})
}

func (s *Server) ResetMerge(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	wb.Merges.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) GetEvidence(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"highlight": wb.Evidence.Current()})
}

func (s *Server) ActivateEvidence(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	var h evidence.Highlight
	if err := c.ShouldBindJSON(&h); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !h.BBox.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bounding box"})
		return
	}
	wb.Evidence.Activate(h)
	c.JSON(http.StatusOK, gin.H{"highlight": wb.Evidence.Current()})
}

func (s *Server) ClearEvidence(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	wb.Evidence.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) ListNotifications(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": wb.Notifier.Active()})
}

func (s *Server) DismissNotification(c *gin.Context) {
	wb, ok := s.current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open session"})
		return
	}
	if !wb.Notifier.Dismiss(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown notification"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}
