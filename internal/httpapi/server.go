// Package httpapi exposes the broadcaster's local Command API: start/stop a
// session, adjust mixer gains, enumerate capture sources and audio devices,
// poll the event bus, and serve Prometheus metrics. It follows the teacher's
// httpServer idiom (a Server wrapping a gin.Engine, handler-per-route
// methods, gin.H JSON bodies) adapted from HLS/stream-management routes to
// the broadcaster's single-session control surface.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"broadcaster/internal/orchestrator"
	"broadcaster/pkg/models"
)

// Server wraps the HTTP Command API with its dependencies.
type Server struct {
	router *gin.Engine
	engine *orchestrator.Engine
	reg    *prometheus.Registry
}

// New creates a new HTTP server bound to engine and reg.
func New(engine *orchestrator.Engine, reg *prometheus.Registry) *Server {
	s := &Server{engine: engine, reg: reg}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	router := gin.Default()

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/state", s.handleGetState)
		api.GET("/events", s.handlePollEvents)

		api.POST("/stream/start", s.handleStreamStart)
		api.POST("/stream/stop", s.handleStreamStop)

		api.POST("/mic/volume", s.handleMicVolume)
		api.POST("/system/volume", s.handleSystemVolume)
		api.POST("/mic/muted", s.handleMicMuted)
		api.POST("/system/muted", s.handleSystemMuted)

		api.GET("/capture-sources", s.handleCaptureSources)
		api.GET("/audio-devices", s.handleAudioDevices)
	}

	s.router = router
}

// Run starts the HTTP server.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
}

func (s *Server) handleGetState(c *gin.Context) {
	st := s.engine.State()
	c.JSON(http.StatusOK, gin.H{"state": st.Name()})
}

func (s *Server) handlePollEvents(c *gin.Context) {
	events := s.engine.PollEvents()
	out := make([]gin.H, len(events))
	for i, ev := range events {
		out[i] = gin.H{"type": ev.Name(), "payload": ev}
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

type streamStartRequest struct {
	RTMPURL        string  `json:"rtmp_url" binding:"required"`
	StreamKey      string  `json:"stream_key" binding:"required"`
	CaptureSource  string  `json:"capture_source" binding:"required"`
	MicDeviceID    string  `json:"mic_device_id,omitempty"`
	SystemDeviceID string  `json:"system_device_id,omitempty"`
	TargetFPS      float32 `json:"target_fps"`
	TargetBitrate  int     `json:"target_bitrate_kbps"`
	KeyframeSecs   float64 `json:"keyframe_interval_seconds"`
}

func (s *Server) handleStreamStart(c *gin.Context) {
	var req streamStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.TargetFPS == 0 {
		req.TargetFPS = 30
	}
	if req.TargetBitrate == 0 {
		req.TargetBitrate = 2500
	}
	if req.KeyframeSecs == 0 {
		req.KeyframeSecs = 2
	}

	cfg := models.StreamConfig{
		SessionID:      uuid.NewString(),
		RTMPURL:        req.RTMPURL,
		StreamKey:      req.StreamKey,
		CaptureSource:  req.CaptureSource,
		MicDeviceID:    req.MicDeviceID,
		SystemDeviceID: req.SystemDeviceID,
		TargetFPS:      req.TargetFPS,
		TargetBitrate:  req.TargetBitrate,
		KeyframeEvery:  time.Duration(req.KeyframeSecs * float64(time.Second)),
	}

	if err := s.engine.Start(cfg); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": cfg.SessionID, "state": s.engine.State().Name()})
}

func (s *Server) handleStreamStop(c *gin.Context) {
	if err := s.engine.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.engine.State().Name()})
}

type volumeRequest struct {
	Value float32 `json:"value" binding:"required"`
}

func (s *Server) handleMicVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.SetMicGain(req.Value)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleSystemVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.SetSystemGain(req.Value)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type mutedRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleMicMuted(c *gin.Context) {
	var req mutedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.SetMicMuted(req.Muted)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleSystemMuted(c *gin.Context) {
	var req mutedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.SetSystemMuted(req.Muted)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleCaptureSources(c *gin.Context) {
	s.engine.EnumerateCaptureSources()
	c.JSON(http.StatusAccepted, gin.H{"message": "enumeration requested, poll /api/v1/events"})
}

func (s *Server) handleAudioDevices(c *gin.Context) {
	s.engine.EnumerateAudioDevices()
	c.JSON(http.StatusAccepted, gin.H{"message": "enumeration requested, poll /api/v1/events"})
}
