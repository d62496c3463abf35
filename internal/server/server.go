package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tinybtc/internal/domain"
	"tinybtc/internal/infra"
	"tinybtc/internal/service"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Market is the slice of the market client the control surface drives.
type Market interface {
	domain.SnapshotReader
	ChannelStates() []service.ChannelStatus
	ConnectAll(ctx context.Context) error
	DisconnectAll()
	SetTimeframe(ctx context.Context, tf domain.Timeframe) error
	Updates() <-chan struct{}
	Metrics() *infra.Metrics
}

// Retrier starts caller-driven reconnect cycles.
type Retrier interface {
	Start(ctx context.Context) error
	Running() bool
}

// Config holds listener settings.
type Config struct {
	Addr  string
	Debug bool
}

// Server exposes published market state over HTTP and a WebSocket feed.
type Server struct {
	cfg    Config
	market Market
	retry  Retrier
	engine *gin.Engine
	hub    *Hub
	logger *slog.Logger

	// commands run on this context so they outlive the HTTP request
	baseCtx context.Context
}

// SnapshotView is the snapshot plus the derived labels a display would render.
type SnapshotView struct {
	domain.MarketSnapshot
	PriceLabel  string `json:"price_label"`
	ChangeLabel string `json:"change_label"`
	MenuLabel   string `json:"menu_label"`
	StatusText  string `json:"status_text"`
	IsUp        bool   `json:"is_up"`
}

// NewSnapshotView derives the display fields from snap.
func NewSnapshotView(snap domain.MarketSnapshot) SnapshotView {
	return SnapshotView{
		MarketSnapshot: snap,
		PriceLabel:     snap.PriceLabel(),
		ChangeLabel:    snap.ChangeLabel(),
		MenuLabel:      snap.MenuLabel(),
		StatusText:     snap.StatusText(),
		IsUp:           snap.IsUp(),
	}
}

type timeframeRequest struct {
	Timeframe string `json:"timeframe" binding:"required"`
}

// New wires routes. Call Run to listen.
func New(cfg Config, market Market, retry Retrier) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := slog.Default().With(slog.String("module", "server"))
	s := &Server{
		cfg:     cfg,
		market:  market,
		retry:   retry,
		engine:  gin.New(),
		logger:  logger,
		baseCtx: context.Background(),
	}
	s.hub = NewHub(func() any { return NewSnapshotView(market.Snapshot()) }, logger)

	s.engine.Use(gin.Recovery(), s.requestLogger(), localCORS())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/snapshot", s.getSnapshot)
	api.GET("/status", s.getStatus)
	api.GET("/timeframes", s.getTimeframes)
	api.POST("/connect", s.postConnect)
	api.POST("/disconnect", s.postDisconnect)
	api.POST("/retry", s.postRetry)
	api.POST("/timeframe", s.postTimeframe)

	s.engine.GET("/ws", s.hub.ServeWS)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = context.WithoutCancel(ctx)

	go s.hub.Run(ctx)
	go s.forwardUpdates(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Control surface listening", slog.String("addr", s.cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Shutdown incomplete", slog.Any("error", err))
		return err
	}
	s.logger.Info("Control surface stopped")
	return nil
}

// forwardUpdates pushes a fresh snapshot to WebSocket clients on every change signal.
func (s *Server) forwardUpdates(ctx context.Context) {
	updates := s.market.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			s.hub.Broadcast(NewSnapshotView(s.market.Snapshot()))
		}
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, NewSnapshotView(s.market.Snapshot()))
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"channels": s.market.ChannelStates(),
		"retrying": s.retry.Running(),
		"clients":  s.hub.ClientCount(),
		"metrics":  s.market.Metrics().Snapshot(),
	})
}

func (s *Server) getTimeframes(c *gin.Context) {
	type item struct {
		Token string `json:"token"`
		Label string `json:"label"`
	}
	tfs := domain.Timeframes()
	out := make([]item, len(tfs))
	for i, tf := range tfs {
		out[i] = item{Token: tf.Token(), Label: tf.Label()}
	}
	c.JSON(http.StatusOK, gin.H{
		"timeframes": out,
		"selected":   s.market.Snapshot().Timeframe,
	})
}

func (s *Server) postConnect(c *gin.Context) {
	if err := s.market.ConnectAll(s.baseCtx); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"channels": s.market.ChannelStates()})
}

func (s *Server) postDisconnect(c *gin.Context) {
	s.market.DisconnectAll()
	c.JSON(http.StatusOK, gin.H{"channels": s.market.ChannelStates()})
}

func (s *Server) postRetry(c *gin.Context) {
	if err := s.retry.Start(s.baseCtx); err != nil {
		if errors.Is(err, domain.ErrRetryInProgress) {
			s.fail(c, http.StatusConflict, err)
			return
		}
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"retrying": true})
}

func (s *Server) postTimeframe(c *gin.Context) {
	var req timeframeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	tf, err := domain.ParseTimeframe(strings.TrimSpace(req.Timeframe))
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if err := s.market.SetTimeframe(s.baseCtx, tf); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeframe": tf, "label": tf.Label()})
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// localCORS allows browser dashboards served from loopback origins.
func localCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
