// Package dashboard hosts the local HTTP API the trading UI polls for
// connection state, telemetry, market data, and process health, plus the
// inbound OAuth callback route.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"enginesync/config"
	"enginesync/internal/metrics"
	"enginesync/internal/oauth"
	"enginesync/logger"
	"enginesync/models"
)

// StateProvider exposes the engine connection state machine.
type StateProvider interface {
	State() models.ConnectionState
	SessionID() string
}

// TelemetryProvider exposes the ordered telemetry log.
type TelemetryProvider interface {
	Snapshot() []models.LogEntry
}

// MarketProvider exposes the latest market ticks and engine status snapshot.
type MarketProvider interface {
	Ticks() map[string]models.MarketTick
	Status() (models.EngineStatusSnapshot, bool)
	LastError() error
}

// CallbackHandler resolves an inbound OAuth redirect to an outbound one.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, query url.Values) oauth.Redirect
}

// Providers bundles the data sources the dashboard serves. Any nil provider
// disables its routes.
type Providers struct {
	State     StateProvider
	Telemetry TelemetryProvider
	Market    MarketProvider
	OAuth     CallbackHandler
}

// Server hosts the Gin-powered sync API and OAuth callback endpoint.
type Server struct {
	cfg           config.DashboardConfig
	log           *logger.Log
	providers     Providers
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
	sampler       *resourceSampler
}

// NewServer constructs the dashboard server when the feature is enabled.
// When disabled the returned server is nil and safe to Run.
func NewServer(cfg config.DashboardConfig, log *logger.Log, providers Providers) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		log:           log,
		providers:     providers,
		metricStore:   metricStore,
		logStore:      logStore,
		metricHandler: handlerID,
		sampler:       newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.sampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.sampler != nil {
		s.sampler.stop()
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	if s.providers.State != nil {
		router.GET("/api/state", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"state":   s.providers.State.State().String(),
				"session": s.providers.State.SessionID(),
			})
		})
	}

	if s.providers.Telemetry != nil {
		router.GET("/api/telemetry", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"entries": s.providers.Telemetry.Snapshot()})
		})
	}

	if s.providers.Market != nil {
		router.GET("/api/market", func(c *gin.Context) {
			payload := gin.H{"ticks": s.providers.Market.Ticks()}
			if snap, ok := s.providers.Market.Status(); ok {
				payload["status"] = snap
			}
			if err := s.providers.Market.LastError(); err != nil {
				payload["last_error"] = err.Error()
			}
			c.JSON(http.StatusOK, payload)
		})
	}

	if s.providers.OAuth != nil {
		router.GET("/oauth/callback", func(c *gin.Context) {
			redirect := s.providers.OAuth.HandleCallback(c.Request.Context(), c.Request.URL.Query())
			c.Redirect(http.StatusFound, redirect.Location)
		})
	}

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.sampler.snapshot()})
	})

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
