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
	"github.com/sirupsen/logrus"

	"dexflow/config"
	"dexflow/internal/metrics"
	"dexflow/internal/model"
	"dexflow/internal/pricecache"
	"dexflow/internal/race"
	"dexflow/internal/registry"
	"dexflow/internal/tradefeed"
	"dexflow/logger"
)

// Modules is the registry view served by the API.
type Modules interface {
	Modules() []registry.Descriptor
	Module(id string) (registry.Descriptor, error)
	CurrentID() string
	InitialiseModule(ctx context.Context, id string, params *model.ModuleParam, wait bool) error
}

// Prices is the cached home currency quote.
type Prices interface {
	USDPrice(ctx context.Context) (float64, error)
	USDMove24h(ctx context.Context) (float64, error)
	Snapshots() map[string]pricecache.Snapshot[float64]
}

// Feed produces the USD trade feed of one network.
type Feed interface {
	Fetch(ctx context.Context) ([]tradefeed.Pair, error)
}

// Selector switches the network business actions go to.
type Selector interface {
	Select(id string)
}

// Deps are the parts of the daemon the API reads from. Nil members disable
// their routes.
type Deps struct {
	Modules  Modules
	Prices   Prices
	Feeds    map[string]Feed
	Selector Selector
}

// Server hosts the status API of the daemon.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	deps            Deps
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, log *logger.Log, deps Deps) (*Server, error) {
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
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		log:             log,
		deps:            deps,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   metrics.RegisterMetricHandler(metrics.Filter{}, metricStore.handle),
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, deps, log),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("status api listening")

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
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

// Address reports the address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":                 appName,
			"refresh_interval_ms": s.cfg.RefreshInterval.Milliseconds(),
		})
	})
	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	if s.deps.Modules != nil {
		router.GET("/api/modules", s.listModules)
		router.GET("/api/modules/:id", s.getModule)
		router.POST("/api/modules/:id/init", s.initModule)
		if s.deps.Selector != nil {
			router.POST("/api/modules/:id/select", s.selectModule)
		}
	}
	if s.deps.Prices != nil {
		router.GET("/api/prices", s.prices)
	}
	router.GET("/api/tradefeed/:network", s.tradeFeed)

	router.GET("/api/metrics", func(c *gin.Context) {
		filter := metrics.Filter{
			Component: c.Query("component"),
			Network:   c.Query("network"),
			Action:    c.Query("action"),
		}
		c.JSON(http.StatusOK, gin.H{"metrics": s.metricStore.snapshot(filter)})
	})
	router.GET("/api/logs", func(c *gin.Context) {
		level := logrus.TraceLevel
		if q := c.Query("level"); q != "" {
			parsed, err := logrus.ParseLevel(q)
			if err != nil {
				errorJSON(c, http.StatusBadRequest, err)
				return
			}
			level = parsed
		}
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot(c.Query("component"), level)})
	})
	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	return router, nil
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

// health is ok while at least one network is loaded.
func (s *Server) health(c *gin.Context) {
	if s.deps.Modules == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	loaded := 0
	for _, d := range s.deps.Modules.Modules() {
		if d.Loaded {
			loaded++
		}
	}
	if loaded == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "loaded": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "loaded": loaded})
}

func (s *Server) listModules(c *gin.Context) {
	mods := s.deps.Modules.Modules()
	payload := make([]gin.H, 0, len(mods))
	for _, d := range mods {
		payload = append(payload, gin.H{"state": d.State(), "module": d})
	}
	c.JSON(http.StatusOK, gin.H{"current": s.deps.Modules.CurrentID(), "modules": payload})
}

func (s *Server) getModule(c *gin.Context) {
	d, err := s.deps.Modules.Module(c.Param("id"))
	if err != nil {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": d.State(), "module": d})
}

func (s *Server) initModule(c *gin.Context) {
	var params *model.ModuleParam
	if c.Request.ContentLength > 0 {
		params = &model.ModuleParam{}
		if err := c.ShouldBindJSON(params); err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.deps.Modules.InitialiseModule(c.Request.Context(), c.Param("id"), params, false); err != nil {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": c.Param("id"), "state": registry.StateLoading})
}

func (s *Server) selectModule(c *gin.Context) {
	d, err := s.deps.Modules.Module(c.Param("id"))
	if err != nil {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	s.deps.Selector.Select(d.ID)
	c.JSON(http.StatusOK, gin.H{"current": s.deps.Modules.CurrentID()})
}

func (s *Server) prices(c *gin.Context) {
	ctx := c.Request.Context()
	price, err := s.deps.Prices.USDPrice(ctx)
	if err != nil {
		sources := []string{}
		for _, e := range race.Errors(err) {
			sources = append(sources, e.Error())
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "sources": sources})
		return
	}
	body := gin.H{"usd_price": price, "snapshots": s.deps.Prices.Snapshots()}
	if move, err := s.deps.Prices.USDMove24h(ctx); err == nil {
		body["usd_move_24h"] = move
	} else {
		body["usd_move_24h_error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) tradeFeed(c *gin.Context) {
	network := strings.ToLower(c.Param("network"))
	feed, ok := s.deps.Feeds[network]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trade feed for network " + network})
		return
	}
	pairs, err := feed.Fetch(c.Request.Context())
	switch {
	case errors.Is(err, model.ErrNotFound):
		errorJSON(c, http.StatusNotFound, err)
	case errors.Is(err, tradefeed.ErrMissingField):
		errorJSON(c, http.StatusUnprocessableEntity, err)
	case err != nil:
		errorJSON(c, http.StatusBadGateway, err)
	default:
		c.JSON(http.StatusOK, gin.H{"network": network, "pairs": pairs})
	}
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
