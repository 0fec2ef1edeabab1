package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/imposter/pkg/behaviour"
	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/cursor"
	"github.com/getmockd/imposter/pkg/httputil"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/metrics"
	"github.com/getmockd/imposter/pkg/plugin/hbase"
	"github.com/getmockd/imposter/pkg/plugin/rest"
	"github.com/getmockd/imposter/pkg/route"
	"github.com/getmockd/imposter/pkg/scan"
	"github.com/getmockd/imposter/pkg/script"
	"github.com/redis/go-redis/v9"
)

// Version is reported by /system/status unless overridden with WithVersion.
var Version = "dev"

const shutdownTimeout = 5 * time.Second

// Server owns every piece of shared state of a running mock server.
type Server struct {
	cfg     *config.ServerConfig
	log     *slog.Logger
	version string

	dispatcher *route.Dispatcher
	store      cursor.Store
	memory     *cursor.MemoryStore
	redis      *cursor.RedisStore
	sandbox    *script.Sandbox
	metrics    *metrics.Set
	hbase      *hbase.Plugin
	handler    http.Handler

	redisClient *redis.Client

	mu         sync.RWMutex
	httpServer *http.Server
	addr       net.Addr
	running    bool
	closed     bool

	// startedAt is the start time in unix nanoseconds, 0 while stopped.
	startedAt atomic.Int64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithVersion sets the version reported by /system/status.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithRedisClient uses client for the redis cursor store instead of
// dialling cfg.RedisAddr. The server closes client on Stop.
func WithRedisClient(client *redis.Client) ServerOption {
	return func(s *Server) {
		s.redisClient = client
	}
}

// NewServer validates cfg and wires routes to their plugins. Nothing
// listens until Start.
func NewServer(cfg *config.ServerConfig, routes []*config.RouteConfig, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultServerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     logging.Nop(),
		version: Version,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics = metrics.NewSet(s.openCursors)
	s.dispatcher = route.NewDispatcher(route.WithLogger(logging.Component(s.log, "dispatcher")))

	s.openStore()

	s.sandbox = script.NewSandbox(
		script.WithTimeout(cfg.ScriptTimeout),
		script.WithWorkers(cfg.ScriptWorkers),
		script.WithLogger(logging.Component(s.log, "script")),
		script.WithObserver(s.metrics.ObserveScript),
		script.WithRunningHook(s.metrics.TrackScriptRunning),
	)
	resolver := behaviour.NewResolver(s.sandbox, behaviour.WithLogger(logging.Component(s.log, "resolver")))
	scans := scan.NewEngine(&countingStore{Store: s.store, onCreate: s.metrics.ObserveCursorCreated},
		scan.WithLogger(logging.Component(s.log, "scan")))

	router := s.dispatcher.Router()
	router.Use(requestID, accessLog(logging.Component(s.log, "http")))
	router.Get("/system/status", s.handleStatus)
	router.Method(http.MethodGet, "/system/metrics", s.metrics.Registry.Handler())

	s.hbase = hbase.New(scans, resolver, cfg.BaseURL(cfg.Port),
		hbase.WithLogger(s.log.With("plugin", hbase.PluginID)),
		hbase.WithObserver(s.metrics.ObserveRequest))
	restPlugin := rest.New(resolver,
		rest.WithLogger(s.log.With("plugin", rest.PluginID)),
		rest.WithObserver(s.metrics.ObserveRequest))

	plugins, err := route.NewRegistry(s.hbase, restPlugin)
	if err != nil {
		_ = s.store.Close()
		return nil, err
	}
	if err := plugins.Bind(s.dispatcher, routes); err != nil {
		_ = s.store.Close()
		return nil, err
	}

	s.handler = s.dispatcher
	s.log.Info("routes configured", "routes", s.dispatcher.Len(), "plugins", plugins.IDs())
	return s, nil
}

func (s *Server) openStore() {
	storeOpts := []cursor.Option{
		cursor.WithIdleTimeout(s.cfg.CursorIdleTimeout),
		cursor.WithLogger(logging.Component(s.log, "cursor")),
		cursor.WithEvictionHook(s.metrics.ObserveCursorEvicted),
	}

	switch s.cfg.CursorStore {
	case config.CursorStoreRedis:
		client := s.redisClient
		if client == nil {
			client = redis.NewClient(&redis.Options{Addr: s.cfg.RedisAddr})
		}
		s.redis = cursor.NewRedisStore(client, s.dispatcher.LookupKey, storeOpts...)
		s.store = s.redis
	default:
		s.memory = cursor.NewMemoryStore(storeOpts...)
		s.store = s.memory
	}
}

func (s *Server) openCursors() float64 {
	if s.store == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := s.store.Len(ctx)
	if err != nil {
		return 0
	}
	return float64(n)
}

// Start opens the listener and begins serving. A Port of 0 picks a free
// port; the Location headers of scanners follow the port actually bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.closed {
		return errors.New("server already stopped")
	}

	if s.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := s.redis.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to cursor store: %w", err)
		}
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	s.addr = ln.Addr()

	port := s.cfg.Port
	if tcp, ok := s.addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	s.hbase.SetServerURL(s.cfg.BaseURL(port))

	if s.memory != nil && s.cfg.CursorSweepInterval > 0 {
		s.memory.StartSweeper(s.cfg.CursorSweepInterval)
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", "error", err)
		}
	}()

	s.running = true
	s.startedAt.Store(time.Now().UnixNano())
	s.log.Info("server started", "addr", s.addr.String(), "url", s.cfg.BaseURL(port), "cursorStore", s.cfg.CursorStore)
	return nil
}

// Stop shuts the HTTP server down gracefully, then drains the script
// sandbox and closes the cursor store. It is safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.running && s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}
	}
	if err := s.sandbox.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("script sandbox: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cursor store: %w", err))
	}

	s.running = false
	s.closed = true
	s.startedAt.Store(0)
	s.log.Info("server stopped")
	return errors.Join(errs...)
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// URL returns the base URL clients use to reach the server.
func (s *Server) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tcp, ok := s.addr.(*net.TCPAddr); ok {
		return s.cfg.BaseURL(tcp.Port)
	}
	return s.cfg.BaseURL(s.cfg.Port)
}

// Handler returns the server's HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Store returns the cursor store.
func (s *Server) Store() cursor.Store {
	return s.store
}

// Metrics returns the server's metric set.
func (s *Server) Metrics() *metrics.Set {
	return s.metrics
}

// Routes returns the registered routes.
func (s *Server) Routes() []*config.RouteConfig {
	return s.dispatcher.Routes()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"routes":  s.dispatcher.Len(),
	}
	if started := s.startedAt.Load(); started != 0 {
		body["uptime"] = int(time.Since(time.Unix(0, started)).Seconds())
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// countingStore counts cursor creations for the metrics set.
type countingStore struct {
	cursor.Store
	onCreate func()
}

func (c *countingStore) Create(ctx context.Context, rt *config.RouteConfig) (uint64, error) {
	id, err := c.Store.Create(ctx, rt)
	if err == nil {
		c.onCreate()
	}
	return id, err
}
