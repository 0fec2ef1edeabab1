package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/engine"
	"github.com/spf13/cobra"
)

// serveFlags holds the values bound to the serve command's flags.
type serveFlags struct {
	host                string
	port                int
	serverURL           string
	configDirs          []string
	cursorStore         string
	redisAddr           string
	cursorIdleTimeout   time.Duration
	cursorSweepInterval time.Duration
	scriptTimeout       time.Duration
	scriptWorkers       int
	readTimeout         time.Duration
	writeTimeout        time.Duration
}

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

var errNoConfigDir = errors.New("no configuration directory: use --config-dir or IMPOSTER_CONFIG_DIR")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mock server (foreground)",
	Long: `Start the mock server with the routes found under one or more configuration
directories. Every file matching **/*-config.{yaml,yml,json} declares one route.

Unset flags fall back to IMPOSTER_* environment variables:
  IMPOSTER_CONFIG_DIR, IMPOSTER_PORT, IMPOSTER_SERVER_URL,
  IMPOSTER_REDIS_ADDR, IMPOSTER_CURSOR_IDLE_TIMEOUT`,
	Example: `  # Serve the routes under ./config on port 8080
  imposter serve --config-dir ./config

  # Pick a free port and advertise a public URL in Location headers
  imposter serve -c ./config --port 0 --server-url https://mocks.example.com

  # Share scanner cursors between replicas through redis
  imposter serve -c ./config --cursor-store redis --redis-addr localhost:6379`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, &serveFlagVals, cmd.ErrOrStderr())
	},
}

// serverConfig maps the flags onto a ServerConfig, then applies the
// environment to whatever the flags left at its default.
func (f *serveFlags) serverConfig() *config.ServerConfig {
	cfg := config.DefaultServerConfig()
	cfg.Host = f.host
	cfg.Port = f.port
	cfg.ServerURL = f.serverURL
	cfg.ConfigDirs = append([]string(nil), f.configDirs...)
	cfg.CursorStore = f.cursorStore
	cfg.RedisAddr = f.redisAddr
	cfg.CursorIdleTimeout = f.cursorIdleTimeout
	cfg.CursorSweepInterval = f.cursorSweepInterval
	cfg.ScriptTimeout = f.scriptTimeout
	cfg.ScriptWorkers = f.scriptWorkers
	cfg.ReadTimeout = f.readTimeout
	cfg.WriteTimeout = f.writeTimeout
	cfg.ApplyEnv()
	return cfg
}

// runServe serves until ctx is done, then shuts the server down.
func runServe(ctx context.Context, f *serveFlags, logOut io.Writer) error {
	log := newLogger(logOut)

	cfg := f.serverConfig()
	if len(cfg.ConfigDirs) == 0 {
		return errNoConfigDir
	}

	routes, err := config.LoadRoutes(cfg.ConfigDirs)
	if err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}

	srv, err := engine.NewServer(cfg, routes,
		engine.WithLogger(log),
		engine.WithVersion(Version),
	)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		_ = srv.Stop()
		return err
	}
	log.Info("mock server ready", "url", srv.URL(), "routes", len(routes))

	<-ctx.Done()
	log.Info("shutting down")
	return srv.Stop()
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := &serveFlagVals
	d := config.DefaultServerConfig()

	serveCmd.Flags().StringVar(&f.host, "host", d.Host, "Bind address")
	serveCmd.Flags().IntVarP(&f.port, "port", "p", d.Port, "HTTP server port (0 = pick a free port)")
	serveCmd.Flags().StringVar(&f.serverURL, "server-url", "", "Base URL used in Location headers (default http://{host}:{port})")
	serveCmd.Flags().StringSliceVarP(&f.configDirs, "config-dir", "c", nil, "Route configuration directory (repeatable)")

	serveCmd.Flags().StringVar(&f.cursorStore, "cursor-store", d.CursorStore, "Scanner cursor backend (memory, redis)")
	serveCmd.Flags().StringVar(&f.redisAddr, "redis-addr", "", "Redis address for the redis cursor store")
	serveCmd.Flags().DurationVar(&f.cursorIdleTimeout, "cursor-idle-timeout", d.CursorIdleTimeout, "Evict scanners not read for this long")
	serveCmd.Flags().DurationVar(&f.cursorSweepInterval, "cursor-sweep-interval", d.CursorSweepInterval, "How often idle scanners are reclaimed (memory store)")

	serveCmd.Flags().DurationVar(&f.scriptTimeout, "script-timeout", d.ScriptTimeout, "Maximum run time of one behaviour script")
	serveCmd.Flags().IntVar(&f.scriptWorkers, "script-workers", d.ScriptWorkers, "Maximum number of concurrently running scripts")

	serveCmd.Flags().DurationVar(&f.readTimeout, "read-timeout", d.ReadTimeout, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&f.writeTimeout, "write-timeout", d.WriteTimeout, "HTTP write timeout")
}
