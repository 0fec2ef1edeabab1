// Package rest serves behaviour-driven resources: every request is answered
// from the decision the route's script (or static file) resolves to.
package rest

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/getmockd/imposter/pkg/behaviour"
	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/httputil"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/route"
)

// PluginID is the plugin identifier used in route configuration.
const PluginID = "rest"

const maxBodySize = 1 << 20

var methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// Plugin serves REST routes.
type Plugin struct {
	resolver *behaviour.Resolver
	log      *slog.Logger
	observe  func(plugin string, status int)
	routes   []*config.RouteConfig
}

var _ route.Plugin = (*Plugin)(nil)

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the plugin logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Plugin) {
		if log != nil {
			p.log = log
		}
	}
}

// WithObserver sets a hook called with the status of every response.
func WithObserver(fn func(plugin string, status int)) Option {
	return func(p *Plugin) { p.observe = fn }
}

// New creates the plugin.
func New(resolver *behaviour.Resolver, opts ...Option) *Plugin {
	p := &Plugin{resolver: resolver, log: logging.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID implements route.Plugin.
func (p *Plugin) ID() string { return PluginID }

// Configure implements route.Plugin.
func (p *Plugin) Configure(routes []*config.RouteConfig) error {
	for _, r := range routes {
		if r.ResponseFile == "" && !r.HasScript() {
			p.log.Warn("rest route has neither response file nor script, responses will be empty", "resource", r.ResourceID)
		}
	}
	p.routes = routes
	return nil
}

// RegisterRoutes implements route.Plugin.
func (p *Plugin) RegisterRoutes(d *route.Dispatcher) error {
	for _, base := range route.BasePaths(p.routes) {
		pattern := base + "/{" + route.ParamResourceID + "}"
		for _, m := range methods {
			d.Handle(m, pattern, p.serve(d, base))
		}
	}
	return nil
}

func (p *Plugin) serve(d *route.Dispatcher, basePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt, err := d.Lookup(PluginID, basePath, route.ResourceParam(r))
		if err != nil {
			p.fail(w, err)
			return
		}

		body, err := behaviour.ReadBody(r, maxBodySize)
		if err != nil {
			p.fail(w, err)
			return
		}
		rc := behaviour.NewRequestContext(r, route.PathParams(r), body, nil)

		decision, err := p.resolver.Resolve(r.Context(), rt, rc)
		if err != nil {
			p.fail(w, err)
			return
		}
		p.log.Debug("resolved response behaviour", "resource", rt.ResourceID, "decision", decision.String())

		status := decision.StatusOr(http.StatusOK)
		if decision.IsImmediate() || decision.Empty || decision.File == "" {
			httputil.WriteStatus(w, status)
			p.record(status)
			return
		}

		data, err := os.ReadFile(decision.File)
		if err != nil {
			p.fail(w, fmt.Errorf("reading response file: %w", err))
			return
		}

		contentType := rt.ContentType
		if contentType == "" {
			contentType = config.DefaultContentType
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write(data)
		p.record(status)
	}
}

func (p *Plugin) fail(w http.ResponseWriter, err error) {
	status := httputil.WriteStatusError(w, err)
	if status >= http.StatusInternalServerError {
		p.log.Error("request failed", "status", status, "error", err)
	}
	p.record(status)
}

func (p *Plugin) record(status int) {
	if p.observe != nil {
		p.observe(PluginID, status)
	}
}
