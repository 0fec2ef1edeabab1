package hbase

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/getmockd/imposter/pkg/behaviour"
	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/cursor"
	"github.com/getmockd/imposter/pkg/httputil"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/route"
	"github.com/getmockd/imposter/pkg/scan"
)

// PluginID is the plugin identifier used in route configuration.
const PluginID = "hbase"

// Scan phases exposed to scripts.
const (
	PhaseCreate = "create"
	PhaseRead   = "read"
)

const maxBodySize = 1 << 20

// Plugin serves HBase scanner routes.
type Plugin struct {
	scans    *scan.Engine
	resolver *behaviour.Resolver
	log      *slog.Logger
	observe  func(plugin string, status int)

	urlMu     sync.RWMutex
	serverURL string

	routes []*config.RouteConfig
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

// New creates the plugin. serverURL prefixes the Location of new scanners.
func New(scans *scan.Engine, resolver *behaviour.Resolver, serverURL string, opts ...Option) *Plugin {
	p := &Plugin{
		scans:    scans,
		resolver: resolver,
		log:      logging.Nop(),
	}
	p.SetServerURL(serverURL)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetServerURL changes the URL prefix of Location headers, for servers that
// only learn their address once listening.
func (p *Plugin) SetServerURL(url string) {
	p.urlMu.Lock()
	defer p.urlMu.Unlock()
	p.serverURL = strings.TrimSuffix(url, "/")
}

// ID implements route.Plugin.
func (p *Plugin) ID() string { return PluginID }

// Configure implements route.Plugin.
func (p *Plugin) Configure(routes []*config.RouteConfig) error {
	p.routes = routes
	return nil
}

// RegisterRoutes implements route.Plugin. Each distinct base path gets one
// create and one read route.
func (p *Plugin) RegisterRoutes(d *route.Dispatcher) error {
	for _, base := range route.BasePaths(p.routes) {
		label := base
		if label == "" {
			label = "<empty>"
		}
		p.log.Debug("adding scanner routes", "basePath", label)

		scanner := base + "/{" + route.ParamResourceID + "}/scanner"
		d.Handle(http.MethodPost, scanner, p.createScanner(d, base))
		d.Handle(http.MethodPut, scanner, p.createScanner(d, base))
		d.Handle(http.MethodGet, scanner+"/{"+route.ParamCursorID+"}", p.readScanner(d, base))
	}
	return nil
}

// LocationFor returns the URL of a scanner.
func (p *Plugin) LocationFor(basePath, table string, id uint64) string {
	p.urlMu.RLock()
	defer p.urlMu.RUnlock()
	return p.serverURL + basePath + "/" + table + "/scanner/" + strconv.FormatUint(id, 10)
}

func (p *Plugin) createScanner(d *route.Dispatcher, basePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table := route.ResourceParam(r)
		rt, err := d.Lookup(PluginID, basePath, table)
		if err != nil {
			p.log.Error("received scanner request for unknown table", "table", table)
			p.fail(w, err)
			return
		}
		p.log.Info("received scanner request for table", "table", table)

		body, err := behaviour.ReadBody(r, maxBodySize)
		if err != nil {
			p.fail(w, &MalformedRequestError{Reason: "reading body", Err: err})
			return
		}

		desc, err := DecodeScanner(RequestFormat(r.Header.Get("Content-Type")), body)
		if err != nil {
			p.fail(w, err)
			return
		}
		p.log.Debug("scanner filter", "table", table, "filter", desc.Filter)

		decision, err := p.resolve(r, rt, body, PhaseCreate)
		if err != nil {
			p.fail(w, err)
			return
		}
		if decision.IsImmediate() {
			p.respondImmediately(w, decision)
			return
		}

		id, err := p.scans.Create(r.Context(), rt, desc.Filter)
		if err != nil {
			p.fail(w, err)
			return
		}

		w.Header().Set("Location", p.LocationFor(basePath, table, id))
		p.finish(w, decision.StatusOr(http.StatusCreated))
	}
}

func (p *Plugin) readScanner(d *route.Dispatcher, basePath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table := route.ResourceParam(r)
		rt, err := d.Lookup(PluginID, basePath, table)
		if err != nil {
			p.log.Error("received result request for unknown table", "table", table)
			p.fail(w, err)
			return
		}

		rows, err := parseRows(r.URL.Query().Get("n"))
		if err != nil {
			p.fail(w, err)
			return
		}

		idParam := route.CursorParam(r)
		id, err := strconv.ParseUint(idParam, 10, 64)
		if err != nil {
			p.log.Error("received result request for non-existent scanner", "scannerId", idParam, "table", table)
			p.fail(w, &cursor.NotFoundError{ID: 0})
			return
		}
		p.log.Info("received result request", "rows", rows, "scannerId", id, "table", table)

		decision, err := p.resolve(r, rt, nil, PhaseRead)
		if err != nil {
			p.fail(w, err)
			return
		}
		if decision.IsImmediate() {
			p.respondImmediately(w, decision)
			return
		}

		req := scan.ReadRequest{CursorID: id, Rows: rows, Route: rt, File: decision.File}
		if decision.Empty {
			req.Rows, req.File = 0, ""
		}
		page, err := p.scans.Read(r.Context(), req)
		if err != nil {
			if cursor.IsNotFound(err) {
				p.log.Error("received result request for non-existent scanner", "scannerId", id, "table", table)
			}
			p.fail(w, err)
			return
		}

		format := ResponseFormat(r.Header.Get("Accept"))
		out, err := EncodeCellSet(format, page.Envelope)
		if err != nil {
			p.fail(w, err)
			return
		}

		status := decision.StatusOr(http.StatusOK)
		w.Header().Set("Content-Type", format.MediaType())
		w.WriteHeader(status)
		_, _ = w.Write(out)
		p.record(status)
	}
}

func (p *Plugin) resolve(r *http.Request, rt *config.RouteConfig, body []byte, phase string) (behaviour.Decision, error) {
	rc := behaviour.NewRequestContext(r, route.PathParams(r), body, map[string]any{
		behaviour.ExtScanPhase: phase,
		behaviour.ExtTableName: rt.ResourceID,
	})
	return p.resolver.Resolve(r.Context(), rt, rc)
}

// parseRows reads the n query parameter.
func parseRows(raw string) (int, error) {
	if raw == "" {
		return 0, &MalformedRequestError{Reason: "missing query parameter n"}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &MalformedRequestError{Reason: "query parameter n must be an integer", Err: err}
	}
	if n < 0 {
		return 0, &MalformedRequestError{Reason: "query parameter n must not be negative"}
	}
	return n, nil
}

func (p *Plugin) respondImmediately(w http.ResponseWriter, d behaviour.Decision) {
	p.finish(w, d.StatusOr(http.StatusOK))
}

func (p *Plugin) finish(w http.ResponseWriter, status int) {
	httputil.WriteStatus(w, status)
	p.record(status)
}

func (p *Plugin) fail(w http.ResponseWriter, err error) {
	status := httputil.WriteStatusError(w, err)
	if status >= http.StatusInternalServerError {
		p.log.Error("scanner request failed", "status", status, "error", err)
	}
	p.record(status)
}

func (p *Plugin) record(status int) {
	if p.observe != nil {
		p.observe(PluginID, status)
	}
}
