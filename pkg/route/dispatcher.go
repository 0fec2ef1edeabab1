package route

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/httputil"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/go-chi/chi/v5"
)

// URL parameter names shared by plugin routes.
const (
	ParamResourceID = "resourceId"
	ParamCursorID   = "cursorId"
)

// UnknownResourceError is returned when no route is declared for a
// (basePath, resourceId) pair.
type UnknownResourceError struct {
	BasePath   string
	ResourceID string
}

func (e *UnknownResourceError) Error() string {
	return fmt.Sprintf("no resource %q configured under %q", e.ResourceID, e.BasePath)
}

// StatusCode returns the HTTP status code for this error.
func (e *UnknownResourceError) StatusCode() int {
	return http.StatusNotFound
}

// Dispatcher holds the route registry and the HTTP router plugins attach
// their handlers to.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[config.Key]*config.RouteConfig
	router chi.Router
	log    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		routes: make(map[config.Key]*config.RouteConfig),
		router: chi.NewRouter(),
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path)
	})
	d.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed on "+r.URL.Path)
	})
	return d
}

// Register adds route to the registry. Keys must be unique.
func (d *Dispatcher) Register(route *config.RouteConfig) error {
	key := route.Key()

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.routes[key]; ok {
		return fmt.Errorf("%w: %s/%s declared in %s and %s",
			config.ErrDuplicateRoute, key.BasePath, key.ResourceID, existing.Source, route.Source)
	}
	d.routes[key] = route
	d.log.Debug("registered route", "plugin", route.Plugin, "basePath", key.BasePath, "resourceId", key.ResourceID)
	return nil
}

// Lookup returns the route for (basePath, resourceID) when it belongs to
// plugin. Any other case is an UnknownResourceError.
func (d *Dispatcher) Lookup(plugin, basePath, resourceID string) (*config.RouteConfig, error) {
	route, ok := d.LookupKey(config.Key{BasePath: basePath, ResourceID: resourceID})
	if !ok || NormalizeID(route.Plugin) != NormalizeID(plugin) {
		return nil, &UnknownResourceError{BasePath: basePath, ResourceID: resourceID}
	}
	return route, nil
}

// LookupKey returns the route registered under key.
func (d *Dispatcher) LookupKey(key config.Key) (*config.RouteConfig, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	route, ok := d.routes[key]
	return route, ok
}

// Routes returns all registered routes ordered by base path and resource.
func (d *Dispatcher) Routes() []*config.RouteConfig {
	d.mu.RLock()
	out := make([]*config.RouteConfig, 0, len(d.routes))
	for _, r := range d.routes {
		out = append(out, r)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BasePath != out[j].BasePath {
			return out[i].BasePath < out[j].BasePath
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out
}

// Len returns the number of registered routes.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.routes)
}

// Router returns the underlying router. Middleware must be added before
// any handler is registered.
func (d *Dispatcher) Router() chi.Router {
	return d.router
}

// Handle registers h for method and pattern.
func (d *Dispatcher) Handle(method, pattern string, h http.HandlerFunc) {
	d.router.MethodFunc(method, pattern, h)
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.router.ServeHTTP(w, r)
}

// ResourceParam returns the resource id path parameter of r.
func ResourceParam(r *http.Request) string {
	return chi.URLParam(r, ParamResourceID)
}

// CursorParam returns the cursor id path parameter of r.
func CursorParam(r *http.Request) string {
	return chi.URLParam(r, ParamCursorID)
}

// PathParams returns all path parameters of r.
func PathParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}
	for i, key := range rctx.URLParams.Keys {
		if i < len(rctx.URLParams.Values) {
			params[key] = rctx.URLParams.Values[i]
		}
	}
	return params
}

// BasePaths returns the distinct base paths of routes, sorted.
func BasePaths(routes []*config.RouteConfig) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range routes {
		if !seen[r.BasePath] {
			seen[r.BasePath] = true
			out = append(out, r.BasePath)
		}
	}
	sort.Strings(out)
	return out
}
