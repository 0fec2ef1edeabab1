package behaviour

import (
	"context"
	"log/slog"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/logging"
)

// Evaluator runs a behaviour script. It returns nil when the script made no
// decision.
type Evaluator interface {
	Evaluate(ctx context.Context, scriptFile string, rc *RequestContext) (*Decision, error)
}

// Resolver combines a route's static configuration with its script's output
// into one Decision. It holds no per-request state.
type Resolver struct {
	evaluator Evaluator
	log       *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// NewResolver creates a Resolver. evaluator may be nil if no route uses scripts.
func NewResolver(evaluator Evaluator, opts ...ResolverOption) *Resolver {
	r := &Resolver{evaluator: evaluator, log: logging.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve decides the behaviour for one request to route.
//
// A route without a script resolves to UseDefault(route.ResponseFile). A
// script that makes no decision resolves the same way. A sealed immediate
// decision is returned verbatim; a default decision keeps the script's
// status and file, falling back to the route's static file. Script failures
// are returned as errors and no partial decision is applied.
func (r *Resolver) Resolve(ctx context.Context, route *config.RouteConfig, rc *RequestContext) (Decision, error) {
	static := UseDefault(route.ResponseFile)

	if !route.HasScript() || r.evaluator == nil {
		r.log.Debug("no script configured, using static behaviour", "resource", route.ResourceID)
		return static, nil
	}

	decided, err := r.evaluator.Evaluate(ctx, route.ScriptFile, rc)
	if err != nil {
		return Decision{}, err
	}

	if decided == nil {
		r.log.Debug("script made no decision, using static behaviour", "resource", route.ResourceID)
		return static, nil
	}

	d := *decided
	if !d.IsImmediate() {
		switch {
		case d.Empty:
		case d.File == "":
			d.File = route.ResponseFile
		default:
			d.File = config.ResolvePath(route.Dir, d.File)
		}
	}

	r.log.Debug("script decided behaviour", "resource", route.ResourceID, "decision", d.String())
	return d, nil
}
