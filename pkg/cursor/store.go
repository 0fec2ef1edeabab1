package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/logging"
)

// Eviction reasons passed to an EvictionHook.
const (
	ReasonExhausted    = "exhausted"
	ReasonIdle         = "idle"
	ReasonRouteRemoved = "route_removed"
)

var (
	// ErrBackwardAdvance is returned when Advance would move a cursor backwards.
	ErrBackwardAdvance = errors.New("cursor position cannot move backwards")
	// ErrPositionChanged is returned when a cursor is no longer at the
	// position an Advance expected, because another read moved it first.
	ErrPositionChanged = errors.New("cursor position changed")
)

// NotFoundError is returned for a cursor id that was never created or has
// been evicted.
type NotFoundError struct {
	ID uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scanner %d not found or expired", e.ID)
}

// StatusCode returns the HTTP status code for this error.
func (e *NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// State is a snapshot of one cursor.
type State struct {
	ID         uint64
	Route      *config.RouteConfig
	Position   int
	LastAccess time.Time
}

// Store holds open cursors. Implementations are safe for concurrent use;
// operations on different ids do not contend.
type Store interface {
	// Create allocates the next id and stores a cursor at position 0.
	Create(ctx context.Context, route *config.RouteConfig) (uint64, error)
	// Get returns the cursor and restarts its idle window.
	Get(ctx context.Context, id uint64) (State, error)
	// Advance moves the cursor from position from to position to. It
	// returns ErrPositionChanged if the cursor is not at from, and
	// ErrBackwardAdvance if to is before from; either way the cursor is
	// left unchanged.
	Advance(ctx context.Context, id uint64, from, to int) error
	// Evict removes the cursor. Evicting a missing cursor is not an error.
	Evict(ctx context.Context, id uint64) error
	// Len returns the number of open cursors.
	Len(ctx context.Context) (int, error)
	// Close releases resources held by the store.
	Close() error
}

// EvictionHook is called whenever a cursor is removed.
type EvictionHook func(id uint64, reason string)

type options struct {
	idleTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger
	onEvict     EvictionHook
	keyPrefix   string
}

func defaultOptions() options {
	return options{
		idleTimeout: config.DefaultCursorIdleTimeout,
		now:         time.Now,
		log:         logging.Nop(),
		keyPrefix:   "imposter:",
	}
}

// Option configures a Store.
type Option func(*options)

// WithIdleTimeout sets how long a cursor may go unaccessed.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithEvictionHook registers a callback for removals.
func WithEvictionHook(hook EvictionHook) Option {
	return func(o *options) { o.onEvict = hook }
}

// WithKeyPrefix sets the key namespace used by RedisStore.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}
