package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/cursor"
	"github.com/getmockd/imposter/pkg/filter"
	"github.com/getmockd/imposter/pkg/logging"
)

// RowKeyPrefix prefixes the synthetic key of every returned row.
const RowKeyPrefix = "rowKey"

// ErrNegativeRows is returned for a page size below zero.
var ErrNegativeRows = errors.New("row count must not be negative")

// Cell is one column of a row.
type Cell struct {
	Column string
	Value  string
}

// Row is one returned record.
type Row struct {
	Key   string
	Cells []Cell
}

// Envelope is one page of rows.
type Envelope struct {
	Rows []Row
}

// ReadRequest asks for the next page of a cursor.
type ReadRequest struct {
	CursorID uint64
	Rows     int
	// Route, when set, must be the route the cursor was opened on.
	Route *config.RouteConfig
	// File overrides the route's dataset file for this page.
	File string
}

// Page is the result of a read.
type Page struct {
	Envelope  Envelope
	Position  int
	Exhausted bool
}

// Engine runs scans against a cursor store.
type Engine struct {
	store  cursor.Store
	loader DatasetLoader
	log    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithLoader replaces the FileLoader.
func WithLoader(loader DatasetLoader) Option {
	return func(e *Engine) {
		if loader != nil {
			e.loader = loader
		}
	}
}

// NewEngine creates an Engine over store.
func NewEngine(store cursor.Store, opts ...Option) *Engine {
	e := &Engine{store: store, loader: FileLoader{}, log: logging.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's cursor store.
func (e *Engine) Store() cursor.Store {
	return e.store
}

// Create opens a cursor on route. filterExpr is the scan's filter
// expression, empty for none; it must satisfy the route's prefix
// constraint or no cursor is created.
func (e *Engine) Create(ctx context.Context, route *config.RouteConfig, filterExpr string) (uint64, error) {
	if err := filter.Check(route.ResourceID, route.FilterPrefix, filterExpr); err != nil {
		e.log.Warn("scanner filter rejected", "table", route.ResourceID, "error", err)
		return 0, err
	}
	id, err := e.store.Create(ctx, route)
	if err != nil {
		return 0, err
	}
	e.log.Info("created scanner", "table", route.ResourceID, "scannerId", id)
	return id, nil
}

// Read returns up to req.Rows rows from the cursor's current position.
//
// A zero row count returns an empty page and leaves the cursor untouched.
// The cursor is advanced only after the page is built, and evicted once
// its position reaches the end of the dataset. If another read moves the
// cursor first, the page is rebuilt from the new position, so every row is
// delivered at most once per cursor.
func (e *Engine) Read(ctx context.Context, req ReadRequest) (Page, error) {
	if req.Rows < 0 {
		return Page{}, fmt.Errorf("%w: %d", ErrNegativeRows, req.Rows)
	}

	for {
		page, err := e.read(ctx, req)
		if !errors.Is(err, cursor.ErrPositionChanged) {
			return page, err
		}
		e.log.Debug("scanner moved by a concurrent read, retrying", "scannerId", req.CursorID)
	}
}

func (e *Engine) read(ctx context.Context, req ReadRequest) (Page, error) {
	st, err := e.store.Get(ctx, req.CursorID)
	if err != nil {
		return Page{}, err
	}
	if req.Route != nil && st.Route.Key() != req.Route.Key() {
		return Page{}, &cursor.NotFoundError{ID: req.CursorID}
	}
	if req.Rows == 0 {
		return Page{Envelope: Envelope{Rows: []Row{}}, Position: st.Position}, nil
	}

	ds, err := e.loader.Load(ctx, st.Route, req.File)
	if err != nil {
		return Page{}, err
	}

	start := min(st.Position, len(ds))
	end := min(start+req.Rows, len(ds))
	rows := make([]Row, 0, end-start)
	for i := start; i < end; i++ {
		rows = append(rows, buildRow(i, ds[i]))
	}

	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	if end > st.Position {
		if err := e.store.Advance(ctx, req.CursorID, st.Position, end); err != nil {
			return Page{}, err
		}
	}

	page := Page{Envelope: Envelope{Rows: rows}, Position: end}
	if end >= len(ds) {
		if err := e.store.Evict(ctx, req.CursorID); err != nil {
			return Page{}, err
		}
		page.Exhausted = true
		e.log.Info("scanner exhausted", "table", st.Route.ResourceID, "scannerId", req.CursorID)
	}

	e.log.Info("returning rows from scanner", "rows", len(rows), "table", st.Route.ResourceID, "scannerId", req.CursorID)
	return page, nil
}

func buildRow(index int, rec Record) Row {
	fields := rec.Fields()
	row := Row{Key: RowKeyPrefix + strconv.Itoa(index+1), Cells: make([]Cell, 0, len(fields))}
	for _, name := range fields {
		row.Cells = append(row.Cells, Cell{Column: name, Value: rec[name]})
	}
	return row
}
