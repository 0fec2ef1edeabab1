package testing

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/engine"
	"github.com/getmockd/imposter/pkg/plugin/hbase"
	"github.com/getmockd/imposter/pkg/scan"
)

// MockServer is a test helper running imposter in-process.
type MockServer struct {
	t      testing.TB
	dir    string
	client *http.Client

	mu      sync.Mutex
	routes  []*config.RouteConfig
	server  *engine.Server
	started bool
	baseURL string
	files   int
}

// New creates a mock server for t. It is stopped automatically when the
// test completes.
func New(t testing.TB) *MockServer {
	t.Helper()
	m := &MockServer{
		t:      t,
		dir:    t.TempDir(),
		client: &http.Client{Timeout: 10 * time.Second},
	}
	t.Cleanup(m.Stop)
	return m
}

// add registers a route. Routes are fixed once the server has started.
func (m *MockServer) add(r *config.RouteConfig) {
	m.t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		m.t.Fatalf("route %s/%s added after Start", r.BasePath, r.ResourceID)
		return
	}
	m.routes = append(m.routes, r)
}

// nextFile returns a fresh file name in the server's data directory.
func (m *MockServer) nextFile(ext string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files++
	return fmt.Sprintf("route-%d%s", m.files, ext)
}

// Start starts the server on a random local port and returns its base URL.
// Calling Start again returns the same URL.
func (m *MockServer) Start() string {
	m.t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return m.baseURL
	}

	cfg := config.DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	srv, err := engine.NewServer(cfg, m.routes, engine.WithVersion("test"))
	if err != nil {
		m.t.Fatalf("failed to configure imposter: %v", err)
		return ""
	}
	if err := srv.Start(); err != nil {
		m.t.Fatalf("failed to start imposter: %v", err)
		return ""
	}

	m.server = srv
	m.baseURL = srv.URL()
	m.started = true
	return m.baseURL
}

// URL returns the base URL, starting the server if needed.
func (m *MockServer) URL() string {
	m.t.Helper()
	return m.Start()
}

// Server returns the underlying engine, or nil before Start.
func (m *MockServer) Server() *engine.Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server
}

// Stop stops the server. It is safe to call more than once.
func (m *MockServer) Stop() {
	m.mu.Lock()
	srv := m.server
	m.mu.Unlock()
	if srv != nil {
		if err := srv.Stop(); err != nil {
			m.t.Logf("stopping imposter: %v", err)
		}
	}
}

// CreateScanner opens a scanner on a table and returns its Location. An
// empty filter creates an unfiltered scan.
func (m *MockServer) CreateScanner(basePath, table, filter string) string {
	m.t.Helper()

	body, err := hbase.EncodeScanner(hbase.FormatJSON, hbase.Scanner{Filter: filter})
	if err != nil {
		m.t.Fatalf("encoding scanner: %v", err)
		return ""
	}
	resp, err := m.client.Post(m.URL()+basePath+"/"+table+"/scanner", hbase.MediaJSON, bytes.NewReader(body))
	if err != nil {
		m.t.Fatalf("creating scanner: %v", err)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		m.t.Fatalf("creating scanner on %s: status %d: %s", table, resp.StatusCode, msg)
		return ""
	}
	return resp.Header.Get("Location")
}

// ReadScanner fetches up to n rows from the scanner at location. The
// envelope is empty unless the status is 200.
func (m *MockServer) ReadScanner(location string, n int) (scan.Envelope, int) {
	m.t.Helper()

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s?n=%d", location, n), nil)
	if err != nil {
		m.t.Fatalf("building scanner request: %v", err)
		return scan.Envelope{}, 0
	}
	req.Header.Set("Accept", hbase.MediaJSON)

	resp, err := m.client.Do(req)
	if err != nil {
		m.t.Fatalf("reading scanner: %v", err)
		return scan.Envelope{}, 0
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return scan.Envelope{}, resp.StatusCode
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		m.t.Fatalf("reading scanner body: %v", err)
		return scan.Envelope{}, resp.StatusCode
	}
	env, err := hbase.DecodeCellSet(hbase.FormatJSON, data)
	if err != nil {
		m.t.Fatalf("decoding cell set: %v", err)
	}
	return env, resp.StatusCode
}

// Scan creates a scanner and reads pages of pageSize until the server
// reports it gone, returning every row.
func (m *MockServer) Scan(basePath, table string, pageSize int) []scan.Row {
	m.t.Helper()
	if pageSize <= 0 {
		m.t.Fatalf("page size must be positive, got %d", pageSize)
		return nil
	}

	location := m.CreateScanner(basePath, table, "")
	var rows []scan.Row
	for {
		page, status := m.ReadScanner(location, pageSize)
		switch status {
		case http.StatusOK:
			rows = append(rows, page.Rows...)
		case http.StatusNotFound:
			return rows
		default:
			m.t.Fatalf("reading scanner %s: status %d", location, status)
			return rows
		}
	}
}
