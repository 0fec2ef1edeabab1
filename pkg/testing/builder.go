package testing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/plugin/hbase"
	"github.com/getmockd/imposter/pkg/plugin/rest"
)

// TableBuilder declares an HBase table using a fluent API.
type TableBuilder struct {
	server  *MockServer
	route   *config.RouteConfig
	records []map[string]any
	script  string
	err     error // First error encountered during building
}

// Table starts declaring a table served under the root base path.
func (m *MockServer) Table(name string, records ...map[string]any) *TableBuilder {
	return &TableBuilder{
		server:  m,
		route:   &config.RouteConfig{Plugin: hbase.PluginID, ResourceID: name},
		records: records,
	}
}

// setError records the first error encountered during building.
func (b *TableBuilder) setError(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns any error encountered during building.
func (b *TableBuilder) Err() error {
	return b.err
}

// WithBasePath serves the table under path.
func (b *TableBuilder) WithBasePath(path string) *TableBuilder {
	if path != "" && !strings.HasPrefix(path, "/") {
		b.setError(fmt.Errorf("WithBasePath: %q must start with /", path))
		return b
	}
	b.route.BasePath = strings.TrimSuffix(path, "/")
	return b
}

// WithPrefix requires scanner filters to carry this row-key prefix.
func (b *TableBuilder) WithPrefix(prefix string) *TableBuilder {
	b.route.FilterPrefix = &prefix
	return b
}

// WithScript attaches a JavaScript behaviour script.
func (b *TableBuilder) WithScript(js string) *TableBuilder {
	b.script = js
	return b
}

// Add writes the dataset and registers the table. It fails the test on
// any building error.
func (b *TableBuilder) Add() {
	m := b.server
	m.t.Helper()
	if b.err != nil {
		m.t.Fatalf("table %s: %v", b.route.ResourceID, b.err)
		return
	}

	records := b.records
	if records == nil {
		records = []map[string]any{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		m.t.Fatalf("table %s: encoding records: %v", b.route.ResourceID, err)
		return
	}
	b.route.Dir = m.dir
	b.route.ResponseFile = m.writeFile(".json", data)
	if b.script != "" {
		b.route.ScriptFile = m.writeFile(".js", []byte(b.script))
	}
	m.add(b.route)
}

// ResourceBuilder declares a REST resource using a fluent API.
type ResourceBuilder struct {
	server    *MockServer
	route     *config.RouteConfig
	body      []byte
	script    string
	scriptExt string
	err       error
}

// Resource starts declaring a REST resource served under the root base path.
func (m *MockServer) Resource(name string) *ResourceBuilder {
	return &ResourceBuilder{
		server: m,
		route:  &config.RouteConfig{Plugin: rest.PluginID, ResourceID: name},
	}
}

func (b *ResourceBuilder) setError(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err returns any error encountered during building.
func (b *ResourceBuilder) Err() error {
	return b.err
}

// WithBasePath serves the resource under path.
func (b *ResourceBuilder) WithBasePath(path string) *ResourceBuilder {
	if path != "" && !strings.HasPrefix(path, "/") {
		b.setError(fmt.Errorf("WithBasePath: %q must start with /", path))
		return b
	}
	b.route.BasePath = strings.TrimSuffix(path, "/")
	return b
}

// WithBody sets the static response body.
// Strings and byte slices are used as-is; anything else is JSON encoded.
func (b *ResourceBuilder) WithBody(body any) *ResourceBuilder {
	switch v := body.(type) {
	case string:
		b.body = []byte(v)
	case []byte:
		b.body = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			b.setError(fmt.Errorf("WithBody: failed to marshal body: %w", err))
			return b
		}
		b.body = data
	}
	return b
}

// WithContentType sets the Content-Type of the static body.
func (b *ResourceBuilder) WithContentType(contentType string) *ResourceBuilder {
	b.route.ContentType = contentType
	return b
}

// WithScript attaches a behaviour script. ext selects the engine (".js"
// or ".expr"); it defaults to ".js".
func (b *ResourceBuilder) WithScript(src string, ext ...string) *ResourceBuilder {
	b.script = src
	b.scriptExt = ".js"
	if len(ext) > 0 {
		b.scriptExt = ext[0]
	}
	return b
}

// Add writes the resource files and registers the resource.
func (b *ResourceBuilder) Add() {
	m := b.server
	m.t.Helper()
	if b.err != nil {
		m.t.Fatalf("resource %s: %v", b.route.ResourceID, b.err)
		return
	}

	b.route.Dir = m.dir
	if b.body != nil {
		b.route.ResponseFile = m.writeFile(".body", b.body)
	}
	if b.script != "" {
		b.route.ScriptFile = m.writeFile(b.scriptExt, []byte(b.script))
	}
	if b.route.ContentType == "" {
		b.route.ContentType = config.DefaultContentType
	}
	m.add(b.route)
}

func (m *MockServer) writeFile(ext string, data []byte) string {
	m.t.Helper()
	path := filepath.Join(m.dir, m.nextFile(ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.t.Fatalf("writing %s: %v", path, err)
	}
	return path
}
