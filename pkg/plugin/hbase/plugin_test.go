package hbase

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/getmockd/imposter/pkg/behaviour"
	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/cursor"
	"github.com/getmockd/imposter/pkg/filter"
	"github.com/getmockd/imposter/pkg/route"
	"github.com/getmockd/imposter/pkg/scan"
	"github.com/getmockd/imposter/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testServerURL = "http://imposter.test"

type harness struct {
	server *httptest.Server
	store  *cursor.MemoryStore

	mu       sync.Mutex
	statuses []int
}

func (h *harness) observed() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.statuses...)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newHarness(t *testing.T, routes ...*config.RouteConfig) *harness {
	t.Helper()
	h := &harness{store: cursor.NewMemoryStore()}

	sandbox := script.NewSandbox()
	t.Cleanup(func() { _ = sandbox.Close(context.Background()) })

	plugin := New(
		scan.NewEngine(h.store),
		behaviour.NewResolver(sandbox),
		testServerURL,
		WithObserver(func(_ string, status int) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.statuses = append(h.statuses, status)
		}),
	)
	reg, err := route.NewRegistry(plugin)
	require.NoError(t, err)

	d := route.NewDispatcher()
	require.NoError(t, reg.Bind(d, routes))

	h.server = httptest.NewServer(d)
	t.Cleanup(h.server.Close)
	return h
}

func tableRoute(t *testing.T, dataset string) *config.RouteConfig {
	dir := t.TempDir()
	return &config.RouteConfig{
		Plugin:       PluginID,
		BasePath:     "/base",
		ResourceID:   "mytable",
		ResponseFile: writeFile(t, dir, "rows.json", dataset),
		Dir:          dir,
	}
}

func (h *harness) create(t *testing.T, path, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) read(t *testing.T, path, accept string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func scannerPath(t *testing.T, resp *http.Response) string {
	t.Helper()
	loc := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(loc, testServerURL), "location %q", loc)
	return strings.TrimPrefix(loc, testServerURL)
}

func TestScanner_ThreeRecordScenario(t *testing.T) {
	h := newHarness(t, tableRoute(t, `[{"a":"1"},{"a":"2"},{"a":"3"}]`))

	resp := h.create(t, "/base/mytable/scanner", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, testServerURL+"/base/mytable/scanner/1", resp.Header.Get("Location"))
	path := scannerPath(t, resp)

	resp, body := h.read(t, path+"?n=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, MediaProtobuf, resp.Header.Get("Content-Type"))
	env, err := DecodeCellSet(FormatProtobuf, body)
	require.NoError(t, err)
	require.Len(t, env.Rows, 2)
	assert.Equal(t, "rowKey1", env.Rows[0].Key)
	assert.Equal(t, []scan.Cell{{Column: "a", Value: "2"}}, env.Rows[1].Cells)

	resp, body = h.read(t, path+"?n=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env, err = DecodeCellSet(FormatProtobuf, body)
	require.NoError(t, err)
	require.Len(t, env.Rows, 1)
	assert.Equal(t, "rowKey3", env.Rows[0].Key)

	resp, _ = h.read(t, path+"?n=2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, []int{201, 200, 200, 404}, h.observed())
}

func TestScanner_ResponseFormats(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatXML, FormatProtobuf} {
		t.Run(f.String(), func(t *testing.T) {
			h := newHarness(t, tableRoute(t, `[{"name":"alice","age":30}]`))
			path := scannerPath(t, h.create(t, "/base/mytable/scanner", "", nil))

			resp, body := h.read(t, path+"?n=5", f.MediaType())
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, f.MediaType(), resp.Header.Get("Content-Type"))

			env, err := DecodeCellSet(f, body)
			require.NoError(t, err)
			assert.Equal(t, []scan.Row{{Key: "rowKey1", Cells: []scan.Cell{
				{Column: "age", Value: "30"},
				{Column: "name", Value: "alice"},
			}}}, env.Rows)
		})
	}
}

func TestScanner_UnknownTable(t *testing.T) {
	h := newHarness(t, tableRoute(t, `[]`))

	resp := h.create(t, "/base/other/scanner", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.read(t, "/base/other/scanner/1?n=1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScanner_UnknownCursor(t *testing.T) {
	h := newHarness(t, tableRoute(t, `[]`))

	resp, _ := h.read(t, "/base/mytable/scanner/999?n=1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.read(t, "/base/mytable/scanner/abc?n=1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScanner_RowCountValidation(t *testing.T) {
	h := newHarness(t, tableRoute(t, `[{"a":"1"}]`))
	path := scannerPath(t, h.create(t, "/base/mytable/scanner", "", nil))

	for _, query := range []string{"", "?n=", "?n=abc", "?n=-1"} {
		resp, body := h.read(t, path+query, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
		assert.Contains(t, string(body), "malformed_request")
	}

	resp, body := h.read(t, path+"?n=0", MediaJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"Row":[]}`, string(body))

	resp, _ = h.read(t, path+"?n=1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "n=0 must not evict")
}

func TestScanner_FilterPrefix(t *testing.T) {
	rt := tableRoute(t, `[{"a":"1"}]`)
	prefix := "x"
	rt.FilterPrefix = &prefix

	tests := []struct {
		name        string
		contentType string
		filter      string
		format      Format
		want        int
	}{
		{"json match", "application/json", filter.PrefixFilter("x"), FormatJSON, http.StatusCreated},
		{"xml match", "text/xml", filter.PrefixFilter("x"), FormatXML, http.StatusCreated},
		{"protobuf match", MediaProtobuf, filter.PrefixFilter("x"), FormatProtobuf, http.StatusCreated},
		{"mismatch", "application/json", filter.PrefixFilter("y"), FormatJSON, http.StatusInternalServerError},
		{"no filter", "application/json", "", FormatJSON, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, rt)
			body, err := EncodeScanner(tt.format, Scanner{Filter: tt.filter})
			require.NoError(t, err)

			resp := h.create(t, "/base/mytable/scanner", tt.contentType, body)
			assert.Equal(t, tt.want, resp.StatusCode)

			n, err := h.store.Len(context.Background())
			require.NoError(t, err)
			if tt.want == http.StatusCreated {
				assert.Equal(t, 1, n)
			} else {
				assert.Zero(t, n, "no cursor registered on mismatch")
			}
		})
	}
}

func TestScanner_MalformedDescriptor(t *testing.T) {
	h := newHarness(t, tableRoute(t, `[]`))

	resp := h.create(t, "/base/mytable/scanner", "application/json", []byte(`{"filter":`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	n, err := h.store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScanner_ScriptPhases(t *testing.T) {
	rt := tableRoute(t, `[{"a":"1"},{"a":"2"}]`)
	writeFile(t, rt.Dir, "alt.json", `[{"b":"alt"}]`)
	rt.ScriptFile = writeFile(t, rt.Dir, "scanner.js", `
		if (context.scanPhase === "create" && context.request.headers["X-Deny"]) {
			respond().withStatusCode(403).immediately();
		} else if (context.scanPhase === "read" && context.request.queryParams.n === "99") {
			respond().withStatusCode(429).immediately();
		} else if (context.scanPhase === "read" && context.tableName === "mytable" && context.request.queryParams.n === "7") {
			respond().withFile("alt.json");
		}
	`)
	h := newHarness(t, rt)

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/base/mytable/scanner", nil)
	require.NoError(t, err)
	req.Header.Set("X-Deny", "yes")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	path := scannerPath(t, h.create(t, "/base/mytable/scanner", "", nil))

	resp, _ = h.read(t, path+"?n=99", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, body := h.read(t, path+"?n=7", MediaJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env, err := DecodeCellSet(FormatJSON, body)
	require.NoError(t, err)
	assert.Equal(t, []scan.Row{{Key: "rowKey1", Cells: []scan.Cell{{Column: "b", Value: "alt"}}}}, env.Rows)
}

func TestScanner_ScriptFailureIsServerError(t *testing.T) {
	rt := tableRoute(t, `[{"a":"1"}]`)
	rt.ScriptFile = writeFile(t, rt.Dir, "broken.js", `throw new Error("nope");`)
	h := newHarness(t, rt)

	resp := h.create(t, "/base/mytable/scanner", "", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	n, err := h.store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScanner_EmptyBasePath(t *testing.T) {
	rt := tableRoute(t, `[{"a":"1"}]`)
	rt.BasePath = ""
	h := newHarness(t, rt)

	resp := h.create(t, "/mytable/scanner", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, testServerURL+"/mytable/scanner/1", resp.Header.Get("Location"))
}

func TestScanner_OversizeDescriptorRejected(t *testing.T) {
	h := newHarness(t, tableRoute(t, `[{"a":"1"}]`))

	body := bytes.Repeat([]byte{0}, maxBodySize+1)
	resp := h.create(t, "/base/mytable/scanner", MediaProtobuf, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	n, err := h.store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
