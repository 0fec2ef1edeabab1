package behaviour

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Extension keys set by plugins on a RequestContext.
const (
	ExtScanPhase = "scanPhase"
	ExtTableName = "tableName"
)

// RequestContext is a read-only view of an inbound request plus
// plugin-specific extensions. It is built once per request and never
// mutated afterwards.
type RequestContext struct {
	Method      string
	Path        string
	PathParams  map[string]string
	QueryParams map[string]string
	Headers     map[string]string
	Body        string
	Extensions  map[string]any
}

// NewRequestContext builds a RequestContext from r. body is passed
// separately because plugins usually need to read it themselves.
// Multi-valued query parameters and headers keep their first value.
func NewRequestContext(r *http.Request, pathParams map[string]string, body []byte, ext map[string]any) *RequestContext {
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	if pathParams == nil {
		pathParams = map[string]string{}
	}
	if ext == nil {
		ext = map[string]any{}
	}
	return &RequestContext{
		Method:      r.Method,
		Path:        r.URL.Path,
		PathParams:  pathParams,
		QueryParams: query,
		Headers:     headers,
		Body:        string(body),
		Extensions:  ext,
	}
}

// BodyTooLargeError is returned by ReadBody for a body over the limit.
type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.Limit)
}

// StatusCode returns the HTTP status code for this error.
func (e *BodyTooLargeError) StatusCode() int {
	return http.StatusRequestEntityTooLarge
}

// ReadBody reads and closes the request body. A body longer than limit is
// rejected rather than truncated.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, &BodyTooLargeError{Limit: limit}
	}
	return body, nil
}

// ScriptView returns the JSON-friendly map exposed to scripts as `context`.
// Extensions appear as top-level keys next to `request`.
func (c *RequestContext) ScriptView() map[string]any {
	view := make(map[string]any, len(c.Extensions)+1)
	for k, v := range c.Extensions {
		view[k] = v
	}
	view["request"] = map[string]any{
		"method":      c.Method,
		"path":        c.Path,
		"pathParams":  c.PathParams,
		"queryParams": c.QueryParams,
		"headers":     c.Headers,
		"body":        c.Body,
	}
	return view
}

// Header returns a header value, ignoring case.
func (c *RequestContext) Header(name string) string {
	for k, v := range c.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
