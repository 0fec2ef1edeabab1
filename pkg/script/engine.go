package script

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/getmockd/imposter/pkg/behaviour"
)

// Engine evaluates script source in one scripting language.
type Engine interface {
	// Name identifies the engine in logs and metrics.
	Name() string
	// Evaluate runs src against rc. It returns nil when the script made no
	// decision. Implementations should stop early when ctx is done.
	Evaluate(ctx context.Context, src Source, rc *behaviour.RequestContext) (*behaviour.Decision, error)
}

// Source is a loaded script.
type Source struct {
	Path string
	Code string
	// Hash identifies the code, for caching compiled forms.
	Hash string
}

// NewSource builds a Source and computes its hash.
func NewSource(path, code string) Source {
	sum := sha256.Sum256([]byte(code))
	return Source{Path: path, Code: code, Hash: hex.EncodeToString(sum[:])}
}

// ExecutionError is returned when a script cannot be loaded or fails while
// running. The request's decision is never partially applied.
type ExecutionError struct {
	Script   string
	Engine   string
	TimedOut bool
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("script %s timed out: %v", e.Script, e.Err)
	}
	return fmt.Sprintf("script %s failed: %v", e.Script, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code for this error.
func (e *ExecutionError) StatusCode() int {
	return http.StatusInternalServerError
}

// applyOp replays one builder operation recorded by a script.
func applyOp(b *behaviour.Builder, op string, arg any) error {
	switch op {
	case "setStatusCode":
		code, err := toStatusCode(arg)
		if err != nil {
			return err
		}
		b.SetStatusCode(code)
	case "useFile":
		path, ok := arg.(string)
		if !ok || path == "" {
			return fmt.Errorf("useFile requires a file path, got %v", arg)
		}
		b.UseFile(path)
	case "useEmpty":
		b.UseEmpty()
	case "useDefaultBehaviour":
		b.UseDefaultBehaviour()
	case "respondImmediately":
		b.RespondImmediately()
	default:
		return fmt.Errorf("unknown response operation %q", op)
	}
	return nil
}

func toStatusCode(v any) (int, error) {
	var code int
	switch n := v.(type) {
	case int:
		code = n
	case int64:
		code = int(n)
	case float64:
		code = int(n)
		if float64(code) != n {
			return 0, fmt.Errorf("status code must be an integer, got %v", n)
		}
	default:
		return 0, fmt.Errorf("status code must be a number, got %T", v)
	}
	if code < 100 || code > 599 {
		return 0, fmt.Errorf("status code out of range: %d", code)
	}
	return code, nil
}
