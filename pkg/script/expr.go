package script

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/getmockd/imposter/pkg/behaviour"
)

// ExprEngine evaluates expr-lang expressions as behaviour scripts. The
// expression sees `context` and `request`, and its value is read as:
//
//   - nil or false: no decision
//   - true: use the default behaviour
//   - a number: respond immediately with that status
//   - a string: use that file
//   - a map with any of statusCode, file, empty, immediate
type ExprEngine struct {
	programMu    sync.RWMutex
	programCache map[string]*vm.Program
}

// NewExprEngine creates an ExprEngine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programCache: make(map[string]*vm.Program)}
}

// Name implements Engine.
func (e *ExprEngine) Name() string { return "expr" }

// Evaluate implements Engine.
func (e *ExprEngine) Evaluate(ctx context.Context, src Source, rc *behaviour.RequestContext) (*behaviour.Decision, error) {
	program, err := e.compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	view := rc.ScriptView()
	out, err := expr.Run(program, map[string]any{
		"context": view,
		"request": view["request"],
	})
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	return interpretResult(out)
}

// CachedPrograms returns the number of compiled programs held.
func (e *ExprEngine) CachedPrograms() int {
	e.programMu.RLock()
	defer e.programMu.RUnlock()
	return len(e.programCache)
}

func (e *ExprEngine) compile(src Source) (*vm.Program, error) {
	e.programMu.RLock()
	if program, ok := e.programCache[src.Hash]; ok {
		e.programMu.RUnlock()
		return program, nil
	}
	e.programMu.RUnlock()

	program, err := expr.Compile(src.Code)
	if err != nil {
		return nil, err
	}

	e.programMu.Lock()
	if existing, ok := e.programCache[src.Hash]; ok {
		e.programMu.Unlock()
		return existing, nil
	}
	e.programCache[src.Hash] = program
	e.programMu.Unlock()

	return program, nil
}

func interpretResult(out any) (*behaviour.Decision, error) {
	var b behaviour.Builder
	switch v := out.(type) {
	case nil:
		return nil, nil
	case bool:
		if !v {
			return nil, nil
		}
		b.UseDefaultBehaviour()
	case int, int64, float64:
		if err := applyOp(&b, "setStatusCode", v); err != nil {
			return nil, err
		}
		b.RespondImmediately()
	case string:
		if err := applyOp(&b, "useFile", v); err != nil {
			return nil, err
		}
	case map[string]any:
		if err := applyMap(&b, v); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported expression result %T", out)
	}
	return b.Decision(), nil
}

func applyMap(b *behaviour.Builder, m map[string]any) error {
	if len(m) == 0 {
		return nil
	}
	if code, ok := m["statusCode"]; ok {
		if err := applyOp(b, "setStatusCode", code); err != nil {
			return err
		}
	}
	if file, ok := m["file"]; ok {
		if err := applyOp(b, "useFile", file); err != nil {
			return err
		}
	}
	if empty, _ := m["empty"].(bool); empty {
		b.UseEmpty()
	}
	if immediate, _ := m["immediate"].(bool); immediate {
		b.RespondImmediately()
	} else {
		b.UseDefaultBehaviour()
	}
	return nil
}
