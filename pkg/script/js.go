package script

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/getmockd/imposter/pkg/behaviour"
	"github.com/getmockd/imposter/pkg/logging"
	"modernc.org/quickjs"
)

// jsPrelude defines respond() and logger for scripts. Builder calls are
// recorded in __imposter_ops and replayed onto a behaviour.Builder in Go.
const jsPrelude = `
var __imposter_ops = [];
var __imposter_builder = (function () {
	function record(op, arg) {
		__imposter_ops.push(arg === undefined ? [op] : [op, arg]);
		return builder;
	}
	var builder = {
		setStatusCode: function (code) { return record("setStatusCode", code); },
		useFile: function (path) { return record("useFile", String(path)); },
		useEmpty: function () { return record("useEmpty"); },
		useDefaultBehaviour: function () { return record("useDefaultBehaviour"); },
		respondImmediately: function () { return record("respondImmediately"); }
	};
	builder.withStatusCode = builder.setStatusCode;
	builder.withFile = builder.useFile;
	builder.withEmpty = builder.useEmpty;
	builder.usingDefaultBehaviour = builder.useDefaultBehaviour;
	builder.immediately = builder.respondImmediately;
	return builder;
})();
function respond() { return __imposter_builder; }
var logger = (function () {
	function emit(level) {
		return function () {
			var parts = [];
			for (var i = 0; i < arguments.length; i++) parts.push(String(arguments[i]));
			__imposter_log(level, parts.join(" "));
		};
	}
	return { debug: emit("debug"), info: emit("info"), warn: emit("warn"), error: emit("error") };
})();
var console = { log: logger.info, info: logger.info, warn: logger.warn, error: logger.error, debug: logger.debug };
`

// JSEngine runs JavaScript behaviour scripts on QuickJS. Each evaluation
// gets a fresh VM so scripts cannot leak state into each other.
type JSEngine struct {
	memoryLimit uintptr
	log         *slog.Logger
}

// JSOption configures a JSEngine.
type JSOption func(*JSEngine)

// WithMemoryLimit caps the VM heap of each evaluation, in bytes.
func WithMemoryLimit(bytes uintptr) JSOption {
	return func(e *JSEngine) { e.memoryLimit = bytes }
}

// WithJSLogger sets the logger receiving script logger.* output.
func WithJSLogger(log *slog.Logger) JSOption {
	return func(e *JSEngine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewJSEngine creates a JSEngine.
func NewJSEngine(opts ...JSOption) *JSEngine {
	e := &JSEngine{memoryLimit: 64 << 20, log: logging.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements Engine.
func (e *JSEngine) Name() string { return "js" }

// Evaluate implements Engine. The VM is interrupted when ctx is done.
func (e *JSEngine) Evaluate(ctx context.Context, src Source, rc *behaviour.RequestContext) (decision *behaviour.Decision, err error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating VM: %w", err)
	}

	var vmMu sync.Mutex
	closed := false
	defer func() {
		vmMu.Lock()
		closed = true
		vm.Close()
		vmMu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		vmMu.Lock()
		defer vmMu.Unlock()
		if !closed {
			vm.Interrupt()
		}
	})
	defer stop()

	defer func() {
		if p := recover(); p != nil {
			decision, err = nil, fmt.Errorf("VM panic: %v", p)
			if ctx.Err() != nil {
				err = ctx.Err()
			}
		}
	}()

	if e.memoryLimit > 0 {
		vm.SetMemoryLimit(e.memoryLimit)
	}

	scriptLog := e.log.With("script", src.Path)
	if err := vm.RegisterFunc("__imposter_log", func(level, msg string) {
		scriptLog.Log(ctx, logging.ParseLevel(level), msg)
	}, false); err != nil {
		return nil, fmt.Errorf("registering logger: %w", err)
	}

	view, err := json.Marshal(rc.ScriptView())
	if err != nil {
		return nil, fmt.Errorf("encoding request context: %w", err)
	}

	var program strings.Builder
	program.WriteString(jsPrelude)
	program.WriteString("var context = ")
	program.Write(view)
	program.WriteString(";\n(function () {\n")
	program.WriteString(src.Code)
	program.WriteString("\n})();\nJSON.stringify(__imposter_ops);")

	result, err := vm.Eval(program.String(), quickjs.EvalGlobal)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	encoded, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected script result type %T", result)
	}
	var ops [][]any
	if err := json.Unmarshal([]byte(encoded), &ops); err != nil {
		return nil, fmt.Errorf("decoding response operations: %w", err)
	}

	var b behaviour.Builder
	for _, op := range ops {
		if len(op) == 0 {
			continue
		}
		name, _ := op[0].(string)
		var arg any
		if len(op) > 1 {
			arg = op[1]
		}
		if err := applyOp(&b, name, arg); err != nil {
			return nil, err
		}
	}
	return b.Decision(), nil
}
