package behaviour

import "fmt"

// Kind tags a Decision.
type Kind int

const (
	// KindUseDefault lets the plugin apply its default rendering.
	KindUseDefault Kind = iota
	// KindImmediate is terminal: respond with StatusCode and stop.
	KindImmediate
)

func (k Kind) String() string {
	switch k {
	case KindImmediate:
		return "immediate"
	default:
		return "default"
	}
}

// Decision is the resolved response behaviour for one request.
//
// For KindImmediate only StatusCode is meaningful. For KindUseDefault,
// StatusCode (0 = plugin default), File ("" = none) and Empty override the
// plugin's default rendering.
type Decision struct {
	Kind       Kind
	StatusCode int
	File       string
	Empty      bool
}

// Immediate returns a terminal decision with the given status.
func Immediate(statusCode int) Decision {
	return Decision{Kind: KindImmediate, StatusCode: statusCode}
}

// UseDefault returns a default-rendering decision using file as the response.
func UseDefault(file string) Decision {
	return Decision{Kind: KindUseDefault, File: file}
}

// IsImmediate reports whether the decision is terminal.
func (d Decision) IsImmediate() bool {
	return d.Kind == KindImmediate
}

// StatusOr returns the decision's status code, or fallback when none was set.
func (d Decision) StatusOr(fallback int) int {
	if d.StatusCode == 0 {
		return fallback
	}
	return d.StatusCode
}

func (d Decision) String() string {
	if d.IsImmediate() {
		return fmt.Sprintf("immediate(%d)", d.StatusCode)
	}
	return fmt.Sprintf("default(status=%d file=%q empty=%t)", d.StatusCode, d.File, d.Empty)
}

// Builder is the decision-building capability handed to scripts. A script
// that never calls a Builder method produces no decision.
type Builder struct {
	touched    bool
	sealed     bool
	immediate  bool
	statusCode int
	file       string
	empty      bool
}

// SetStatusCode sets the response status.
func (b *Builder) SetStatusCode(code int) *Builder {
	if b.mutable() {
		b.statusCode = code
	}
	return b
}

// UseFile renders the given file instead of the route's static file.
func (b *Builder) UseFile(path string) *Builder {
	if b.mutable() {
		b.file, b.empty = path, false
	}
	return b
}

// UseEmpty renders an empty body.
func (b *Builder) UseEmpty() *Builder {
	if b.mutable() {
		b.file, b.empty = "", true
	}
	return b
}

// UseDefaultBehaviour seals the decision as KindUseDefault.
func (b *Builder) UseDefaultBehaviour() *Builder {
	if b.mutable() {
		b.sealed = true
	}
	return b
}

// RespondImmediately seals the decision as KindImmediate.
func (b *Builder) RespondImmediately() *Builder {
	if b.mutable() {
		b.sealed, b.immediate = true, true
	}
	return b
}

// Touched reports whether any builder method was called.
func (b *Builder) Touched() bool {
	return b.touched
}

// Decision returns the built decision, or nil if the builder was never used.
// An unsealed builder yields KindUseDefault.
func (b *Builder) Decision() *Decision {
	if !b.touched {
		return nil
	}
	if b.immediate {
		d := Immediate(b.statusCode)
		return &d
	}
	return &Decision{Kind: KindUseDefault, StatusCode: b.statusCode, File: b.file, Empty: b.empty}
}

// mutable marks the builder used and reports whether it still accepts changes.
func (b *Builder) mutable() bool {
	b.touched = true
	return !b.sealed
}
