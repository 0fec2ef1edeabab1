// Package filter matches scan filter expressions against the prefix
// constraint declared on a route.
package filter

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// PrefixFilterType is the filter type name carrying a row-key prefix.
const PrefixFilterType = "PrefixFilter"

var (
	typePath  = jp.MustParseString("$.type")
	valuePath = jp.MustParseString("$.value")
)

// ErrInvalidFilter is returned when a filter expression cannot be parsed.
var ErrInvalidFilter = errors.New("invalid filter expression")

// MismatchError is returned when a route declares a filter prefix and the
// request's filter does not carry exactly that prefix.
type MismatchError struct {
	Resource string
	Expected string
	Actual   *string
}

func (e *MismatchError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("scanner filter for %q has no prefix, expected %q", e.Resource, e.Expected)
	}
	return fmt.Sprintf("scanner filter prefix %q for %q does not match expected value %q", *e.Actual, e.Resource, e.Expected)
}

// StatusCode returns the HTTP status code for this error.
func (e *MismatchError) StatusCode() int {
	return http.StatusInternalServerError
}

// Matches reports whether the request's filter prefix satisfies the declared
// prefix. A nil declared prefix places no constraint; otherwise the request
// must carry a prefix equal to it.
func Matches(declared, requested *string) bool {
	if declared == nil {
		return true
	}
	return requested != nil && *requested == *declared
}

// PrefixOf extracts the row-key prefix from a filter expression such as
// {"type":"PrefixFilter","value":"<base64>"}. An empty expression, or a
// filter of any other type, yields a nil prefix.
func PrefixOf(expr string) (*string, error) {
	if expr == "" {
		return nil, nil
	}

	doc, err := oj.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	if t, _ := typePath.First(doc).(string); t != PrefixFilterType {
		return nil, nil
	}

	encoded, ok := valuePath.First(doc).(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no value", ErrInvalidFilter, PrefixFilterType)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: prefix is not base64: %v", ErrInvalidFilter, err)
	}

	prefix := string(raw)
	return &prefix, nil
}

// Check validates a filter expression against a declared prefix. A parse
// failure counts as a non-match.
func Check(resource string, declared *string, expr string) error {
	if declared == nil {
		return nil
	}
	requested, err := PrefixOf(expr)
	if err != nil {
		requested = nil
	}
	if !Matches(declared, requested) {
		return &MismatchError{Resource: resource, Expected: *declared, Actual: requested}
	}
	return nil
}

// PrefixFilter builds the filter expression for prefix, the inverse of PrefixOf.
func PrefixFilter(prefix string) string {
	return fmt.Sprintf(`{"type":%q,"value":%q}`, PrefixFilterType, base64.StdEncoding.EncodeToString([]byte(prefix)))
}
