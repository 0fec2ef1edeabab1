package hbase

import (
	"fmt"
	"net/http"
)

// MalformedRequestError is returned for an unreadable scanner descriptor
// or a bad query parameter.
type MalformedRequestError struct {
	Reason string
	Err    error
}

func (e *MalformedRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed request: %s: %v", e.Reason, e.Err)
	}
	return "malformed request: " + e.Reason
}

func (e *MalformedRequestError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status code for this error.
func (e *MalformedRequestError) StatusCode() int {
	return http.StatusBadRequest
}

// SerializationError is returned when a cell set cannot be encoded.
type SerializationError struct {
	Format string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("encoding %s cell set: %v", e.Format, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status code for this error.
func (e *SerializationError) StatusCode() int {
	return http.StatusInternalServerError
}
