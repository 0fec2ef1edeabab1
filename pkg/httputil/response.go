// Package httputil provides shared HTTP utilities for consistent response handling.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// StatusCodeError is an error that knows which HTTP status it maps to.
type StatusCodeError interface {
	error
	StatusCode() int
}

// StatusFor returns the HTTP status for err: the status of the first
// StatusCodeError in its chain, or 500.
func StatusFor(err error) int {
	var sce StatusCodeError
	if errors.As(err, &sce) {
		return sce.StatusCode()
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
// It sets the Content-Type header to application/json.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteJSON(w, status, map[string]string{
		"error":   errCode,
		"message": message,
	})
}

// WriteStatusError writes err as a JSON error response, choosing the status
// with StatusFor. It returns the status written.
func WriteStatusError(w http.ResponseWriter, err error) int {
	status := StatusFor(err)
	WriteError(w, status, errorCode(status), err.Error())
	return status
}

// WriteStatus writes a bodiless response with the given status code.
func WriteStatus(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "malformed_request"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "server_error"
	}
}
