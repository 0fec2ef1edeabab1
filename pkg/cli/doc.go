// Package cli implements the imposter command line: serve, validate and
// version.
package cli
