// Package logging provides structured logging configuration for imposter.
//
// This package wraps log/slog so that the server, the plugins and the
// scan engine all log with the same handler and level.
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("received scanner request", "table", "exampleTable")
//
// Components accept a *slog.Logger in their constructor or via an option.
// If no logger is provided, they use logging.Nop().
package logging
