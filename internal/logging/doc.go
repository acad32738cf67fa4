// Package logging provides structured logging utilities for calbridge.
//
// All logging goes through log/slog. The helpers here keep attribute names
// consistent and make sure caller-supplied user ids and OAuth tokens never
// reach the logs verbatim.
//
// # Usage Patterns
//
//	logger := logging.WithOperation(slog.Default(), "credential.refresh")
//	logger.Info("refreshed access token",
//	    logging.UserHash(userID),
//	    logging.Status(logging.StatusSuccess))
//
// Embedded stores that expect a printf-style logger get a PrintfAdapter:
//
//	opts := badger.DefaultOptions(dir).WithLogger(logging.NewPrintfAdapter(logger))
package logging
