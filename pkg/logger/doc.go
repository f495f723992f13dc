// Package logger builds the gateway's slog loggers: text output in development,
// JSON in production, and request-scoped loggers carried on a context.
package logger
