package logger

// nopLogger is a logger that discards everything. Used in tests and as a
// safe default before configuration is loaded.
type nopLogger struct{}

// NewNop creates a new no-op logger instance.
func NewNop() Logger {
	return &nopLogger{}
}

// Debug does nothing.
func (l *nopLogger) Debug(msg string, fields ...Field) {}

// Info does nothing.
func (l *nopLogger) Info(msg string, fields ...Field) {}

// Warn does nothing.
func (l *nopLogger) Warn(msg string, fields ...Field) {}

// Error does nothing.
func (l *nopLogger) Error(msg string, fields ...Field) {}

// Fatal does nothing (does not exit in no-op mode).
func (l *nopLogger) Fatal(msg string, fields ...Field) {}

// With returns the same no-op logger.
func (l *nopLogger) With(fields ...Field) Logger {
	return l
}

// Sync does nothing and returns nil.
func (l *nopLogger) Sync() error {
	return nil
}
