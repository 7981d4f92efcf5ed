// Package logging builds the slog loggers used across clipstream and
// provides the attribute helpers shared by every component.
package logging
