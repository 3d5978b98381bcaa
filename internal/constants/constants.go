// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Upload constants
const (
	// MaxUploadSize is the largest multipart body accepted for a new report
	MaxUploadSize = 20 << 20

	// MaxMarks is the most distinguishing marks a single report may list
	MaxMarks = 50
)

// Suggestion constants
const (
	// MaxSuggestions caps the k accepted by the suggestions endpoint
	MaxSuggestions = 50
)

// Server constants
const (
	// RequestTimeout bounds a single HTTP request, upload and embedding included
	RequestTimeout = 2 * time.Minute

	// ShutdownTimeout is how long in-flight requests get on SIGTERM
	ShutdownTimeout = 30 * time.Second
)
