package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned by store writes that address a missing record.
// Reads return (nil, nil) for a missing record instead.
var ErrNotFound = errors.New("record not found")

// ReportReader provides read-only access to parent and volunteer reports.
type ReportReader interface {
	// GetReport retrieves a report by ID from the role's collection, returns nil if not found
	GetReport(ctx context.Context, role Role, id string) (*Report, error)
	// ScanReports returns every report of a role ordered by creation time, then ID
	ScanReports(ctx context.Context, role Role) ([]Report, error)
	// CountReports returns the number of reports of a role
	CountReports(ctx context.Context, role Role) (int, error)
}

// ReportWriter provides write access to reports.
type ReportWriter interface {
	ReportReader

	// InsertReport stores a new report. The report must pass ValidateReport.
	InsertReport(ctx context.Context, report *Report) error

	// CompareAndSetMatch atomically replaces the match state of a report, but only
	// when its current linked ID equals expectLinkedID ("" meaning unlinked).
	// Returns false without writing when the expectation does not hold and
	// ErrNotFound when the report does not exist.
	CompareAndSetMatch(ctx context.Context, role Role, id, expectLinkedID string, state MatchState) (bool, error)
}

// ResolvedChildStore provides append-only access to resolved children.
type ResolvedChildStore interface {
	// InsertResolvedChild appends a resolved child record
	InsertResolvedChild(ctx context.Context, child *ResolvedChild) error
	// GetResolvedChild retrieves a resolved child by ID, returns nil if not found
	GetResolvedChild(ctx context.Context, id string) (*ResolvedChild, error)
	// FindResolvedChildByPair returns the most recent resolved child created from the pair, or nil
	FindResolvedChildByPair(ctx context.Context, parentID, volunteerID string) (*ResolvedChild, error)
	// ListResolvedChildren returns all resolved children, newest first
	ListResolvedChildren(ctx context.Context) ([]ResolvedChild, error)
}

// ReportStore is the full persistence surface used by the reconciliation engine.
type ReportStore interface {
	ReportWriter
	ResolvedChildStore
}

// NearestFinder is implemented by stores that can rank reports by Euclidean
// distance without a full scan (pgvector, HNSW).
type NearestFinder interface {
	// FindNearest returns up to limit reports of the role closest to embedding,
	// together with their distances, closest first.
	FindNearest(ctx context.Context, role Role, embedding []float32, limit int) ([]Report, []float64, error)
}
