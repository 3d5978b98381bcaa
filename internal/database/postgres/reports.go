package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/pgvector/pgvector-go"
)

// ReportRepository provides PostgreSQL-backed storage for parent and volunteer reports
// and the resolved children derived from them.
type ReportRepository struct {
	pool *Pool
}

// NewReportRepository creates a new PostgreSQL report repository.
func NewReportRepository(pool *Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

const reportColumns = `id, role, reporter, child, embedding, image_ref, linked_id, score, confirmed, confirmed_at, created_at`

// nullableVector converts an embedding into a query argument, NULL when absent.
func nullableVector(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InsertReport stores a new report.
func (r *ReportRepository) InsertReport(ctx context.Context, report *database.Report) error {
	if err := database.ValidateReport(report); err != nil {
		return err
	}

	reporter, err := json.Marshal(report.Reporter)
	if err != nil {
		return fmt.Errorf("marshal reporter: %w", err)
	}
	child, err := json.Marshal(report.Child)
	if err != nil {
		return fmt.Errorf("marshal child: %w", err)
	}

	query := `
		INSERT INTO reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		report.ID,
		string(report.Role),
		string(reporter),
		string(child),
		nullableVector(report.Embedding),
		report.ImageRef,
		nullableString(report.Match.LinkedID),
		report.Match.Score,
		report.Match.Confirmed,
		report.Match.ConfirmedAt,
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReportRow(row rowScanner, extra ...any) (database.Report, error) {
	var (
		rep         database.Report
		role        string
		reporter    []byte
		child       []byte
		vec         sql.Null[pgvector.Vector]
		linkedID    sql.NullString
		score       sql.NullFloat64
		confirmedAt sql.NullTime
	)

	dest := []any{
		&rep.ID, &role, &reporter, &child, &vec, &rep.ImageRef,
		&linkedID, &score, &rep.Match.Confirmed, &confirmedAt, &rep.CreatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return rep, err
	}

	rep.Role = database.Role(role)
	if err := json.Unmarshal(reporter, &rep.Reporter); err != nil {
		return rep, fmt.Errorf("decode reporter of %s: %w", rep.ID, err)
	}
	if err := json.Unmarshal(child, &rep.Child); err != nil {
		return rep, fmt.Errorf("decode child of %s: %w", rep.ID, err)
	}
	if vec.Valid {
		rep.Embedding = vec.V.Slice()
	}
	rep.Match.LinkedID = linkedID.String
	if score.Valid {
		v := score.Float64
		rep.Match.Score = &v
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		rep.Match.ConfirmedAt = &t
	}
	return rep, nil
}

// GetReport retrieves a report by ID from the role's collection, returns nil if not found.
func (r *ReportRepository) GetReport(ctx context.Context, role database.Role, id string) (*database.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE role = $1 AND id = $2`

	rep, err := scanReportRow(r.pool.QueryRow(ctx, query, string(role), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &rep, nil
}

// ScanReports returns every report of a role ordered by creation time, then ID.
func (r *ReportRepository) ScanReports(ctx context.Context, role database.Role) ([]database.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE role = $1 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("scan reports: %w", err)
	}
	defer rows.Close()

	var reports []database.Report
	for rows.Next() {
		rep, err := scanReportRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

// CountReports returns the number of reports of a role.
func (r *ReportRepository) CountReports(ctx context.Context, role database.Role) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM reports WHERE role = $1", string(role)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return count, nil
}

// CompareAndSetMatch replaces the match columns of one report in a single UPDATE
// guarded by the expected linked_id.
func (r *ReportRepository) CompareAndSetMatch(ctx context.Context, role database.Role, id, expectLinkedID string, state database.MatchState) (bool, error) {
	query := `
		UPDATE reports
		SET linked_id = $3, score = $4, confirmed = $5, confirmed_at = $6
		WHERE role = $1 AND id = $2 AND linked_id IS NOT DISTINCT FROM $7::varchar
	`
	result, err := r.pool.Exec(ctx, query,
		string(role),
		id,
		nullableString(state.LinkedID),
		state.Score,
		state.Confirmed,
		state.ConfirmedAt,
		nullableString(expectLinkedID),
	)
	if err != nil {
		return false, fmt.Errorf("update match of %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM reports WHERE role = $1 AND id = $2)", string(role), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check report exists: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%s report %s: %w", role, id, database.ErrNotFound)
	}
	return false, nil
}

// FindNearest ranks reports of a role by Euclidean distance using pgvector.
func (r *ReportRepository) FindNearest(ctx context.Context, role database.Role, embedding []float32, limit int) ([]database.Report, []float64, error) {
	query := `
		SELECT ` + reportColumns + `, embedding <-> $2::vector AS distance
		FROM reports
		WHERE role = $1 AND embedding IS NOT NULL
		ORDER BY embedding <-> $2::vector, created_at, id
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, string(role), pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("find nearest reports: %w", err)
	}
	defer rows.Close()

	var (
		reports   []database.Report
		distances []float64
	)
	for rows.Next() {
		var dist float64
		rep, err := scanReportRow(rows, &dist)
		if err != nil {
			return nil, nil, fmt.Errorf("scan nearest row: %w", err)
		}
		reports = append(reports, rep)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate nearest reports: %w", err)
	}
	return reports, distances, nil
}

var (
	_ database.ReportStore   = (*ReportRepository)(nil)
	_ database.NearestFinder = (*ReportRepository)(nil)
)
