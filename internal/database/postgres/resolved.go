package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/tether/internal/database"
)

const resolvedColumns = `id, parent_report_id, volunteer_report_id, child, parent_image_ref, volunteer_image_ref, match_score, created_at`

// InsertResolvedChild appends a resolved child record.
func (r *ReportRepository) InsertResolvedChild(ctx context.Context, child *database.ResolvedChild) error {
	if err := database.ValidateResolvedChild(child); err != nil {
		return err
	}
	details, err := json.Marshal(child.Child)
	if err != nil {
		return fmt.Errorf("marshal resolved child: %w", err)
	}

	query := `
		INSERT INTO resolved_children (` + resolvedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		child.ID,
		child.ParentReportID,
		child.VolunteerReportID,
		string(details),
		child.ParentImageRef,
		child.VolunteerImageRef,
		child.MatchScore,
		child.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert resolved child: %w", err)
	}
	return nil
}

func scanResolvedRow(row rowScanner) (database.ResolvedChild, error) {
	var (
		c       database.ResolvedChild
		details []byte
	)
	err := row.Scan(
		&c.ID,
		&c.ParentReportID,
		&c.VolunteerReportID,
		&details,
		&c.ParentImageRef,
		&c.VolunteerImageRef,
		&c.MatchScore,
		&c.CreatedAt,
	)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(details, &c.Child); err != nil {
		return c, fmt.Errorf("decode resolved child %s: %w", c.ID, err)
	}
	return c, nil
}

// GetResolvedChild retrieves a resolved child by ID, returns nil if not found.
func (r *ReportRepository) GetResolvedChild(ctx context.Context, id string) (*database.ResolvedChild, error) {
	query := `SELECT ` + resolvedColumns + ` FROM resolved_children WHERE id = $1`
	c, err := scanResolvedRow(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resolved child: %w", err)
	}
	return &c, nil
}

// FindResolvedChildByPair returns the most recent resolved child created from the pair, or nil.
func (r *ReportRepository) FindResolvedChildByPair(ctx context.Context, parentID, volunteerID string) (*database.ResolvedChild, error) {
	query := `
		SELECT ` + resolvedColumns + `
		FROM resolved_children
		WHERE parent_report_id = $1 AND volunteer_report_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	c, err := scanResolvedRow(r.pool.QueryRow(ctx, query, parentID, volunteerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find resolved child by pair: %w", err)
	}
	return &c, nil
}

// ListResolvedChildren returns all resolved children, newest first.
func (r *ReportRepository) ListResolvedChildren(ctx context.Context) ([]database.ResolvedChild, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+resolvedColumns+` FROM resolved_children ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list resolved children: %w", err)
	}
	defer rows.Close()

	var children []database.ResolvedChild
	for rows.Next() {
		c, err := scanResolvedRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolved child: %w", err)
		}
		children = append(children, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolved children: %w", err)
	}
	return children, nil
}
