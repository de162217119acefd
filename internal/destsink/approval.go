package destsink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRecommendationNotFound is returned when the requested recommendation
// id has no PENDING row.
var ErrRecommendationNotFound = errors.New("destsink: recommendation not found or not pending")

// Recommendation is one stored recommendation row, including the
// review-lifecycle columns an approve/reject decision fills in.
type Recommendation struct {
	ID          string
	Type        string
	DetailsJSON string
	Status      string
	CreatedAt   time.Time
	Approver    sql.NullString
	ApprovedAt  sql.NullTime
	Notes       sql.NullString
}

// PendingRecommendation fetches a recommendation row that is still
// PENDING. ErrRecommendationNotFound covers both a missing id and one
// already approved or rejected.
func (s *Sink) PendingRecommendation(ctx context.Context, id string) (Recommendation, error) {
	var r Recommendation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rec_type, rec_details_json, status, created_at, approver, approved_at, notes
		FROM recommendations WHERE id = ? AND status = 'PENDING'
	`, id).Scan(&r.ID, &r.Type, &r.DetailsJSON, &r.Status, &r.CreatedAt, &r.Approver, &r.ApprovedAt, &r.Notes)
	if err == sql.ErrNoRows {
		return Recommendation{}, ErrRecommendationNotFound
	}
	if err != nil {
		return Recommendation{}, fmt.Errorf("destsink: pending recommendation %s: %w", id, err)
	}
	return r, nil
}

// ApproveRecommendation transitions a PENDING row to APPROVED, recording
// the approver and timestamp.
func (s *Sink) ApproveRecommendation(ctx context.Context, id, approver string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recommendations SET status = 'APPROVED', approver = ?, approved_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PENDING'
	`, approver, id)
	if err != nil {
		return fmt.Errorf("destsink: approve recommendation %s: %w", id, err)
	}
	return checkRowAffected(res, id)
}

// RejectRecommendation transitions a PENDING row to REJECTED, recording
// who rejected it and why.
func (s *Sink) RejectRecommendation(ctx context.Context, id, rejectedBy, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recommendations SET status = 'REJECTED', approver = ?, approved_at = CURRENT_TIMESTAMP, notes = ?
		WHERE id = ? AND status = 'PENDING'
	`, rejectedBy, reason, id)
	if err != nil {
		return fmt.Errorf("destsink: reject recommendation %s: %w", id, err)
	}
	return checkRowAffected(res, id)
}

func checkRowAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("destsink: rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return ErrRecommendationNotFound
	}
	return nil
}
