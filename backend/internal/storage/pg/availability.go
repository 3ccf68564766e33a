package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/examportal/trustcore/shared/domain"
)

// DeclareUnavailable records that a faculty member cannot take duties on a day.
// Declaring the same day twice updates the reason.
func (s *Storage) DeclareUnavailable(ctx context.Context, rec domain.AvailabilityRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO availability (faculty_id, unavailable_on, reason)
		VALUES ($1, $2::date, $3)
		ON CONFLICT (faculty_id, unavailable_on)
		DO UPDATE SET reason = EXCLUDED.reason, declared_at = NOW()`,
		rec.FacultyId, domain.Day(rec.Date).Format(domain.DateLayout), rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to declare unavailability: %w", err)
	}
	return nil
}

// Availability lists declared days off and live assignments from since onward.
func (s *Storage) Availability(ctx context.Context, facultyId domain.UserId, since time.Time) ([]domain.AvailabilityRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT unavailable_on, $3::text, reason
		FROM availability
		WHERE faculty_id = $1 AND unavailable_on >= $2::date
		UNION ALL
		SELECT exam_date, $4::text, duty
		FROM assignments
		WHERE faculty_id = $1 AND exam_date >= $2::date AND status <> $5
		ORDER BY 1, 2`,
		facultyId, domain.Day(since).Format(domain.DateLayout),
		domain.SourceDeclaredUnavailable, domain.SourceExistingAssignment, domain.AssignmentCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}
	defer rows.Close()

	var out []domain.AvailabilityRecord
	for rows.Next() {
		rec := domain.AvailabilityRecord{FacultyId: facultyId}
		var source string
		if err := rows.Scan(&rec.Date, &source, &rec.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan availability: %w", err)
		}
		rec.Date = domain.Day(rec.Date)
		rec.Source = domain.AvailabilitySource(source)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating availability: %w", err)
	}
	return out, nil
}
