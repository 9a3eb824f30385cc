package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"verdict/internal/domain"
	"verdict/internal/storage"
)

const requestColumns = `id, user_id, category, subcategory, media_type, media_url, text_content, context,
	requested_tone, request_tier, target_verdict_count, received_verdict_count, status, credits_charged,
	created_at, updated_at`

func scanRequest(row rowScanner) (domain.VerdictRequest, error) {
	var r domain.VerdictRequest
	var mediaURL, textContent sql.NullString
	err := row.Scan(
		&r.ID, &r.UserID, &r.Category, &r.Subcategory, &r.MediaType, &mediaURL, &textContent, &r.Context,
		&r.RequestedTone, &r.RequestTier, &r.TargetVerdictCount, &r.ReceivedVerdictCount, &r.Status, &r.CreditsCharged,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	r.MediaURL = stringPtr(mediaURL)
	r.TextContent = stringPtr(textContent)
	return r, nil
}

func (s *Store) InsertRequest(ctx context.Context, r domain.VerdictRequest) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO verdict_requests (`+requestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.UserID, string(r.Category), r.Subcategory, string(r.MediaType),
		nullString(r.MediaURL), nullString(r.TextContent), r.Context,
		string(r.RequestedTone), r.RequestTier, r.TargetVerdictCount, r.ReceivedVerdictCount,
		string(r.Status), r.CreditsCharged, r.CreatedAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (domain.VerdictRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+requestColumns+` FROM verdict_requests WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, storage.ErrNotFound
	}
	return r, err
}

func (s *Store) ListRequestsByOwner(ctx context.Context, userID string, limit int) ([]domain.VerdictRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+requestColumns+`
		 FROM verdict_requests
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`),
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.VerdictRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountDrift describes a request whose counter lags behind its stored
// responses.
type CountDrift struct {
	RequestID string
	Received  int
	Target    int
	Actual    int
}

// FindCountDrift lists accepting requests that have more stored responses
// than received_verdict_count says.
func (s *Store) FindCountDrift(ctx context.Context, limit int) ([]CountDrift, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT r.id, r.received_verdict_count, r.target_verdict_count, COUNT(v.id)
		 FROM verdict_requests r
		 JOIN verdict_responses v ON v.request_id = r.id
		 WHERE r.status IN ('open', 'in_progress')
		 GROUP BY r.id, r.received_verdict_count, r.target_verdict_count
		 HAVING COUNT(v.id) > r.received_verdict_count
		 ORDER BY r.id
		 LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CountDrift
	for rows.Next() {
		var d CountDrift
		if err := rows.Scan(&d.RequestID, &d.Received, &d.Target, &d.Actual); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RepairCount raises received_verdict_count to actual (capped at target)
// and closes the request when the target is reached. The update only
// applies while the counter still holds the expected value, so a
// concurrent verdict wins and the repair reports storage.ErrConditionFailed.
func (s *Store) RepairCount(ctx context.Context, d CountDrift) (domain.VerdictRequest, error) {
	count := d.Actual
	if count > d.Target {
		count = d.Target
	}
	r, err := scanRequest(s.db.QueryRowContext(ctx,
		s.q(`UPDATE verdict_requests
		 SET received_verdict_count = ?,
		     status = CASE WHEN ? >= target_verdict_count THEN 'closed' ELSE status END,
		     updated_at = ?
		 WHERE id = ? AND received_verdict_count = ? AND status IN ('open', 'in_progress')
		 RETURNING `+requestColumns),
		count, count, s.now(), d.RequestID, d.Received,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return r, storage.ErrConditionFailed
	}
	return r, err
}
