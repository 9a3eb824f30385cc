package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"verdict/internal/domain"
	"verdict/internal/storage"
)

const responseColumns = `id, request_id, judge_id, rating, feedback, tone, voice_url, created_at`

func scanResponse(row rowScanner) (domain.VerdictResponse, error) {
	var v domain.VerdictResponse
	var rating sql.NullInt64
	var voiceURL sql.NullString
	err := row.Scan(&v.ID, &v.RequestID, &v.JudgeID, &rating, &v.Feedback, &v.Tone, &voiceURL, &v.CreatedAt)
	if err != nil {
		return v, err
	}
	v.Rating = intPtr(rating)
	v.VoiceURL = stringPtr(voiceURL)
	return v, nil
}

// RecordVerdict inserts the response and advances the request counter in
// one transaction. The (request_id, judge_id) unique constraint rejects a
// second response from the same judge with storage.ErrConflict. The counter
// update is a single statement guarded on status and target; if it matches
// nothing the request stopped accepting verdicts, the insert is rolled back
// and storage.ErrConditionFailed is returned.
func (s *Store) RecordVerdict(ctx context.Context, v domain.VerdictResponse) (domain.VerdictRequest, error) {
	var updated domain.VerdictRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO verdict_responses (`+responseColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			v.ID, v.RequestID, v.JudgeID, nullInt(v.Rating), v.Feedback, string(v.Tone), nullString(v.VoiceURL), v.CreatedAt,
		)
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		if err != nil {
			return err
		}

		updated, err = scanRequest(tx.QueryRowContext(ctx,
			s.q(`UPDATE verdict_requests
			 SET received_verdict_count = received_verdict_count + 1,
			     status = CASE WHEN received_verdict_count + 1 >= target_verdict_count THEN 'closed' ELSE status END,
			     updated_at = ?
			 WHERE id = ? AND status IN ('open', 'in_progress') AND received_verdict_count < target_verdict_count
			 RETURNING `+requestColumns),
			v.CreatedAt, v.RequestID,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrConditionFailed
		}
		return err
	})
	return updated, err
}

func (s *Store) ListVerdicts(ctx context.Context, requestID string) ([]domain.VerdictResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+responseColumns+`
		 FROM verdict_responses
		 WHERE request_id = ?
		 ORDER BY created_at, id`),
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.VerdictResponse
	for rows.Next() {
		v, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
