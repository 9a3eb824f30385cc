package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"verdict/internal/domain"
	"verdict/internal/storage"

	"github.com/google/uuid"
)

const profileColumns = `user_id, display_name, email, credits, is_judge, judge_qualified_at, created_at, updated_at`

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	var qualified sql.NullTime
	err := row.Scan(&p.UserID, &p.DisplayName, &p.Email, &p.Credits, &p.IsJudge, &qualified, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.JudgeQualifiedAt = timePtr(qualified)
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return p, storage.ErrNotFound
	}
	return p, err
}

// CreateProfile provisions a profile. Signup owns this in production; the
// operator CLI and tests use it directly.
func (s *Store) CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO profiles (user_id, display_name, email, credits, is_judge, judge_qualified_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		p.UserID, p.DisplayName, p.Email, p.Credits, p.IsJudge, p.JudgeQualifiedAt, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return p, storage.ErrConflict
	}
	return p, err
}

// DeductCredits subtracts amount only when the balance covers it, in one
// conditional UPDATE. When the guard fails it returns the current balance
// with storage.ErrConditionFailed; a missing profile gives storage.ErrNotFound.
func (s *Store) DeductCredits(ctx context.Context, userID string, amount int, reason string) (int, error) {
	var balance int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		err := tx.QueryRowContext(ctx,
			s.q(`UPDATE profiles SET credits = credits - ?, updated_at = ?
			 WHERE user_id = ? AND credits >= ?
			 RETURNING credits`),
			amount, now, userID, amount,
		).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.QueryRowContext(ctx, s.q(`SELECT credits FROM profiles WHERE user_id = ?`), userID).Scan(&balance)
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			if err != nil {
				return err
			}
			return storage.ErrConditionFailed
		}
		if err != nil {
			return err
		}
		return insertCreditTransaction(ctx, s, tx, userID, -amount, balance, reason, now)
	})
	return balance, err
}

// AddCredits increases the balance unconditionally.
func (s *Store) AddCredits(ctx context.Context, userID string, amount int, reason string) (int, error) {
	var balance int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		err := tx.QueryRowContext(ctx,
			s.q(`UPDATE profiles SET credits = credits + ?, updated_at = ?
			 WHERE user_id = ?
			 RETURNING credits`),
			amount, now, userID,
		).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return insertCreditTransaction(ctx, s, tx, userID, amount, balance, reason, now)
	})
	return balance, err
}

func insertCreditTransaction(ctx context.Context, s *Store, tx *sql.Tx, userID string, delta, balance int, reason string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO credit_transactions (id, user_id, delta, balance_after, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), userID, delta, balance, reason, now,
	)
	return err
}

// ListCreditTransactions returns the newest transactions first.
func (s *Store) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, user_id, delta, balance_after, reason, created_at
		 FROM credit_transactions
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`),
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CreditTransaction
	for rows.Next() {
		var t domain.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Delta, &t.BalanceAfter, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
