// Package ledger keeps the per-user credit balance. Balance changes are
// delegated to single atomic statements in the store; the ledger never
// reads a balance and writes it back.
package ledger

import (
	"context"
	"errors"

	"verdict/internal/domain"
	"verdict/internal/storage"

	"go.uber.org/zap"
)

// Store is the persistence the ledger needs.
type Store interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	DeductCredits(ctx context.Context, userID string, amount int, reason string) (int, error)
	AddCredits(ctx context.Context, userID string, amount int, reason string) (int, error)
	ListCreditTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error)
}

type Deduction struct {
	PreviousBalance int
	NewBalance      int
}

type Ledger struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger.Named("ledger")}
}

// EnsureProfile loads the user's profile. A missing profile is reported as
// KindProfileNotFound rather than created here, so signup bugs surface.
func (l *Ledger) EnsureProfile(ctx context.Context, userID string) (domain.Profile, error) {
	const op = "ledger.EnsureProfile"
	ctx, traceID := domain.EnsureTraceID(ctx)
	log := l.logger.With(zap.String("trace_id", traceID), zap.String("user_id", userID))

	p, err := l.store.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Warn("profile not found")
		return p, domain.WithTrace(domain.E(domain.KindProfileNotFound, op, nil), traceID)
	case err != nil:
		log.Error("profile lookup failed", zap.Error(err))
		return p, domain.WithTrace(domain.E(domain.KindDatabase, op, err), traceID)
	}
	log.Debug("profile loaded", zap.Int("credits", p.Credits))
	return p, nil
}

// Deduct takes amount credits from the user's balance, refusing to go below
// zero.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int) (Deduction, error) {
	return l.deduct(ctx, userID, amount, "deduct")
}

// DeductFor is Deduct with an explicit audit reason.
func (l *Ledger) DeductFor(ctx context.Context, userID string, amount int, reason string) (Deduction, error) {
	return l.deduct(ctx, userID, amount, reason)
}

func (l *Ledger) deduct(ctx context.Context, userID string, amount int, reason string) (Deduction, error) {
	const op = "ledger.Deduct"
	ctx, traceID := domain.EnsureTraceID(ctx)
	log := l.logger.With(zap.String("trace_id", traceID), zap.String("user_id", userID), zap.Int("amount", amount))

	if amount <= 0 {
		return Deduction{}, domain.WithTrace(domain.Invalid(op, "amount must be positive, got %d", amount), traceID)
	}

	balance, err := l.store.DeductCredits(ctx, userID, amount, reason)
	switch {
	case errors.Is(err, storage.ErrConditionFailed):
		log.Info("insufficient credits", zap.Int("balance", balance))
		return Deduction{PreviousBalance: balance, NewBalance: balance}, &domain.Error{
			Kind:     domain.KindInsufficientCredits,
			Op:       op,
			TraceID:  traceID,
			Required: amount,
			Balance:  balance,
		}
	case errors.Is(err, storage.ErrNotFound):
		log.Warn("deduct for missing profile")
		return Deduction{}, domain.WithTrace(domain.E(domain.KindProfileNotFound, op, nil), traceID)
	case err != nil:
		log.Error("deduct failed", zap.Error(err))
		return Deduction{}, domain.WithTrace(domain.E(domain.KindDatabase, op, err), traceID)
	}

	d := Deduction{PreviousBalance: balance + amount, NewBalance: balance}
	log.Info("credits deducted", zap.Int("previous_balance", d.PreviousBalance), zap.Int("new_balance", d.NewBalance))
	return d, nil
}

// Add credits the user unconditionally. reason is recorded for audit only.
func (l *Ledger) Add(ctx context.Context, userID string, amount int, reason string) (int, error) {
	const op = "ledger.Add"
	ctx, traceID := domain.EnsureTraceID(ctx)
	log := l.logger.With(zap.String("trace_id", traceID), zap.String("user_id", userID),
		zap.Int("amount", amount), zap.String("reason", reason))

	if amount <= 0 {
		return 0, domain.WithTrace(domain.Invalid(op, "amount must be positive, got %d", amount), traceID)
	}

	balance, err := l.store.AddCredits(ctx, userID, amount, reason)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Warn("add for missing profile")
		return 0, domain.WithTrace(domain.E(domain.KindProfileNotFound, op, nil), traceID)
	case err != nil:
		log.Error("add failed", zap.Error(err))
		return 0, domain.WithTrace(domain.E(domain.KindDatabase, op, err), traceID)
	}
	log.Info("credits added", zap.Int("new_balance", balance))
	return balance, nil
}

// History returns the user's most recent balance changes, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	out, err := l.store.ListCreditTransactions(ctx, userID, limit)
	if err != nil {
		return nil, domain.E(domain.KindDatabase, "ledger.History", err)
	}
	return out, nil
}
