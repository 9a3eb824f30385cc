// Package reconcile repairs verdict counters that fell behind the number
// of stored responses, for example rows written by an older deployment
// that inserted and counted in separate steps.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"verdict/internal/domain"
	"verdict/internal/storage"
	"verdict/internal/storage/sqlstore"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultBatchSize = 100

type Store interface {
	FindCountDrift(ctx context.Context, limit int) ([]sqlstore.CountDrift, error)
	RepairCount(ctx context.Context, d sqlstore.CountDrift) (domain.VerdictRequest, error)
}

// Notifier is told about requests a repair closed and about each run's
// summary. Failures are logged and never fail the run.
type Notifier interface {
	RequestClosed(ctx context.Context, req domain.VerdictRequest) error
	ReconcileSummary(ctx context.Context, summary string) error
}

// Result tracks separate counters for each outcome of a run.
type Result struct {
	Scanned  int
	Repaired int
	Closed   int
	Raced    int
	Errors   []string
}

type Reconciler struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	batch    int
	now      func() time.Time
}

func New(store Store, notifier Notifier, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		notifier: notifier,
		logger:   logger.Named("reconcile"),
		batch:    defaultBatchSize,
		now:      time.Now,
	}
}

// RunOnce scans one batch of drifted requests and repairs each. A repair
// that loses to a concurrent verdict is counted as raced and left for the
// next run.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	ctx, traceID := domain.EnsureTraceID(ctx)
	log := r.logger.With(zap.String("trace_id", traceID))

	drifts, err := r.store.FindCountDrift(ctx, r.batch)
	if err != nil {
		log.Error("drift scan failed", zap.Error(err))
		return Result{}, fmt.Errorf("scanning verdict counts: %w", err)
	}

	result := Result{Scanned: len(drifts)}
	for _, d := range drifts {
		fields := []zap.Field{
			zap.String("request_id", d.RequestID),
			zap.Int("received", d.Received),
			zap.Int("actual", d.Actual),
			zap.Int("target", d.Target),
		}
		req, err := r.store.RepairCount(ctx, d)
		switch {
		case errors.Is(err, storage.ErrConditionFailed):
			log.Info("count changed during repair, skipping", fields...)
			result.Raced++
			continue
		case err != nil:
			log.Error("count repair failed", append(fields, zap.Error(err))...)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", d.RequestID, err))
			continue
		}
		result.Repaired++
		log.Warn("verdict count repaired", append(fields, zap.String("status", string(req.Status)))...)
		if req.Status == domain.StatusClosed {
			result.Closed++
			if r.notifier != nil {
				if nerr := r.notifier.RequestClosed(ctx, req); nerr != nil {
					log.Warn("closure notification failed", zap.String("request_id", req.ID), zap.Error(nerr))
				}
			}
		}
	}

	if r.notifier != nil && (result.Repaired > 0 || len(result.Errors) > 0) {
		if nerr := r.notifier.ReconcileSummary(ctx, FormatSummary(result)); nerr != nil {
			log.Warn("reconcile summary post failed", zap.Error(nerr))
		}
	}
	return result, nil
}

// Run repairs on the given 5-field cron schedule until ctx is done.
func (r *Reconciler) Run(ctx context.Context, schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(schedule))
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule '%s': %w", schedule, err)
	}
	r.logger.Info("reconcile scheduled", zap.String("cron", schedule))
	return r.RunSchedule(ctx, sched)
}

func (r *Reconciler) RunSchedule(ctx context.Context, sched cron.Schedule) error {
	for {
		now := r.now()
		next := sched.Next(now)
		wait := next.Sub(now)
		r.logger.Debug("next reconcile", zap.Time("at", next), zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		result, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("reconcile run failed", zap.Error(err))
			continue
		}
		r.logger.Info("reconcile run complete", zap.String("summary", FormatSummary(result)))
	}
}

func FormatSummary(r Result) string {
	if r.Scanned == 0 {
		return "all verdict counts consistent"
	}
	parts := []string{fmt.Sprintf("repaired %d of %d drifted request(s)", r.Repaired, r.Scanned)}
	if r.Closed > 0 {
		parts = append(parts, fmt.Sprintf("%d closed", r.Closed))
	}
	if r.Raced > 0 {
		parts = append(parts, fmt.Sprintf("%d changed concurrently", r.Raced))
	}
	if len(r.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("%d failed: %s", len(r.Errors), strings.Join(r.Errors, "; ")))
	}
	return strings.Join(parts, ", ")
}
