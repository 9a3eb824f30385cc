// Package judging records judge verdicts and advances the request they
// answer.
package judging

import (
	"context"
	"errors"
	"strings"
	"time"

	"verdict/internal/domain"
	"verdict/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence the recorder needs. RecordVerdict must insert
// the response and increment the counter atomically, returning
// storage.ErrConflict for a duplicate (request, judge) pair and
// storage.ErrConditionFailed when the request no longer accepts verdicts.
type Store interface {
	GetRequest(ctx context.Context, id string) (domain.VerdictRequest, error)
	RecordVerdict(ctx context.Context, v domain.VerdictResponse) (domain.VerdictRequest, error)
	ListVerdicts(ctx context.Context, requestID string) ([]domain.VerdictResponse, error)
}

type Submission struct {
	RequestID string
	JudgeID   string
	Rating    *int
	Feedback  string
	Tone      domain.Tone
	VoiceURL  *string
}

type Result struct {
	Verdict domain.VerdictResponse
	Request domain.VerdictRequest
}

// Closed reports whether this verdict was the one that closed the request.
func (r Result) Closed() bool {
	return r.Request.Status == domain.StatusClosed
}

type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:  store,
		logger: logger.Named("judging"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Record stores one judge's verdict. Checks run in a fixed order: the
// request must exist, the judge must not own it, and it must still accept
// verdicts. Duplicate submissions are caught by the store's unique
// constraint, not by a prior lookup.
func (r *Recorder) Record(ctx context.Context, sub Submission) (Result, error) {
	const op = "judging.Record"
	ctx, traceID := domain.EnsureTraceID(ctx)
	log := r.logger.With(zap.String("trace_id", traceID),
		zap.String("request_id", sub.RequestID), zap.String("judge_id", sub.JudgeID))

	if strings.TrimSpace(sub.JudgeID) == "" {
		return Result{}, domain.WithTrace(domain.Invalid(op, "judge id is required"), traceID)
	}
	tone := sub.Tone
	if tone == "" {
		tone = domain.ToneHonest
	}
	if !tone.Valid() {
		return Result{}, domain.WithTrace(domain.Invalid(op, "unknown tone %q", sub.Tone), traceID)
	}

	req, err := r.store.GetRequest(ctx, sub.RequestID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Info("verdict for unknown request")
		return Result{}, domain.WithTrace(domain.E(domain.KindRequestNotFound, op, nil), traceID)
	case err != nil:
		log.Error("request lookup failed", zap.Error(err))
		return Result{}, domain.WithTrace(domain.E(domain.KindDatabase, op, err), traceID)
	}

	if req.UserID == sub.JudgeID {
		log.Info("self-judging rejected")
		return Result{}, domain.WithTrace(domain.E(domain.KindCannotJudgeOwnRequest, op, nil), traceID)
	}
	if !req.Status.AcceptsVerdicts() {
		log.Info("verdict for closed request", zap.String("status", string(req.Status)))
		return Result{}, domain.WithTrace(domain.E(domain.KindRequestClosed, op, nil), traceID)
	}

	verdict := domain.VerdictResponse{
		ID:        r.newID(),
		RequestID: req.ID,
		JudgeID:   sub.JudgeID,
		Rating:    sub.Rating,
		Feedback:  sub.Feedback,
		Tone:      tone,
		VoiceURL:  sub.VoiceURL,
		CreatedAt: r.now(),
	}

	updated, err := r.store.RecordVerdict(ctx, verdict)
	switch {
	case errors.Is(err, storage.ErrConflict):
		log.Info("duplicate verdict rejected")
		return Result{}, domain.WithTrace(domain.E(domain.KindAlreadyResponded, op, nil), traceID)
	case errors.Is(err, storage.ErrConditionFailed):
		// Closed between the status check and the write.
		log.Info("request closed before verdict was counted")
		return Result{}, domain.WithTrace(domain.E(domain.KindRequestClosed, op, nil), traceID)
	case err != nil:
		log.Error("recording verdict failed", zap.Error(err))
		return Result{}, domain.WithTrace(domain.E(domain.KindDatabase, op, err), traceID)
	}

	log.Info("verdict recorded",
		zap.Int("received", updated.ReceivedVerdictCount),
		zap.Int("target", updated.TargetVerdictCount),
		zap.String("status", string(updated.Status)))
	return Result{Verdict: verdict, Request: updated}, nil
}

// ListForRequest returns the verdicts recorded against a request, oldest
// first.
func (r *Recorder) ListForRequest(ctx context.Context, requestID string) ([]domain.VerdictResponse, error) {
	out, err := r.store.ListVerdicts(ctx, requestID)
	if err != nil {
		return nil, domain.E(domain.KindDatabase, "judging.ListForRequest", err)
	}
	return out, nil
}
