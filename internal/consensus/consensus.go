// Package consensus decides when a request qualifies for a combined
// analysis of its verdicts and produces one through a text-generation
// provider.
package consensus

import (
	"context"
	"errors"
	"time"

	"verdict/internal/domain"

	"go.uber.org/zap"
)

// MinVerdicts is the fewest verdicts a synthesis can work from.
const MinVerdicts = 2

const DefaultTimeout = 45 * time.Second

// ShouldSynthesize is the business gate: only pro requests with at least
// two verdicts get a consensus.
func ShouldSynthesize(tier string, verdictCount int) bool {
	return tier == domain.TierPro && verdictCount >= MinVerdicts
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Provider turns a system instruction and a prompt into a JSON-shaped text
// response.
type Provider interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)
}

type Synthesizer struct {
	provider Provider
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSynthesizer builds a synthesizer. A non-positive timeout uses
// DefaultTimeout; provider may be nil, in which case every call fails with
// KindSynthesisFailed.
func NewSynthesizer(provider Provider, timeout time.Duration, logger *zap.Logger) *Synthesizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{provider: provider, timeout: timeout, logger: logger.Named("consensus")}
}

// Synthesize combines verdicts into a ConsensusResult. The provider's
// output is sanity-checked and clamped, never retried.
func (s *Synthesizer) Synthesize(ctx context.Context, verdicts []domain.VerdictResponse, requestContext string, category domain.Category) (domain.ConsensusResult, error) {
	const op = "consensus.Synthesize"
	ctx, traceID := domain.EnsureTraceID(ctx)
	log := s.logger.With(zap.String("trace_id", traceID), zap.Int("verdicts", len(verdicts)),
		zap.String("category", string(category)))

	if len(verdicts) < MinVerdicts {
		return domain.ConsensusResult{}, domain.WithTrace(domain.E(domain.KindInsufficientVerdicts, op, nil), traceID)
	}
	if s.provider == nil {
		return domain.ConsensusResult{}, domain.WithTrace(
			domain.E(domain.KindSynthesisFailed, op, errors.New("no text synthesis provider configured")), traceID)
	}

	systemPrompt, userPrompt := buildPrompts(verdicts, requestContext, category)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	log.Info("consensus synthesis started", zap.String("provider", s.provider.Name()))
	text, usage, err := s.provider.Complete(callCtx, systemPrompt, userPrompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			log.Warn("consensus synthesis timed out", zap.Duration("timeout", s.timeout))
			return domain.ConsensusResult{}, domain.WithTrace(domain.E(domain.KindSynthesisTimeout, op, err), traceID)
		}
		log.Error("consensus provider failed", zap.Error(err))
		return domain.ConsensusResult{}, domain.WithTrace(domain.E(domain.KindSynthesisFailed, op, err), traceID)
	}

	raw, err := parseConsensusResponse(text)
	if err != nil {
		log.Error("consensus response unparseable", zap.Error(err))
		return domain.ConsensusResult{}, domain.WithTrace(domain.E(domain.KindSynthesisFailed, op, err), traceID)
	}

	result := normalize(raw, len(verdicts))
	if len(result.ExpertBreakdown) != len(verdicts) {
		log.Warn("expert breakdown count mismatch",
			zap.Int("expected", len(verdicts)), zap.Int("got", len(result.ExpertBreakdown)))
	}

	log.Info("consensus synthesis finished",
		zap.Duration("elapsed", time.Since(started)),
		zap.Float64("confidence", result.ConfidenceScore),
		zap.String("agreement", string(result.AgreementLevel)),
		zap.Int64("tokens_in", usage.InputTokens),
		zap.Int64("tokens_out", usage.OutputTokens))
	return result, nil
}
