package consensus

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"verdict/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubProvider struct {
	text   string
	err    error
	block  bool
	system string
	prompt string
	calls  int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	s.calls++
	s.system, s.prompt = systemPrompt, userPrompt
	if s.block {
		<-ctx.Done()
		return "", Usage{}, ctx.Err()
	}
	return s.text, Usage{InputTokens: 10, OutputTokens: 5}, s.err
}

func intPtr(v int) *int { return &v }

func verdicts(n int) []domain.VerdictResponse {
	out := make([]domain.VerdictResponse, n)
	for i := range out {
		out[i] = domain.VerdictResponse{
			ID:       "v" + string(rune('a'+i)),
			JudgeID:  "judge-" + string(rune('a'+i)),
			Rating:   intPtr(6 + i),
			Feedback: "solid work, tighten the opening",
			Tone:     domain.ToneHonest,
		}
	}
	return out
}

func TestShouldSynthesize(t *testing.T) {
	tests := []struct {
		tier  string
		count int
		want  bool
	}{
		{tier: "pro", count: 2, want: true},
		{tier: "pro", count: 5, want: true},
		{tier: "pro", count: 1, want: false},
		{tier: "pro", count: 0, want: false},
		{tier: "standard", count: 10, want: false},
		{tier: "community", count: 3, want: false},
		{tier: "", count: 3, want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldSynthesize(tt.tier, tt.count), "tier=%q count=%d", tt.tier, tt.count)
	}
}

func TestSynthesizeInsufficientVerdicts(t *testing.T) {
	p := &stubProvider{text: `{"summary":"x"}`}
	s := NewSynthesizer(p, time.Second, zap.NewNop())

	_, err := s.Synthesize(context.Background(), verdicts(1), "ctx", domain.CategoryWriting)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientVerdicts))
	assert.Zero(t, p.calls, "provider must not be called")
}

func TestSynthesizeClampsAndUpgrades(t *testing.T) {
	p := &stubProvider{text: "```json\n" + `{
		"summary": "Experts agree the piece works.",
		"confidence_score": 1.4,
		"agreement_level": "low",
		"key_themes": ["clarity"],
		"recommendations": [
			{"recommendation": "trim intro", "confidence": 0.6, "expert_support": 9},
			{"recommendation": "add example", "confidence": 1.7, "expert_support": 1},
			{"recommendation": "new title", "confidence": 0.6, "expert_support": 1},
			{"recommendation": "fix typos", "confidence": -0.2, "expert_support": -3}
		],
		"expert_breakdown": [
			{"expert": 1, "rating": 6, "stance": "positive", "key_points": ["flow"]},
			{"expert": 2, "rating": 7.4, "stance": "positive", "key_points": []}
		]
	}` + "\n```"}
	s := NewSynthesizer(p, time.Second, zap.NewNop())

	res, err := s.Synthesize(context.Background(), verdicts(2), "cover letter", domain.CategoryWriting)
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.ConfidenceScore)
	assert.Equal(t, domain.AgreementHigh, res.AgreementLevel)
	require.Len(t, res.Recommendations, 4)
	assert.Equal(t, "add example", res.Recommendations[0].Text)
	assert.Equal(t, 1.0, res.Recommendations[0].Confidence)
	// equal confidence falls back to support, descending
	assert.Equal(t, "trim intro", res.Recommendations[1].Text)
	assert.Equal(t, 2, res.Recommendations[1].ExpertSupport, "support capped at verdict count")
	assert.Equal(t, "new title", res.Recommendations[2].Text)
	assert.Equal(t, "fix typos", res.Recommendations[3].Text)
	assert.Equal(t, 0.0, res.Recommendations[3].Confidence)
	assert.Equal(t, 0, res.Recommendations[3].ExpertSupport)

	require.Len(t, res.ExpertBreakdown, 2)
	require.NotNil(t, res.ExpertBreakdown[1].Rating)
	assert.Equal(t, 7, *res.ExpertBreakdown[1].Rating)
	assert.NotNil(t, res.Conflicts)

	assert.Contains(t, p.system, "writing")
	assert.Contains(t, p.system, "exactly 2 entries")
	assert.Contains(t, p.prompt, "cover letter")
	assert.Contains(t, p.prompt, "Expert 2 (rating: 7/10, tone: honest)")
}

func TestAgreementNeverDowngraded(t *testing.T) {
	tests := []struct {
		confidence float64
		stated     string
		want       domain.AgreementLevel
	}{
		{confidence: 0.85, stated: "low", want: domain.AgreementHigh},
		{confidence: 0.65, stated: "low", want: domain.AgreementMedium},
		{confidence: 0.65, stated: "high", want: domain.AgreementHigh},
		{confidence: 0.3, stated: "medium", want: domain.AgreementMedium},
		{confidence: 0.3, stated: "unanimous", want: domain.AgreementLow},
		{confidence: 0.8, stated: "HIGH", want: domain.AgreementHigh},
		{confidence: 0.6, stated: "", want: domain.AgreementMedium},
	}
	for _, tt := range tests {
		raw := rawConsensus{Summary: "s", ConfidenceScore: tt.confidence, AgreementLevel: tt.stated}
		got := normalize(raw, 3)
		assert.Equal(t, tt.want, got.AgreementLevel, "confidence=%v stated=%q", tt.confidence, tt.stated)
	}
}

func TestSynthesizeBreakdownMismatchWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := &stubProvider{text: `{"summary":"ok","confidence_score":0.5,"agreement_level":"low",
		"expert_breakdown":[{"expert":1,"stance":"meh"}]}`}
	s := NewSynthesizer(p, time.Second, zap.New(core))

	res, err := s.Synthesize(context.Background(), verdicts(3), "", domain.CategoryDecision)
	require.NoError(t, err, "mismatch is not fatal")
	assert.Len(t, res.ExpertBreakdown, 1)

	warnings := logs.FilterMessage("expert breakdown count mismatch").All()
	require.Len(t, warnings, 1)
	fields := warnings[0].ContextMap()
	assert.EqualValues(t, 3, fields["expected"])
	assert.EqualValues(t, 1, fields["got"])
	assert.NotEmpty(t, fields["trace_id"])
}

func TestSynthesizeProviderFailures(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		want     error
	}{
		{name: "provider error", provider: &stubProvider{err: errors.New("503 from upstream")}, want: domain.ErrSynthesisFailed},
		{name: "not json", provider: &stubProvider{text: "I think they mostly agree."}, want: domain.ErrSynthesisFailed},
		{name: "no summary", provider: &stubProvider{text: `{"confidence_score":0.9}`}, want: domain.ErrSynthesisFailed},
		{name: "timeout", provider: &stubProvider{block: true}, want: domain.ErrSynthesisTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSynthesizer(tt.provider, 20*time.Millisecond, zap.NewNop())
			_, err := s.Synthesize(context.Background(), verdicts(2), "", domain.CategoryAppearance)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.False(t, domain.KindOf(err).UserFacing())
			assert.NotEmpty(t, err.(*domain.Error).TraceID)
		})
	}
}

func TestSynthesizeWithoutProvider(t *testing.T) {
	s := NewSynthesizer(nil, 0, nil)
	_, err := s.Synthesize(context.Background(), verdicts(2), "", domain.CategoryProfile)
	assert.True(t, errors.Is(err, domain.ErrSynthesisFailed))
}

func TestSynthesizeUsesTraceFromContext(t *testing.T) {
	p := &stubProvider{err: errors.New("boom")}
	s := NewSynthesizer(p, time.Second, zap.NewNop())
	ctx := domain.WithTraceID(context.Background(), "trace-123")

	_, err := s.Synthesize(ctx, verdicts(2), "", domain.CategoryProfile)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "trace-123", de.TraceID)
}

func TestBuildPromptsTruncatesLongFeedback(t *testing.T) {
	vs := verdicts(2)
	vs[0].Feedback = strings.Repeat("a", maxFeedbackChars+200)
	vs[1].Feedback = "   "
	vs[1].Rating = nil

	_, prompt := buildPrompts(vs, "", domain.Category("other"))
	assert.Contains(t, prompt, strings.Repeat("a", maxFeedbackChars)+"...")
	assert.NotContains(t, prompt, strings.Repeat("a", maxFeedbackChars+1))
	assert.Contains(t, prompt, "(no written feedback)")
	assert.Contains(t, prompt, "rating: none")
	assert.Contains(t, prompt, "Submission context: none")

	vs = verdicts(2)
	vs[0].Feedback = "a" + strings.Repeat("é", maxFeedbackChars)
	_, prompt = buildPrompts(vs, "", domain.CategoryWriting)
	assert.True(t, utf8.ValidString(prompt), "truncation split a character")
	assert.Contains(t, prompt, "a"+strings.Repeat("é", (maxFeedbackChars-1)/2)+"...")
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "hello", n: 10, want: "hello"},
		{in: "hello", n: 3, want: "hel"},
		{in: "héllo", n: 2, want: "h"},
		{in: "😀x", n: 3, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateUTF8(tt.in, tt.n), "truncateUTF8(%q, %d)", tt.in, tt.n)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		"```json\n{}\n```": "{}",
		"```\n{}\n```":     "{}",
		"  {}  ":           "{}",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripCodeFence(in))
	}
}
