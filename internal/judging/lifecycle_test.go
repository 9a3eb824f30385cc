package judging_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"verdict/internal/consensus"
	"verdict/internal/domain"
	"verdict/internal/judging"
	"verdict/internal/ledger"
	"verdict/internal/requests"
	"verdict/internal/storage/sqlstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type breakdownProvider struct {
	experts int
}

func (p breakdownProvider) Name() string { return "fixture" }

func (p breakdownProvider) Complete(context.Context, string, string) (string, consensus.Usage, error) {
	breakdown := ""
	for i := 1; i <= p.experts; i++ {
		if i > 1 {
			breakdown += ","
		}
		breakdown += fmt.Sprintf(`{"expert":%d,"rating":8,"stance":"take offer two","key_points":["growth"]}`, i)
	}
	return `{"summary":"All three judges favour the second offer.","confidence_score":0.9,"agreement_level":"high",` +
		`"key_themes":["growth"],"recommendations":[{"recommendation":"accept offer two","confidence":0.9,"expert_support":3}],` +
		`"expert_breakdown":[` + breakdown + `]}`, consensus.Usage{}, nil
}

// User A opens a pro request, judges B, C and D fill it, E is turned away,
// and the three verdicts are synthesised.
func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	s, err := sqlstore.InitDB(filepath.Join(t.TempDir(), "lifecycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	now := time.Now().UTC()
	_, err = s.CreateProfile(ctx, domain.Profile{UserID: "A", Credits: 3, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	led := ledger.New(s, zap.NewNop())
	svc := requests.NewService(s, led, requests.DefaultDefaults(), zap.NewNop())
	rec := judging.NewRecorder(s, zap.NewNop())

	req, err := svc.Create(ctx, requests.Input{
		UserID:             "A",
		Category:           domain.CategoryDecision,
		MediaType:          domain.MediaText,
		TextContent:        "Offer one pays more, offer two has a better team.",
		TargetVerdictCount: 3,
		CreditsToCharge:    1,
		RequestTier:        domain.TierPro,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, req.Status)
	assert.Equal(t, 0, req.ReceivedVerdictCount)
	p, err := led.EnsureProfile(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Credits)

	steps := []struct {
		judge  string
		count  int
		status domain.RequestStatus
	}{
		{judge: "B", count: 1, status: domain.StatusOpen},
		{judge: "C", count: 2, status: domain.StatusOpen},
		{judge: "D", count: 3, status: domain.StatusClosed},
	}
	for _, step := range steps {
		res, err := rec.Record(ctx, judging.Submission{RequestID: req.ID, JudgeID: step.judge, Feedback: "go with two"})
		require.NoError(t, err, "judge %s", step.judge)
		assert.Equal(t, step.count, res.Request.ReceivedVerdictCount, "judge %s", step.judge)
		assert.Equal(t, step.status, res.Request.Status, "judge %s", step.judge)
	}

	_, err = rec.Record(ctx, judging.Submission{RequestID: req.ID, JudgeID: "E", Feedback: "late"})
	assert.True(t, errors.Is(err, domain.ErrRequestClosed), "got %v", err)

	verdicts, err := rec.ListForRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, verdicts, 3)
	require.True(t, consensus.ShouldSynthesize(req.RequestTier, len(verdicts)))

	result, err := consensus.NewSynthesizer(breakdownProvider{experts: 3}, time.Second, zap.NewNop()).
		Synthesize(ctx, verdicts, req.Context, req.Category)
	require.NoError(t, err)
	assert.Len(t, result.ExpertBreakdown, 3)
	assert.Equal(t, domain.AgreementHigh, result.AgreementLevel)

	core, logs := observer.New(zapcore.WarnLevel)
	short, err := consensus.NewSynthesizer(breakdownProvider{experts: 2}, time.Second, zap.New(core)).
		Synthesize(ctx, verdicts, req.Context, req.Category)
	require.NoError(t, err)
	assert.Len(t, short.ExpertBreakdown, 2)
	assert.Equal(t, 1, logs.FilterMessage("expert breakdown count mismatch").Len())
}
