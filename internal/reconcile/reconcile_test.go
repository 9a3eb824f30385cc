package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"verdict/internal/domain"
	"verdict/internal/storage"
	"verdict/internal/storage/sqlstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestStore returns the store plus a second raw handle on the same
// file, used to write rows the way an older deployment would have.
func newTestStore(t *testing.T) (*sqlstore.Store, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := sqlstore.InitDB(path)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	raw, err := sql.Open(sqlstore.DriverSQLite, "file:"+path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open raw handle: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	return s, raw
}

type recordingNotifier struct {
	mu        sync.Mutex
	closed    []string
	summaries []string
}

func (n *recordingNotifier) RequestClosed(_ context.Context, req domain.VerdictRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, req.ID)
	return nil
}

func (n *recordingNotifier) ReconcileSummary(_ context.Context, summary string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, summary)
	return nil
}

func seedRequest(t *testing.T, s *sqlstore.Store, id string, target int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := s.CreateProfile(ctx, domain.Profile{UserID: "owner-" + id, Credits: 5, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	text := "should I take the job?"
	err := s.InsertRequest(ctx, domain.VerdictRequest{
		ID:                 id,
		UserID:             "owner-" + id,
		Category:           domain.CategoryDecision,
		MediaType:          domain.MediaText,
		TextContent:        &text,
		RequestedTone:      domain.ToneHonest,
		RequestTier:        domain.TierCommunity,
		TargetVerdictCount: target,
		Status:             domain.StatusOpen,
		CreditsCharged:     1,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		t.Fatalf("InsertRequest: %v", err)
	}
}

// orphanVerdicts stores responses without advancing the request counter.
func orphanVerdicts(t *testing.T, raw *sql.DB, requestID string, judges ...string) {
	t.Helper()
	for _, j := range judges {
		_, err := raw.ExecContext(context.Background(),
			`INSERT INTO verdict_responses (id, request_id, judge_id, feedback, tone, created_at)
			 VALUES (?, ?, ?, '', ?, ?)`,
			requestID+"-"+j, requestID, j, string(domain.ToneHonest), time.Now().UTC())
		if err != nil {
			t.Fatalf("insert orphan verdict: %v", err)
		}
	}
}

func TestRunOnceRepairsDrift(t *testing.T) {
	s, raw := newTestStore(t)
	ctx := context.Background()

	seedRequest(t, s, "req-partial", 3)
	seedRequest(t, s, "req-full", 2)
	seedRequest(t, s, "req-clean", 3)
	orphanVerdicts(t, raw, "req-partial", "j1")
	orphanVerdicts(t, raw, "req-full", "j1", "j2")

	n := &recordingNotifier{}
	r := New(s, n, zap.NewNop())
	res, err := r.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Repaired)
	assert.Equal(t, 1, res.Closed)
	assert.Empty(t, res.Errors)

	partial, err := s.GetRequest(ctx, "req-partial")
	require.NoError(t, err)
	assert.Equal(t, 1, partial.ReceivedVerdictCount)
	assert.Equal(t, domain.StatusOpen, partial.Status)

	full, err := s.GetRequest(ctx, "req-full")
	require.NoError(t, err)
	assert.Equal(t, 2, full.ReceivedVerdictCount)
	assert.Equal(t, domain.StatusClosed, full.Status)

	clean, err := s.GetRequest(ctx, "req-clean")
	require.NoError(t, err)
	assert.Equal(t, 0, clean.ReceivedVerdictCount)

	assert.Equal(t, []string{"req-full"}, n.closed)
	require.Len(t, n.summaries, 1)
	assert.Contains(t, n.summaries[0], "repaired 2 of 2")

	again, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Scanned, "second run finds nothing")
	assert.Len(t, n.summaries, 1, "quiet runs post nothing")
}

type racingStore struct {
	drifts    []sqlstore.CountDrift
	repairErr error
	scanErr   error
}

func (s *racingStore) FindCountDrift(context.Context, int) ([]sqlstore.CountDrift, error) {
	return s.drifts, s.scanErr
}

func (s *racingStore) RepairCount(context.Context, sqlstore.CountDrift) (domain.VerdictRequest, error) {
	return domain.VerdictRequest{}, s.repairErr
}

func TestRunOnceOutcomes(t *testing.T) {
	drift := []sqlstore.CountDrift{{RequestID: "r1", Received: 0, Target: 3, Actual: 1}}

	raced, err := New(&racingStore{drifts: drift, repairErr: storage.ErrConditionFailed}, nil, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, raced.Raced)
	assert.Zero(t, raced.Repaired)

	failed, err := New(&racingStore{drifts: drift, repairErr: errors.New("disk full")}, nil, nil).RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, failed.Errors, 1)
	assert.Contains(t, failed.Errors[0], "disk full")

	_, err = New(&racingStore{scanErr: errors.New("db gone")}, nil, nil).RunOnce(context.Background())
	assert.Error(t, err)
}

func TestFormatSummary(t *testing.T) {
	assert.Equal(t, "all verdict counts consistent", FormatSummary(Result{}))
	assert.Equal(t, "repaired 1 of 3 drifted request(s), 1 closed, 1 changed concurrently, 1 failed: r3: boom",
		FormatSummary(Result{Scanned: 3, Repaired: 1, Closed: 1, Raced: 1, Errors: []string{"r3: boom"}}))
}

type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestRunScheduleStopsOnCancel(t *testing.T) {
	s, raw := newTestStore(t)
	seedRequest(t, s, "req-sched", 3)
	orphanVerdicts(t, raw, "req-sched", "j1")

	r := New(s, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.RunSchedule(ctx, everySchedule(5*time.Millisecond)) }()

	require.Eventually(t, func() bool {
		req, err := s.GetRequest(context.Background(), "req-sched")
		return err == nil && req.ReceivedVerdictCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	r := New(&racingStore{}, nil, nil)
	err := r.Run(context.Background(), "every tuesday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid reconcile schedule")
}
