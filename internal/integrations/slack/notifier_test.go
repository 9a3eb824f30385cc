package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"verdict/internal/domain"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedPost struct {
	path string
	form url.Values
}

func newSlackServer(t *testing.T, ok bool) (*httptest.Server, *[]capturedPost) {
	t.Helper()
	var mu sync.Mutex
	var posts []capturedPost
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		posts = append(posts, capturedPost{path: r.URL.Path, form: r.PostForm})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if ok {
			_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &posts
}

func TestNotifierRequestClosed(t *testing.T) {
	srv, posts := newSlackServer(t, true)
	n := NewNotifier("xoxb-test", "C123", srv.Client(), zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))
	require.True(t, n.Enabled())

	err := n.RequestClosed(context.Background(), domain.VerdictRequest{
		ID: "req-1", Category: domain.CategoryWriting, ReceivedVerdictCount: 3, TargetVerdictCount: 3,
	})
	require.NoError(t, err)
	require.Len(t, *posts, 1)
	got := (*posts)[0]
	assert.Equal(t, "/chat.postMessage", got.path)
	assert.Equal(t, "C123", got.form.Get("channel"))
	assert.Contains(t, got.form.Get("text"), "req-1")
	assert.Contains(t, got.form.Get("text"), "3/3")
}

func TestNotifierConsensusReadyUsesBlocks(t *testing.T) {
	srv, posts := newSlackServer(t, true)
	n := NewNotifier("xoxb-test", "C123", srv.Client(), zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))

	err := n.ConsensusReady(context.Background(),
		domain.VerdictRequest{ID: "req-2", Category: domain.CategoryAppearance},
		domain.ConsensusResult{
			Summary:         "Experts like the outfit.",
			ConfidenceScore: 0.82,
			AgreementLevel:  domain.AgreementHigh,
			Recommendations: []domain.Recommendation{{Text: "swap the shoes", Confidence: 0.9, ExpertSupport: 2}},
		})
	require.NoError(t, err)
	require.Len(t, *posts, 1)
	blocks := (*posts)[0].form.Get("blocks")
	assert.Contains(t, blocks, "Experts like the outfit.")
	assert.Contains(t, blocks, "swap the shoes")
	assert.Contains(t, (*posts)[0].form.Get("text"), "82%")
}

func TestNotifierSurfacesAPIError(t *testing.T) {
	srv, _ := newSlackServer(t, false)
	n := NewNotifier("xoxb-test", "C404", srv.Client(), zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))

	err := n.ReconcileSummary(context.Background(), "repaired 1 of 1 drifted request(s)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	n := NewNotifier("", "", nil, nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.RequestClosed(context.Background(), domain.VerdictRequest{ID: "x"}))
	assert.NoError(t, n.ConsensusReady(context.Background(), domain.VerdictRequest{}, domain.ConsensusResult{}))
	assert.NoError(t, n.ReconcileSummary(context.Background(), "ok"))

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
}
