package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"verdict/internal/config"
	"verdict/internal/domain"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		DBDriver:                   config.DriverSQLite,
		DBPath:                     filepath.Join(t.TempDir(), "app.db"),
		DefaultTargetVerdictCount:  2,
		DefaultCreditsToCharge:     1,
		DefaultRequestTier:         domain.TierCommunity,
		DefaultTone:                string(domain.ToneEncouraging),
		SynthesisTimeoutSeconds:    5,
		ExternalHTTPTimeoutSeconds: 10,
		ReconcileSchedule:          "*/15 * * * *",
		JWTSecret:                  "app-secret",
		LogLevel:                   "info",
	}
}

func TestNewWiresServices(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.False(t, a.Notifier.Enabled())
	d := a.Requests.Defaults()
	assert.Equal(t, 2, d.TargetVerdictCount)
	assert.Equal(t, domain.ToneEncouraging, d.Tone)

	now := time.Now().UTC()
	_, err = a.Store.CreateProfile(context.Background(), domain.Profile{UserID: "alice", Credits: 1, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	token, err := a.Auth.Issue("alice", time.Minute)
	require.NoError(t, err)

	resp, err := a.Handler().Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/me/credits",
		Headers:    map[string]string{"Authorization": "Bearer " + token},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLMProvider = "mystery"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
