package httpx

import (
	"testing"
	"time"
)

func TestExternalHTTPClientTimeout(t *testing.T) {
	client := ExternalHTTPClient()
	if client == nil {
		t.Fatal("ExternalHTTPClient must not be nil")
	}
	if client.Timeout != defaultExternalHTTPTimeout {
		t.Fatalf("external client timeout = %s, want %s", client.Timeout, defaultExternalHTTPTimeout)
	}
}

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() {
		externalHTTPClient.Timeout = original
	})

	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{seconds: 0, want: defaultExternalHTTPTimeout},
		{seconds: -3, want: defaultExternalHTTPTimeout},
		{seconds: 45, want: 45 * time.Second},
		{seconds: 120, want: 120 * time.Second},
	}
	for _, tt := range tests {
		got := ConfigureExternalHTTPClient(tt.seconds)
		if got != tt.want {
			t.Fatalf("ConfigureExternalHTTPClient(%d) = %s, want %s", tt.seconds, got, tt.want)
		}
		if ExternalHTTPClient().Timeout != tt.want {
			t.Fatalf("configured timeout = %s, want %s", ExternalHTTPClient().Timeout, tt.want)
		}
	}
}
