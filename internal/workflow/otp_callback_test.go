// File: internal/workflow/otp_callback_test.go
package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCallbackServerDeliversToWaitingAttempt(t *testing.T) {
	src := NewChannelOTPSource()
	cb := NewCallbackServer("127.0.0.1:0", src, zaptest.NewLogger(t))
	ts := httptest.NewServer(cb)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/otp", "application/json",
		strings.NewReader(`{"number":"380501234567","code":"654321"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The bare number was normalized to the formatted form the engine
	// waits on.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	code, err := src.Code(ctx, "+380501234567")
	require.NoError(t, err)
	assert.Equal(t, "654321", code)
}

func TestCallbackServerRejectsBadDeliveries(t *testing.T) {
	src := NewChannelOTPSource()
	cb := NewCallbackServer("127.0.0.1:0", src, zaptest.NewLogger(t))
	ts := httptest.NewServer(cb)
	defer ts.Close()

	testCases := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"get not allowed", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"malformed json", http.MethodPost, "{not json", http.StatusBadRequest},
		{"missing code", http.MethodPost, `{"number":"380501234567"}`, http.StatusBadRequest},
		{"missing number", http.MethodPost, `{"code":"654321"}`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ts.URL+"/otp", strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
