// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, 100*time.Millisecond, p.Initial)
	assert.Contains(t, p.Statuses, http.StatusServiceUnavailable)
	assert.NotContains(t, p.Statuses, http.StatusNotFound)
}

func TestDelay(t *testing.T) {
	p := RetryPolicy{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDelayJitter(t *testing.T) {
	p := RetryPolicy{Initial: time.Second, Multiplier: 2, Jitter: 0.1}
	for i := 0; i < 50; i++ {
		d := p.Delay(0)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestRetryable(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		name    string
		status  int
		attempt int
		want    bool
	}{
		{"unavailable", http.StatusServiceUnavailable, 0, true},
		{"throttled", http.StatusTooManyRequests, 2, true},
		{"transport error", 0, 1, true},
		{"attempts exhausted", http.StatusServiceUnavailable, 3, false},
		{"not found", http.StatusNotFound, 0, false},
		{"unauthorized", http.StatusUnauthorized, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Retryable(tt.status, tt.attempt))
		})
	}
}
