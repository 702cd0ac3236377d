// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"math"
	"math/rand"
	"net/http"
	"slices"
	"time"
)

// RetryPolicy controls how metadata fetches are repeated after transient failures
type RetryPolicy struct {
	Attempts   int           // retries after the first request, 0 disables
	Initial    time.Duration // delay before the first retry
	Max        time.Duration // cap on any single delay
	Multiplier float64
	Jitter     float64 // fraction of the delay added or removed at random
	Statuses   []int   // response statuses worth another attempt
}

// DefaultRetryPolicy retries gateway and throttling responses three times
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		Initial:    100 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
		Statuses: []int{
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Delay returns the wait before retry number attempt (0-indexed)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	if attempt > 0 {
		d *= math.Pow(p.Multiplier, float64(attempt))
	}
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Retryable reports whether a response with status after attempt retries
// should be tried again. A zero status stands for a transport error.
func (p RetryPolicy) Retryable(status, attempt int) bool {
	if attempt >= p.Attempts {
		return false
	}
	return status == 0 || slices.Contains(p.Statuses, status)
}
