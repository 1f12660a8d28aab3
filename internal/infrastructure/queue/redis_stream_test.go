package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay_DoublesPerAttempt(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{2, 30 * time.Second},
		{3, time.Minute},
		{4, 2 * time.Minute},
		{5, 4 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, retryDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestRetryDelay_Bounds(t *testing.T) {
	// First delivery never waits more than the base.
	assert.Equal(t, retryBaseDelay, retryDelay(1))
	assert.Equal(t, retryBaseDelay, retryDelay(0))

	// Large attempt counts cap out instead of overflowing.
	assert.Equal(t, retryMaxDelay, retryDelay(8))
	assert.Equal(t, retryMaxDelay, retryDelay(64))
}
