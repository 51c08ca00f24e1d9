package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{7, 32 * time.Minute},
		{8, time.Hour},
		{200, time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateBackoff(tt.attempt, 30*time.Second, time.Hour), "attempt %d", tt.attempt)
	}
}

func TestCalculateBackoff_Monotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt < 64; attempt++ {
		d := CalculateBackoff(attempt, time.Second, 10*time.Minute)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}
