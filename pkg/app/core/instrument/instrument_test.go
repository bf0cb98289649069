package instrument

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBoundary(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"mid interval", time.Date(2024, 1, 1, 12, 10, 30, 0, time.UTC), time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)},
		{"exact boundary moves forward", time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC), time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)},
		{"rolls over midnight", time.Date(2024, 1, 6, 23, 45, 0, 0, time.UTC), time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)},
		{"non-UTC input", time.Date(2024, 1, 1, 22, 10, 0, 0, time.FixedZone("AEST", 10*3600)), time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBoundary(tt.now, 30*time.Minute)
			assert.True(t, got.Equal(tt.want), "got %s", got)
		})
	}
}

func TestName(t *testing.T) {
	// 2024-01-01 was a Monday, 2024-01-07 a Sunday.
	assert.Equal(t, "1:12:30", Name(time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)))
	assert.Equal(t, "0:0:0", Name(time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "6:23:30", Name(time.Date(2024, 1, 6, 23, 30, 0, 0, time.UTC)))
}

func TestDelay(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 10, 0, 0, time.UTC)
	assert.Equal(t, 20*time.Minute, Delay(now, now.Add(20*time.Minute), 30*time.Minute))
	assert.Equal(t, 30*time.Minute, Delay(now, now, 30*time.Minute))
	assert.Equal(t, 30*time.Minute, Delay(now, now.Add(-time.Second), 30*time.Minute))
}

func TestNext(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 29, 59, 0, time.UTC)
	inst, delay := Next(now, 30*time.Minute)

	assert.Equal(t, "1:12:30", inst.Name)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC).Unix(), inst.Expiry)
	assert.Equal(t, time.Second, delay)
	assert.True(t, inst.ExpiryTime().Equal(now.Add(time.Second)))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Open", Open.String())
	assert.Equal(t, "Settling", Settling.String())
	assert.Equal(t, "Unknown", Status(9).String())
}
