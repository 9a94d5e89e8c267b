package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatVotes(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want string
	}{
		{"on-chain raw token units", 1.5e21, "1.5K"},
		{"off-chain whole votes", 1500, "1.5K"},
		{"millions", 2_300_000, "2.3M"},
		{"on-chain millions", 2.3e24, "2.3M"},
		{"small count", 999, "999"},
		{"zero", 0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatVotes(tt.raw))
		})
	}
}

func TestNormalizeVotes(t *testing.T) {
	// Raw 18-decimal weights and already-scaled scores meet at the same value.
	assert.InDelta(t, 1500.0, NormalizeVotes(1.5e21), 0.001)
	assert.InDelta(t, 1500.0, NormalizeVotes(1500), 0.001)
}

func TestWantsSource(t *testing.T) {
	var nilPref *NotificationPreference
	assert.True(t, nilPref.WantsSource(SourceTally))

	pref := &NotificationPreference{NotifyDiscourse: true, NotifySnapshot: true}
	assert.False(t, pref.WantsSource(SourceTally))
	assert.True(t, pref.WantsSource(SourceSnapshot))
	assert.False(t, pref.WantsSource("unknown"))
}
