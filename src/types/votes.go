package types

import (
	"fmt"
	"math"
)

// weiThreshold separates 18-decimal on-chain vote weights from already-scaled
// off-chain scores. Tally reports raw token units, Snapshot reports whole
// votes, so anything above the threshold is divided down before display.
const weiThreshold = 1e15

// NormalizeVotes scales a raw vote weight into whole-vote units.
func NormalizeVotes(raw float64) float64 {
	if raw > weiThreshold {
		return raw / 1e18
	}
	return raw
}

// FormatVotes renders a vote weight the way the dashboard shows it: "1.5K",
// "2.3M" or a plain rounded integer.
func FormatVotes(raw float64) string {
	v := NormalizeVotes(raw)
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%.1fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("%.1fK", v/1_000)
	default:
		return fmt.Sprintf("%d", int64(math.Round(v)))
	}
}
