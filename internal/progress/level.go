package progress

import "math"

const (
	// SecondsPerXP is the practice time that earns one experience point.
	SecondsPerXP = 10

	// MaxXP caps experience totals so level arithmetic cannot overflow.
	MaxXP = math.MaxInt32
)

// XPForDuration returns the experience earned for a session of the given
// length: one point per ten whole seconds, saturating at [MaxXP]. Negative
// or NaN input earns none.
func XPForDuration(seconds float64) int {
	if !(seconds > 0) {
		return 0
	}
	xp := math.Floor(seconds / SecondsPerXP)
	if xp >= MaxXP {
		return MaxXP
	}
	return int(xp)
}

// AddXP returns total+earned, kept between 0 and [MaxXP].
func AddXP(total, earned int) int {
	total = min(max(total, 0), MaxXP)
	earned = max(earned, 0)
	if earned > MaxXP-total {
		return MaxXP
	}
	return total + earned
}

// LevelCost is the XP needed to complete level n: 100 * floor(1.5n).
func LevelCost(n int) int {
	return 100 * (3 * n / 2)
}

// LevelForXP returns the level reached with xp points and the cumulative XP
// at which the next level begins. Level 1 starts at 0 XP and nextLevelXP is
// always greater than xp.
func LevelForXP(xp int) (level, nextLevelXP int) {
	xp = min(max(xp, 0), MaxXP)
	level = 1
	threshold := LevelCost(1)
	for xp >= threshold {
		level++
		threshold += LevelCost(level)
	}
	return level, threshold
}
