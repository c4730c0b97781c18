package progress

import "time"

// DateLayout is the stored format of the last-practice date.
const DateLayout = "2006-01-02"

// Status is the outcome of comparing the last practice date with today.
type Status int

const (
	// StatusSeed means no session was ever recorded.
	StatusSeed Status = iota
	// StatusUnchanged means a session was already counted today.
	StatusUnchanged
	// StatusIncrease means the previous session was on the preceding day.
	StatusIncrease
	// StatusReset means at least one full day was skipped.
	StatusReset
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusSeed:
		return "seed"
	case StatusUnchanged:
		return "unchanged"
	case StatusIncrease:
		return "increase"
	case StatusReset:
		return "reset"
	}
	return "unknown"
}

// StreakStatus classifies lastDate relative to today. Both are calendar dates
// in [DateLayout]; an empty lastDate has never practised. Distinct strings
// naming the same calendar day count as an increase, and a lastDate after
// today or one that does not parse is treated as unchanged and reset
// respectively.
func StreakStatus(lastDate, today string) Status {
	if lastDate == "" {
		return StatusSeed
	}
	if lastDate == today {
		return StatusUnchanged
	}
	last, err := time.Parse(DateLayout, lastDate)
	if err != nil {
		return StatusReset
	}
	now, err := time.Parse(DateLayout, today)
	if err != nil {
		return StatusUnchanged
	}
	switch days := daysBetween(last, now); {
	case days < 0:
		return StatusUnchanged
	case days <= 1:
		return StatusIncrease
	default:
		return StatusReset
	}
}

// ApplyStreak returns the streak after a session with the given status.
func ApplyStreak(streak int, s Status) int {
	switch s {
	case StatusUnchanged:
		return max(streak, 1)
	case StatusIncrease:
		return max(streak, 0) + 1
	default:
		return 1
	}
}

// Lapsed reports whether the streak is broken as of today, i.e. more than
// one calendar day has passed since lastDate.
func Lapsed(lastDate, today string) bool {
	return lastDate != "" && StreakStatus(lastDate, today) == StatusReset
}

// daysBetween counts calendar days from a to b. Both are UTC midnights as
// produced by time.Parse with a date-only layout.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
