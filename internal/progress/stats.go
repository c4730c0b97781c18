// Package progress keeps per-profile practice statistics: cumulative time,
// sessions, experience, level, daily streak and achievements.
//
// [Store] is the only writer. It persists two values per profile through a
// [kv.Repository]: the JSON stats record under [KeyStats] and the last
// practice date under [KeyLastPractice].
package progress

import (
	"encoding/json"
	"math"
)

// Storage keys.
const (
	KeyStats        = "speechPracticeStats"
	KeyLastPractice = "lastPracticeDate"
)

// Stats is the durable statistics record.
type Stats struct {
	TotalPracticeTime float64       `json:"totalPracticeTime"` // minutes
	TotalSessions     int           `json:"totalSessions"`
	XP                int           `json:"xp"`
	Level             int           `json:"level"`
	NextLevelXP       int           `json:"nextLevelXp"`
	Streak            int           `json:"streak"`
	Achievements      []Achievement `json:"achievements"`
}

// NewStats returns the zeroed record a first-time user starts with.
func NewStats() Stats {
	var s Stats
	s.recompute()
	return s
}

// recompute derives level, next threshold and achievements from the
// primary fields.
func (s *Stats) recompute() {
	s.Level, s.NextLevelXP = LevelForXP(s.XP)
	s.Achievements = Achievements(s.TotalSessions, s.TotalPracticeTime, s.Streak)
}

// repair clamps primary fields into their domains and recomputes the derived
// ones.
func (s *Stats) repair() {
	if math.IsNaN(s.TotalPracticeTime) || math.IsInf(s.TotalPracticeTime, 0) || s.TotalPracticeTime < 0 {
		s.TotalPracticeTime = 0
	}
	s.TotalSessions = max(s.TotalSessions, 0)
	s.XP = min(max(s.XP, 0), MaxXP)
	s.Streak = max(s.Streak, 0)
	s.recompute()
}

// wireStats accepts any JSON number for the counters so that a record with
// fractional or oversized values is repaired instead of discarded.
type wireStats struct {
	TotalPracticeTime *float64 `json:"totalPracticeTime"`
	TotalSessions     *float64 `json:"totalSessions"`
	XP                *float64 `json:"xp"`
	Streak            *float64 `json:"streak"`
}

// decodeStats parses a stored record. Unknown fields are ignored and missing
// ones default to zero; the result is always repaired. Level, nextLevelXp
// and achievements are never read back, they are recomputed.
func decodeStats(data []byte) (Stats, error) {
	var w wireStats
	if err := json.Unmarshal(data, &w); err != nil {
		return NewStats(), err
	}
	s := Stats{
		TotalPracticeTime: deref(w.TotalPracticeTime),
		TotalSessions:     toInt(w.TotalSessions),
		XP:                toInt(w.XP),
		Streak:            toInt(w.Streak),
	}
	s.repair()
	return s, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func toInt(f *float64) int {
	v := deref(f)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(v))
}
