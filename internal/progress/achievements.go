package progress

// Achievement is one milestone with its completion state. Progress is a
// percentage in [0, 100].
type Achievement struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Progress  int    `json:"progress"`
}

type metric int

const (
	metricSessions metric = iota
	metricMinutes
	metricStreak
)

type milestone struct {
	title  string
	metric metric
	target float64
}

// catalogue is ordered as it is displayed.
var catalogue = []milestone{
	{"First Steps", metricSessions, 1},
	{"Getting Warmed Up", metricSessions, 5},
	{"Regular Speaker", metricSessions, 25},
	{"Half-Hour Hero", metricMinutes, 30},
	{"Hour of Power", metricMinutes, 60},
	{"Marathon Speaker", metricMinutes, 300},
	{"On a Roll", metricStreak, 3},
	{"Week Warrior", metricStreak, 7},
	{"Habit Formed", metricStreak, 30},
}

// Achievements derives the full catalogue from the cumulative totals. It has
// no hidden state: the same inputs always produce the same list.
func Achievements(sessions int, minutes float64, streak int) []Achievement {
	out := make([]Achievement, 0, len(catalogue))
	for _, m := range catalogue {
		var v float64
		switch m.metric {
		case metricSessions:
			v = float64(sessions)
		case metricMinutes:
			v = minutes
		case metricStreak:
			v = float64(streak)
		}
		pct := int(v / m.target * 100)
		pct = min(max(pct, 0), 100)
		out = append(out, Achievement{
			Title:     m.title,
			Completed: v >= m.target,
			Progress:  pct,
		})
	}
	return out
}
