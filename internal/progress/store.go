package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/speechcoach/internal/kv"
	"github.com/MrWong99/speechcoach/internal/observe"
)

// ErrInvalidDuration is returned by RecordSession for a negative,
// non-finite or implausibly long duration.
var ErrInvalidDuration = errors.New("progress: invalid session duration")

// MaxSessionSeconds is the longest session RecordSession accepts.
const MaxSessionSeconds = 24 * 60 * 60

// Store loads and mutates per-profile statistics. It serialises all access
// so a record is never updated concurrently.
type Store struct {
	repo    kv.Repository
	now     func() time.Time
	loc     *time.Location
	metrics *observe.Metrics

	mu sync.Mutex
}

// Option configures a [Store].
type Option func(*Store)

// WithClock replaces time.Now. Tests use it to walk through calendar days.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the time zone that defines a calendar day. Defaults to
// time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// WithMetrics records each session on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore returns a Store persisting through repo.
func NewStore(repo kv.Repository, opts ...Option) *Store {
	s := &Store{repo: repo, now: time.Now, loc: time.Local}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Today returns the current calendar date in [DateLayout].
func (s *Store) Today() string {
	return s.now().In(s.loc).Format(DateLayout)
}

// Load returns the profile's statistics, creating a zeroed record on first
// use. A new or repaired record is persisted. When more than one day has
// passed since the last session the returned streak is zero; the stored
// streak is left for the next RecordSession to reset.
func (s *Store) Load(ctx context.Context, profile string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, dirty, err := s.readStats(ctx, profile)
	if err != nil {
		return Stats{}, err
	}
	if dirty {
		if err := s.writeStats(ctx, profile, stats); err != nil {
			return Stats{}, err
		}
	}
	last, err := s.readLastDate(ctx, profile)
	if err != nil {
		return Stats{}, err
	}
	if stats.Streak != 0 && Lapsed(last, s.Today()) {
		slog.Debug("progress: streak lapsed", "profile", profile, "last_practice", last, "streak", stats.Streak)
		stats.Streak = 0
		stats.recompute()
	}
	return stats, nil
}

// RecordSession adds a completed session of the given length and returns the
// updated statistics. The previous practice date is read before today's date
// is stored so the streak compares against the prior session.
func (s *Store) RecordSession(ctx context.Context, profile string, seconds float64) (Stats, error) {
	if math.IsNaN(seconds) || seconds < 0 || seconds > MaxSessionSeconds {
		return Stats{}, fmt.Errorf("%w: %v", ErrInvalidDuration, seconds)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.readLastDate(ctx, profile)
	if err != nil {
		return Stats{}, err
	}
	today := s.Today()

	stats, _, err := s.readStats(ctx, profile)
	if err != nil {
		return Stats{}, err
	}
	earned := XPForDuration(seconds)
	stats.XP = AddXP(stats.XP, earned)
	stats.TotalPracticeTime += seconds / 60
	stats.TotalSessions++
	status := StreakStatus(previous, today)
	stats.Streak = ApplyStreak(stats.Streak, status)
	stats.recompute()

	// Stats before date: a failed stats write must not consume today's
	// streak increment.
	if err := s.writeStats(ctx, profile, stats); err != nil {
		return Stats{}, err
	}
	if err := s.repo.Put(ctx, profile, KeyLastPractice, []byte(today)); err != nil {
		return Stats{}, fmt.Errorf("progress: save last practice date: %w", err)
	}

	slog.Info("progress: session recorded",
		"profile", profile,
		"seconds", seconds,
		"xp_earned", earned,
		"level", stats.Level,
		"streak", stats.Streak,
		"streak_status", status.String(),
	)
	if s.metrics != nil {
		s.metrics.RecordSession(ctx, seconds)
	}
	return stats, nil
}

// readStats returns the stored record, or a fresh one when none exists or the
// stored bytes are unreadable. dirty reports whether the caller should
// persist the result.
func (s *Store) readStats(ctx context.Context, profile string) (stats Stats, dirty bool, err error) {
	data, err := s.repo.Get(ctx, profile, KeyStats)
	if errors.Is(err, kv.ErrNotFound) {
		return NewStats(), true, nil
	}
	if err != nil {
		return Stats{}, false, fmt.Errorf("progress: load stats: %w", err)
	}
	stats, err = decodeStats(data)
	if err != nil {
		slog.Warn("progress: stored stats unreadable, starting fresh", "profile", profile, "err", err)
		return stats, true, nil
	}
	return stats, false, nil
}

func (s *Store) readLastDate(ctx context.Context, profile string) (string, error) {
	data, err := s.repo.Get(ctx, profile, KeyLastPractice)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("progress: load last practice date: %w", err)
	}
	return string(data), nil
}

func (s *Store) writeStats(ctx context.Context, profile string, stats Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("progress: encode stats: %w", err)
	}
	if err := s.repo.Put(ctx, profile, KeyStats, data); err != nil {
		return fmt.Errorf("progress: save stats: %w", err)
	}
	return nil
}
