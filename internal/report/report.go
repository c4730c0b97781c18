// Package report renders practice results for the terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/MrWong99/speechcoach/internal/progress"
	"github.com/MrWong99/speechcoach/internal/realtime"
	"github.com/MrWong99/speechcoach/pkg/culture"
	"github.com/MrWong99/speechcoach/pkg/feedback"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F0F0F0"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	cardStyle  = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F0F0F0"))
)

// scoreStyle colours a 0-100 score.
func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 80:
		return goodStyle.Bold(true)
	case score >= 60:
		return hintStyle.Bold(true)
	default:
		return errorStyle.Bold(true)
	}
}

func card(title, value string) string {
	return cardStyle.Render(mutedStyle.Render(title) + "\n" + value)
}

// Width returns the column count of w when it is a terminal, else 0.
func Width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width
}

// wrap soft-wraps s to width columns. Zero leaves s alone.
func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

// pad right-pads s to n display columns. Wide runes count twice.
func pad(s string, n int) string {
	return runewidth.FillRight(s, n)
}

// Result describes one finished practice run.
type Result struct {
	Transcript string
	Feedback   feedback.SpeechFeedback
	Duration   time.Duration
	Err        error
	Stats      *progress.Stats
	// Width wraps prose sections; zero disables wrapping.
	Width int
}

// Feedback renders the coaching report for res.
func Feedback(res Result) string {
	fb := res.Feedback
	var b strings.Builder

	b.WriteString(titleStyle.Render("Your feedback") + "\n")
	if res.Err != nil {
		b.WriteString(errorStyle.Render("Analysis was not available: "+res.Err.Error()) + "\n")
	}

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		card("Clarity", scoreStyle(fb.Clarity).Render(fmt.Sprintf("%d/100", fb.Clarity))),
		card("Structure", scoreStyle(fb.Structure).Render(fmt.Sprintf("%d/100", fb.Structure))),
		card("Pace", valueStyle.Render(string(fb.Pace))),
		card("Duration", valueStyle.Render(formatDuration(res.Duration))),
	))
	b.WriteString("\n")

	if fb.Summary != "" {
		b.WriteString("\n" + wrap(fb.Summary, res.Width) + "\n")
	}

	if len(fb.FillerWords) > 0 {
		b.WriteString("\n" + titleStyle.Render("Filler words") + "\n")
		for _, f := range fb.FillerWords {
			b.WriteString("  " + pad(f.Word, 12) + " " + mutedStyle.Render(fmt.Sprintf("x%d", f.Count)) + "\n")
		}
	}

	if len(fb.Suggestions) > 0 {
		b.WriteString("\n" + titleStyle.Render("Suggestions") + "\n")
		for i, s := range fb.Suggestions {
			b.WriteString(wrap(fmt.Sprintf("  %d. %s", i+1, s), res.Width) + "\n")
		}
	}

	if t := strings.TrimSpace(res.Transcript); t != "" {
		b.WriteString("\n" + titleStyle.Render("Transcript") + "\n")
		b.WriteString(mutedStyle.Render(wrap(t, res.Width)) + "\n")
	}

	if res.Stats != nil {
		b.WriteString("\n" + Stats(*res.Stats))
	}
	return b.String()
}

// Stats renders a progress summary.
func Stats(s progress.Stats) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Progress") + "\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		card("Level", valueStyle.Render(fmt.Sprintf("%d", s.Level))),
		card("XP", valueStyle.Render(fmt.Sprintf("%d / %d", s.XP, s.NextLevelXP))),
		card("Streak", valueStyle.Render(pluralDays(s.Streak))),
		card("Sessions", valueStyle.Render(fmt.Sprintf("%d", s.TotalSessions))),
		card("Practice", valueStyle.Render(fmt.Sprintf("%.1f min", s.TotalPracticeTime))),
	))
	b.WriteString("\n")

	if len(s.Achievements) > 0 {
		b.WriteString("\n" + titleStyle.Render("Achievements") + "\n")
		for _, a := range s.Achievements {
			mark, style := "○", mutedStyle
			if a.Completed {
				mark, style = "●", goodStyle
			}
			b.WriteString("  " + style.Render(mark) + " " + pad(a.Title, 20) + " " + mutedStyle.Render(fmt.Sprintf("%3d%%", a.Progress)) + "\n")
		}
	}
	return b.String()
}

// Realtime renders one batch of live hints as single lines.
func Realtime(items []realtime.Item) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(hintStyle.Render("» "+it.Message) + "\n")
	}
	return b.String()
}

// Cultures lists the available audience profiles.
func Cultures(profiles []culture.Profile) string {
	var b strings.Builder
	for _, p := range profiles {
		b.WriteString(valueStyle.Render(pad(string(p.Context), 16)) + " " + p.Name + "\n")
		b.WriteString("  " + mutedStyle.Render(p.Guidance) + "\n")
	}
	return b.String()
}

// Status renders a one-line state indicator.
func Status(state, detail string) string {
	line := titleStyle.Render("[" + state + "]")
	if detail != "" {
		line += " " + mutedStyle.Render(detail)
	}
	return line
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
