package culture_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/speechcoach/pkg/culture"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  culture.Context
	}{
		{"", culture.General},
		{"british", culture.British},
		{"  JAPANESE ", culture.Japanese},
		{"middle_eastern", culture.MiddleEastern},
		{"uk", culture.British},
		{"USA", culture.American},
		{"germn", culture.German},
		{"brazillian", culture.Brazilian},
		{"klingon", culture.General},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			if got := culture.Resolve(tt.input); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLookup_UnknownFallsBackToGeneral(t *testing.T) {
	t.Parallel()

	p := culture.Lookup("nope")
	if p.Context != culture.General {
		t.Errorf("Lookup(nope).Context = %q, want general", p.Context)
	}
	if strings.TrimSpace(p.Guidance) == "" {
		t.Error("general profile has no guidance")
	}
}

func TestAll_Sorted(t *testing.T) {
	t.Parallel()

	all := culture.All()
	if len(all) < 2 {
		t.Fatalf("All() returned %d profiles", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Context >= all[i].Context {
			t.Errorf("profiles not sorted at %d: %q >= %q", i, all[i-1].Context, all[i].Context)
		}
	}
}
