// Package culture holds the communication-style profiles used to tailor
// feedback phrasing and suggestions to a speaker's target audience.
package culture

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Context identifies a communication-style profile.
type Context string

const (
	General       Context = "general"
	American      Context = "american"
	British       Context = "british"
	Japanese      Context = "japanese"
	German        Context = "german"
	Indian        Context = "indian"
	Chinese       Context = "chinese"
	Brazilian     Context = "brazilian"
	MiddleEastern Context = "middle-eastern"
)

// matchThreshold is the minimum Jaro-Winkler similarity for a fuzzy match.
const matchThreshold = 0.85

// Profile describes how feedback should be tailored for one context.
type Profile struct {
	Context  Context
	Name     string
	Guidance string
	aliases  []string
}

var profiles = map[Context]Profile{
	General: {
		Context:  General,
		Name:     "General / International",
		Guidance: "Use neutral, internationally understood business English. Favour clarity and plain wording over idioms.",
	},
	American: {
		Context:  American,
		Name:     "American",
		Guidance: "Audiences expect a direct, confident delivery. Lead with the main point, keep energy high and close with a clear call to action.",
		aliases:  []string{"us", "usa", "united states", "america"},
	},
	British: {
		Context:  British,
		Name:     "British",
		Guidance: "Audiences value understatement and polite qualifiers. Avoid overselling, keep a measured tone and use light humour sparingly.",
		aliases:  []string{"uk", "england", "united kingdom", "britain"},
	},
	Japanese: {
		Context:  Japanese,
		Name:     "Japanese",
		Guidance: "Audiences value humility, consensus and indirectness. Soften disagreement, acknowledge others' contributions and avoid abrupt conclusions.",
		aliases:  []string{"japan", "jp"},
	},
	German: {
		Context:  German,
		Name:     "German",
		Guidance: "Audiences expect precise, well-structured arguments backed by facts. Avoid exaggeration and small talk, be explicit about next steps.",
		aliases:  []string{"germany", "de", "deutsch"},
	},
	Indian: {
		Context:  Indian,
		Name:     "Indian",
		Guidance: "Audiences appreciate warmth, respect for hierarchy and relationship building. Be courteous, give context before conclusions.",
		aliases:  []string{"india", "in"},
	},
	Chinese: {
		Context:  Chinese,
		Name:     "Chinese",
		Guidance: "Audiences value respect, harmony and face-saving. Present ideas modestly, avoid public criticism and emphasise long-term benefit.",
		aliases:  []string{"china", "cn", "mandarin"},
	},
	Brazilian: {
		Context:  Brazilian,
		Name:     "Brazilian",
		Guidance: "Audiences respond to warmth, personal connection and expressive delivery. Build rapport before details, stay flexible.",
		aliases:  []string{"brazil", "br", "portuguese"},
	},
	MiddleEastern: {
		Context:  MiddleEastern,
		Name:     "Middle Eastern",
		Guidance: "Audiences value hospitality, trust and formal respect. Use courteous openings, avoid rushing to business and honour seniority.",
		aliases:  []string{"middle east", "arab", "gulf", "middleeastern"},
	},
}

// Lookup returns the profile for c, or the General profile when c is not
// a known context.
func Lookup(c Context) Profile {
	if p, ok := profiles[c]; ok {
		return p
	}
	return profiles[General]
}

// IsKnown reports whether c names a registered profile.
func (c Context) IsKnown() bool {
	_, ok := profiles[c]
	return ok
}

// All returns every profile sorted by context tag.
func All() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Context < out[j].Context })
	return out
}

// Resolve maps free-form user input to a context. Exact tags and aliases win;
// otherwise the closest tag, alias or display name by Jaro-Winkler
// similarity is used when it clears the threshold. Empty or unmatched input
// resolves to General.
func Resolve(input string) Context {
	s := normalize(input)
	if s == "" {
		return General
	}
	if c := Context(s); c.IsKnown() {
		return c
	}

	best, bestScore := General, 0.0
	for c, p := range profiles {
		candidates := append([]string{string(c), normalize(p.Name)}, p.aliases...)
		for _, cand := range candidates {
			if cand == s {
				return c
			}
			if score := matchr.JaroWinkler(s, cand, false); score > bestScore {
				best, bestScore = c, score
			}
		}
	}
	if bestScore >= matchThreshold {
		return best
	}
	return General
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	return s
}
