package translator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/cyibot"
	"gopkg.in/yaml.v3"
)

// Entry maps a domain phrase to a constraint on one directory column. An
// entry with no column recognizes the phrase without constraining anything,
// as "alumni" does: every contact in any program counts.
type Entry struct {
	Phrase string   `yaml:"phrase"`
	Column string   `yaml:"column,omitempty"`
	Values []string `yaml:"values,omitempty"`
}

// Glossary is the ordered set of phrase mappings used to translate
// directory questions. It is immutable after construction.
type Glossary struct {
	entries  []Entry
	patterns []*regexp.Regexp
}

type glossaryFile struct {
	Entries []Entry `yaml:"entries"`
}

// Columns of the directory that glossary entries and filters may target.
var directoryColumns = map[string]bool{
	"program": true,
	"year":    true,
	"role":    true,
	"name":    true,
	"email":   true,
}

// NewGlossary validates entries and orders them longest phrase first, so
// "Chinatown Beautification Day" wins over any shorter overlapping phrase.
func NewGlossary(entries []Entry) (*Glossary, error) {
	g := &Glossary{entries: make([]Entry, 0, len(entries))}
	seen := map[string]bool{}
	for _, e := range entries {
		e.Phrase = strings.TrimSpace(e.Phrase)
		if e.Phrase == "" {
			return nil, cyibot.NewConfigurationError("glossary entry with empty phrase", nil)
		}
		key := strings.ToLower(e.Phrase)
		if seen[key] {
			return nil, cyibot.NewConfigurationError(fmt.Sprintf("duplicate glossary phrase '%s'", e.Phrase), nil)
		}
		seen[key] = true
		if e.Column != "" {
			if !directoryColumns[e.Column] {
				return nil, cyibot.NewConfigurationError(
					fmt.Sprintf("glossary phrase '%s' targets unknown column '%s'", e.Phrase, e.Column), nil)
			}
			if len(e.Values) == 0 {
				return nil, cyibot.NewConfigurationError(
					fmt.Sprintf("glossary phrase '%s' maps to column '%s' without values", e.Phrase, e.Column), nil)
			}
		}
		g.entries = append(g.entries, e)
	}

	sort.SliceStable(g.entries, func(i, j int) bool {
		return len(g.entries[i].Phrase) > len(g.entries[j].Phrase)
	})
	g.patterns = make([]*regexp.Regexp, len(g.entries))
	for i, e := range g.entries {
		g.patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(e.Phrase) + `\b`)
	}
	return g, nil
}

// ParseGlossary reads a glossary from YAML:
//
//	entries:
//	  - phrase: staff
//	    column: role
//	    values: [Director, Coordinator]
func ParseGlossary(data []byte) (*Glossary, error) {
	var f glossaryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, cyibot.NewConfigurationError("invalid glossary file", err)
	}
	return NewGlossary(f.Entries)
}

// DefaultEntries returns the organization's glossary.
func DefaultEntries() []Entry {
	staff := []string{"Director", "Coordinator", "Facilitator", "Community Mentor"}
	return []Entry{
		{Phrase: "Chinatown Beautification Day", Column: "program", Values: []string{"CBD"}},
		{Phrase: "CYI programs", Column: "program", Values: []string{"SLI", "CCB", "CBD", "CLP"}},
		{Phrase: "staff", Column: "role", Values: staff},
		{Phrase: "staff members", Column: "role", Values: staff},
		{Phrase: "community mentors", Column: "role", Values: []string{"Community Mentor"}},
		{Phrase: "community mentor", Column: "role", Values: []string{"Community Mentor"}},
		{Phrase: "mentors", Column: "role", Values: []string{"Community Mentor"}},
		{Phrase: "mentor", Column: "role", Values: []string{"Community Mentor"}},
		{Phrase: "coordinators", Column: "role", Values: []string{"Coordinator"}},
		{Phrase: "coordinator", Column: "role", Values: []string{"Coordinator"}},
		{Phrase: "directors", Column: "role", Values: []string{"Director"}},
		{Phrase: "director", Column: "role", Values: []string{"Director"}},
		{Phrase: "facilitators", Column: "role", Values: []string{"Facilitator"}},
		{Phrase: "facilitator", Column: "role", Values: []string{"Facilitator"}},
		{Phrase: "alumni", Column: ""},
		{Phrase: "alumnus", Column: ""},
		{Phrase: "alumna", Column: ""},
	}
}

// DefaultGlossary returns the glossary built from DefaultEntries.
func DefaultGlossary() *Glossary {
	g, err := NewGlossary(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return g
}

// Entries returns the entries in matching order.
func (g *Glossary) Entries() []Entry {
	out := make([]Entry, len(g.entries))
	copy(out, g.entries)
	return out
}

// Match returns the entries whose phrase occurs in text, in text order.
// Once a phrase matches, shorter phrases inside the same span are skipped.
// Entries on the same column are merged into one whose phrase lists the
// matched phrases and whose values are their union, so "directors and
// coordinators" constrains role to both.
func (g *Glossary) Match(text string) []Entry {
	type hit struct {
		entry Entry
		start int
	}
	var (
		hits    []hit
		claimed [][2]int
	)
	for i, re := range g.patterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if overlaps(claimed, loc) {
				continue
			}
			claimed = append(claimed, [2]int{loc[0], loc[1]})
			hits = append(hits, hit{entry: g.entries[i], start: loc[0]})
			break
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	var out []Entry
	merged := map[string]int{}
	for _, h := range hits {
		e := h.entry
		if e.Column == "" {
			out = append(out, e)
			continue
		}
		idx, ok := merged[e.Column]
		if !ok {
			merged[e.Column] = len(out)
			e.Values = append([]string(nil), e.Values...)
			out = append(out, e)
			continue
		}
		m := &out[idx]
		m.Phrase += ", " + e.Phrase
		for _, v := range e.Values {
			if !containsString(m.Values, v) {
				m.Values = append(m.Values, v)
			}
		}
	}
	return out
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Describe renders the glossary for a language model prompt.
func (g *Glossary) Describe() string {
	var b strings.Builder
	for _, e := range g.entries {
		if e.Column == "" {
			fmt.Fprintf(&b, "- %q: no constraint\n", e.Phrase)
			continue
		}
		fmt.Fprintf(&b, "- %q: %s IN (%s)\n", e.Phrase, e.Column, strings.Join(e.Values, ", "))
	}
	return b.String()
}

func overlaps(spans [][2]int, loc []int) bool {
	for _, s := range spans {
		if loc[0] < s[1] && s[0] < loc[1] {
			return true
		}
	}
	return false
}
