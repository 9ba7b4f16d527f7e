package chapterid

import (
	"fmt"
	"regexp"
	"strings"
)

// ExtraChapterDecimal is the decimal given to "extra"/"ex" chapters that
// carry no explicit sub-index. It sorts extras after sub-chapters 1-4.
// A genuine ".5" chapter from an unrelated numbering maps to the same key.
const ExtraChapterDecimal = 5

// Grammar is one title format. Patterns use the named groups number,
// decimal, letter, extra, index, base and title; every group is optional.
type Grammar struct {
	Name               string
	Pattern            *regexp.Regexp
	AppendIndexToTitle bool
}

type GrammarConfig struct {
	Name               string `yaml:"name" json:"name"`
	Pattern            string `yaml:"pattern" json:"pattern"`
	AppendIndexToTitle bool   `yaml:"append_index_to_title" json:"appendIndexToTitle"`
}

func NewGrammar(cfg GrammarConfig) (Grammar, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "custom"
	}
	pattern, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return Grammar{}, fmt.Errorf("compile chapter pattern %q: %w", name, err)
	}
	return Grammar{Name: name, Pattern: pattern, AppendIndexToTitle: cfg.AppendIndexToTitle}, nil
}

func MustGrammar(name string, pattern string, appendIndex bool) Grammar {
	return Grammar{Name: name, Pattern: regexp.MustCompile(pattern), AppendIndexToTitle: appendIndex}
}

// UniversalGrammar recognises "[Volume V, ]Chapter N[.D|letter][: Title]".
var UniversalGrammar = MustGrammar(
	"universal",
	`(?i)^\s*(?:vol(?:ume)?\.?\s*\d+\s*[,:]?\s*)?ch(?:apter|ap)?\.?\s*(?P<number>\d+)(?:\.(?P<decimal>\d+)|(?P<letter>[a-z]))?(?:(?:\s*[:\-–;]\s*|\s+)(?P<title>.*?))?\s*$`,
	false,
)

type match struct {
	groups map[string]string
}

func (g Grammar) match(raw string) (match, bool) {
	submatches := g.Pattern.FindStringSubmatch(raw)
	if submatches == nil {
		return match{}, false
	}
	groups := make(map[string]string, len(submatches))
	for i, name := range g.Pattern.SubexpNames() {
		if name == "" || i >= len(submatches) {
			continue
		}
		if value := strings.TrimSpace(submatches[i]); value != "" {
			groups[name] = value
		}
	}
	return match{groups: groups}, true
}

func (m match) get(name string) (string, bool) {
	value, ok := m.groups[name]
	return value, ok
}

// Grammars shared by several adapters.
var (
	// "Chapter 74ex – Title", "Chapter 156.2 – Title", "Chapter 12b"
	ExtraSuffixGrammar = MustGrammar(
		"extra-suffix",
		`(?i)^\s*chapter\s*(?P<number>\d+)(?:\.(?P<decimal>\d+)|(?P<extra>ex(?:tra)?)(?P<index>\d+)?|(?P<letter>[a-z]))?(?:\s*[:\-–]\s*(?P<title>.*?))?\s*$`,
		false,
	)

	// "#118(2) One for All", "#Final Chapter(1) All Out!!"
	HashIndexGrammar = MustGrammar(
		"hash-index",
		`^\s*#(?:(?P<number>\d+)|(?P<base>[^(]+))\s*(?:\((?P<index>\d+)\))?\s*(?P<title>.*?)\s*$`,
		true,
	)

	// "TRACK 2 THREATENED MISCARRIAGE(3)": track numbers are not chapter numbers.
	TrackGrammar = MustGrammar(
		"track",
		`(?i)^\s*(?:track|lesson)\s*\d+\s*[:.\-]?\s*(?P<title>(?P<base>[^(]+?)\s*(?:\((?P<index>\d+)\))?)\s*$`,
		false,
	)
)
