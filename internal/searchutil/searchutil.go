package searchutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var titleFolder = cases.Fold()

var punctuationReplacer = strings.NewReplacer(
	"-", " ", "–", " ", ".", " ", "_", " ", ",", " ", ":", " ", ";", " ",
	"!", " ", "?", " ", "(", " ", ")", " ", "[", " ", "]", " ", "'", " ",
	"\"", " ", "/", " ", "|", " ", "#", " ", "&", " ", "*", " ",
)

var (
	alternativeLabelPattern = regexp.MustCompile(`(?i)^(?:alternative(?:\s+(?:titles?|names?))?|associated\s+names?|other\s+names?|aliases?|synonyms?)\s*[:\-]\s*(.+)$`)
	alternativeSplitter     = strings.NewReplacer("|", "\n", ";", "\n", "•", "\n", " / ", "\n", ",", "\n")
)

// TitleKey is the matching key of a manga title: case folded with runs of
// whitespace collapsed. Two titles name the same work when their keys match.
func TitleKey(title string) string {
	folded := titleFolder.String(strings.TrimSpace(title))
	return strings.Join(strings.Fields(folded), " ")
}

// Normalize is TitleKey with punctuation dropped. It is used to spot
// near-duplicate alias candidates, never to match manga.
func Normalize(value string) string {
	return TitleKey(punctuationReplacer.Replace(value))
}

// UniqueNonEmpty trims values and keeps the first of every group that
// normalises to the same string.
func UniqueNonEmpty(values []string) []string {
	unique := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		trimmed := strings.TrimSpace(raw)
		key := Normalize(trimmed)
		if key == "" {
			continue
		}
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, trimmed)
	}
	return unique
}

// IsLatinName reports whether value is written with latin letters, digits
// and common title punctuation only.
func IsLatinName(value string) bool {
	hasLetter := false
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r), unicode.IsSpace(r):
		case strings.ContainsRune("-'&:;,.!?()[]/+", r):
		default:
			return false
		}
	}
	return hasLetter
}

// ExtractAlternativeTitles pulls latin alternative titles out of a block of
// text such as "Alternative Names: A | B".
func ExtractAlternativeTitles(text string) []string {
	candidates := make([]string, 0, 8)
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r", "\n"), "\n") {
		match := alternativeLabelPattern.FindStringSubmatch(strings.TrimSpace(line))
		if len(match) < 2 {
			continue
		}
		for _, part := range strings.Split(alternativeSplitter.Replace(match[1]), "\n") {
			if IsLatinName(part) {
				candidates = append(candidates, part)
			}
		}
	}
	return UniqueNonEmpty(candidates)
}
