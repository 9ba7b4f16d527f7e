package chapterid

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

var ErrUnparseable = errors.New("chapter title matches no grammar")

// Fragment is the result of parsing one entry on its own. Number is nil for
// numbering schemes without a chapter number; Sequencer fills it in.
type Fragment struct {
	Number    *int
	Decimal   *int
	Title     *string
	BaseTitle string
}

// ParsedIdentity is the final identity of a chapter.
type ParsedIdentity struct {
	Number  int
	Decimal *int
	Title   *string
}

type Parser struct {
	grammars []Grammar
	logger   *slog.Logger
}

func NewParser(grammars []Grammar, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{grammars: grammars, logger: logger}
}

// Parse runs the source grammars in order and then the universal grammar.
func (p *Parser) Parse(raw string) (Fragment, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Fragment{}, ErrUnparseable
	}

	for _, grammar := range p.grammars {
		if m, ok := grammar.match(trimmed); ok {
			return buildFragment(m, grammar.AppendIndexToTitle)
		}
	}

	m, ok := UniversalGrammar.match(trimmed)
	if !ok {
		return Fragment{}, ErrUnparseable
	}
	p.logger.Debug("chapter title parsed with universal grammar", "title", trimmed)
	return buildFragment(m, false)
}

// ParseEntry parses raw and lets a source-provided numeric attribute such
// as "12" or "12.5" override the number and decimal.
func (p *Parser) ParseEntry(raw string, numberAttr string) (Fragment, error) {
	fragment, parseErr := p.Parse(raw)

	attr := strings.TrimSpace(numberAttr)
	if attr == "" {
		return fragment, parseErr
	}

	number, decimal, err := ParseNumberAttribute(attr)
	if err != nil {
		if parseErr != nil {
			return Fragment{}, fmt.Errorf("%w: number attribute %q: %v", ErrUnparseable, attr, err)
		}
		return fragment, nil
	}

	if parseErr != nil {
		fragment = Fragment{}
		if title := RemoveChapterPrefix(raw); title != "" {
			fragment.Title = &title
		}
	}
	fragment.Number = &number
	fragment.Decimal = decimal
	return fragment, nil
}

// ParseNumberAttribute reads "12", "12.5" or "12b".
func ParseNumberAttribute(raw string) (int, *int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil, fmt.Errorf("empty chapter number")
	}

	whole, fraction, hasFraction := strings.Cut(trimmed, ".")
	if !hasFraction && len(whole) > 1 {
		last := whole[len(whole)-1]
		if last >= 'a' && last <= 'z' || last >= 'A' && last <= 'Z' {
			number, err := strconv.Atoi(whole[:len(whole)-1])
			if err != nil {
				return 0, nil, fmt.Errorf("parse chapter number %q: %w", raw, err)
			}
			decimal := letterDecimal(string(last))
			return number, &decimal, nil
		}
	}

	number, err := strconv.Atoi(whole)
	if err != nil {
		return 0, nil, fmt.Errorf("parse chapter number %q: %w", raw, err)
	}
	if !hasFraction || strings.Trim(fraction, "0") == "" {
		return number, nil, nil
	}
	decimal, err := strconv.Atoi(fraction)
	if err != nil {
		return 0, nil, fmt.Errorf("parse chapter decimal %q: %w", raw, err)
	}
	return number, &decimal, nil
}

func buildFragment(m match, appendIndex bool) (Fragment, error) {
	var fragment Fragment

	if raw, ok := m.get("number"); ok {
		number, err := strconv.Atoi(raw)
		if err != nil {
			return Fragment{}, fmt.Errorf("%w: number %q", ErrUnparseable, raw)
		}
		fragment.Number = &number
	}

	index, hasIndex := m.get("index")
	switch {
	case hasValue(m, "decimal"):
		raw, _ := m.get("decimal")
		decimal, err := strconv.Atoi(raw)
		if err != nil {
			return Fragment{}, fmt.Errorf("%w: decimal %q", ErrUnparseable, raw)
		}
		fragment.Decimal = &decimal
	case hasValue(m, "letter"):
		raw, _ := m.get("letter")
		decimal := letterDecimal(raw)
		fragment.Decimal = &decimal
	case hasIndex:
		decimal, err := strconv.Atoi(index)
		if err != nil {
			return Fragment{}, fmt.Errorf("%w: index %q", ErrUnparseable, index)
		}
		fragment.Decimal = &decimal
	case hasValue(m, "extra"):
		decimal := ExtraChapterDecimal
		fragment.Decimal = &decimal
	}

	title, _ := m.get("title")
	if appendIndex && hasIndex {
		if title == "" {
			title = "(" + index + ")"
		} else {
			title = title + " (" + index + ")"
		}
	}
	if title != "" {
		fragment.Title = &title
	}

	if base, ok := m.get("base"); ok {
		fragment.BaseTitle = base
	} else if raw, ok := m.get("title"); ok {
		fragment.BaseTitle = raw
	}

	if fragment.Number == nil && fragment.BaseTitle == "" && fragment.Title == nil {
		return Fragment{}, ErrUnparseable
	}

	return fragment, nil
}

func hasValue(m match, name string) bool {
	_, ok := m.get(name)
	return ok
}

func letterDecimal(letter string) int {
	lower := strings.ToLower(letter)
	return int(lower[0]-'a') + 1
}

// RemoveChapterPrefix strips a numbering prefix such as "Chapter 5 - " and
// returns the human chapter title. The split happens on the first ":", "-",
// "–" or ";" and only when the part before it carries a digit.
func RemoveChapterPrefix(title string) string {
	trimmed := strings.TrimSpace(title)
	cut := -1
	width := 0
	for _, sep := range []string{":", "-", "–", ";"} {
		if idx := strings.Index(trimmed, sep); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
			width = len(sep)
		}
	}
	if cut < 0 {
		return trimmed
	}
	if !strings.ContainsAny(trimmed[:cut], "0123456789") {
		return trimmed
	}
	return strings.TrimSpace(trimmed[cut+width:])
}
