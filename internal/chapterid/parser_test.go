package chapterid

import (
	"errors"
	"testing"
)

func intPtr(v int) *int { return &v }

func sameInt(a *int, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func describe(value *int) any {
	if value == nil {
		return "nil"
	}
	return *value
}

func TestParseSourceGrammars(t *testing.T) {
	parser := NewParser([]Grammar{ExtraSuffixGrammar, HashIndexGrammar}, nil)

	cases := []struct {
		raw     string
		number  int
		decimal *int
		title   string
	}{
		{raw: "Chapter 74ex – Drunken Ping-Pong", number: 74, decimal: intPtr(ExtraChapterDecimal), title: "Drunken Ping-Pong"},
		{raw: "Chapter 156.2 – Clean Water (2)", number: 156, decimal: intPtr(2), title: "Clean Water (2)"},
		{raw: "Chapter 12b", number: 12, decimal: intPtr(2)},
		{raw: "Chapter 30extra2 - Bonus", number: 30, decimal: intPtr(2), title: "Bonus"},
		{raw: "#118(2) One for All", number: 118, decimal: intPtr(2), title: "One for All (2)"},
		{raw: "#7 Start", number: 7, title: "Start"},
	}

	for _, tc := range cases {
		fragment, err := parser.Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if fragment.Number == nil || *fragment.Number != tc.number {
			t.Fatalf("%q: expected number %d, got %v", tc.raw, tc.number, describe(fragment.Number))
		}
		if !sameInt(fragment.Decimal, tc.decimal) {
			t.Fatalf("%q: expected decimal %v, got %v", tc.raw, describe(tc.decimal), describe(fragment.Decimal))
		}
		gotTitle := ""
		if fragment.Title != nil {
			gotTitle = *fragment.Title
		}
		if gotTitle != tc.title {
			t.Fatalf("%q: expected title %q, got %q", tc.raw, tc.title, gotTitle)
		}
	}
}

func TestParseFinalChapterInfersNumber(t *testing.T) {
	parser := NewParser([]Grammar{HashIndexGrammar}, nil)

	fragment, err := parser.Parse("#Final Chapter(1) All Out!!")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fragment.Number != nil {
		t.Fatalf("expected no explicit number, got %d", *fragment.Number)
	}

	identity := NewSequencer(intPtr(0), nil).Next(fragment)
	if identity.Number != 1 {
		t.Fatalf("expected inferred number 1, got %d", identity.Number)
	}
	if identity.Decimal == nil || *identity.Decimal != 1 {
		t.Fatalf("expected decimal 1, got %v", describe(identity.Decimal))
	}
	if identity.Title == nil || *identity.Title != "All Out!! (1)" {
		t.Fatalf("unexpected title %v", identity.Title)
	}
}

func TestParseUniversalFallback(t *testing.T) {
	parser := NewParser(nil, nil)

	cases := []struct {
		raw     string
		number  int
		decimal *int
		title   string
	}{
		{raw: "Vol. 3, Chapter 21: The Gate", number: 21, title: "The Gate"},
		{raw: "chapter 9.5", number: 9, decimal: intPtr(5)},
		{raw: "Ch. 40a - Side", number: 40, decimal: intPtr(1), title: "Side"},
		{raw: "Volume 2 Chapter 11 Homecoming", number: 11, title: "Homecoming"},
	}

	for _, tc := range cases {
		fragment, err := parser.Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if fragment.Number == nil || *fragment.Number != tc.number {
			t.Fatalf("%q: expected number %d, got %v", tc.raw, tc.number, describe(fragment.Number))
		}
		if !sameInt(fragment.Decimal, tc.decimal) {
			t.Fatalf("%q: expected decimal %v, got %v", tc.raw, describe(tc.decimal), describe(fragment.Decimal))
		}
		gotTitle := ""
		if fragment.Title != nil {
			gotTitle = *fragment.Title
		}
		if gotTitle != tc.title {
			t.Fatalf("%q: expected title %q, got %q", tc.raw, tc.title, gotTitle)
		}
	}
}

func TestParseFailureIsReported(t *testing.T) {
	parser := NewParser([]Grammar{ExtraSuffixGrammar}, nil)

	if _, err := parser.Parse("Announcement: hiatus"); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
	if _, err := parser.ParseEntry("Announcement: hiatus", ""); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable without attribute, got %v", err)
	}
	if _, err := parser.ParseEntry("Announcement", "n/a"); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable for bad attribute, got %v", err)
	}
}

func TestParseEntryNumberAttributeOverrides(t *testing.T) {
	parser := NewParser(nil, nil)

	fragment, err := parser.ParseEntry("Ep. 45 - The Duel", "45.5")
	if err != nil {
		t.Fatalf("parse entry: %v", err)
	}
	if fragment.Number == nil || *fragment.Number != 45 {
		t.Fatalf("expected number 45, got %v", describe(fragment.Number))
	}
	if fragment.Decimal == nil || *fragment.Decimal != 5 {
		t.Fatalf("expected decimal 5, got %v", describe(fragment.Decimal))
	}
	if fragment.Title == nil || *fragment.Title != "The Duel" {
		t.Fatalf("expected prefix removed from title, got %v", fragment.Title)
	}

	fragment, err = parser.ParseEntry("Chapter 3: Rain", "4")
	if err != nil {
		t.Fatalf("parse entry: %v", err)
	}
	if *fragment.Number != 4 || fragment.Decimal != nil {
		t.Fatalf("expected attribute to override parsed number, got %d/%v", *fragment.Number, describe(fragment.Decimal))
	}
	if fragment.Title == nil || *fragment.Title != "Rain" {
		t.Fatalf("expected parsed title Rain, got %v", fragment.Title)
	}
}

func TestParseNumberAttribute(t *testing.T) {
	cases := []struct {
		raw     string
		number  int
		decimal *int
		wantErr bool
	}{
		{raw: "12", number: 12},
		{raw: "12.0", number: 12},
		{raw: "12.5", number: 12, decimal: intPtr(5)},
		{raw: "12c", number: 12, decimal: intPtr(3)},
		{raw: "twelve", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range cases {
		number, decimal, err := ParseNumberAttribute(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if number != tc.number || !sameInt(decimal, tc.decimal) {
			t.Fatalf("%q: got %d/%v", tc.raw, number, describe(decimal))
		}
	}
}

func TestRemoveChapterPrefix(t *testing.T) {
	cases := map[string]string{
		"Chapter 5 - The End":       "The End",
		"Vol.1 Ch.3: Foo-bar":       "Foo-bar",
		"Drunken Ping-Pong":         "Drunken Ping-Pong",
		"Episode 10; Night – Day":   "Night – Day",
		"  Chapter 2 – Second  ":    "Second",
		"No numbering: just a name": "No numbering: just a name",
	}
	for raw, want := range cases {
		if got := RemoveChapterPrefix(raw); got != want {
			t.Fatalf("RemoveChapterPrefix(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNewGrammarRejectsInvalidPattern(t *testing.T) {
	if _, err := NewGrammar(GrammarConfig{Name: "broken", Pattern: "(?P<number>"}); err == nil {
		t.Fatalf("expected compile error")
	}
	grammar, err := NewGrammar(GrammarConfig{Pattern: `^Ep (?P<number>\d+)$`})
	if err != nil {
		t.Fatalf("compile grammar: %v", err)
	}
	if grammar.Name != "custom" {
		t.Fatalf("expected default name, got %s", grammar.Name)
	}
}
