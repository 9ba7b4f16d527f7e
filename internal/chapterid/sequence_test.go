package chapterid

import "testing"

func TestSequencerTrackDecimalsStrictlyIncrease(t *testing.T) {
	parser := NewParser([]Grammar{TrackGrammar}, nil)

	series := [][]string{
		{
			"TRACK 2 THREATENED MISCARRIAGE(1)",
			"TRACK 2 THREATENED MISCARRIAGE(2)",
			"TRACK 2 THREATENED MISCARRIAGE(3)",
			"TRACK 2 THREATENED MISCARRIAGE(4)",
		},
		{
			"TRACK 2 THREATENED MISCARRIAGE",
			"TRACK 2 THREATENED MISCARRIAGE",
			"TRACK 2 THREATENED MISCARRIAGE",
			"TRACK 2 THREATENED MISCARRIAGE",
		},
		{
			"TRACK 2 THREATENED MISCARRIAGE(1)",
			"TRACK 2 THREATENED MISCARRIAGE(1)",
			"TRACK 2 THREATENED MISCARRIAGE(1)",
			"TRACK 2 THREATENED MISCARRIAGE(1)",
		},
	}

	for _, titles := range series {
		sequencer := NewSequencer(intPtr(10), nil)
		var previous *ParsedIdentity
		for _, raw := range titles {
			fragment, err := parser.Parse(raw)
			if err != nil {
				t.Fatalf("parse %q: %v", raw, err)
			}
			identity := sequencer.Next(fragment)
			if identity.Number != 11 {
				t.Fatalf("%q: expected all parts on chapter 11, got %d", raw, identity.Number)
			}
			if previous != nil {
				prevDecimal := 1
				if previous.Decimal != nil {
					prevDecimal = *previous.Decimal
				}
				if identity.Decimal == nil || *identity.Decimal <= prevDecimal {
					t.Fatalf("%q: decimal %v does not increase past %d", raw, describe(identity.Decimal), prevDecimal)
				}
			}
			current := identity
			previous = &current
		}
	}
}

func TestSequencerNewNameTakesNextNumber(t *testing.T) {
	parser := NewParser([]Grammar{TrackGrammar, ExtraSuffixGrammar}, nil)
	sequencer := NewSequencer(nil, nil)

	expect := []struct {
		raw    string
		number int
	}{
		{raw: "Chapter 4 - Before", number: 4},
		{raw: "TRACK 1 OPENING", number: 5},
		{raw: "TRACK 2 INTERLUDE", number: 6},
		{raw: "Chapter 7 - After", number: 7},
	}

	for _, step := range expect {
		fragment, err := parser.Parse(step.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", step.raw, err)
		}
		identity := sequencer.Next(fragment)
		if identity.Number != step.number {
			t.Fatalf("%q: expected number %d, got %d", step.raw, step.number, identity.Number)
		}
	}
}

func TestSequencerKeepsExplicitNumbers(t *testing.T) {
	sequencer := NewSequencer(intPtr(20), intPtr(3))
	fragment := Fragment{Number: intPtr(20), Decimal: intPtr(ExtraChapterDecimal)}

	identity := sequencer.Next(fragment)
	if identity.Number != 20 || identity.Decimal == nil || *identity.Decimal != ExtraChapterDecimal {
		t.Fatalf("unexpected identity %+v", identity)
	}

	*fragment.Decimal = 1
	if *identity.Decimal != ExtraChapterDecimal {
		t.Fatalf("identity must not alias fragment decimal")
	}
}

func TestSequencerBumpsFromZeroDecimal(t *testing.T) {
	sequencer := NewSequencer(intPtr(2), nil)
	first := sequencer.Next(Fragment{BaseTitle: "Special", Decimal: intPtr(0)})
	if first.Number != 3 {
		t.Fatalf("expected number 3, got %d", first.Number)
	}
	second := sequencer.Next(Fragment{BaseTitle: "special"})
	if second.Number != 3 || second.Decimal == nil || *second.Decimal != 2 {
		t.Fatalf("expected 3/2 after zero decimal, got %d/%v", second.Number, describe(second.Decimal))
	}
}

func TestSequencerResumeContinuesFromStoredEntry(t *testing.T) {
	parser := NewParser([]Grammar{TrackGrammar}, nil)
	sequencer := NewSequencer(intPtr(40), nil)

	sequencer.Resume(2, nil, "INTERLUDE")
	fragment, err := parser.Parse("TRACK 3 FINALE")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if identity := sequencer.Next(fragment); identity.Number != 3 {
		t.Fatalf("expected chapter 3 after resuming at 2, got %d", identity.Number)
	}

	sequencer.Resume(4, intPtr(1), "FINALE")
	fragment, err = parser.Parse("TRACK 4 FINALE(2)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	identity := sequencer.Next(fragment)
	if identity.Number != 4 || identity.Decimal == nil || *identity.Decimal != 2 {
		t.Fatalf("expected 4.2 for a repeated part, got %d %v", identity.Number, identity.Decimal)
	}
}
