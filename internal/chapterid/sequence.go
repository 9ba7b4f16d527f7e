package chapterid

import "strings"

// Sequencer assigns final identities to fragments of one title, which must
// be fed in ascending release order. Fragments without a number continue
// from the previous entry: a new name takes the next number, a repeat of
// the previous numberless name stays on the same number with a higher
// decimal.
type Sequencer struct {
	prevNumber  int
	prevDecimal *int
	prevBase    string
}

func NewSequencer(prevNumber *int, prevDecimal *int) *Sequencer {
	s := &Sequencer{}
	if prevNumber != nil {
		s.prevNumber = *prevNumber
		s.prevDecimal = copyInt(prevDecimal)
	}
	return s
}

// Resume moves the sequencer onto an entry that was already stored, so the
// entries after it continue from its stored number.
func (s *Sequencer) Resume(number int, decimal *int, base string) {
	s.prevNumber = number
	s.prevDecimal = copyInt(decimal)
	s.prevBase = strings.TrimSpace(base)
}

func (s *Sequencer) Next(fragment Fragment) ParsedIdentity {
	if fragment.Number != nil {
		s.prevNumber = *fragment.Number
		s.prevDecimal = copyInt(fragment.Decimal)
		s.prevBase = ""
		return ParsedIdentity{Number: *fragment.Number, Decimal: copyInt(fragment.Decimal), Title: fragment.Title}
	}

	base := strings.TrimSpace(fragment.BaseTitle)
	continuing := base != "" && s.prevBase != "" && strings.EqualFold(base, s.prevBase)

	identity := ParsedIdentity{Title: fragment.Title, Decimal: copyInt(fragment.Decimal)}
	if continuing {
		identity.Number = s.prevNumber
		if identity.Decimal == nil || (s.prevDecimal != nil && *identity.Decimal <= *s.prevDecimal) || (s.prevDecimal == nil && *identity.Decimal <= 1) {
			bumped := 2
			if s.prevDecimal != nil && *s.prevDecimal > 0 {
				bumped = *s.prevDecimal + 1
			}
			identity.Decimal = &bumped
		}
	} else {
		identity.Number = s.prevNumber + 1
	}

	s.prevNumber = identity.Number
	s.prevDecimal = copyInt(identity.Decimal)
	s.prevBase = base
	return identity
}

func copyInt(value *int) *int {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
