// Package signal implements the textual signal address that names a field of a
// phasor frame, such as "SHELBY-PA2" for the second phasor angle of device SHELBY.
package signal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/c360/phasorstreams/errors"
)

// Address identifies one field of one device in a phasor frame.
//
// Format: ACRONYM-KKn where KK is the kind tag and n the optional 1-based ordinal.
//
// Examples:
//   - "SHELBY-PA2" -> Address{Acronym: "SHELBY", Kind: KindAngle, Index: 2}
//   - "SHELBY-FQ"  -> Address{Acronym: "SHELBY", Kind: KindFrequency}
//   - "STREAM-QF"  -> frame quality flags of output stream STREAM
type Address struct {
	// Acronym is the upper-cased device (or stream) acronym
	Acronym string
	Kind    Kind
	// Index is the 1-based ordinal within the kind, 0 when not applicable
	Index int
	// CellIndex is the 0-based device position in an output frame, -1 until resolved
	CellIndex int
}

// New builds an unresolved address.
func New(acronym string, kind Kind, index int) Address {
	return Address{
		Acronym:   strings.ToUpper(strings.TrimSpace(acronym)),
		Kind:      kind,
		Index:     index,
		CellIndex: -1,
	}
}

// Parse reads the canonical text form of an address.
func Parse(text string) (Address, error) {
	pos := strings.LastIndex(text, "-")
	if pos < 0 {
		return Address{}, invalid(text, "missing '-' separator")
	}

	acronym := strings.ToUpper(strings.TrimSpace(text[:pos]))
	if acronym == "" {
		return Address{}, invalid(text, "empty acronym")
	}

	suffix := strings.TrimSpace(text[pos+1:])
	if len(suffix) < 2 {
		return Address{}, invalid(text, "suffix shorter than two characters")
	}

	kind, ok := KindFromTag(suffix[:2])
	if !ok {
		return Address{}, invalid(text, fmt.Sprintf("unknown kind tag %q", suffix[:2]))
	}

	index := 0
	if digits := suffix[2:]; digits != "" {
		for _, r := range digits {
			if r < '0' || r > '9' {
				return Address{}, invalid(text, fmt.Sprintf("non-numeric ordinal %q", digits))
			}
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return Address{}, invalid(text, err.Error())
		}
		index = n
	}

	return Address{Acronym: acronym, Kind: kind, Index: index, CellIndex: -1}, nil
}

// MustParse is Parse for literals known to be valid; it panics otherwise.
func MustParse(text string) Address {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

func invalid(text, reason string) error {
	return errors.WrapInvalid(errors.ErrInvalidSignalAddress, "signal", "Parse",
		fmt.Sprintf("parse %q (%s)", text, reason))
}

// String returns the canonical text form.
func (a Address) String() string {
	if a.Index > 0 {
		return fmt.Sprintf("%s-%s%d", a.Acronym, a.Kind.Tag(), a.Index)
	}
	return a.Acronym + "-" + a.Kind.Tag()
}

// Equal reports whether a and b name the same destination. CellIndex is ignored.
func (a Address) Equal(b Address) bool {
	return a.Kind == b.Kind && a.Index == b.Index && strings.EqualFold(a.Acronym, b.Acronym)
}

// ResolveCellIndex returns a copy with CellIndex looked up by acronym.
// Quality addresses target the frame itself and stay at -1.
func (a Address) ResolveCellIndex(cells map[string]int) Address {
	a.CellIndex = -1
	if a.Kind == KindQuality {
		return a
	}
	if idx, ok := cells[strings.ToUpper(a.Acronym)]; ok {
		a.CellIndex = idx
	}
	return a
}

// Compare orders addresses by acronym, then kind, then index.
func Compare(a, b Address) int {
	if c := strings.Compare(strings.ToUpper(a.Acronym), strings.ToUpper(b.Acronym)); c != 0 {
		return c
	}
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}
	return 0
}

// Sort orders addresses in place using Compare.
func Sort(addrs []Address) {
	sort.SliceStable(addrs, func(i, j int) bool {
		return Compare(addrs[i], addrs[j]) < 0
	})
}
