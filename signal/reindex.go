package signal

import "strings"

// Reindexer renumbers indexed addresses so that each run of the same device and kind
// counts 1, 2, 3, ... regardless of the ordinals found in the source rows.
// Feed it addresses in sorted order.
type Reindexer struct {
	previous Address
	started  bool
}

// Next returns a renumbered copy of a. Addresses with Index < 1 pass through
// unchanged but still become the new previous address.
func (r *Reindexer) Next(a Address) Address {
	if a.Index >= 1 {
		if r.started && r.previous.Kind == a.Kind && strings.EqualFold(r.previous.Acronym, a.Acronym) {
			a.Index = r.previous.Index + 1
		} else {
			a.Index = 1
		}
	}
	r.previous = a
	r.started = true
	return a
}

// Reset forgets the previous address.
func (r *Reindexer) Reset() {
	*r = Reindexer{}
}

// Reindex renumbers a sorted slice and returns the result in a new slice.
func Reindex(addrs []Address) []Address {
	var r Reindexer
	out := make([]Address, len(addrs))
	for i, a := range addrs {
		out[i] = r.Next(a)
	}
	return out
}
