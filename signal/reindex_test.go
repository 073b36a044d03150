package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func addrStrings(addrs []Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func TestReindex_RenumbersRuns(t *testing.T) {
	in := []Address{
		MustParse("A-PA3"),
		MustParse("A-PA7"),
		MustParse("A-PM3"),
		MustParse("A-FQ"),
		MustParse("A-AV2"),
		MustParse("A-AV5"),
		MustParse("B-PA4"),
	}

	got := Reindex(in)
	assert.Equal(t, []string{"A-PA1", "A-PA2", "A-PM1", "A-FQ", "A-AV1", "A-AV2", "B-PA1"}, addrStrings(got))
}

func TestReindex_Idempotent(t *testing.T) {
	in := []Address{
		MustParse("A-PA3"),
		MustParse("A-PA9"),
		MustParse("A-DV2"),
		MustParse("B-AV5"),
		MustParse("B-AV6"),
	}
	Sort(in)

	once := Reindex(in)
	twice := Reindex(once)
	assert.Equal(t, once, twice)
}

func TestReindexer_UnindexedBecomesPrevious(t *testing.T) {
	var r Reindexer
	assert.Equal(t, 1, r.Next(MustParse("A-PA4")).Index)
	assert.Equal(t, 0, r.Next(MustParse("A-FQ")).Index)
	// previous is now the frequency address so the run restarts
	assert.Equal(t, 1, r.Next(MustParse("A-PA5")).Index)

	r.Reset()
	assert.Equal(t, 1, r.Next(MustParse("A-PA5")).Index)
}
