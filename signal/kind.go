package signal

import "strings"

// Kind identifies the protocol field a signal address targets.
type Kind int

// Signal kinds
const (
	KindUnknown Kind = iota
	KindAngle
	KindMagnitude
	KindFrequency
	KindDfDt
	KindStatus
	KindAnalog
	KindDigital
	KindQuality
	KindCalculated
	KindStatistic
)

type kindInfo struct {
	tag     string
	name    string
	indexed bool
}

var kinds = map[Kind]kindInfo{
	KindAngle:      {"PA", "Angle", true},
	KindMagnitude:  {"PM", "Magnitude", true},
	KindFrequency:  {"FQ", "Frequency", false},
	KindDfDt:       {"DF", "DfDt", false},
	KindStatus:     {"SF", "Status", false},
	KindAnalog:     {"AV", "Analog", true},
	KindDigital:    {"DV", "Digital", true},
	KindQuality:    {"QF", "Quality", false},
	KindCalculated: {"CV", "Calculated", true},
	KindStatistic:  {"ST", "Statistic", true},
}

var kindsByTag = func() map[string]Kind {
	m := make(map[string]Kind, len(kinds))
	for k, info := range kinds {
		m[info.tag] = k
	}
	return m
}()

// Tag returns the two-letter suffix tag, or "??" for an unknown kind.
func (k Kind) Tag() string {
	if info, ok := kinds[k]; ok {
		return info.tag
	}
	return "??"
}

// String returns the kind name.
func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "Unknown"
}

// Indexed reports whether addresses of this kind carry a 1-based ordinal.
func (k Kind) Indexed() bool {
	return kinds[k].indexed
}

// KindFromTag resolves a two-letter tag case-insensitively.
func KindFromTag(tag string) (Kind, bool) {
	k, ok := kindsByTag[strings.ToUpper(tag)]
	return k, ok
}
