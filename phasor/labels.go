package phasor

import (
	"strings"
)

// Label limits of the configuration frame image.
const (
	MaxLabelLength           = nameLength
	phaseLabelBaseLength     = 12
	frequencyLabelBaseLength = 11
)

var phaseSuffixes = map[rune]string{
	'+': " +S",
	'-': " -S",
	'0': " 0S",
	'A': " AP",
	'B': " BP",
	'C': " CP",
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// PhasorLabel appends a phase and type suffix such as " AP" + "V" unless the label
// already ends with that phase designation. Empty labels become "Phasor". Unknown
// phases leave the label unchanged.
func PhasorLabel(label string, phase rune, t PhasorType) string {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "Phasor"
	}
	label = Truncate(label, MaxLabelLength)

	suffix, ok := phaseSuffixes[phase]
	if !ok {
		return label
	}

	r := []rune(label)
	tail := r
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	if len(tail) > 3 {
		tail = tail[:3]
	}
	if strings.ToUpper(string(tail)) == suffix {
		return label
	}

	typeChar := "V"
	if t == Current {
		typeChar = "I"
	}
	return Truncate(Truncate(label, phaseLabelBaseLength)+suffix+typeChar, MaxLabelLength)
}

// FrequencyLabel builds the frequency channel label from a device ID label.
func FrequencyLabel(idLabel string) string {
	return strings.TrimSpace(Truncate(strings.TrimSpace(idLabel), frequencyLabelBaseLength) + " Freq")
}
