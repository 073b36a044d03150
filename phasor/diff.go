package phasor

import (
	"bytes"

	"github.com/c360/phasorstreams/errors"
)

// ConfigurationDiffer decides whether a newly received configuration differs from the
// previous one.
type ConfigurationDiffer interface {
	Changed(previous, current *ConfigurationFrame) (bool, error)
}

// BinaryImageDiffer compares configuration frame images byte for byte after copying
// the current timestamp onto the previous frame.
type BinaryImageDiffer struct{}

// Changed implements ConfigurationDiffer. A nil previous frame is always a change.
func (BinaryImageDiffer) Changed(previous, current *ConfigurationFrame) (bool, error) {
	if previous == nil {
		return true, nil
	}
	if current == nil {
		return false, errors.WrapInvalid(errors.ErrNoConfiguration, "BinaryImageDiffer", "Changed", "compare configurations")
	}

	prior := previous.Clone()
	prior.Timestamp = current.Timestamp

	priorImage, err := prior.MarshalBinary()
	if err != nil {
		return false, errors.Wrap(err, "BinaryImageDiffer", "Changed", "encode previous configuration")
	}
	currentImage, err := current.MarshalBinary()
	if err != nil {
		return false, errors.Wrap(err, "BinaryImageDiffer", "Changed", "encode current configuration")
	}

	if len(priorImage) != len(currentImage) {
		return true, nil
	}
	return !bytes.Equal(priorImage, currentImage), nil
}
