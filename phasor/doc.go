// Package phasor models synchrophasor stream configuration and data frames and
// encodes them as IEEE C37.118-2005 style binary images.
//
// # Model
//
// A ConfigurationFrame lists ConfigurationCells, one per device, in a fixed order.
// Each cell declares its phasor, frequency, analog and digital fields and the
// encodings used on the wire. A DataFrame holds one DataCell per configured device
// for a single timestamp.
//
// # Binary images
//
// ConfigurationFrame, DataFrame, HeaderFrame and CommandFrame implement
// encoding.BinaryMarshaler. Every image starts with the common header (sync word,
// frame size, ID code, second-of-century, fraction-of-second) and ends with a
// CRC-CCITT checksum. Configuration images are also what BinaryImageDiffer compares
// to detect configuration changes and what the configuration cache stores.
//
// # Parsing
//
// Parser accepts arbitrary chunks of a byte stream (or whole datagrams), realigns on
// the sync byte, and reports decoded frames through Handlers:
//
//	p := phasor.NewParser(phasor.Handlers{
//	    Configuration: func(cfg *phasor.ConfigurationFrame) { ... },
//	    Data:          func(frame *phasor.DataFrame) { ... },
//	    Exception:     func(err error) { ... },
//	})
//	p.Write(chunk)
package phasor
