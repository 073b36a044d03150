package metadata

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/signal"
)

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// Format is the encoding of a metadata document.
type Format string

// Supported formats
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format by file extension; anything but .json is YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads, validates and normalizes the metadata document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "metadata", "Load", "read document")
	}
	return Parse(data, FormatFromPath(path))
}

// Parse decodes a metadata document, validates it against the schema and the
// cross-record rules, and applies defaults.
func Parse(data []byte, format Format) (*Document, error) {
	var raw any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(err, "metadata", "Parse", "decode json")
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(err, "metadata", "Parse", "decode yaml")
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	doc := &Document{}
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, doc)
	default:
		err = yaml.Unmarshal(data, doc)
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "metadata", "Parse", "decode document")
	}

	doc.normalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func validateSchema(raw any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return errors.WrapInvalid(err, "metadata", "validateSchema", "schema validation")
	}
	if result.Valid() {
		return nil
	}
	var b strings.Builder
	b.WriteString("document does not match schema:")
	for _, desc := range result.Errors() {
		fmt.Fprintf(&b, "\n  - %s: %s", desc.Field(), desc.Description())
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, b.String()), "metadata", "validateSchema", "schema validation")
}

func (d *Document) normalize() {
	for i := range d.Connections {
		c := &d.Connections[i]
		c.Name = strings.TrimSpace(c.Name)
		for j := range c.Devices {
			c.Devices[j].Acronym = strings.ToUpper(strings.TrimSpace(c.Devices[j].Acronym))
		}
		for j := range c.Measurements {
			m := &c.Measurements[j]
			m.SignalReference = strings.ToUpper(strings.TrimSpace(m.SignalReference))
			if m.Multiplier == 0 {
				m.Multiplier = 1
			}
		}
	}
	for i := range d.OutputStreams {
		s := &d.OutputStreams[i]
		s.Name = strings.TrimSpace(s.Name)
		for j := range s.Devices {
			s.Devices[j].Acronym = strings.ToUpper(strings.TrimSpace(s.Devices[j].Acronym))
		}
		for j := range s.Measurements {
			s.Measurements[j].SignalReference = strings.ToUpper(strings.TrimSpace(s.Measurements[j].SignalReference))
		}
	}
}

// Validate checks rules the schema cannot express: unique names and acronyms,
// parseable signal references and unique measurement keys per connection.
func (d *Document) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	names := make(map[string]bool)
	references := make(map[string]string)
	for _, c := range d.Connections {
		key := strings.ToUpper(c.Name)
		if names[key] {
			fail("duplicate connection name %q", c.Name)
		}
		names[key] = true

		if c.IsConcentrator && len(c.Devices) == 0 {
			fail("connection %q is a concentrator without devices", c.Name)
		}
		if !c.IsConcentrator && len(c.AccessIDs) == 0 {
			fail("connection %q has no access ID", c.Name)
		}

		acronyms := make(map[string]bool)
		for _, dev := range c.Devices {
			if acronyms[dev.Acronym] {
				fail("connection %q: duplicate device acronym %q", c.Name, dev.Acronym)
			}
			acronyms[dev.Acronym] = true
		}

		keys := make(map[string]bool)
		for _, m := range c.Measurements {
			if _, err := signal.Parse(m.SignalReference); err != nil {
				fail("connection %q: %v", c.Name, err)
				continue
			}
			if keys[m.Key.String()] {
				fail("connection %q: duplicate measurement key %s", c.Name, m.Key)
			}
			keys[m.Key.String()] = true
			if owner, ok := references[m.SignalReference]; ok {
				fail("signal reference %q defined by both %q and %q", m.SignalReference, owner, c.Name)
				continue
			}
			references[m.SignalReference] = c.Name
		}
	}

	streams := make(map[string]bool)
	for _, s := range d.OutputStreams {
		key := strings.ToUpper(s.Name)
		if streams[key] {
			fail("duplicate output stream name %q", s.Name)
		}
		streams[key] = true

		acronyms := make(map[string]bool)
		for _, dev := range s.Devices {
			if acronyms[dev.Acronym] {
				fail("output stream %q: duplicate device acronym %q", s.Name, dev.Acronym)
			}
			acronyms[dev.Acronym] = true
		}
		for _, m := range s.Measurements {
			if _, err := signal.Parse(m.SignalReference); err != nil {
				fail("output stream %q: %v", s.Name, err)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.WrapInvalid(errors.Join(append([]error{errors.ErrInvalidConfig}, errs...)...), "metadata", "Validate", "document validation")
}
