package metadata

import (
	"log/slog"
	"sync/atomic"

	"github.com/c360/phasorstreams/errors"
)

// Source supplies metadata records to the mapper and concentrator.
type Source interface {
	Connection(name string) (Connection, bool)
	OutputStream(name string) (OutputStream, bool)
	Lookup() *Lookup
}

type snapshot struct {
	doc    *Document
	lookup *Lookup
}

// Store holds the current document and its lookup tables. Readers always see a
// consistent document/lookup pair; Reload swaps both at once.
type Store struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[snapshot]
}

// NewStore wraps an already loaded document. path may be empty when the store
// is never reloaded.
func NewStore(doc *Document, path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if doc == nil {
		doc = &Document{}
	}
	s := &Store{path: path, logger: logger.With("component", "metadata")}
	s.current.Store(&snapshot{doc: doc, lookup: NewLookup(doc)})
	return s
}

// Open loads the document at path into a new store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(doc, path, logger), nil
}

// Reload re-reads the document from disk. The previous document stays in place
// when the new one fails to load.
func (s *Store) Reload() error {
	if s.path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "metadata", "Reload", "locate document")
	}
	doc, err := Load(s.path)
	if err != nil {
		s.logger.Warn("Metadata reload failed, keeping previous document", "path", s.path, "error", err)
		return err
	}
	s.current.Store(&snapshot{doc: doc, lookup: NewLookup(doc)})
	s.logger.Info("Metadata reloaded", "path", s.path,
		"connections", len(doc.Connections), "output_streams", len(doc.OutputStreams))
	return nil
}

// Document returns the current document. Callers must not modify it.
func (s *Store) Document() *Document {
	return s.current.Load().doc
}

// Connection implements Source.
func (s *Store) Connection(name string) (Connection, bool) {
	return s.current.Load().doc.Connection(name)
}

// OutputStream implements Source.
func (s *Store) OutputStream(name string) (OutputStream, bool) {
	return s.current.Load().doc.OutputStream(name)
}

// Lookup implements Source.
func (s *Store) Lookup() *Lookup {
	return s.current.Load().lookup
}
