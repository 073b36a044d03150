package configcache

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/natsclient"
)

// DefaultBucket is the KV bucket used when none is configured.
const DefaultBucket = "PHASOR_CONFIG"

// KVStore keeps images in a JetStream KV bucket.
type KVStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
}

// NewKVStore wraps an open bucket.
func NewKVStore(bucket jetstream.KeyValue) *KVStore {
	return &KVStore{bucket: bucket, timeout: 5 * time.Second}
}

// OpenKVStore creates or opens the named bucket on the client.
func OpenKVStore(ctx context.Context, client *natsclient.Client, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Cached phasor configuration frame images",
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "OpenKVStore", "open bucket "+bucket)
	}
	return NewKVStore(kv), nil
}

// kvKey maps a connection name onto the characters KV keys allow.
func kvKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func (s *KVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Load implements Store.
func (s *KVStore) Load(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, kvKey(name))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.Wrap(errors.ErrKeyNotFound, "KVStore", "Load", "load "+name)
		}
		return nil, errors.WrapTransient(err, "KVStore", "Load", "load "+name)
	}
	return entry.Value(), nil
}

// Save implements Store.
func (s *KVStore) Save(ctx context.Context, name string, image []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.bucket.Put(ctx, kvKey(name), image); err != nil {
		return errors.WrapTransient(err, "KVStore", "Save", "save "+name)
	}
	return nil
}

// Delete implements Store.
func (s *KVStore) Delete(ctx context.Context, name string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.bucket.Delete(ctx, kvKey(name)); err != nil && !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return errors.WrapTransient(err, "KVStore", "Delete", "delete "+name)
	}
	return nil
}
