//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "phasor.measurements.PMU1", func(_ context.Context, data []byte) {
		received <- data
	}))
	require.NoError(t, tc.Client.Publish(ctx, "phasor.measurements.PMU1", []byte(`{"n":1}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"n":1}`, string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_KeyValueBucket(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("PHASOR_CONFIG"))
	ctx := context.Background()

	bucket, err := tc.CreateKVBucket(ctx, "PHASOR_CONFIG")
	require.NoError(t, err, "existing bucket is reused")

	_, err = bucket.Put(ctx, "PMU1", []byte{0xAA, 0x31})
	require.NoError(t, err)

	again, err := tc.Client.GetKeyValueBucket(ctx, "PHASOR_CONFIG")
	require.NoError(t, err)
	entry, err := again.Get(ctx, "PMU1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x31}, entry.Value())
}
