//go:build integration

package configcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/phasorstreams/natsclient"
)

func TestKVStore(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream(), natsclient.WithStartTimeout(time.Minute))

	store, err := OpenKVStore(context.Background(), tc.Client, "")
	require.NoError(t, err)

	exerciseStore(t, store)
}
