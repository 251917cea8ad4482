//go:build integration

package twin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/natsclient"
)

func TestKVStorePersistence(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithKVBuckets("TWIN_RESOURCES"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kv, err := tc.KVStore(ctx, "TWIN_RESOURCES")
	require.NoError(t, err)
	store := NewKVStore(kv)

	tw := New(WithStore(store))
	_, err = tw.Apply(ctx,
		upd("t.1", "sensor", "temperature", 21.5, t0),
		upd("t.1", "sensor", "tags", []any{"a", "b"}, t0),
		upd("t2", "sensor", "temperature", 3.0, t0),
	)
	require.NoError(t, err)
	require.NoError(t, tw.RemoveProvider(ctx, "t2"))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	restored := New(WithStore(store))
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	r, err := restored.SnapshotResource(ctx, "t.1", "sensor", "tags")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, r.Value.Value)
	assert.Equal(t, []string{"t.1"}, restored.Providers())
}
