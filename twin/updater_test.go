package twin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtwin/events"
)

func TestUpdaterSingle(t *testing.T) {
	ctx := context.Background()
	tw := New()
	u := tw.Updater()
	require.NoError(t, u.UpdateResource(ctx, "p", "derived", "avg", 12.5, t0))

	r, err := tw.SnapshotResource(ctx, "p", "derived", "avg")
	require.NoError(t, err)
	assert.Equal(t, 12.5, r.Value.Value)

	assert.Error(t, u.UpdateResource(ctx, "p", "", "avg", 1, t0))
}

func TestBatchCommitsOnce(t *testing.T) {
	ctx := context.Background()
	bus := events.NewLocalBus()
	rec := &recorder{}
	_, err := bus.Subscribe(ctx, []string{"twin.data.>"}, rec.handle)
	require.NoError(t, err)

	tw := New(WithBus(bus))
	b := tw.Updater().UpdateBatch()
	b.Update("a", "s", "r", 1, t0).Update("b", "s", "r", 2, t0)

	assert.Empty(t, tw.Providers(), "nothing is visible before Complete")
	require.NoError(t, b.Complete(ctx))
	assert.Equal(t, []string{"a", "b"}, tw.Providers())
	assert.Len(t, rec.events(), 2)

	b.Update("c", "s", "r", 3, t0)
	require.NoError(t, b.Complete(ctx))
	assert.Equal(t, []string{"a", "b"}, tw.Providers())
	assert.NotEmpty(t, b.(*Batch).ID())
}

func TestBatchRejectsInvalidAsAWhole(t *testing.T) {
	tw := New()
	b := tw.Updater().UpdateBatch()
	b.Update("a", "s", "r", 1, time.Time{}).Update("", "s", "r", 2, t0)
	require.Error(t, b.Complete(context.Background()))
	assert.Empty(t, tw.Providers())
}
