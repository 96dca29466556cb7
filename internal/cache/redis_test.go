package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeduper(t *testing.T) (*Deduper, *miniredis.Miniredis, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), mr.Host(), mr.Port(), "")
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	prefix := "test:" + uuid.NewString() + ":"
	return NewDeduper(rdb, prefix), mr, prefix
}

func TestDeduper(t *testing.T) {
	ctx := context.Background()
	d, mr, prefix := newTestDeduper(t)

	first, err := d.FirstTime(ctx, "expiry_warn_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, mr.Exists(prefix+"expiry_warn_1"))
	assert.Equal(t, time.Minute, mr.TTL(prefix+"expiry_warn_1"))

	again, err := d.FirstTime(ctx, "expiry_warn_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, d.Forget(ctx, "expiry_warn_1"))
	assert.False(t, mr.Exists(prefix+"expiry_warn_1"))
	afterForget, err := d.FirstTime(ctx, "expiry_warn_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, afterForget)
}

func TestDeduperMarkerExpires(t *testing.T) {
	ctx := context.Background()
	d, mr, _ := newTestDeduper(t)

	first, err := d.FirstTime(ctx, "expiry_warn_2", time.Hour)
	require.NoError(t, err)
	require.True(t, first)

	mr.FastForward(2 * time.Hour)
	again, err := d.FirstTime(ctx, "expiry_warn_2", time.Hour)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestDeduperServerDown(t *testing.T) {
	ctx := context.Background()
	d, mr, _ := newTestDeduper(t)
	mr.Close()

	_, err := d.FirstTime(ctx, "expiry_warn_3", time.Minute)
	assert.Error(t, err)
}
