package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	GrossSales   int64 `json:"gross_sales"`
	Transactions int64 `json:"transactions"`
}

func newTestCache(t *testing.T) (*RedisReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisReportCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisReportCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var got summary
	slot, hit, err := c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, Slot("pos:report:0:summary"), slot)

	require.NoError(t, c.Set(ctx, slot, summary{GrossSales: 3000, Transactions: 1}, time.Minute))

	_, hit, err = c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, summary{GrossSales: 3000, Transactions: 1}, got)
}

func TestRedisReportCacheInvalidateOrphansEntries(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var got summary
	slot, _, err := c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, slot, summary{GrossSales: 3000}, time.Minute))
	require.NoError(t, c.Invalidate(ctx))

	slot, hit, err := c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, Slot("pos:report:1:summary"), slot)
}

func TestRedisReportCacheSetAfterInvalidateStaysRetired(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var got summary
	slot, hit, err := c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	require.False(t, hit)

	// a commit lands between the miss and the write-back
	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.Set(ctx, slot, summary{GrossSales: 3000}, time.Minute))

	_, hit, err = c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisReportCacheEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	var got summary
	slot, _, err := c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, slot, summary{GrossSales: 3000}, time.Second))
	mr.FastForward(2 * time.Second)

	_, hit, err := c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisReportCacheIgnoresEmptySlot(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "", summary{GrossSales: 3000}, time.Minute))
	assert.Empty(t, mr.Keys())
}

func TestNoopReportCacheNeverHits(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	ctx := context.Background()

	var got summary
	slot, hit, err := c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, c.Set(ctx, slot, summary{GrossSales: 1}, time.Minute))
	_, hit, err = c.Get(ctx, "summary", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, c.Invalidate(ctx))
}
