package cache

import (
	"context"
	"time"
)

// Slot is the generation-bound location a Get resolved for a key. Writing
// the loaded value back through the same slot keeps a value read before an
// Invalidate from landing in the newer generation. The zero Slot discards
// writes.
type Slot string

// ReportCache holds serialized report projections. Invalidate drops every
// cached entry at once; it is called after each committed sale or void.
type ReportCache interface {
	Get(ctx context.Context, key string, dst any) (Slot, bool, error)
	Set(ctx context.Context, slot Slot, value any, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string, _ any) (Slot, bool, error) {
	return "", false, nil
}

func (NoopReportCache) Set(_ context.Context, _ Slot, _ any, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
