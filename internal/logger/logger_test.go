package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContextCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := &Logger{zap.New(core).Sugar()}

	ctx := WithLogger(context.Background(), base)
	ctx = With(ctx, "request_id", "req-1")
	Info(ctx, "checkout committed", "sale_id", 42)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" {
		t.Fatalf("expected request_id field, got %v", fields)
	}
	if fields["sale_id"] != int64(42) {
		t.Fatalf("expected sale_id=42, got %v", fields["sale_id"])
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}

func TestNewFallsBackToInfoOnUnknownLevel(t *testing.T) {
	l, err := New(Config{Level: "loud"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Desugar().Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info level fallback")
	}
}

func TestSyncReportsFlushResult(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	l := &Logger{zap.New(core).Sugar()}
	if err := l.Sync(); err != nil {
		t.Fatalf("expected observer core to sync cleanly, got %v", err)
	}
}
