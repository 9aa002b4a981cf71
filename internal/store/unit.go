package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kasirpos/internal/logger"
)

var tracer = otel.Tracer("kasirpos/store")

// Tx is the backend handle of an outermost unit.
type Tx interface {
	Commit() error
	Rollback() error
}

// BeginFunc opens the backend transaction for an outermost unit.
type BeginFunc func(ctx context.Context) (Tx, error)

type unitKey struct{}

// Unit is the transaction context threaded through nested calls. Only the
// goroutine that opened it may use it.
type Unit struct {
	tx         Tx
	depth      int
	failed     error
	onCommit   []func()
	onRollback []func()
}

// UnitFrom returns the unit active in ctx.
func UnitFrom(ctx context.Context) (*Unit, bool) {
	u, ok := ctx.Value(unitKey{}).(*Unit)
	return u, ok && u != nil
}

// IsOutermost reports whether the code holding the unit is the call that will
// commit or roll it back.
func (u *Unit) IsOutermost() bool {
	return u.depth == 1
}

func (u *Unit) Depth() int {
	return u.depth
}

func (u *Unit) Tx() Tx {
	return u.tx
}

// OnCommit registers fn to run after the outermost commit succeeds.
func (u *Unit) OnCommit(fn func()) {
	u.onCommit = append(u.onCommit, fn)
}

// OnRollback registers fn to run after the unit is rolled back.
func (u *Unit) OnRollback(fn func()) {
	u.onRollback = append(u.onRollback, fn)
}

// Atomic runs fn as one atomic unit. When ctx already carries a unit, fn joins
// it: nothing is committed here and a failure marks the whole unit
// rollback-only. Otherwise begin opens the backend transaction, which is
// committed when fn succeeds and rolled back when it fails or panics.
func Atomic(ctx context.Context, begin BeginFunc, fn func(ctx context.Context) error) error {
	if u, ok := UnitFrom(ctx); ok {
		u.depth++
		defer func() { u.depth-- }()
		if err := fn(ctx); err != nil {
			if u.failed == nil {
				u.failed = err
			}
			return err
		}
		return nil
	}

	ctx, span := tracer.Start(ctx, "store.atomic", trace.WithAttributes(attribute.Bool("unit.outermost", true)))
	defer span.End()

	tx, err := begin(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin atomic unit: %w", err)
	}

	u := &Unit{tx: tx, depth: 1}
	unitCtx := context.WithValue(ctx, unitKey{}, u)

	done := false
	defer func() {
		if done {
			return
		}
		if p := recover(); p != nil {
			u.rollback(ctx)
			panic(p)
		}
	}()

	err = fn(unitCtx)
	if err == nil && u.failed != nil {
		err = fmt.Errorf("%w: %v", ErrRollbackOnly, u.failed)
	}
	if err != nil {
		u.rollback(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		done = true
		return err
	}

	if err := tx.Commit(); err != nil {
		done = true
		runHooks(u.onRollback)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit atomic unit: %w", err)
	}
	done = true
	runHooks(u.onCommit)
	return nil
}

func (u *Unit) rollback(ctx context.Context) {
	if err := u.tx.Rollback(); err != nil {
		logger.Warn(ctx, "atomic unit rollback failed", "error", err)
	}
	runHooks(u.onRollback)
}

func runHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}
