package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	commits   int
	rollbacks int
}

func (f *fakeTx) Commit() error   { f.commits++; return nil }
func (f *fakeTx) Rollback() error { f.rollbacks++; return nil }

func beginWith(tx *fakeTx, begins *int) BeginFunc {
	return func(context.Context) (Tx, error) {
		*begins++
		return tx, nil
	}
}

func TestAtomicNestedJoinsOuterAndCommitsOnce(t *testing.T) {
	tx := &fakeTx{}
	begins := 0
	begin := beginWith(tx, &begins)

	var innerOutermost, outerOutermost bool
	var committedHook int

	err := Atomic(context.Background(), begin, func(ctx context.Context) error {
		u, ok := UnitFrom(ctx)
		require.True(t, ok)
		outerOutermost = u.IsOutermost()
		u.OnCommit(func() { committedHook++ })

		return Atomic(ctx, begin, func(ctx context.Context) error {
			inner, _ := UnitFrom(ctx)
			innerOutermost = inner.IsOutermost()
			assert.Equal(t, 2, inner.Depth())
			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, tx.commits)
	assert.Equal(t, 0, tx.rollbacks)
	assert.True(t, outerOutermost)
	assert.False(t, innerOutermost)
	assert.Equal(t, 1, committedHook)
}

func TestAtomicInnerFailureRollsBackOuter(t *testing.T) {
	tx := &fakeTx{}
	begins := 0
	begin := beginWith(tx, &begins)
	boom := errors.New("boom")
	rolledBack := false

	err := Atomic(context.Background(), begin, func(ctx context.Context) error {
		u, _ := UnitFrom(ctx)
		u.OnRollback(func() { rolledBack = true })
		return Atomic(ctx, begin, func(context.Context) error { return boom })
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
	assert.True(t, rolledBack)
}

func TestAtomicSwallowedInnerFailureIsRollbackOnly(t *testing.T) {
	tx := &fakeTx{}
	begins := 0
	begin := beginWith(tx, &begins)

	err := Atomic(context.Background(), begin, func(ctx context.Context) error {
		_ = Atomic(ctx, begin, func(context.Context) error { return errors.New("inner") })
		return nil
	})

	require.ErrorIs(t, err, ErrRollbackOnly)
	assert.Equal(t, 0, tx.commits)
	assert.Equal(t, 1, tx.rollbacks)
}

func TestAtomicPanicRollsBack(t *testing.T) {
	tx := &fakeTx{}
	begins := 0

	assert.Panics(t, func() {
		_ = Atomic(context.Background(), beginWith(tx, &begins), func(context.Context) error {
			panic("kaboom")
		})
	})
	assert.Equal(t, 1, tx.rollbacks)
	assert.Equal(t, 0, tx.commits)
}

func TestAtomicBeginFailure(t *testing.T) {
	err := Atomic(context.Background(), func(context.Context) (Tx, error) {
		return nil, errors.New("database is locked")
	}, func(context.Context) error {
		t.Fatalf("fn must not run when begin fails")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin atomic unit")
}
