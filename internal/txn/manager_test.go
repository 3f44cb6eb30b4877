package txn

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// ============================================================================
// Test Setup
// ============================================================================

func setupTestManager(t *testing.T) (*Manager, *sql.DB) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE items (id TEXT PRIMARY KEY, value TEXT)`)
	require.NoError(t, err)

	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)
	m := NewManager(db, logger, WithReapInterval(time.Hour))
	t.Cleanup(m.Close)
	return m, db
}

func countItems(t *testing.T, db *sql.DB) int {
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func insertItem(ctx context.Context, db *sql.DB, id string) error {
	ex := ExecutorFromContext(ctx, db)
	_, err := ex.ExecContext(ctx, `INSERT INTO items (id, value) VALUES (?, ?)`, id, "v")
	return err
}

// ============================================================================
// Root Transactions
// ============================================================================

func TestExecuteInTransaction_Commit(t *testing.T) {
	m, db := setupTestManager(t)
	ctx := context.Background()

	err := m.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		txID, ok := TransactionIDFromContext(ctx)
		assert.True(t, ok)
		assert.False(t, m.IsNested(txID))
		return insertItem(ctx, db, "a")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, db))
	assert.Empty(t, m.GetActiveTransactions())
}

func TestExecuteInTransaction_RollbackOnError(t *testing.T) {
	m, db := setupTestManager(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		if err := insertItem(ctx, db, "a"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countItems(t, db))
}

func TestExecuteInTransaction_RollbackOnPanic(t *testing.T) {
	m, db := setupTestManager(t)

	err := m.ExecuteInTransaction(context.Background(), func(ctx context.Context) error {
		_ = insertItem(ctx, db, "a")
		panic("unexpected")
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 0, countItems(t, db))
}

// ============================================================================
// Nested Transactions
// ============================================================================

func TestNestedCommit_MergesOpsIntoParent(t *testing.T) {
	m, _ := setupTestManager(t)

	var parentID string
	err := m.ExecuteInTransaction(context.Background(), func(ctx context.Context) error {
		parentID, _ = TransactionIDFromContext(ctx)
		m.RecordOperation(ctx, "parent-op-1", nil)

		if err := m.ExecuteInNestedTransaction(ctx, func(ctx context.Context) error {
			childID, _ := TransactionIDFromContext(ctx)
			assert.True(t, m.IsNested(childID))
			assert.Equal(t, parentID, m.GetRootTransactionID(childID))
			m.RecordOperation(ctx, "child-op-1", nil)
			m.RecordOperation(ctx, "child-op-2", nil)
			return nil
		}); err != nil {
			return err
		}

		// Parent log equals prior log concatenated with the child's.
		ops := m.Operations(parentID)
		require.Len(t, ops, 3)
		assert.Equal(t, "parent-op-1", ops[0].Name)
		assert.Equal(t, "child-op-1", ops[1].Name)
		assert.Equal(t, "child-op-2", ops[2].Name)
		return nil
	})
	require.NoError(t, err)
}

func TestNestedRollback_LeavesParentUnchanged(t *testing.T) {
	m, db := setupTestManager(t)

	err := m.ExecuteInTransaction(context.Background(), func(ctx context.Context) error {
		parentID, _ := TransactionIDFromContext(ctx)
		m.RecordOperation(ctx, "parent-op", nil)
		if err := insertItem(ctx, db, "kept"); err != nil {
			return err
		}

		nestedErr := m.ExecuteInNestedTransaction(ctx, func(ctx context.Context) error {
			m.RecordOperation(ctx, "child-op", nil)
			if err := insertItem(ctx, db, "discarded"); err != nil {
				return err
			}
			return errors.New("nested failure")
		})
		assert.Error(t, nestedErr)

		ops := m.Operations(parentID)
		require.Len(t, ops, 1)
		assert.Equal(t, "parent-op", ops[0].Name)
		return nil
	})
	require.NoError(t, err)

	// The parent's insert survived; the nested one was undone.
	assert.Equal(t, 1, countItems(t, db))
}

func TestNestedTransaction_NoEnclosingBecomesRoot(t *testing.T) {
	m, db := setupTestManager(t)

	err := m.ExecuteInNestedTransaction(context.Background(), func(ctx context.Context) error {
		return insertItem(ctx, db, "a")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, db))
}

// ============================================================================
// Savepoints
// ============================================================================

func TestSavepoint_RollbackUndoesLaterWork(t *testing.T) {
	m, db := setupTestManager(t)

	err := m.ExecuteInTransaction(context.Background(), func(ctx context.Context) error {
		if err := insertItem(ctx, db, "before"); err != nil {
			return err
		}
		m.RecordOperation(ctx, "before-sp", nil)

		spID, err := m.CreateSavepoint(ctx, "checkpoint", map[string]interface{}{"phase": "test"})
		if err != nil {
			return err
		}
		if err := insertItem(ctx, db, "after"); err != nil {
			return err
		}
		m.RecordOperation(ctx, "after-sp", nil)

		if err := m.RollbackToSavepoint(ctx, spID); err != nil {
			return err
		}

		txID, _ := TransactionIDFromContext(ctx)
		ops := m.Operations(txID)
		require.Len(t, ops, 1)
		assert.Equal(t, "before-sp", ops[0].Name)
		assert.Empty(t, m.GetSavepoints(txID))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, db))
}

func TestSavepoint_ReleaseKeepsWork(t *testing.T) {
	m, db := setupTestManager(t)

	err := m.ExecuteInTransaction(context.Background(), func(ctx context.Context) error {
		spID, err := m.CreateSavepoint(ctx, "checkpoint", nil)
		if err != nil {
			return err
		}
		if err := insertItem(ctx, db, "a"); err != nil {
			return err
		}
		return m.ReleaseSavepoint(ctx, spID)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, db))
}

func TestSavepoint_UnknownID(t *testing.T) {
	m, _ := setupTestManager(t)

	err := m.ExecuteInTransaction(context.Background(), func(ctx context.Context) error {
		return m.RollbackToSavepoint(ctx, "sp_missing")
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// ============================================================================
// Reaper
// ============================================================================

func TestReap_RemovesOldCompleted(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	logger := log.New(os.Stdout, "[TEST] ", log.LstdFlags)
	m := NewManager(db, logger, WithMaxAge(0), WithReapInterval(time.Hour))
	defer m.Close()

	require.NoError(t, m.ExecuteInTransaction(context.Background(), func(ctx context.Context) error {
		return nil
	}))

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, m.Reap())
	assert.Equal(t, 0, m.Reap())
}
