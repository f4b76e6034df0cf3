package transaction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/forgefit/forgefit/internal/store"
	"github.com/forgefit/forgefit/internal/transaction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressDoc struct {
	UserID     string `json:"userId"`
	CurrentDay int    `json:"currentDay"`
}

func TestTransaction_CommitAllSucceed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	tx := transaction.New(st, "user-1")

	op1 := tx.AddCreate(store.CollectionUserProgress, "prog-1", progressDoc{UserID: "user-1", CurrentDay: 0})
	op2 := tx.AddCreate(store.CollectionExerciseCompletions, "", map[string]any{"userId": "user-1"})
	assert.Equal(t, "op-1", op1)
	assert.Equal(t, "op-2", op2)
	assert.Equal(t, transaction.StatusPending, tx.Status())

	res := tx.Commit(ctx)
	require.True(t, res.Success)
	assert.Equal(t, tx.ID(), res.TransactionID)
	assert.Equal(t, transaction.StatusCommitted, tx.Status())
	require.Len(t, res.Results, 2)
	for _, opRes := range res.Results {
		assert.True(t, opRes.Success)
		assert.NotEmpty(t, opRes.DocumentID)
	}

	doc, err := st.FindByID(ctx, store.CollectionUserProgress, "prog-1")
	require.NoError(t, err)
	var p progressDoc
	require.NoError(t, store.Decode(doc, &p))
	assert.Equal(t, "user-1", p.UserID)
}

func TestTransaction_SecondOpFailureRollsBackFirstAndSkipsThird(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	_, err := st.Create(ctx, store.CollectionUserProgress, "prog-1", progressDoc{UserID: "user-1", CurrentDay: 3})
	require.NoError(t, err)

	tx := transaction.New(st, "user-1")
	tx.AddCreate(store.CollectionExerciseCompletions, "comp-1", map[string]any{"userId": "user-1"})
	tx.AddUpdate(store.CollectionUserProgress, "prog-1", progressDoc{UserID: "user-1", CurrentDay: 4}, nil)
	tx.AddCreate(store.CollectionAuditEntries, "audit-1", map[string]any{"action": "progress_update"})

	st.FailNext["update:"+store.CollectionUserProgress] = errors.New("connection reset")

	res := tx.Commit(ctx)
	require.False(t, res.Success)
	assert.True(t, res.RolledBack)
	assert.Contains(t, res.Error, "op-2")
	assert.Contains(t, res.Error, "connection reset")
	assert.Equal(t, transaction.StatusFailed, tx.Status())

	// op-1 success then op-2 failure; op-3 never ran
	require.Len(t, res.Results, 2)
	assert.True(t, res.Results[0].Success)
	assert.False(t, res.Results[1].Success)

	// the first operation's create was undone
	_, err = st.FindByID(ctx, store.CollectionExerciseCompletions, "comp-1")
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)

	// the third operation never executed
	_, err = st.FindByID(ctx, store.CollectionAuditEntries, "audit-1")
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)

	// the untouched record still holds its old value
	doc, err := st.FindByID(ctx, store.CollectionUserProgress, "prog-1")
	require.NoError(t, err)
	var p progressDoc
	require.NoError(t, store.Decode(doc, &p))
	assert.Equal(t, 3, p.CurrentDay)
}

func TestTransaction_RollbackRestoresUpdatedAndDeletedDocs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	_, err := st.Create(ctx, store.CollectionUserProgress, "prog-1", progressDoc{UserID: "user-1", CurrentDay: 3})
	require.NoError(t, err)
	_, err = st.Create(ctx, store.CollectionExerciseCompletions, "comp-1", map[string]any{"userId": "user-1"})
	require.NoError(t, err)

	tx := transaction.New(st, "user-1")
	// originals are captured lazily, none supplied here
	tx.AddUpdate(store.CollectionUserProgress, "prog-1", progressDoc{UserID: "user-1", CurrentDay: 9}, nil)
	tx.AddDelete(store.CollectionExerciseCompletions, "comp-1", nil)
	tx.AddCreate(store.CollectionAuditEntries, "audit-1", map[string]any{"action": "progress_update"})

	st.FailNext["create:"+store.CollectionAuditEntries] = errors.New("store down")

	res := tx.Commit(ctx)
	require.False(t, res.Success)
	assert.Equal(t, transaction.StatusFailed, tx.Status())

	// update written back
	doc, err := st.FindByID(ctx, store.CollectionUserProgress, "prog-1")
	require.NoError(t, err)
	var p progressDoc
	require.NoError(t, store.Decode(doc, &p))
	assert.Equal(t, 3, p.CurrentDay)

	// deleted record recreated
	_, err = st.FindByID(ctx, store.CollectionExerciseCompletions, "comp-1")
	assert.NoError(t, err)
}

func TestTransaction_MissingOriginalDisablesUndoOnly(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	_, err := st.Create(ctx, store.CollectionUserProgress, "prog-1", progressDoc{UserID: "user-1", CurrentDay: 3})
	require.NoError(t, err)

	tx := transaction.New(st, "user-1")
	tx.AddUpdate(store.CollectionUserProgress, "prog-1", progressDoc{UserID: "user-1", CurrentDay: 4}, nil)
	tx.AddCreate(store.CollectionAuditEntries, "audit-1", map[string]any{"action": "progress_update"})

	// the snapshot fetch fails, the update itself still goes through
	st.FailNext["findByID:"+store.CollectionUserProgress] = errors.New("timeout")
	st.FailNext["create:"+store.CollectionAuditEntries] = errors.New("store down")

	res := tx.Commit(ctx)
	require.False(t, res.Success)

	// without the original snapshot the update cannot be undone: the new
	// value stays, documented best-effort behavior
	doc, err := st.FindByID(ctx, store.CollectionUserProgress, "prog-1")
	require.NoError(t, err)
	var p progressDoc
	require.NoError(t, store.Decode(doc, &p))
	assert.Equal(t, 4, p.CurrentDay)
}

func TestTransaction_RollbackCommitted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	tx := transaction.New(st, "user-1")
	tx.AddCreate(store.CollectionUserProgress, "prog-1", progressDoc{UserID: "user-1"})

	// refuses before commit
	require.Error(t, tx.RollbackCommitted(ctx, "testing"))

	res := tx.Commit(ctx)
	require.True(t, res.Success)

	require.NoError(t, tx.RollbackCommitted(ctx, "validation failed after commit"))
	assert.Equal(t, transaction.StatusRolledBack, tx.Status())

	_, err := st.FindByID(ctx, store.CollectionUserProgress, "prog-1")
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)

	// a rolled back transaction cannot be rolled back again
	require.Error(t, tx.RollbackCommitted(ctx, "again"))
}

func TestTransaction_CommitTwiceRefused(t *testing.T) {
	ctx := context.Background()
	tx := transaction.New(store.NewMemStore(), "user-1")
	tx.AddCreate(store.CollectionUserProgress, "prog-1", progressDoc{UserID: "user-1"})

	require.True(t, tx.Commit(ctx).Success)
	res := tx.Commit(ctx)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not pending")
}
