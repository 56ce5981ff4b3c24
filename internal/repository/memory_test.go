package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/familypoints/internal/model"
)

func TestMemoryWithinUserTx_RollsBackOnError(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	userID := uuid.New()
	stock := int64(2)
	rw := model.Reward{ID: uuid.New(), Name: "Toy", PointsRequired: 5, Stock: &stock, Status: model.RewardActive}
	require.NoError(t, r.CreateReward(ctx, rw))

	fail := errors.New("abort")
	err := r.WithinUserTx(ctx, userID, func(tx Tx) error {
		require.NoError(t, tx.SetBalance(ctx, 42, time.Now()))
		require.NoError(t, tx.AppendLedgerEntry(ctx, model.LedgerEntry{ID: uuid.New(), UserID: userID, Amount: 42}))
		_, err := tx.GetRewardForUpdate(ctx, rw.ID)
		require.NoError(t, err)
		require.NoError(t, tx.SetRewardStock(ctx, rw.ID, 1))
		return fail
	})
	require.ErrorIs(t, err, fail)

	entries, err := r.ListLedgerEntries(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	stored, err := r.GetReward(ctx, rw.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), *stored.Stock)

	err = r.WithinUserTx(ctx, userID, func(tx Tx) error {
		b, err := tx.Balance(ctx)
		require.NoError(t, err)
		assert.Zero(t, b.Amount)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryWithinUserTx_RejectsInvalidWrites(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	userID := uuid.New()

	err := r.WithinUserTx(ctx, userID, func(tx Tx) error {
		assert.Error(t, tx.SetBalance(ctx, -1, time.Now()))
		assert.Error(t, tx.AppendLedgerEntry(ctx, model.LedgerEntry{ID: uuid.New(), UserID: uuid.New()}))
		assert.Error(t, tx.SetRewardStock(ctx, uuid.New(), 1))
		_, err := tx.GetRewardForUpdate(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryWithinUserTx_CanceledContext(t *testing.T) {
	r := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := r.WithinUserTx(ctx, uuid.New(), func(tx Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryWithinUserTx_RewardLockSerializesUsers(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	stock := int64(100)
	rw := model.Reward{ID: uuid.New(), Name: "Sticker", PointsRequired: 1, Stock: &stock, Status: model.RewardActive}
	require.NoError(t, r.CreateReward(ctx, rw))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.WithinUserTx(ctx, uuid.New(), func(tx Tx) error {
				locked, err := tx.GetRewardForUpdate(ctx, rw.ID)
				if err != nil {
					return err
				}
				return tx.SetRewardStock(ctx, rw.ID, *locked.Stock-1)
			})
		}()
	}
	wg.Wait()

	stored, err := r.GetReward(ctx, rw.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), *stored.Stock)
}

func TestMemoryCompletions(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	task := model.Task{ID: uuid.New(), FamilyID: uuid.New(), Title: "Homework", PointsReward: 5}
	require.NoError(t, r.CreateTask(ctx, task))

	owner, other := uuid.New(), uuid.New()
	first := model.TaskCompletion{ID: uuid.New(), TaskID: task.ID, UserID: owner, Status: model.CompletionPendingApproval}
	second := model.TaskCompletion{ID: uuid.New(), TaskID: task.ID, UserID: other, Status: model.CompletionPendingApproval}
	require.NoError(t, r.CreateCompletion(ctx, first))
	require.NoError(t, r.CreateCompletion(ctx, second))

	err := r.CreateCompletion(ctx, model.TaskCompletion{ID: uuid.New(), TaskID: uuid.New(), UserID: owner})
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := r.ListCompletions(ctx, CompletionFilter{TaskID: task.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	mine, err := r.ListCompletions(ctx, CompletionFilter{UserID: owner, Status: model.CompletionPendingApproval})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].ID)

	err = r.WithinUserTx(ctx, owner, func(tx Tx) error {
		_, err := tx.GetCompletionForUpdate(ctx, second.ID)
		assert.ErrorIs(t, err, ErrForeignCompletion)

		c, err := tx.GetCompletionForUpdate(ctx, first.ID)
		require.NoError(t, err)
		c.Status = model.CompletionCompleted
		return tx.UpdateCompletion(ctx, *c)
	})
	require.NoError(t, err)

	stored, err := r.GetCompletion(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CompletionCompleted, stored.Status)
}

func TestMemoryListTasks(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	familyID, otherFamily := uuid.New(), uuid.New()

	first := model.Task{ID: uuid.New(), FamilyID: familyID, Title: "Wash dishes", PointsReward: 10}
	second := model.Task{ID: uuid.New(), FamilyID: familyID, Title: "Walk the dog", PointsReward: 5}
	foreign := model.Task{ID: uuid.New(), FamilyID: otherFamily, Title: "Homework", PointsReward: 7}
	for _, task := range []model.Task{first, foreign, second} {
		require.NoError(t, r.CreateTask(ctx, task))
	}

	tasks, err := r.ListTasks(ctx, familyID)
	require.NoError(t, err)
	assert.Equal(t, []model.Task{second, first}, tasks)

	tasks, err = r.ListTasks(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
