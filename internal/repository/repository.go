// Package repository содержит хранилища баланса, журнала баллов, заданий и наград.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/familypoints/internal/model"
)

// ErrNotFound возвращается, если запрошенная запись отсутствует.
var ErrNotFound = errors.New("not found")

// ErrForeignCompletion возвращается при попытке заблокировать заявку другого пользователя внутри транзакции.
var ErrForeignCompletion = errors.New("completion belongs to another user")

// Store описывает хранилище сервиса.
//
// Все изменения баланса и журнала выполняются только через WithinUserTx:
// она лениво создаёт нулевой баланс пользователя, блокирует его до конца
// транзакции и фиксирует изменения, только если fn вернула nil.
// Транзакции разных пользователей друг друга не блокируют.
type Store interface {
	WithinUserTx(ctx context.Context, userID uuid.UUID, fn func(tx Tx) error) error

	ListLedgerEntries(ctx context.Context, userID uuid.UUID) ([]model.LedgerEntry, error)

	CreateTask(ctx context.Context, task model.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error)
	ListTasks(ctx context.Context, familyID uuid.UUID) ([]model.Task, error)

	CreateCompletion(ctx context.Context, c model.TaskCompletion) error
	GetCompletion(ctx context.Context, id uuid.UUID) (*model.TaskCompletion, error)
	ListCompletions(ctx context.Context, filter CompletionFilter) ([]model.TaskCompletion, error)

	CreateReward(ctx context.Context, r model.Reward) error
	GetReward(ctx context.Context, id uuid.UUID) (*model.Reward, error)
	ListRewards(ctx context.Context, familyID uuid.UUID) ([]model.Reward, error)
	ListDefaultRewards(ctx context.Context) ([]model.Reward, error)
	ListRedemptions(ctx context.Context, userID uuid.UUID) ([]model.RewardRedemption, error)

	Close() error
}

// Tx описывает операции, доступные внутри транзакции пользователя.
type Tx interface {
	// Balance возвращает заблокированный баланс пользователя транзакции.
	Balance(ctx context.Context) (model.Balance, error)
	SetBalance(ctx context.Context, amount int64, updatedAt time.Time) error
	AppendLedgerEntry(ctx context.Context, e model.LedgerEntry) error

	// GetRewardForUpdate блокирует награду до конца транзакции.
	GetRewardForUpdate(ctx context.Context, id uuid.UUID) (*model.Reward, error)
	SetRewardStock(ctx context.Context, id uuid.UUID, stock int64) error
	InsertRedemption(ctx context.Context, r model.RewardRedemption) error

	// GetCompletionForUpdate блокирует заявку пользователя транзакции.
	GetCompletionForUpdate(ctx context.Context, id uuid.UUID) (*model.TaskCompletion, error)
	UpdateCompletion(ctx context.Context, c model.TaskCompletion) error
	GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error)
}

// CompletionFilter ограничивает выборку заявок. Нулевые поля не фильтруют.
type CompletionFilter struct {
	UserID uuid.UUID
	TaskID uuid.UUID
	Status model.CompletionStatus
}

func (f CompletionFilter) match(c model.TaskCompletion) bool {
	if f.UserID != uuid.Nil && c.UserID != f.UserID {
		return false
	}
	if f.TaskID != uuid.Nil && c.TaskID != f.TaskID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}
