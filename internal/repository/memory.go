package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/familypoints/internal/model"
)

// MemoryRepository хранит данные в памяти процесса.
//
// Транзакция пользователя удерживает мьютекс этого пользователя, а
// также мьютексы заблокированных в ней наград. Порядок захвата всегда
// «пользователь, затем награды», поэтому взаимных блокировок нет.
// Изменения транзакции копятся в ней и применяются только при фиксации.
//
// Мьютексы пользователей и наград создаются при первом обращении и не
// удаляются, поэтому память растёт с числом идентификаторов. Хранилище
// предназначено для разработки и тестов.
type MemoryRepository struct {
	mu          sync.Mutex
	userLocks   map[uuid.UUID]*sync.Mutex
	rewardLocks map[uuid.UUID]*sync.Mutex

	balances map[uuid.UUID]model.Balance
	ledger   map[uuid.UUID][]model.LedgerEntry

	tasks           map[uuid.UUID]model.Task
	taskOrder       []uuid.UUID
	completions     map[uuid.UUID]model.TaskCompletion
	completionOrder []uuid.UUID
	rewards         map[uuid.UUID]model.Reward
	rewardOrder     []uuid.UUID
	redemptions     []model.RewardRedemption
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		userLocks:   make(map[uuid.UUID]*sync.Mutex),
		rewardLocks: make(map[uuid.UUID]*sync.Mutex),
		balances:    make(map[uuid.UUID]model.Balance),
		ledger:      make(map[uuid.UUID][]model.LedgerEntry),
		tasks:       make(map[uuid.UUID]model.Task),
		completions: make(map[uuid.UUID]model.TaskCompletion),
		rewards:     make(map[uuid.UUID]model.Reward),
	}
}

// Close ничего не делает: ресурсов вне памяти нет.
func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) lockFor(locks map[uuid.UUID]*sync.Mutex, id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := locks[id]
	if !ok {
		l = &sync.Mutex{}
		locks[id] = l
	}
	return l
}

// WithinUserTx выполняет fn под мьютексом пользователя и применяет изменения, если fn вернула nil.
func (r *MemoryRepository) WithinUserTx(ctx context.Context, userID uuid.UUID, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	userLock := r.lockFor(r.userLocks, userID)
	userLock.Lock()
	defer userLock.Unlock()

	r.mu.Lock()
	b, ok := r.balances[userID]
	r.mu.Unlock()
	if !ok {
		now := time.Now()
		b = model.Balance{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}

	tx := &memTx{
		repo:        r,
		userID:      userID,
		balance:     b,
		rewards:     make(map[uuid.UUID]model.Reward),
		completions: make(map[uuid.UUID]model.TaskCompletion),
	}
	defer tx.releaseRewards()

	if err := fn(tx); err != nil {
		return err
	}

	r.commit(tx)
	return nil
}

func (r *MemoryRepository) commit(tx *memTx) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.balances[tx.userID] = tx.balance
	r.ledger[tx.userID] = append(r.ledger[tx.userID], tx.entries...)
	for id, rw := range tx.rewards {
		r.rewards[id] = rw
	}
	r.redemptions = append(r.redemptions, tx.redemptions...)
	for id, c := range tx.completions {
		r.completions[id] = c
	}
}

type memTx struct {
	repo   *MemoryRepository
	userID uuid.UUID

	balance     model.Balance
	entries     []model.LedgerEntry
	rewards     map[uuid.UUID]model.Reward
	heldRewards []*sync.Mutex
	redemptions []model.RewardRedemption
	completions map[uuid.UUID]model.TaskCompletion
}

func (t *memTx) releaseRewards() {
	for i := len(t.heldRewards) - 1; i >= 0; i-- {
		t.heldRewards[i].Unlock()
	}
}

func (t *memTx) Balance(ctx context.Context) (model.Balance, error) {
	return t.balance, nil
}

func (t *memTx) SetBalance(ctx context.Context, amount int64, updatedAt time.Time) error {
	if amount < 0 {
		return fmt.Errorf("update balance: negative amount %d", amount)
	}
	t.balance.Amount = amount
	t.balance.UpdatedAt = updatedAt
	return nil
}

func (t *memTx) AppendLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	if e.UserID != t.userID {
		return fmt.Errorf("insert ledger entry: user %s outside tx scope", e.UserID)
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) GetRewardForUpdate(ctx context.Context, id uuid.UUID) (*model.Reward, error) {
	if rw, ok := t.rewards[id]; ok {
		return cloneReward(rw), nil
	}

	t.repo.mu.Lock()
	_, exists := t.repo.rewards[id]
	t.repo.mu.Unlock()
	if !exists {
		return nil, ErrNotFound
	}

	l := t.repo.lockFor(t.repo.rewardLocks, id)
	l.Lock()
	t.heldRewards = append(t.heldRewards, l)

	t.repo.mu.Lock()
	rw := t.repo.rewards[id]
	t.repo.mu.Unlock()

	t.rewards[id] = rw
	return cloneReward(rw), nil
}

func (t *memTx) SetRewardStock(ctx context.Context, id uuid.UUID, stock int64) error {
	rw, ok := t.rewards[id]
	if !ok {
		return fmt.Errorf("update reward stock: reward %s is not locked", id)
	}
	if stock < 0 {
		return fmt.Errorf("update reward stock: negative stock %d", stock)
	}
	rw.Stock = &stock
	t.rewards[id] = rw
	return nil
}

func (t *memTx) InsertRedemption(ctx context.Context, rd model.RewardRedemption) error {
	t.redemptions = append(t.redemptions, rd)
	return nil
}

func (t *memTx) GetCompletionForUpdate(ctx context.Context, id uuid.UUID) (*model.TaskCompletion, error) {
	if c, ok := t.completions[id]; ok {
		return &c, nil
	}

	t.repo.mu.Lock()
	c, ok := t.repo.completions[id]
	t.repo.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if c.UserID != t.userID {
		return nil, ErrForeignCompletion
	}
	return &c, nil
}

func (t *memTx) UpdateCompletion(ctx context.Context, c model.TaskCompletion) error {
	if c.UserID != t.userID {
		return ErrForeignCompletion
	}
	t.completions[c.ID] = c
	return nil
}

func (t *memTx) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	return t.repo.GetTask(ctx, id)
}

// ListLedgerEntries возвращает копию журнала пользователя в порядке добавления.
func (r *MemoryRepository) ListLedgerEntries(ctx context.Context, userID uuid.UUID) ([]model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.ledger[userID]
	res := make([]model.LedgerEntry, len(entries))
	copy(res, entries)
	return res, nil
}

// CreateTask сохраняет задание.
func (r *MemoryRepository) CreateTask(ctx context.Context, task model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; ok {
		return fmt.Errorf("insert task: duplicate id %s", task.ID)
	}
	r.tasks[task.ID] = task
	r.taskOrder = append(r.taskOrder, task.ID)
	return nil
}

// GetTask возвращает задание по идентификатору.
func (r *MemoryRepository) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// ListTasks возвращает задания семьи от новых к старым.
func (r *MemoryRepository) ListTasks(ctx context.Context, familyID uuid.UUID) ([]model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Task
	for i := len(r.taskOrder) - 1; i >= 0; i-- {
		if t := r.tasks[r.taskOrder[i]]; t.FamilyID == familyID {
			res = append(res, t)
		}
	}
	return res, nil
}

// CreateCompletion сохраняет заявку о выполнении задания.
func (r *MemoryRepository) CreateCompletion(ctx context.Context, c model.TaskCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[c.TaskID]; !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, c.TaskID)
	}
	if _, ok := r.completions[c.ID]; ok {
		return fmt.Errorf("insert completion: duplicate id %s", c.ID)
	}
	r.completions[c.ID] = c
	r.completionOrder = append(r.completionOrder, c.ID)
	return nil
}

// GetCompletion возвращает заявку по идентификатору.
func (r *MemoryRepository) GetCompletion(ctx context.Context, id uuid.UUID) (*model.TaskCompletion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.completions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// ListCompletions возвращает заявки, подходящие под фильтр, от новых к старым.
func (r *MemoryRepository) ListCompletions(ctx context.Context, filter CompletionFilter) ([]model.TaskCompletion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.TaskCompletion
	for i := len(r.completionOrder) - 1; i >= 0; i-- {
		c := r.completions[r.completionOrder[i]]
		if filter.match(c) {
			res = append(res, c)
		}
	}
	return res, nil
}

// CreateReward сохраняет награду каталога.
func (r *MemoryRepository) CreateReward(ctx context.Context, rw model.Reward) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rewards[rw.ID]; ok {
		return fmt.Errorf("insert reward: duplicate id %s", rw.ID)
	}
	r.rewards[rw.ID] = *cloneReward(rw)
	r.rewardOrder = append(r.rewardOrder, rw.ID)
	return nil
}

// GetReward возвращает награду по идентификатору.
func (r *MemoryRepository) GetReward(ctx context.Context, id uuid.UUID) (*model.Reward, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rw, ok := r.rewards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReward(rw), nil
}

// ListRewards возвращает активные награды семьи.
func (r *MemoryRepository) ListRewards(ctx context.Context, familyID uuid.UUID) ([]model.Reward, error) {
	return r.listRewards(func(rw model.Reward) bool {
		return rw.FamilyID != nil && *rw.FamilyID == familyID
	}), nil
}

// ListDefaultRewards возвращает активные общие награды.
func (r *MemoryRepository) ListDefaultRewards(ctx context.Context) ([]model.Reward, error) {
	return r.listRewards(func(rw model.Reward) bool {
		return rw.FamilyID == nil
	}), nil
}

func (r *MemoryRepository) listRewards(match func(model.Reward) bool) []model.Reward {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Reward
	for _, id := range r.rewardOrder {
		rw := r.rewards[id]
		if rw.Status == model.RewardActive && match(rw) {
			res = append(res, *cloneReward(rw))
		}
	}
	return res
}

// ListRedemptions возвращает историю обменов пользователя от новых к старым.
func (r *MemoryRepository) ListRedemptions(ctx context.Context, userID uuid.UUID) ([]model.RewardRedemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.RewardRedemption
	for i := len(r.redemptions) - 1; i >= 0; i-- {
		if r.redemptions[i].UserID == userID {
			res = append(res, r.redemptions[i])
		}
	}
	return res, nil
}

func cloneReward(rw model.Reward) *model.Reward {
	if rw.Stock != nil {
		stock := *rw.Stock
		rw.Stock = &stock
	}
	if rw.FamilyID != nil {
		familyID := *rw.FamilyID
		rw.FamilyID = &familyID
	}
	return &rw
}
