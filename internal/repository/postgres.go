package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/familypoints/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	retryDelays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:        pool,
		retryDelays: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// commitError помечает ошибку фиксации транзакции: после неё повтор безопасен
// только при явном откате со стороны сервера.
type commitError struct {
	err error
}

func (e *commitError) Error() string { return "commit tx: " + e.err.Error() }
func (e *commitError) Unwrap() error { return e.err }

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.retryDelays) {
			break
		}

		timer := time.NewTimer(r.retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	// Serialization Failure и Deadlock означают, что сервер откатил транзакцию целиком.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	// Исход фиксации при обрыве соединения неизвестен, такие ошибки не повторяем.
	var cErr *commitError
	if errors.As(err, &cErr) {
		return false
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinUserTx выполняет fn в транзакции, заблокировав строку баланса пользователя.
// Транзакция целиком повторяется при конфликте сериализации или взаимной блокировке.
func (r *PostgresRepository) WithinUserTx(ctx context.Context, userID uuid.UUID, fn func(tx Tx) error) error {
	return r.withRetry(ctx, func() error {
		return r.runUserTx(ctx, userID, fn)
	})
}

func (r *PostgresRepository) runUserTx(ctx context.Context, userID uuid.UUID, fn func(tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO point_balances (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}

	// Блокируем строку баланса: все операции пользователя выполняются последовательно.
	pt := &pgTx{tx: tx, userID: userID}
	pt.balance.UserID = userID
	err = tx.QueryRow(ctx,
		`SELECT balance, created_at, updated_at FROM point_balances WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&pt.balance.Amount, &pt.balance.CreatedAt, &pt.balance.UpdatedAt)
	if err != nil {
		return fmt.Errorf("lock balance for update: %w", err)
	}

	if err := fn(pt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &commitError{err: err}
	}

	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTx struct {
	tx      pgx.Tx
	userID  uuid.UUID
	balance model.Balance
}

func (t *pgTx) Balance(ctx context.Context) (model.Balance, error) {
	return t.balance, nil
}

func (t *pgTx) SetBalance(ctx context.Context, amount int64, updatedAt time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE point_balances SET balance = $2, updated_at = $3 WHERE user_id = $1`,
		t.userID, amount, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	t.balance.Amount = amount
	t.balance.UpdatedAt = updatedAt
	return nil
}

func (t *pgTx) AppendLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO point_records (id, user_id, type, amount, related_id, related_type, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, string(e.Direction), e.Amount, e.CauseID, string(e.CauseKind), e.Description, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (t *pgTx) GetRewardForUpdate(ctx context.Context, id uuid.UUID) (*model.Reward, error) {
	return getReward(ctx, t.tx, `SELECT `+rewardColumns+` FROM rewards WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) SetRewardStock(ctx context.Context, id uuid.UUID, stock int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE rewards SET stock = $2 WHERE id = $1`, id, stock)
	if err != nil {
		return fmt.Errorf("update reward stock: %w", err)
	}
	return nil
}

func (t *pgTx) InsertRedemption(ctx context.Context, rd model.RewardRedemption) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reward_redemptions (id, user_id, reward_id, points_spent, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rd.ID, rd.UserID, rd.RewardID, rd.PointsSpent, string(rd.Status), rd.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

func (t *pgTx) GetCompletionForUpdate(ctx context.Context, id uuid.UUID) (*model.TaskCompletion, error) {
	c, err := getCompletion(ctx, t.tx, `SELECT `+completionColumns+` FROM task_completions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != t.userID {
		return nil, ErrForeignCompletion
	}
	return c, nil
}

func (t *pgTx) UpdateCompletion(ctx context.Context, c model.TaskCompletion) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE task_completions
		 SET status = $2, approval_level_id = $3, points_earned = $4, approved_by = $5, approved_at = $6, updated_at = $7
		 WHERE id = $1`,
		c.ID, string(c.Status), c.ApprovalLevelID, c.PointsEarned, c.ApprovedBy, c.ApprovedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update completion: %w", err)
	}
	return nil
}

func (t *pgTx) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	return getTask(ctx, t.tx, id)
}

// ListLedgerEntries возвращает записи журнала пользователя в порядке добавления.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, userID uuid.UUID) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, amount, related_id, related_type, description, created_at
		 FROM point_records
		 WHERE user_id = $1
		 ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var (
			e         model.LedgerEntry
			direction string
			causeKind string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &direction, &e.Amount, &e.CauseID, &causeKind, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Direction = model.Direction(direction)
		e.CauseKind = model.CauseKind(causeKind)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateTask сохраняет задание.
func (r *PostgresRepository) CreateTask(ctx context.Context, task model.Task) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tasks (id, family_id, title, description, points_reward, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, task.FamilyID, task.Title, task.Description, task.PointsReward, task.CreatedBy, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask возвращает задание по идентификатору.
func (r *PostgresRepository) GetTask(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	return getTask(ctx, r.pool, id)
}

func getTask(ctx context.Context, q querier, id uuid.UUID) (*model.Task, error) {
	var t model.Task
	err := q.QueryRow(ctx,
		`SELECT id, family_id, title, description, points_reward, created_by, created_at FROM tasks WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.FamilyID, &t.Title, &t.Description, &t.PointsReward, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// ListTasks возвращает задания семьи от новых к старым.
func (r *PostgresRepository) ListTasks(ctx context.Context, familyID uuid.UUID) ([]model.Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, family_id, title, description, points_reward, created_by, created_at
		 FROM tasks
		 WHERE family_id = $1
		 ORDER BY created_at DESC, id`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()

	var res []model.Task
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(&t.ID, &t.FamilyID, &t.Title, &t.Description, &t.PointsReward, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const completionColumns = `id, task_id, user_id, status, approval_level_id, points_earned, approved_by,
	completed_at, approved_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompletion(row rowScanner) (*model.TaskCompletion, error) {
	var (
		c      model.TaskCompletion
		status string
	)
	err := row.Scan(&c.ID, &c.TaskID, &c.UserID, &status, &c.ApprovalLevelID, &c.PointsEarned, &c.ApprovedBy,
		&c.CompletedAt, &c.ApprovedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.CompletionStatus(status)
	return &c, nil
}

func getCompletion(ctx context.Context, q querier, query string, id uuid.UUID) (*model.TaskCompletion, error) {
	c, err := scanCompletion(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return c, nil
}

// CreateCompletion сохраняет заявку о выполнении задания.
func (r *PostgresRepository) CreateCompletion(ctx context.Context, c model.TaskCompletion) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO task_completions (id, task_id, user_id, status, points_earned, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.TaskID, c.UserID, string(c.Status), c.PointsEarned, c.CompletedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: task %s", ErrNotFound, c.TaskID)
		}
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

// GetCompletion возвращает заявку по идентификатору.
func (r *PostgresRepository) GetCompletion(ctx context.Context, id uuid.UUID) (*model.TaskCompletion, error) {
	return getCompletion(ctx, r.pool, `SELECT `+completionColumns+` FROM task_completions WHERE id = $1`, id)
}

// ListCompletions возвращает заявки, подходящие под фильтр, от новых к старым.
func (r *PostgresRepository) ListCompletions(ctx context.Context, filter CompletionFilter) ([]model.TaskCompletion, error) {
	var (
		conds []string
		args  []any
	)
	if filter.UserID != uuid.Nil {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.TaskID != uuid.Nil {
		args = append(args, filter.TaskID)
		conds = append(conds, fmt.Sprintf("task_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + completionColumns + ` FROM task_completions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select completions: %w", err)
	}
	defer rows.Close()

	var res []model.TaskCompletion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const rewardColumns = `id, family_id, name, description, points_required, stock, status, created_at`

func scanReward(row rowScanner) (*model.Reward, error) {
	var (
		rw     model.Reward
		status string
	)
	if err := row.Scan(&rw.ID, &rw.FamilyID, &rw.Name, &rw.Description, &rw.PointsRequired, &rw.Stock, &status, &rw.CreatedAt); err != nil {
		return nil, err
	}
	rw.Status = model.RewardStatus(status)
	return &rw, nil
}

func getReward(ctx context.Context, q querier, query string, id uuid.UUID) (*model.Reward, error) {
	rw, err := scanReward(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return rw, nil
}

// CreateReward сохраняет награду каталога.
func (r *PostgresRepository) CreateReward(ctx context.Context, rw model.Reward) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rewards (id, family_id, name, description, points_required, stock, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rw.ID, rw.FamilyID, rw.Name, rw.Description, rw.PointsRequired, rw.Stock, string(rw.Status), rw.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reward: %w", err)
	}
	return nil
}

// GetReward возвращает награду по идентификатору.
func (r *PostgresRepository) GetReward(ctx context.Context, id uuid.UUID) (*model.Reward, error) {
	return getReward(ctx, r.pool, `SELECT `+rewardColumns+` FROM rewards WHERE id = $1`, id)
}

// ListRewards возвращает активные награды семьи.
func (r *PostgresRepository) ListRewards(ctx context.Context, familyID uuid.UUID) ([]model.Reward, error) {
	return r.listRewards(ctx,
		`SELECT `+rewardColumns+` FROM rewards WHERE family_id = $1 AND status = $2 ORDER BY created_at`,
		familyID, string(model.RewardActive),
	)
}

// ListDefaultRewards возвращает активные общие награды.
func (r *PostgresRepository) ListDefaultRewards(ctx context.Context) ([]model.Reward, error) {
	return r.listRewards(ctx,
		`SELECT `+rewardColumns+` FROM rewards WHERE family_id IS NULL AND status = $1 ORDER BY created_at`,
		string(model.RewardActive),
	)
}

func (r *PostgresRepository) listRewards(ctx context.Context, query string, args ...any) ([]model.Reward, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.Reward
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		res = append(res, *rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListRedemptions возвращает историю обменов пользователя.
func (r *PostgresRepository) ListRedemptions(ctx context.Context, userID uuid.UUID) ([]model.RewardRedemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, reward_id, points_spent, status, created_at
		 FROM reward_redemptions
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	var res []model.RewardRedemption
	for rows.Next() {
		var (
			rd     model.RewardRedemption
			status string
		)
		if err := rows.Scan(&rd.ID, &rd.UserID, &rd.RewardID, &rd.PointsSpent, &status, &rd.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		rd.Status = model.RedemptionStatus(status)
		res = append(res, rd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
