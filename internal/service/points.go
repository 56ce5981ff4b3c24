package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/familypoints/internal/model"
	"github.com/mmeshcher/familypoints/internal/repository"
	"github.com/mmeshcher/familypoints/internal/validation"
)

// ErrLedgerMismatch возвращается, если баланс не совпадает с суммой журнала.
var ErrLedgerMismatch = errors.New("balance does not match ledger")

// Movement описывает начисление или списание баллов.
type Movement struct {
	UserID      uuid.UUID
	Amount      int64
	CauseID     uuid.UUID
	CauseKind   model.CauseKind
	Description string
}

func (m Movement) validate() error {
	if m.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if !validation.IsPositiveAmount(m.Amount) {
		return ErrInvalidAmount
	}
	if m.CauseID == uuid.Nil || !m.CauseKind.Valid() {
		return ErrInvalidCause
	}
	return nil
}

// Credit начисляет баллы пользователю и добавляет запись в журнал.
func (s *Service) Credit(ctx context.Context, m Movement) (model.LedgerEntry, error) {
	if err := m.validate(); err != nil {
		return model.LedgerEntry{}, err
	}

	var entry model.LedgerEntry
	err := s.repo.WithinUserTx(ctx, m.UserID, func(tx repository.Tx) error {
		var err error
		entry, err = s.credit(ctx, tx, m)
		return err
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}

	s.recordEntry(entry)
	return entry, nil
}

// Debit списывает баллы пользователя, если баланса достаточно.
func (s *Service) Debit(ctx context.Context, m Movement) (model.LedgerEntry, error) {
	if err := m.validate(); err != nil {
		return model.LedgerEntry{}, err
	}

	var entry model.LedgerEntry
	err := s.repo.WithinUserTx(ctx, m.UserID, func(tx repository.Tx) error {
		var err error
		entry, err = s.debit(ctx, tx, m)
		return err
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}

	s.recordEntry(entry)
	return entry, nil
}

// GetBalance возвращает баланс пользователя, создавая нулевой при первом обращении.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	if userID == uuid.Nil {
		return model.Balance{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	var b model.Balance
	err := s.repo.WithinUserTx(ctx, userID, func(tx repository.Tx) error {
		var err error
		b, err = tx.Balance(ctx)
		return err
	})
	if err != nil {
		return model.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// History возвращает журнал баллов пользователя в порядке добавления.
func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]model.LedgerEntry, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	entries, err := s.repo.ListLedgerEntries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// Reconciliation содержит результат сверки баланса с журналом.
type Reconciliation struct {
	Balance   int64 `json:"balance"`
	LedgerSum int64 `json:"ledgerSum"`
	Entries   int   `json:"entries"`
}

// Reconcile сверяет баланс пользователя с суммой его журнала.
// Баланс блокируется на время сверки, поэтому параллельные изменения её не искажают.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID) (Reconciliation, error) {
	if userID == uuid.Nil {
		return Reconciliation{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	var rec Reconciliation
	err := s.repo.WithinUserTx(ctx, userID, func(tx repository.Tx) error {
		b, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		entries, err := s.repo.ListLedgerEntries(ctx, userID)
		if err != nil {
			return err
		}

		rec = Reconciliation{Balance: b.Amount, Entries: len(entries)}
		for _, e := range entries {
			rec.LedgerSum += e.Signed()
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, fmt.Errorf("reconcile: %w", err)
	}

	if rec.Balance != rec.LedgerSum {
		s.logger.Error("ledger mismatch",
			zap.String("userID", userID.String()),
			zap.Int64("balance", rec.Balance),
			zap.Int64("ledgerSum", rec.LedgerSum))
		return rec, ErrLedgerMismatch
	}
	return rec, nil
}

// credit выполняет начисление внутри уже открытой транзакции пользователя.
func (s *Service) credit(ctx context.Context, tx repository.Tx, m Movement) (model.LedgerEntry, error) {
	b, err := tx.Balance(ctx)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if m.Amount > math.MaxInt64-b.Amount {
		return model.LedgerEntry{}, fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}

	return s.apply(ctx, tx, b, b.Amount+m.Amount, model.DirectionEarned, m)
}

// debit выполняет списание внутри уже открытой транзакции пользователя.
func (s *Service) debit(ctx context.Context, tx repository.Tx, m Movement) (model.LedgerEntry, error) {
	b, err := tx.Balance(ctx)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if b.Amount < m.Amount {
		return model.LedgerEntry{}, ErrInsufficientBalance
	}

	return s.apply(ctx, tx, b, b.Amount-m.Amount, model.DirectionSpent, m)
}

func (s *Service) apply(ctx context.Context, tx repository.Tx, b model.Balance, amount int64, dir model.Direction, m Movement) (model.LedgerEntry, error) {
	now := s.timestamp(b)
	entry := model.LedgerEntry{
		ID:          uuid.New(),
		UserID:      m.UserID,
		Direction:   dir,
		Amount:      m.Amount,
		CauseID:     m.CauseID,
		CauseKind:   m.CauseKind,
		Description: m.Description,
		CreatedAt:   now,
	}

	if err := tx.SetBalance(ctx, amount, now); err != nil {
		return model.LedgerEntry{}, err
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

func (s *Service) recordEntry(e model.LedgerEntry) {
	s.metrics.LedgerEntry(string(e.Direction), string(e.CauseKind), e.Amount)
	s.logger.Debug("ledger entry appended",
		zap.String("userID", e.UserID.String()),
		zap.String("direction", string(e.Direction)),
		zap.Int64("amount", e.Amount),
		zap.String("causeID", e.CauseID.String()),
		zap.String("causeKind", string(e.CauseKind)))
}
