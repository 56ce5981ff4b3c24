package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/familypoints/internal/metrics"
	"github.com/mmeshcher/familypoints/internal/model"
	"github.com/mmeshcher/familypoints/internal/repository"
	"github.com/mmeshcher/familypoints/internal/validation"
)

// CreateRewardRequest описывает новую награду каталога.
type CreateRewardRequest struct {
	Name           string `json:"name" validate:"required,max=100"`
	Description    string `json:"description" validate:"max=500"`
	PointsRequired int64  `json:"pointsRequired" validate:"gt=0"`
	Stock          *int64 `json:"stock" validate:"omitempty,gte=0"`
	Default        bool   `json:"default"`
}

// Redeem обменивает баллы пользователя на награду.
//
// Списание, запись об обмене и уменьшение остатка выполняются одной транзакцией:
// при любом отказе ни баланс, ни журнал, ни остаток не меняются.
func (s *Service) Redeem(ctx context.Context, userID, rewardID uuid.UUID) (model.RewardRedemption, error) {
	if userID == uuid.Nil || rewardID == uuid.Nil {
		return model.RewardRedemption{}, fmt.Errorf("%w: user and reward ids are required", ErrInvalidRequest)
	}

	var (
		redemption model.RewardRedemption
		entry      model.LedgerEntry
		reward     model.Reward
	)
	err := s.repo.WithinUserTx(ctx, userID, func(tx repository.Tx) error {
		rw, err := tx.GetRewardForUpdate(ctx, rewardID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRewardNotFound
		}
		if err != nil {
			return err
		}
		if rw.Status != model.RewardActive {
			return ErrRewardNotFound
		}
		if !rw.Unlimited() && *rw.Stock <= 0 {
			return ErrRewardOutOfStock
		}

		redemptionID := uuid.New()
		e, err := s.debit(ctx, tx, Movement{
			UserID:      userID,
			Amount:      rw.PointsRequired,
			CauseID:     redemptionID,
			CauseKind:   model.CauseRewardRedemption,
			Description: rw.Name,
		})
		if err != nil {
			return err
		}

		rd := model.RewardRedemption{
			ID:          redemptionID,
			UserID:      userID,
			RewardID:    rw.ID,
			PointsSpent: rw.PointsRequired,
			Status:      model.RedemptionCompleted,
			CreatedAt:   e.CreatedAt,
		}
		if err := tx.InsertRedemption(ctx, rd); err != nil {
			return err
		}
		if !rw.Unlimited() {
			if err := tx.SetRewardStock(ctx, rw.ID, *rw.Stock-1); err != nil {
				return err
			}
		}

		redemption, entry, reward = rd, e, *rw
		return nil
	})
	if err != nil {
		s.metrics.Redemption(outcome(err))
		if !IsBusinessError(err) {
			err = fmt.Errorf("redeem reward: %w", err)
		}
		return model.RewardRedemption{}, err
	}

	s.metrics.Redemption(metrics.OutcomeSuccess)
	s.recordEntry(entry)
	s.logger.Info("reward redeemed",
		zap.String("userID", userID.String()),
		zap.String("rewardID", reward.ID.String()),
		zap.Int64("points", redemption.PointsSpent))

	s.notifier.Notify(ctx, model.Notification{
		UserID:      userID,
		Kind:        model.NotificationRewardRedeemed,
		Title:       "Reward redeemed",
		Body:        fmt.Sprintf("You redeemed %q for %d points", reward.Name, redemption.PointsSpent),
		RelatedID:   redemption.ID,
		RelatedKind: string(model.CauseRewardRedemption),
	})
	return redemption, nil
}

// CreateReward добавляет награду в каталог семьи или, если req.Default, в общий каталог.
func (s *Service) CreateReward(ctx context.Context, familyID uuid.UUID, req CreateRewardRequest) (model.Reward, error) {
	if err := validation.Struct(req); err != nil {
		return model.Reward{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.Default && familyID == uuid.Nil {
		return model.Reward{}, fmt.Errorf("%w: family id is required", ErrInvalidRequest)
	}

	rw := model.Reward{
		ID:             uuid.New(),
		Name:           req.Name,
		Description:    req.Description,
		PointsRequired: req.PointsRequired,
		Status:         model.RewardActive,
		CreatedAt:      s.now().UTC().Truncate(timePrecision),
	}
	if !req.Default {
		rw.FamilyID = &familyID
	}
	if req.Stock != nil {
		stock := *req.Stock
		rw.Stock = &stock
	}

	if err := s.repo.CreateReward(ctx, rw); err != nil {
		return model.Reward{}, fmt.Errorf("create reward: %w", err)
	}
	return rw, nil
}

// GetReward возвращает награду по идентификатору.
func (s *Service) GetReward(ctx context.Context, id uuid.UUID) (model.Reward, error) {
	rw, err := s.repo.GetReward(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reward{}, ErrRewardNotFound
	}
	if err != nil {
		return model.Reward{}, fmt.Errorf("get reward: %w", err)
	}
	return *rw, nil
}

// ListFamilyRewards возвращает активные награды семьи.
func (s *Service) ListFamilyRewards(ctx context.Context, familyID uuid.UUID) ([]model.Reward, error) {
	if familyID == uuid.Nil {
		return nil, fmt.Errorf("%w: family id is required", ErrInvalidRequest)
	}
	rewards, err := s.repo.ListRewards(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family rewards: %w", err)
	}
	return rewards, nil
}

// ListDefaultRewards возвращает активные общие награды.
func (s *Service) ListDefaultRewards(ctx context.Context) ([]model.Reward, error) {
	rewards, err := s.repo.ListDefaultRewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list default rewards: %w", err)
	}
	return rewards, nil
}

// ListRedemptions возвращает историю обменов пользователя.
func (s *Service) ListRedemptions(ctx context.Context, userID uuid.UUID) ([]model.RewardRedemption, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	redemptions, err := s.repo.ListRedemptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	return redemptions, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case IsBusinessError(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}
