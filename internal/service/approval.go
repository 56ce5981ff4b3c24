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

// CreateTaskRequest описывает новое задание семьи.
type CreateTaskRequest struct {
	Title        string `json:"title" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=1000"`
	PointsReward int64  `json:"pointsReward" validate:"gt=0"`
}

// ApproveRequest описывает решение о подтверждении заявки.
type ApproveRequest struct {
	ApprovalLevelID uuid.UUID `json:"approvalLevelId" validate:"required"`
	Multiplier      float64   `json:"multiplier" validate:"gt=0"`
	ApprovedBy      uuid.UUID `json:"approvedBy" validate:"required"`
}

// CreateTask создаёт задание семьи.
func (s *Service) CreateTask(ctx context.Context, familyID, createdBy uuid.UUID, req CreateTaskRequest) (model.Task, error) {
	if familyID == uuid.Nil || createdBy == uuid.Nil {
		return model.Task{}, fmt.Errorf("%w: family and author ids are required", ErrInvalidRequest)
	}
	if err := validation.Struct(req); err != nil {
		return model.Task{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	task := model.Task{
		ID:           uuid.New(),
		FamilyID:     familyID,
		Title:        req.Title,
		Description:  req.Description,
		PointsReward: req.PointsReward,
		CreatedBy:    createdBy,
		CreatedAt:    s.now().UTC().Truncate(timePrecision),
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// GetTask возвращает задание по идентификатору.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	return *task, nil
}

// ListFamilyTasks возвращает задания семьи от новых к старым.
func (s *Service) ListFamilyTasks(ctx context.Context, familyID uuid.UUID) ([]model.Task, error) {
	if familyID == uuid.Nil {
		return nil, fmt.Errorf("%w: family id is required", ErrInvalidRequest)
	}
	tasks, err := s.repo.ListTasks(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family tasks: %w", err)
	}
	return tasks, nil
}

// SubmitCompletion создаёт заявку о выполнении задания, ожидающую подтверждения.
// Баллы начисляются только при подтверждении.
func (s *Service) SubmitCompletion(ctx context.Context, taskID, userID uuid.UUID) (model.TaskCompletion, error) {
	if taskID == uuid.Nil || userID == uuid.Nil {
		return model.TaskCompletion{}, fmt.Errorf("%w: task and user ids are required", ErrInvalidRequest)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return model.TaskCompletion{}, err
	}

	now := s.now().UTC().Truncate(timePrecision)
	c := model.TaskCompletion{
		ID:           uuid.New(),
		TaskID:       task.ID,
		UserID:       userID,
		Status:       model.CompletionPendingApproval,
		PointsEarned: task.PointsReward,
		CompletedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateCompletion(ctx, c); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.TaskCompletion{}, ErrTaskNotFound
		}
		return model.TaskCompletion{}, fmt.Errorf("create completion: %w", err)
	}

	s.logger.Info("task completion submitted",
		zap.String("completionID", c.ID.String()),
		zap.String("taskID", task.ID.String()),
		zap.String("userID", userID.String()))

	s.notifier.Notify(ctx, model.Notification{
		UserID:      task.CreatedBy,
		Kind:        model.NotificationTaskCompleted,
		Title:       "Task completion request",
		Body:        fmt.Sprintf("Task %q is waiting for approval", task.Title),
		RelatedID:   c.ID,
		RelatedKind: string(model.CauseTaskCompletion),
	})
	return c, nil
}

// Approve подтверждает заявку и начисляет floor(награда * множитель) баллов.
//
// Смена статуса заявки и начисление выполняются одной транзакцией исполнителя;
// повторное подтверждение той же заявки возвращает ErrAlreadyApproved и ничего не начисляет.
func (s *Service) Approve(ctx context.Context, completionID uuid.UUID, req ApproveRequest) (model.TaskCompletion, error) {
	if completionID == uuid.Nil {
		return model.TaskCompletion{}, fmt.Errorf("%w: completion id is required", ErrInvalidRequest)
	}
	if err := validation.Struct(req); err != nil {
		return model.TaskCompletion{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	current, err := s.GetCompletion(ctx, completionID)
	if err != nil {
		s.metrics.Approval(outcome(err))
		return model.TaskCompletion{}, err
	}
	if current.Status != model.CompletionPendingApproval {
		s.metrics.Approval(metrics.OutcomeRejected)
		return model.TaskCompletion{}, ErrAlreadyApproved
	}

	var (
		approved model.TaskCompletion
		entry    model.LedgerEntry
		task     *model.Task
	)
	err = s.repo.WithinUserTx(ctx, current.UserID, func(tx repository.Tx) error {
		c, err := tx.GetCompletionForUpdate(ctx, completionID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCompletionNotFound
		}
		if err != nil {
			return err
		}
		if c.Status != model.CompletionPendingApproval {
			return ErrAlreadyApproved
		}

		task, err = tx.GetTask(ctx, c.TaskID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}

		points, ok := validation.ScalePoints(task.PointsReward, req.Multiplier)
		if !ok || points < 1 {
			return ErrInvalidMultiplier
		}

		e, err := s.credit(ctx, tx, Movement{
			UserID:      c.UserID,
			Amount:      points,
			CauseID:     c.ID,
			CauseKind:   model.CauseTaskCompletion,
			Description: "Task completed: " + task.Title,
		})
		if err != nil {
			return err
		}

		levelID, approvedBy, approvedAt := req.ApprovalLevelID, req.ApprovedBy, e.CreatedAt
		c.Status = model.CompletionCompleted
		c.ApprovalLevelID = &levelID
		c.ApprovedBy = &approvedBy
		c.PointsEarned = points
		c.ApprovedAt = &approvedAt
		c.UpdatedAt = approvedAt
		if err := tx.UpdateCompletion(ctx, *c); err != nil {
			return err
		}

		approved, entry = *c, e
		return nil
	})
	if err != nil {
		s.metrics.Approval(outcome(err))
		if !IsBusinessError(err) {
			err = fmt.Errorf("approve completion: %w", err)
		}
		return model.TaskCompletion{}, err
	}

	s.metrics.Approval(metrics.OutcomeSuccess)
	s.recordEntry(entry)
	s.logger.Info("task completion approved",
		zap.String("completionID", approved.ID.String()),
		zap.String("userID", approved.UserID.String()),
		zap.Float64("multiplier", req.Multiplier),
		zap.Int64("points", approved.PointsEarned))

	s.notifier.Notify(ctx, model.Notification{
		UserID:      approved.UserID,
		Kind:        model.NotificationPointEarned,
		Title:       "Points earned",
		Body:        fmt.Sprintf("Task %q approved, %d points earned", task.Title, approved.PointsEarned),
		RelatedID:   approved.ID,
		RelatedKind: string(model.CauseTaskCompletion),
	})
	return approved, nil
}

// GetCompletion возвращает заявку по идентификатору.
func (s *Service) GetCompletion(ctx context.Context, id uuid.UUID) (model.TaskCompletion, error) {
	c, err := s.repo.GetCompletion(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.TaskCompletion{}, ErrCompletionNotFound
	}
	if err != nil {
		return model.TaskCompletion{}, fmt.Errorf("get completion: %w", err)
	}
	return *c, nil
}

// ListCompletions возвращает заявки по фильтру, от новых к старым.
func (s *Service) ListCompletions(ctx context.Context, filter repository.CompletionFilter) ([]model.TaskCompletion, error) {
	completions, err := s.repo.ListCompletions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return completions, nil
}
