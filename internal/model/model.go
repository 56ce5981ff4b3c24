// Package model содержит доменные сущности сервиса семейных баллов.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Direction описывает направление движения баллов в журнале.
type Direction string

const (
	DirectionEarned Direction = "earned"
	DirectionSpent  Direction = "spent"
)

// CauseKind описывает тип сущности, породившей движение баллов.
type CauseKind string

const (
	CauseTaskCompletion   CauseKind = "task_completion"
	CauseRewardRedemption CauseKind = "reward_redemption"
)

// Valid сообщает, известен ли тип причины.
func (k CauseKind) Valid() bool {
	return k == CauseTaskCompletion || k == CauseRewardRedemption
}

// Balance содержит текущий баланс баллов пользователя.
type Balance struct {
	UserID    uuid.UUID `json:"userId"`
	Amount    int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LedgerEntry описывает неизменяемую запись журнала баллов.
type LedgerEntry struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	Direction   Direction `json:"type"`
	Amount      int64     `json:"amount"`
	CauseID     uuid.UUID `json:"relatedId"`
	CauseKind   CauseKind `json:"relatedType"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Signed возвращает сумму записи со знаком: начисления положительны, списания отрицательны.
func (e LedgerEntry) Signed() int64 {
	if e.Direction == DirectionSpent {
		return -e.Amount
	}
	return e.Amount
}

// Task описывает задание семьи с номинальной наградой в баллах.
type Task struct {
	ID           uuid.UUID `json:"id"`
	FamilyID     uuid.UUID `json:"familyId"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	PointsReward int64     `json:"pointsReward"`
	CreatedBy    uuid.UUID `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CompletionStatus описывает состояние заявки о выполнении задания.
type CompletionStatus string

const (
	CompletionPendingApproval CompletionStatus = "pending_approval"
	CompletionCompleted       CompletionStatus = "completed"
)

// TaskCompletion описывает заявку пользователя о выполнении задания.
type TaskCompletion struct {
	ID              uuid.UUID        `json:"id"`
	TaskID          uuid.UUID        `json:"taskId"`
	UserID          uuid.UUID        `json:"userId"`
	Status          CompletionStatus `json:"status"`
	ApprovalLevelID *uuid.UUID       `json:"approvalLevelId,omitempty"`
	PointsEarned    int64            `json:"pointsEarned"`
	ApprovedBy      *uuid.UUID       `json:"approvedBy,omitempty"`
	CompletedAt     time.Time        `json:"completedAt"`
	ApprovedAt      *time.Time       `json:"approvedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// RewardStatus описывает доступность награды в каталоге.
type RewardStatus string

const (
	RewardActive   RewardStatus = "active"
	RewardInactive RewardStatus = "inactive"
)

// Reward описывает награду каталога. Награда без семьи считается общей (по умолчанию).
type Reward struct {
	ID             uuid.UUID    `json:"id"`
	FamilyID       *uuid.UUID   `json:"familyId,omitempty"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	PointsRequired int64        `json:"pointsRequired"`
	Stock          *int64       `json:"stock,omitempty"`
	Status         RewardStatus `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// Unlimited сообщает, что у награды нет ограничения по количеству.
func (r Reward) Unlimited() bool {
	return r.Stock == nil
}

// RedemptionStatus описывает статус обмена баллов на награду.
type RedemptionStatus string

const RedemptionCompleted RedemptionStatus = "completed"

// RewardRedemption описывает успешный обмен баллов на награду.
type RewardRedemption struct {
	ID          uuid.UUID        `json:"id"`
	UserID      uuid.UUID        `json:"userId"`
	RewardID    uuid.UUID        `json:"rewardId"`
	PointsSpent int64            `json:"pointsSpent"`
	Status      RedemptionStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// NotificationKind описывает тип уведомления.
type NotificationKind string

const (
	NotificationTaskCompleted  NotificationKind = "task_completed"
	NotificationPointEarned    NotificationKind = "point_earned"
	NotificationRewardRedeemed NotificationKind = "reward_redeemed"
)

// Notification описывает уведомление пользователю, отправляемое внешней системе.
type Notification struct {
	UserID      uuid.UUID        `json:"userId"`
	Kind        NotificationKind `json:"type"`
	Title       string           `json:"title"`
	Body        string           `json:"message"`
	RelatedID   uuid.UUID        `json:"relatedId"`
	RelatedKind string           `json:"relatedType"`
}
