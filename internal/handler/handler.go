// Package handler содержит HTTP-обработчики API сервиса семейных баллов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mmeshcher/familypoints/internal/middleware"
	"github.com/mmeshcher/familypoints/internal/model"
	"github.com/mmeshcher/familypoints/internal/repository"
	"github.com/mmeshcher/familypoints/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error)
	History(ctx context.Context, userID uuid.UUID) ([]model.LedgerEntry, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (service.Reconciliation, error)

	CreateTask(ctx context.Context, familyID, createdBy uuid.UUID, req service.CreateTaskRequest) (model.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (model.Task, error)
	ListFamilyTasks(ctx context.Context, familyID uuid.UUID) ([]model.Task, error)
	SubmitCompletion(ctx context.Context, taskID, userID uuid.UUID) (model.TaskCompletion, error)
	Approve(ctx context.Context, completionID uuid.UUID, req service.ApproveRequest) (model.TaskCompletion, error)
	GetCompletion(ctx context.Context, id uuid.UUID) (model.TaskCompletion, error)
	ListCompletions(ctx context.Context, filter repository.CompletionFilter) ([]model.TaskCompletion, error)

	CreateReward(ctx context.Context, familyID uuid.UUID, req service.CreateRewardRequest) (model.Reward, error)
	ListFamilyRewards(ctx context.Context, familyID uuid.UUID) ([]model.Reward, error)
	ListDefaultRewards(ctx context.Context) ([]model.Reward, error)
	Redeem(ctx context.Context, userID, rewardID uuid.UUID) (model.RewardRedemption, error)
	ListRedemptions(ctx context.Context, userID uuid.UUID) ([]model.RewardRedemption, error)
}

// Handler реализует HTTP-обработчики API сервиса семейных баллов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	gatherer       prometheus.Gatherer
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// Если gatherer равен nil, маршрут /metrics не регистрируется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		gatherer:       gatherer,
	}
}

// Health сообщает, что процесс принимает запросы.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, err, "get balance error", zap.String("userID", id.UserID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

// GetRecords возвращает журнал баллов текущего пользователя.
func (h *Handler) GetRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	entries, err := h.service.History(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, err, "get records error", zap.String("userID", id.UserID.String()))
		return
	}

	writeList(h, w, entries)
}

// Audit сверяет баланс текущего пользователя с журналом.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	rec, err := h.service.Reconcile(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, err, "audit error", zap.String("userID", id.UserID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// CreateTask создаёт задание в семье текущего пользователя.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req service.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	task, err := h.service.CreateTask(r.Context(), id.FamilyID, id.UserID, req)
	if err != nil {
		h.writeError(w, err, "create task error", zap.String("userID", id.UserID.String()))
		return
	}

	h.writeJSON(w, http.StatusCreated, task)
}

// GetTask возвращает задание по идентификатору.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}

	task, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeError(w, err, "get task error", zap.String("taskID", taskID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, task)
}

// ListFamilyTasks возвращает задания семьи текущего пользователя.
func (h *Handler) ListFamilyTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.ListFamilyTasks(r.Context(), id.FamilyID)
	if err != nil {
		h.writeError(w, err, "list family tasks error", zap.String("familyID", id.FamilyID.String()))
		return
	}

	writeList(h, w, tasks)
}

// CompleteTask создаёт заявку текущего пользователя о выполнении задания.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	taskID, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.service.SubmitCompletion(r.Context(), taskID, id.UserID)
	if err != nil {
		h.writeError(w, err, "submit completion error",
			zap.String("userID", id.UserID.String()),
			zap.String("taskID", taskID.String()))
		return
	}

	h.writeJSON(w, http.StatusAccepted, c)
}

// ListCompletions возвращает заявки текущего пользователя или, при указании taskId, заявки по заданию.
func (h *Handler) ListCompletions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	filter := repository.CompletionFilter{UserID: id.UserID}
	if raw := r.URL.Query().Get("taskId"); raw != "" {
		taskID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid taskId", http.StatusBadRequest)
			return
		}
		filter = repository.CompletionFilter{TaskID: taskID}
	}
	switch status := model.CompletionStatus(r.URL.Query().Get("status")); status {
	case "", model.CompletionPendingApproval, model.CompletionCompleted:
		filter.Status = status
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	completions, err := h.service.ListCompletions(r.Context(), filter)
	if err != nil {
		h.writeError(w, err, "list completions error", zap.String("userID", id.UserID.String()))
		return
	}

	writeList(h, w, completions)
}

// GetCompletion возвращает заявку по идентификатору.
func (h *Handler) GetCompletion(w http.ResponseWriter, r *http.Request) {
	completionID, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.service.GetCompletion(r.Context(), completionID)
	if err != nil {
		h.writeError(w, err, "get completion error", zap.String("completionID", completionID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

type approveRequest struct {
	ApprovalLevelID uuid.UUID `json:"approvalLevelId"`
	Multiplier      float64   `json:"multiplier"`
}

// Approve подтверждает заявку от имени текущего пользователя.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	completionID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.Approve(r.Context(), completionID, service.ApproveRequest{
		ApprovalLevelID: req.ApprovalLevelID,
		Multiplier:      req.Multiplier,
		ApprovedBy:      id.UserID,
	})
	if err != nil {
		h.writeError(w, err, "approve completion error",
			zap.String("completionID", completionID.String()),
			zap.String("approvedBy", id.UserID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

// CreateReward добавляет награду в каталог семьи текущего пользователя.
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req service.CreateRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rw, err := h.service.CreateReward(r.Context(), id.FamilyID, req)
	if err != nil {
		h.writeError(w, err, "create reward error", zap.String("familyID", id.FamilyID.String()))
		return
	}

	h.writeJSON(w, http.StatusCreated, rw)
}

// ListFamilyRewards возвращает каталог семьи текущего пользователя.
func (h *Handler) ListFamilyRewards(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	rewards, err := h.service.ListFamilyRewards(r.Context(), id.FamilyID)
	if err != nil {
		h.writeError(w, err, "list family rewards error", zap.String("familyID", id.FamilyID.String()))
		return
	}

	writeList(h, w, rewards)
}

// ListDefaultRewards возвращает общий каталог наград.
func (h *Handler) ListDefaultRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ListDefaultRewards(r.Context())
	if err != nil {
		h.writeError(w, err, "list default rewards error")
		return
	}

	writeList(h, w, rewards)
}

// Redeem обменивает баллы текущего пользователя на награду.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	rewardID, ok := pathID(w, r)
	if !ok {
		return
	}

	rd, err := h.service.Redeem(r.Context(), id.UserID, rewardID)
	if err != nil {
		h.writeError(w, err, "redeem error",
			zap.String("userID", id.UserID.String()),
			zap.String("rewardID", rewardID.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, rd)
}

// ListRedemptions возвращает историю обменов текущего пользователя.
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	redemptions, err := h.service.ListRedemptions(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, err, "list redemptions error", zap.String("userID", id.UserID.String()))
		return
	}

	writeList(h, w, redemptions)
}

func identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return id, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// statusFor сопоставляет ошибку бизнес-логики HTTP-статусу. Неизвестные ошибки дают 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidCause),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidMultiplier):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRewardNotFound),
		errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrCompletionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrRewardOutOfStock),
		errors.Is(err, service.ErrAlreadyApproved):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

func writeList[T any](h *Handler, w http.ResponseWriter, items []T) {
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}
