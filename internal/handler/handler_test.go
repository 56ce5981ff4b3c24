package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/familypoints/internal/metrics"
	"github.com/mmeshcher/familypoints/internal/middleware"
	"github.com/mmeshcher/familypoints/internal/model"
	"github.com/mmeshcher/familypoints/internal/repository"
	"github.com/mmeshcher/familypoints/internal/service"
)

type stubService struct {
	balanceResp model.Balance
	balanceErr  error

	historyResp []model.LedgerEntry

	redeemResp   model.RewardRedemption
	redeemErr    error
	redeemUser   uuid.UUID
	redeemReward uuid.UUID

	approveResp model.TaskCompletion
	approveErr  error
	approveGot  service.ApproveRequest

	tasksResp   []model.Task
	tasksFamily uuid.UUID

	completionsFilter repository.CompletionFilter

	createRewardFamily uuid.UUID
}

func (s *stubService) GetBalance(ctx context.Context, userID uuid.UUID) (model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) History(ctx context.Context, userID uuid.UUID) ([]model.LedgerEntry, error) {
	return s.historyResp, nil
}

func (s *stubService) Reconcile(ctx context.Context, userID uuid.UUID) (service.Reconciliation, error) {
	return service.Reconciliation{}, nil
}

func (s *stubService) CreateTask(ctx context.Context, familyID, createdBy uuid.UUID, req service.CreateTaskRequest) (model.Task, error) {
	return model.Task{ID: uuid.New(), FamilyID: familyID, CreatedBy: createdBy, Title: req.Title, PointsReward: req.PointsReward}, nil
}

func (s *stubService) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	return model.Task{}, service.ErrTaskNotFound
}

func (s *stubService) ListFamilyTasks(ctx context.Context, familyID uuid.UUID) ([]model.Task, error) {
	s.tasksFamily = familyID
	return s.tasksResp, nil
}

func (s *stubService) SubmitCompletion(ctx context.Context, taskID, userID uuid.UUID) (model.TaskCompletion, error) {
	return model.TaskCompletion{ID: uuid.New(), TaskID: taskID, UserID: userID, Status: model.CompletionPendingApproval}, nil
}

func (s *stubService) Approve(ctx context.Context, completionID uuid.UUID, req service.ApproveRequest) (model.TaskCompletion, error) {
	s.approveGot = req
	return s.approveResp, s.approveErr
}

func (s *stubService) GetCompletion(ctx context.Context, id uuid.UUID) (model.TaskCompletion, error) {
	return model.TaskCompletion{}, service.ErrCompletionNotFound
}

func (s *stubService) ListCompletions(ctx context.Context, filter repository.CompletionFilter) ([]model.TaskCompletion, error) {
	s.completionsFilter = filter
	return nil, nil
}

func (s *stubService) CreateReward(ctx context.Context, familyID uuid.UUID, req service.CreateRewardRequest) (model.Reward, error) {
	s.createRewardFamily = familyID
	return model.Reward{ID: uuid.New(), FamilyID: &familyID, Name: req.Name, PointsRequired: req.PointsRequired}, nil
}

func (s *stubService) ListFamilyRewards(ctx context.Context, familyID uuid.UUID) ([]model.Reward, error) {
	return nil, nil
}

func (s *stubService) ListDefaultRewards(ctx context.Context) ([]model.Reward, error) {
	return nil, nil
}

func (s *stubService) Redeem(ctx context.Context, userID, rewardID uuid.UUID) (model.RewardRedemption, error) {
	s.redeemUser, s.redeemReward = userID, rewardID
	return s.redeemResp, s.redeemErr
}

func (s *stubService) ListRedemptions(ctx context.Context, userID uuid.UUID) ([]model.RewardRedemption, error) {
	return nil, nil
}

type testServer struct {
	router http.Handler
	auth   *middleware.AuthMiddleware
	id     middleware.Identity
}

func newTestServer(t *testing.T, svc Service, gatherer prometheus.Gatherer) testServer {
	t.Helper()

	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth, gatherer)
	return testServer{
		router: h.SetupRouter(),
		auth:   auth,
		id:     middleware.Identity{UserID: uuid.New(), FamilyID: uuid.New()},
	}
}

func (s testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+s.token(t))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s testServer) token(t *testing.T) string {
	t.Helper()
	token, err := s.auth.Token(s.id)
	require.NoError(t, err)
	return token
}

func TestGetBalance_Success(t *testing.T) {
	svc := &stubService{balanceResp: model.Balance{Amount: 42}}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, http.MethodGet, "/api/points/balance", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got model.Balance
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(42), got.Amount)
}

func TestGetBalance_InternalError(t *testing.T) {
	svc := &stubService{balanceErr: errors.New("db is down")}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, http.MethodGet, "/api/points/balance", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db is down")
}

func TestGetRecords_EmptyIsNoContent(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)

	rec := srv.do(t, http.MethodGet, "/api/points/records", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/points/balance", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRedeem_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: http.StatusOK},
		{name: "insufficient balance", err: service.ErrInsufficientBalance, want: http.StatusPaymentRequired},
		{name: "out of stock", err: service.ErrRewardOutOfStock, want: http.StatusConflict},
		{name: "not found", err: service.ErrRewardNotFound, want: http.StatusNotFound},
		{name: "infrastructure", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{redeemErr: tt.err}
			srv := newTestServer(t, svc, nil)
			rewardID := uuid.New()

			rec := srv.do(t, http.MethodPost, "/api/rewards/"+rewardID.String()+"/redeem", nil)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, srv.id.UserID, svc.redeemUser)
			assert.Equal(t, rewardID, svc.redeemReward)
		})
	}
}

func TestRedeem_InvalidID(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)

	rec := srv.do(t, http.MethodPost, "/api/rewards/not-a-uuid/redeem", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprove_UsesCallerAsApprover(t *testing.T) {
	svc := &stubService{approveResp: model.TaskCompletion{Status: model.CompletionCompleted, PointsEarned: 15}}
	srv := newTestServer(t, svc, nil)
	levelID := uuid.New()

	rec := srv.do(t, http.MethodPost, "/api/tasks/completions/"+uuid.NewString()+"/approve",
		map[string]any{"approvalLevelId": levelID, "multiplier": 1.5})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ApproveRequest{ApprovalLevelID: levelID, Multiplier: 1.5, ApprovedBy: srv.id.UserID}, svc.approveGot)
}

func TestApprove_AlreadyApprovedIsConflict(t *testing.T) {
	svc := &stubService{approveErr: service.ErrAlreadyApproved}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, http.MethodPost, "/api/tasks/completions/"+uuid.NewString()+"/approve",
		map[string]any{"approvalLevelId": uuid.New(), "multiplier": 1})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprove_MalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/completions/"+uuid.NewString()+"/approve", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+srv.token(t))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCompletions_Filters(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, http.MethodGet, "/api/tasks/completions?status=pending_approval", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, repository.CompletionFilter{UserID: srv.id.UserID, Status: model.CompletionPendingApproval}, svc.completionsFilter)

	taskID := uuid.New()
	rec = srv.do(t, http.MethodGet, "/api/tasks/completions?taskId="+taskID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, repository.CompletionFilter{TaskID: taskID}, svc.completionsFilter)

	rec = srv.do(t, http.MethodGet, "/api/tasks/completions?status=rejected", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateReward_UsesCallerFamily(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, http.MethodPost, "/api/rewards", map[string]any{"name": "Cinema", "pointsRequired": 20})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, srv.id.FamilyID, svc.createRewardFamily)
}

func TestListFamilyTasks(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc, nil)

	rec := srv.do(t, http.MethodGet, "/api/tasks/family", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, srv.id.FamilyID, svc.tasksFamily)

	svc.tasksResp = []model.Task{{ID: uuid.New(), FamilyID: srv.id.FamilyID, Title: "Wash dishes", PointsReward: 10}}
	rec = srv.do(t, http.MethodGet, "/api/tasks/family", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "Wash dishes", got[0].Title)
}

func TestGetCompletion_NotFound(t *testing.T) {
	srv := newTestServer(t, &stubService{}, nil)

	rec := srv.do(t, http.MethodGet, "/api/tasks/completions/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg).Redemption(metrics.OutcomeSuccess)
	srv := newTestServer(t, &stubService{}, reg)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `familypoints_rewards_redemptions_total{outcome="success"} 1`)
}

func TestFlow_EarnAndRedeemOverHTTP(t *testing.T) {
	svc := service.NewService(repository.NewMemoryRepository(), nil, nil, nil)
	srv := newTestServer(t, svc, nil)
	parent := middleware.Identity{UserID: uuid.New(), FamilyID: srv.id.FamilyID}
	child := srv.id

	srv.id = parent
	rec := srv.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": "Clean room", "pointsReward": 10})
	require.Equal(t, http.StatusCreated, rec.Code)
	var task model.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&task))

	rec = srv.do(t, http.MethodPost, "/api/rewards", map[string]any{"name": "Ice cream", "pointsRequired": 15, "stock": 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	var reward model.Reward
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reward))

	srv.id = child
	rec = srv.do(t, http.MethodGet, "/api/tasks/family", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var familyTasks []model.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&familyTasks))
	require.Len(t, familyTasks, 1)
	assert.Equal(t, task.ID, familyTasks[0].ID)

	rec = srv.do(t, http.MethodPost, "/api/tasks/"+task.ID.String()+"/complete", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var completion model.TaskCompletion
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&completion))

	srv.id = parent
	rec = srv.do(t, http.MethodPost, "/api/tasks/completions/"+completion.ID.String()+"/approve",
		map[string]any{"approvalLevelId": uuid.New(), "multiplier": 2.0})
	require.Equal(t, http.StatusOK, rec.Code)

	srv.id = child
	rec = srv.do(t, http.MethodPost, "/api/rewards/"+reward.ID.String()+"/redeem", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/points/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance model.Balance
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&balance))
	assert.Equal(t, int64(5), balance.Amount)

	rec = srv.do(t, http.MethodPost, "/api/rewards/"+reward.ID.String()+"/redeem", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/points/audit", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
