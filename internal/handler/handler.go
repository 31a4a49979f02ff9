// Package handler содержит HTTP-обработчики API платформы BirbFunding.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/birb-png/birbfunding/internal/middleware"
	"github.com/birb-png/birbfunding/internal/model"
	"github.com/birb-png/birbfunding/internal/money"
	"github.com/birb-png/birbfunding/internal/repository"
	"github.com/birb-png/birbfunding/internal/service"
	"github.com/birb-png/birbfunding/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, username, password, email, fullName string) (int64, error)
	AuthenticateUser(ctx context.Context, username, password string) (int64, error)
	UserByID(ctx context.Context, id int64) (*model.User, error)

	Projects(ctx context.Context, search, category string, sort model.SortOption) ([]model.Project, error)
	ProjectByID(ctx context.Context, id string) (*model.Project, error)
	RewardTiers(ctx context.Context, projectID string) ([]model.RewardTier, error)
	Categories(ctx context.Context) ([]string, error)

	CreatePledge(ctx context.Context, req service.PledgeRequest) (service.PledgeResult, error)
	PledgesForProject(ctx context.Context, projectID string) ([]model.Pledge, error)
	PledgesForUser(ctx context.Context, userID int64) ([]model.Pledge, error)

	PledgeStatistics(ctx context.Context) (*model.PledgeStats, error)
	ProjectStatistics(ctx context.Context) (*model.ProjectStats, error)
	UserStatistics(ctx context.Context) (*model.UserStats, error)
	TopBackers(ctx context.Context, limit int) ([]model.Backer, error)
}

// Handler реализует HTTP-обработчики API платформы BirbFunding.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" || req.Email == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Username, req.Password, req.Email, req.FullName)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type userResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	CreatedAt string `json:"created_at"`
}

// GetMe возвращает профиль текущего пользователя.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.UserByID(r.Context(), userID)
	if err != nil {
		h.logger.Error("get user error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FullName:  u.FullName,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	})
}

type projectResponse struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	Category           string  `json:"category"`
	Creator            string  `json:"creator"`
	GoalAmount         float64 `json:"goal_amount"`
	CurrentAmount      float64 `json:"current_amount"`
	Deadline           string  `json:"deadline"`
	CreatedDate        string  `json:"created_date"`
	DaysRemaining      int     `json:"days_remaining"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

func toProjectResponse(p model.Project) projectResponse {
	return projectResponse{
		ID:                 p.ID,
		Name:               p.Name,
		Description:        p.Description,
		Category:           p.Category,
		Creator:            p.Creator,
		GoalAmount:         money.ToUnits(p.GoalAmount),
		CurrentAmount:      money.ToUnits(p.CurrentAmount),
		Deadline:           p.Deadline.Format(time.RFC3339),
		CreatedDate:        p.CreatedDate.Format(time.RFC3339),
		DaysRemaining:      p.DaysRemaining,
		ProgressPercentage: p.Progress,
	}
}

// GetProjects возвращает каталог проектов с фильтрацией и сортировкой.
func (h *Handler) GetProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sort := sortOption(q.Get("sort_by"))

	projects, err := h.service.Projects(r.Context(), q.Get("search"), q.Get("category"), sort)
	if err != nil {
		h.logger.Error("get projects error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, toProjectResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

func sortOption(raw string) model.SortOption {
	switch model.SortOption(raw) {
	case model.SortDeadline:
		return model.SortDeadline
	case model.SortRaisedAmount:
		return model.SortRaisedAmount
	case model.SortGoalAmount:
		return model.SortGoalAmount
	default:
		return model.SortNewest
	}
}

type rewardTierResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	MinAmount      float64 `json:"min_amount"`
	RemainingQuota int     `json:"remaining_quota"`
}

type projectDetailResponse struct {
	projectResponse
	RewardTiers []rewardTierResponse `json:"reward_tiers"`
	Pledges     []pledgeResponse     `json:"pledges"`
}

// GetProject возвращает проект с уровнями вознаграждения и взносами.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	project, err := h.service.ProjectByID(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get project error", zap.Error(err), zap.String("projectID", projectID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tiers, err := h.service.RewardTiers(r.Context(), projectID)
	if err != nil {
		h.logger.Error("get reward tiers error", zap.Error(err), zap.String("projectID", projectID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	pledges, err := h.service.PledgesForProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("get project pledges error", zap.Error(err), zap.String("projectID", projectID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := projectDetailResponse{
		projectResponse: toProjectResponse(*project),
		RewardTiers:     make([]rewardTierResponse, 0, len(tiers)),
		Pledges:         make([]pledgeResponse, 0, len(pledges)),
	}
	for _, t := range tiers {
		resp.RewardTiers = append(resp.RewardTiers, rewardTierResponse{
			ID:             t.ID,
			Name:           t.Name,
			Description:    t.Description,
			MinAmount:      money.ToUnits(t.MinAmount),
			RemainingQuota: t.RemainingQuota,
		})
	}
	for _, p := range pledges {
		resp.Pledges = append(resp.Pledges, toPledgeResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

type pledgeResponse struct {
	PledgeID    string  `json:"pledge_id"`
	ProjectID   string  `json:"project_id"`
	ProjectName string  `json:"project_name,omitempty"`
	UserName    string  `json:"user_name,omitempty"`
	Amount      float64 `json:"amount"`
	RewardID    *string `json:"reward_id"`
	PledgeDate  string  `json:"pledge_date"`
}

func toPledgeResponse(p model.Pledge) pledgeResponse {
	return pledgeResponse{
		PledgeID:    p.ID,
		ProjectID:   p.ProjectID,
		ProjectName: p.ProjectName,
		UserName:    p.UserName,
		Amount:      money.ToUnits(p.Amount),
		RewardID:    p.RewardID,
		PledgeDate:  p.PledgeDate.Format(time.RFC3339),
	}
}

// GetProjectPledges возвращает успешные взносы проекта, новые первыми.
func (h *Handler) GetProjectPledges(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	pledges, err := h.service.PledgesForProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("get project pledges error", zap.Error(err), zap.String("projectID", projectID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]pledgeResponse, 0, len(pledges))
	for _, p := range pledges {
		resp = append(resp, toPledgeResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

type pledgeRequest struct {
	Amount   json.RawMessage `json:"amount"`
	RewardID string          `json:"reward_id"`
}

type pledgeOutcomeResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	PledgeID string `json:"pledge_id,omitempty"`
}

// CreatePledge принимает попытку взноса текущего пользователя в проект.
// Отказ по бизнес-правилу — данные, а не ошибка транспорта: он возвращается
// со статусом 200 и success=false.
func (h *Handler) CreatePledge(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	projectID := chi.URLParam(r, "projectID")
	if !validation.IsValidProjectID(projectID) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	var req pledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	amount, err := parseAmountField(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, pledgeOutcomeResponse{
			Success: false,
			Message: amountErrorMessage(err),
		})
		return
	}

	result, err := h.service.CreatePledge(r.Context(), service.PledgeRequest{
		UserID:    userID,
		ProjectID: projectID,
		Amount:    amount,
		RewardID:  req.RewardID,
	})
	if err != nil {
		h.logger.Error("create pledge error", zap.Error(err),
			zap.Int64("userID", userID), zap.String("projectID", projectID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if result.Accepted {
		status = http.StatusCreated
	}

	writeJSON(w, status, pledgeOutcomeResponse{
		Success:  result.Accepted,
		Message:  result.Message,
		PledgeID: result.PledgeID,
	})
}

// parseAmountField принимает сумму как JSON-число или десятичную строку.
func parseAmountField(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, money.ErrInvalidAmount
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, money.ErrInvalidAmount
		}
		s = n.String()
	}

	return money.ParseAmount(s)
}

func amountErrorMessage(err error) string {
	if errors.Is(err, money.ErrNonPositiveAmount) {
		return "Pledge amount must be greater than zero"
	}
	return "Invalid pledge amount"
}

// GetUserPledges возвращает взносы текущего пользователя.
func (h *Handler) GetUserPledges(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	pledges, err := h.service.PledgesForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get user pledges error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]pledgeResponse, 0, len(pledges))
	for _, p := range pledges {
		resp = append(resp, toPledgeResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetCategories возвращает названия категорий каталога.
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Categories(r.Context())
	if err != nil {
		h.logger.Error("get categories error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if categories == nil {
		categories = []string{}
	}

	writeJSON(w, http.StatusOK, categories)
}

type statisticsResponse struct {
	Pledges    *model.PledgeStats  `json:"pledges"`
	Projects   *model.ProjectStats `json:"projects"`
	Users      *model.UserStats    `json:"users"`
	TopBackers []model.Backer      `json:"top_backers"`
}

// GetStatistics возвращает сводную статистику платформы.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	pledgeStats, err := h.service.PledgeStatistics(r.Context())
	if err != nil {
		h.logger.Error("pledge statistics error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	projectStats, err := h.service.ProjectStatistics(r.Context())
	if err != nil {
		h.logger.Error("project statistics error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userStats, err := h.service.UserStatistics(r.Context())
	if err != nil {
		h.logger.Error("user statistics error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	backers, err := h.service.TopBackers(r.Context(), 0)
	if err != nil {
		h.logger.Error("top backers error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, statisticsResponse{
		Pledges:    pledgeStats,
		Projects:   projectStats,
		Users:      userStats,
		TopBackers: backers,
	})
}

// GetTopBackers возвращает рейтинг бэкеров по общей сумме взносов.
func (h *Handler) GetTopBackers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	backers, err := h.service.TopBackers(r.Context(), limit)
	if err != nil {
		h.logger.Error("top backers error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if backers == nil {
		backers = []model.Backer{}
	}

	writeJSON(w, http.StatusOK, backers)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
