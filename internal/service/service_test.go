package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/birb-png/birbfunding/internal/model"
	"github.com/birb-png/birbfunding/internal/repository"
)

// stubRepo — управляемый репозиторий для тестов сервиса.
// Записывает все обращения к журналам взносов.
type stubRepo struct {
	project    *model.Project
	projectErr error

	tiers    []model.RewardTier
	tiersErr error

	settleLabel string
	settleErr   error
	settled     []model.Pledge

	rejectErr error
	rejected  []model.RejectedPledge

	totals    repository.PledgeTotals
	totalsErr error
	reasons   []model.ReasonCount

	backers      []repository.BackerTotal
	backersLimit int

	projectTotals repository.ProjectTotals
	usersTotal    int
	usersRecent   int

	createUserID  int64
	createUserErr error
	user          *model.User
	userErr       error

	projectPledges []model.Pledge
	userPledges    []model.Pledge
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, username string, passwordHash []byte, email, fullName string) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	if s.userErr != nil {
		return nil, s.userErr
	}
	if s.user == nil {
		return nil, repository.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubRepo) GetProjects(ctx context.Context, search, category string, sort model.SortOption) ([]model.Project, error) {
	if s.project == nil {
		return nil, nil
	}
	return []model.Project{*s.project}, nil
}

func (s *stubRepo) GetProjectByID(ctx context.Context, id string) (*model.Project, error) {
	if s.projectErr != nil {
		return nil, s.projectErr
	}
	if s.project == nil || s.project.ID != id {
		return nil, repository.ErrProjectNotFound
	}
	p := *s.project
	return &p, nil
}

func (s *stubRepo) GetCategories(ctx context.Context) ([]string, error) { return nil, nil }

func (s *stubRepo) GetRewardTiers(ctx context.Context, projectID string) ([]model.RewardTier, error) {
	if s.tiersErr != nil {
		return nil, s.tiersErr
	}
	var res []model.RewardTier
	for _, t := range s.tiers {
		if t.ProjectID == projectID {
			res = append(res, t)
		}
	}
	return res, nil
}

func (s *stubRepo) SettlePledge(ctx context.Context, p model.Pledge) (string, error) {
	if s.settleErr != nil {
		return "", s.settleErr
	}
	s.settled = append(s.settled, p)
	if s.settleLabel != "" {
		return s.settleLabel, nil
	}
	return "pledge_000001", nil
}

func (s *stubRepo) CreateRejectedPledge(ctx context.Context, rp model.RejectedPledge) error {
	if s.rejectErr != nil {
		return s.rejectErr
	}
	s.rejected = append(s.rejected, rp)
	return nil
}

func (s *stubRepo) GetPledgesByProject(ctx context.Context, projectID string) ([]model.Pledge, error) {
	return s.projectPledges, nil
}

func (s *stubRepo) GetPledgesByUser(ctx context.Context, userID int64) ([]model.Pledge, error) {
	return s.userPledges, nil
}

func (s *stubRepo) GetPledgeTotals(ctx context.Context) (repository.PledgeTotals, error) {
	return s.totals, s.totalsErr
}

func (s *stubRepo) GetTopRejectionReasons(ctx context.Context, limit int) ([]model.ReasonCount, error) {
	if len(s.reasons) > limit {
		return s.reasons[:limit], nil
	}
	return s.reasons, nil
}

func (s *stubRepo) GetTopBackers(ctx context.Context, limit int) ([]repository.BackerTotal, error) {
	s.backersLimit = limit
	if len(s.backers) > limit {
		return s.backers[:limit], nil
	}
	return s.backers, nil
}

func (s *stubRepo) GetProjectTotals(ctx context.Context) (repository.ProjectTotals, error) {
	return s.projectTotals, nil
}

func (s *stubRepo) GetUserTotals(ctx context.Context) (int, int, error) {
	return s.usersTotal, s.usersRecent, nil
}

// activeProject — проект из демонстрационного каталога: цель 50000,
// собрано 35750, дедлайн через 45 дней.
func activeProject() *model.Project {
	return &model.Project{
		ID:            "10001001",
		Name:          "Smart Home IoT System",
		Category:      "Technology",
		GoalAmount:    5000000,
		CurrentAmount: 3575000,
		Deadline:      time.Now().AddDate(0, 0, 45),
		CreatedDate:   time.Now().AddDate(0, 0, -15),
	}
}

func soldOutTier() model.RewardTier {
	return model.RewardTier{
		ID:             "reward_1",
		ProjectID:      "10001001",
		Name:           "Early Bird Kit",
		MinAmount:      250000,
		RemainingQuota: 0,
	}
}

func availableTier() model.RewardTier {
	return model.RewardTier{
		ID:             "reward_2",
		ProjectID:      "10001001",
		Name:           "Starter Kit",
		MinAmount:      100000,
		RemainingQuota: 5,
	}
}

func TestCreatePledge_SuccessWithoutReward(t *testing.T) {
	repo := &stubRepo{project: activeProject(), settleLabel: "pledge_000042"}
	svc := NewService(repo)

	res, err := svc.CreatePledge(context.Background(), PledgeRequest{
		UserID:    1,
		ProjectID: "10001001",
		Amount:    50000,
	})
	if err != nil {
		t.Fatalf("CreatePledge error: %v", err)
	}

	if !res.Accepted {
		t.Fatalf("pledge not accepted: %s", res.Message)
	}
	if res.Kind != ResultAccepted {
		t.Fatalf("Kind = %q, want %q", res.Kind, ResultAccepted)
	}
	if res.PledgeID != "pledge_000042" {
		t.Fatalf("PledgeID = %q, want pledge_000042", res.PledgeID)
	}

	if len(repo.settled) != 1 || len(repo.rejected) != 0 {
		t.Fatalf("settled=%d rejected=%d, want 1/0", len(repo.settled), len(repo.rejected))
	}

	p := repo.settled[0]
	if p.Amount != 50000 || p.ProjectID != "10001001" || p.UserID != 1 {
		t.Fatalf("unexpected settled pledge: %+v", p)
	}
	if p.RewardID != nil {
		t.Fatalf("RewardID = %v, want nil for pledge without reward", *p.RewardID)
	}
}

func TestCreatePledge_ProjectNotFound(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	res, err := svc.CreatePledge(context.Background(), PledgeRequest{
		UserID:    1,
		ProjectID: "99999999",
		Amount:    10000,
	})
	if err != nil {
		t.Fatalf("CreatePledge error: %v", err)
	}

	if res.Accepted {
		t.Fatalf("pledge accepted for unknown project")
	}
	if res.Message != msgProjectNotFound {
		t.Fatalf("Message = %q, want %q", res.Message, msgProjectNotFound)
	}
	if res.Kind != ResultRejected {
		t.Fatalf("Kind = %q, want %q", res.Kind, ResultRejected)
	}
	if len(repo.settled) != 0 || len(repo.rejected) != 1 {
		t.Fatalf("settled=%d rejected=%d, want 0/1", len(repo.settled), len(repo.rejected))
	}
}

func TestCreatePledge_DeadlinePassed(t *testing.T) {
	tests := []struct {
		name     string
		deadline time.Time
	}{
		{name: "deadline yesterday", deadline: time.Now().AddDate(0, 0, -1)},
		{name: "deadline just now", deadline: time.Now().Add(-time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := activeProject()
			project.Deadline = tt.deadline

			// Валидные уровень и сумма не спасают просроченный проект.
			repo := &stubRepo{project: project, tiers: []model.RewardTier{availableTier()}}
			svc := NewService(repo)

			res, err := svc.CreatePledge(context.Background(), PledgeRequest{
				UserID:    1,
				ProjectID: "10001001",
				Amount:    500000,
				RewardID:  "reward_2",
			})
			if err != nil {
				t.Fatalf("CreatePledge error: %v", err)
			}

			if res.Accepted {
				t.Fatalf("pledge accepted for expired project")
			}
			if res.Message != msgDeadlinePassed {
				t.Fatalf("Message = %q, want %q", res.Message, msgDeadlinePassed)
			}
			if len(repo.settled) != 0 || len(repo.rejected) != 1 {
				t.Fatalf("settled=%d rejected=%d, want 0/1", len(repo.settled), len(repo.rejected))
			}
		})
	}
}

func TestCreatePledge_RewardNotFound(t *testing.T) {
	otherProjectTier := availableTier()
	otherProjectTier.ID = "reward_9"
	otherProjectTier.ProjectID = "20002002"

	tests := []struct {
		name     string
		rewardID string
	}{
		{name: "unknown tier", rewardID: "reward_404"},
		{name: "tier of another project", rewardID: "reward_9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{
				project: activeProject(),
				tiers:   []model.RewardTier{availableTier(), otherProjectTier},
			}
			svc := NewService(repo)

			res, err := svc.CreatePledge(context.Background(), PledgeRequest{
				UserID:    1,
				ProjectID: "10001001",
				Amount:    500000,
				RewardID:  tt.rewardID,
			})
			if err != nil {
				t.Fatalf("CreatePledge error: %v", err)
			}

			if res.Accepted {
				t.Fatalf("pledge accepted with unresolved reward")
			}
			if res.Message != msgRewardNotFound {
				t.Fatalf("Message = %q, want %q", res.Message, msgRewardNotFound)
			}
		})
	}
}

func TestCreatePledge_AmountBelowMinimum(t *testing.T) {
	repo := &stubRepo{project: activeProject(), tiers: []model.RewardTier{soldOutTier()}}
	svc := NewService(repo)

	// Сумма ниже минимума распроданного уровня: проверка минимума
	// идёт раньше проверки квоты и определяет причину отказа.
	res, err := svc.CreatePledge(context.Background(), PledgeRequest{
		UserID:    1,
		ProjectID: "10001001",
		Amount:    100000,
		RewardID:  "reward_1",
	})
	if err != nil {
		t.Fatalf("CreatePledge error: %v", err)
	}

	if res.Accepted {
		t.Fatalf("pledge accepted below tier minimum")
	}
	want := "Amount must be at least 2500.00 for this reward"
	if res.Message != want {
		t.Fatalf("Message = %q, want %q", res.Message, want)
	}
}

func TestCreatePledge_SoldOutTier(t *testing.T) {
	repo := &stubRepo{project: activeProject(), tiers: []model.RewardTier{soldOutTier()}}
	svc := NewService(repo)

	// Сумма 3000 выше минимума 2500, но квота исчерпана.
	res, err := svc.CreatePledge(context.Background(), PledgeRequest{
		UserID:    1,
		ProjectID: "10001001",
		Amount:    300000,
		RewardID:  "reward_1",
	})
	if err != nil {
		t.Fatalf("CreatePledge error: %v", err)
	}

	if res.Accepted {
		t.Fatalf("pledge accepted for sold out tier")
	}
	if res.Message != msgRewardSoldOut {
		t.Fatalf("Message = %q, want %q", res.Message, msgRewardSoldOut)
	}
	// Сумма проекта не менялась: применение взноса не вызывалось.
	if len(repo.settled) != 0 {
		t.Fatalf("settled=%d, want 0", len(repo.settled))
	}
}

func TestCreatePledge_EmptyRewardSkipsTierChecks(t *testing.T) {
	// В каталоге только распроданный уровень, но взнос без вознаграждения
	// проверок вознаграждения не проходит вовсе.
	repo := &stubRepo{project: activeProject(), tiers: []model.RewardTier{soldOutTier()}}
	svc := NewService(repo)

	res, err := svc.CreatePledge(context.Background(), PledgeRequest{
		UserID:    1,
		ProjectID: "10001001",
		Amount:    100,
	})
	if err != nil {
		t.Fatalf("CreatePledge error: %v", err)
	}

	if !res.Accepted {
		t.Fatalf("pledge without reward rejected: %s", res.Message)
	}
}

func TestCreatePledge_NonPositiveAmount(t *testing.T) {
	repo := &stubRepo{project: activeProject()}
	svc := NewService(repo)

	for _, amount := range []int64{0, -500} {
		res, err := svc.CreatePledge(context.Background(), PledgeRequest{
			UserID:    1,
			ProjectID: "10001001",
			Amount:    amount,
		})
		if err != nil {
			t.Fatalf("CreatePledge error: %v", err)
		}
		if res.Accepted {
			t.Fatalf("pledge accepted with amount %d", amount)
		}
		if res.Message != msgNonPositive {
			t.Fatalf("Message = %q, want %q", res.Message, msgNonPositive)
		}
	}

	if len(repo.rejected) != 2 {
		t.Fatalf("rejected=%d, want 2", len(repo.rejected))
	}
}

func TestCreatePledge_QuotaRaceRejectsAsSoldOut(t *testing.T) {
	// Снимок видел свободную квоту, но применение наткнулось на её
	// исчерпание параллельным взносом.
	repo := &stubRepo{
		project:   activeProject(),
		tiers:     []model.RewardTier{availableTier()},
		settleErr: repository.ErrTierSoldOut,
	}
	svc := NewService(repo)

	res, err := svc.CreatePledge(context.Background(), PledgeRequest{
		UserID:    1,
		ProjectID: "10001001",
		Amount:    500000,
		RewardID:  "reward_2",
	})
	if err != nil {
		t.Fatalf("CreatePledge error: %v", err)
	}

	if res.Accepted {
		t.Fatalf("pledge accepted despite settlement conflict")
	}
	if res.Kind != ResultRejected {
		t.Fatalf("Kind = %q, want %q", res.Kind, ResultRejected)
	}
	if res.Message != msgRewardSoldOut {
		t.Fatalf("Message = %q, want %q", res.Message, msgRewardSoldOut)
	}
	if len(repo.rejected) != 1 {
		t.Fatalf("rejected=%d, want 1", len(repo.rejected))
	}
}

func TestCreatePledge_SystemErrorRecorded(t *testing.T) {
	repo := &stubRepo{projectErr: errors.New("storage offline")}
	svc := NewService(repo)

	res, err := svc.CreatePledge(context.Background(), PledgeRequest{
		UserID:    1,
		ProjectID: "10001001",
		Amount:    10000,
	})
	if err != nil {
		t.Fatalf("CreatePledge error: %v", err)
	}

	if res.Accepted {
		t.Fatalf("pledge accepted despite system error")
	}
	if res.Kind != ResultSystemError {
		t.Fatalf("Kind = %q, want %q", res.Kind, ResultSystemError)
	}
	if len(repo.rejected) != 1 {
		t.Fatalf("rejected=%d, want 1", len(repo.rejected))
	}
	if got := repo.rejected[0].Reason; len(got) < len(systemErrorPrefix) || got[:len(systemErrorPrefix)] != systemErrorPrefix {
		t.Fatalf("rejection reason %q lacks system error prefix", got)
	}
}

func TestCreatePledge_RejectionStoreFailure(t *testing.T) {
	repo := &stubRepo{rejectErr: errors.New("disk full")}
	svc := NewService(repo)

	_, err := svc.CreatePledge(context.Background(), PledgeRequest{
		UserID:    1,
		ProjectID: "99999999",
		Amount:    10000,
	})
	if err == nil {
		t.Fatalf("expected error when rejection cannot be recorded")
	}
}

func TestCreatePledge_ExactlyOneRecordPerAttempt(t *testing.T) {
	tests := []struct {
		name string
		req  PledgeRequest
	}{
		{name: "accepted", req: PledgeRequest{UserID: 1, ProjectID: "10001001", Amount: 50000}},
		{name: "unknown project", req: PledgeRequest{UserID: 1, ProjectID: "99999999", Amount: 50000}},
		{name: "unknown reward", req: PledgeRequest{UserID: 1, ProjectID: "10001001", Amount: 50000, RewardID: "reward_404"}},
		{name: "sold out", req: PledgeRequest{UserID: 1, ProjectID: "10001001", Amount: 300000, RewardID: "reward_1"}},
		{name: "below minimum", req: PledgeRequest{UserID: 1, ProjectID: "10001001", Amount: 100, RewardID: "reward_2"}},
		{name: "non positive", req: PledgeRequest{UserID: 1, ProjectID: "10001001", Amount: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{
				project: activeProject(),
				tiers:   []model.RewardTier{soldOutTier(), availableTier()},
			}
			svc := NewService(repo)

			if _, err := svc.CreatePledge(context.Background(), tt.req); err != nil {
				t.Fatalf("CreatePledge error: %v", err)
			}

			if got := len(repo.settled) + len(repo.rejected); got != 1 {
				t.Fatalf("journal records = %d, want exactly 1", got)
			}
		})
	}
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{createUserErr: repository.ErrUserExists}
	svc := NewService(repo)

	_, err := svc.RegisterUser(context.Background(), "birb", "pass", "birb@example.com", "Birb Png")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("birb", "correct")
	repo := &stubRepo{
		user: &model.User{ID: 1, Username: "birb", PasswordHash: hashed},
	}
	svc := NewService(repo)

	if _, err := svc.AuthenticateUser(context.Background(), "birb", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	id, err := svc.AuthenticateUser(context.Background(), "birb", "correct")
	if err != nil {
		t.Fatalf("AuthenticateUser error: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}
}

func TestAuthenticateUser_UnknownUser(t *testing.T) {
	svc := NewService(&stubRepo{})

	if _, err := svc.AuthenticateUser(context.Background(), "ghost", "pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2025, 6, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		deadline time.Time
		want     int
	}{
		{name: "45 days out", deadline: now.AddDate(0, 0, 45), want: 45},
		{name: "tomorrow", deadline: now.AddDate(0, 0, 1), want: 1},
		{name: "today", deadline: now, want: 0},
		{name: "yesterday", deadline: now.AddDate(0, 0, -1), want: 0},
		{name: "far past", deadline: now.AddDate(-1, 0, 0), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := daysRemaining(tt.deadline, now); got != tt.want {
				t.Fatalf("daysRemaining = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProgressPercentage(t *testing.T) {
	tests := []struct {
		name          string
		current, goal int64
		want          float64
	}{
		{name: "partial", current: 3575000, goal: 5000000, want: 71.5},
		{name: "overfunded caps at 100", current: 2850000, goal: 2500000, want: 100},
		{name: "zero goal", current: 100, goal: 0, want: 0},
		{name: "empty", current: 0, goal: 5000000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progressPercentage(tt.current, tt.goal); got != tt.want {
				t.Fatalf("progressPercentage = %v, want %v", got, tt.want)
			}
		})
	}
}
