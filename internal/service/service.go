// Package service реализует бизнес-логику платформы BirbFunding.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/birb-png/birbfunding/internal/model"
	"github.com/birb-png/birbfunding/internal/repository"
)

// ErrInvalidCredentials возвращается при неверном имени пользователя или пароле.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, username string, passwordHash []byte, email, fullName string) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	GetProjects(ctx context.Context, search, category string, sort model.SortOption) ([]model.Project, error)
	GetProjectByID(ctx context.Context, id string) (*model.Project, error)
	GetCategories(ctx context.Context) ([]string, error)
	GetRewardTiers(ctx context.Context, projectID string) ([]model.RewardTier, error)

	SettlePledge(ctx context.Context, p model.Pledge) (string, error)
	CreateRejectedPledge(ctx context.Context, rp model.RejectedPledge) error
	GetPledgesByProject(ctx context.Context, projectID string) ([]model.Pledge, error)
	GetPledgesByUser(ctx context.Context, userID int64) ([]model.Pledge, error)

	GetPledgeTotals(ctx context.Context) (repository.PledgeTotals, error)
	GetTopRejectionReasons(ctx context.Context, limit int) ([]model.ReasonCount, error)
	GetTopBackers(ctx context.Context, limit int) ([]repository.BackerTotal, error)
	GetProjectTotals(ctx context.Context) (repository.ProjectTotals, error)
	GetUserTotals(ctx context.Context) (int, int, error)
}

// Service содержит бизнес-логику платформы BirbFunding.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, username, password, email, fullName string) (int64, error) {
	hashed := hashPassword(username, password)
	id, err := s.repo.CreateUser(ctx, username, hashed, email, fullName)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет имя пользователя и пароль и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (int64, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(username, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

// UserByID возвращает пользователя по идентификатору.
func (s *Service) UserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func hashPassword(username, password string) []byte {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return sum[:]
}

// Projects возвращает проекты каталога с фильтрацией и сортировкой.
// У каждого проекта заполнены вычисляемые поля.
func (s *Service) Projects(ctx context.Context, search, category string, sort model.SortOption) ([]model.Project, error) {
	projects, err := s.repo.GetProjects(ctx, search, category, sort)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range projects {
		decorateProject(&projects[i], now)
	}

	return projects, nil
}

// ProjectByID возвращает проект с вычисляемыми полями.
func (s *Service) ProjectByID(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.repo.GetProjectByID(ctx, id)
	if err != nil {
		return nil, err
	}

	decorateProject(p, time.Now())
	return p, nil
}

// RewardTiers возвращает уровни вознаграждения проекта по возрастанию минимальной суммы.
func (s *Service) RewardTiers(ctx context.Context, projectID string) ([]model.RewardTier, error) {
	return s.repo.GetRewardTiers(ctx, projectID)
}

// Categories возвращает названия категорий каталога.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.repo.GetCategories(ctx)
}

// PledgesForProject возвращает успешные взносы проекта, новые первыми,
// с именами бэкеров.
func (s *Service) PledgesForProject(ctx context.Context, projectID string) ([]model.Pledge, error) {
	return s.repo.GetPledgesByProject(ctx, projectID)
}

// PledgesForUser возвращает взносы пользователя с названиями проектов.
func (s *Service) PledgesForUser(ctx context.Context, userID int64) ([]model.Pledge, error) {
	return s.repo.GetPledgesByUser(ctx, userID)
}

// decorateProject заполняет вычисляемые поля проекта.
func decorateProject(p *model.Project, now time.Time) {
	p.DaysRemaining = daysRemaining(p.Deadline, now)
	p.Progress = progressPercentage(p.CurrentAmount, p.GoalAmount)
}

// daysRemaining возвращает число полных дней до дедлайна.
// Дедлайн сегодня или в прошлом даёт ноль.
func daysRemaining(deadline, now time.Time) int {
	d := time.Date(deadline.Year(), deadline.Month(), deadline.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	days := int(d.Sub(today) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

// progressPercentage возвращает прогресс сбора средств, не больше 100.
func progressPercentage(current, goal int64) float64 {
	if goal <= 0 {
		return 0
	}
	p := float64(current) / float64(goal) * 100
	if p > 100 {
		return 100
	}
	return p
}
