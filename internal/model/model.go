// Package model содержит доменные сущности краудфандинговой платформы BirbFunding.
package model

import "time"

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	Email        string
	FullName     string
	CreatedAt    time.Time
}

// Project описывает краудфандинговый проект и его цель по сбору средств.
// Суммы хранятся в центах. DaysRemaining и Progress — вычисляемые поля,
// заполняются сервисом и в БД не хранятся.
type Project struct {
	ID            string
	Name          string
	Description   string
	Category      string
	Creator       string
	GoalAmount    int64
	CurrentAmount int64
	Deadline      time.Time
	CreatedDate   time.Time
	DaysRemaining int
	Progress      float64
}

// RewardTier описывает уровень вознаграждения проекта: минимальную сумму
// взноса и оставшуюся квоту.
type RewardTier struct {
	ID             string
	ProjectID      string
	Name           string
	Description    string
	MinAmount      int64
	RemainingQuota int
}

// Pledge описывает успешный взнос пользователя в проект.
// UserName и ProjectName заполняются при выдаче списков и в БД не хранятся.
type Pledge struct {
	ID          string
	UserID      int64
	ProjectID   string
	Amount      int64
	RewardID    *string
	PledgeDate  time.Time
	UserName    string
	ProjectName string
}

// RejectedPledge описывает отклонённую попытку взноса и причину отказа.
type RejectedPledge struct {
	UserID        int64
	ProjectID     string
	Amount        int64
	RewardID      *string
	RejectionDate time.Time
	Reason        string
}

// SortOption задаёт порядок сортировки списка проектов.
type SortOption string

const (
	SortNewest       SortOption = "newest"
	SortDeadline     SortOption = "deadline"
	SortRaisedAmount SortOption = "raised_amount"
	SortGoalAmount   SortOption = "goal_amount"
)

// ReasonCount содержит причину отказа и число её вхождений.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// PledgeStats содержит сводную статистику по успешным и отклонённым взносам.
type PledgeStats struct {
	TotalSuccessful     int           `json:"total_successful_pledges"`
	TotalRejected       int           `json:"total_rejected_pledges"`
	TotalAttempts       int           `json:"total_pledge_attempts"`
	SuccessRate         float64       `json:"success_rate_percentage"`
	TotalPledgedAmount  float64       `json:"total_pledged_amount"`
	AveragePledgeAmount float64       `json:"average_pledge_amount"`
	RecentSuccessful    int           `json:"recent_successful_pledges"`
	RecentRejected      int           `json:"recent_rejected_pledges"`
	TopRejectionReasons []ReasonCount `json:"top_rejection_reasons"`
}

// Backer описывает бэкера в рейтинге по общей сумме взносов.
type Backer struct {
	UserName     string  `json:"user_name"`
	Username     string  `json:"username"`
	TotalPledged float64 `json:"total_pledged"`
	PledgeCount  int     `json:"pledge_count"`
}

// ProjectStats содержит сводную статистику по каталогу проектов.
type ProjectStats struct {
	TotalProjects     int     `json:"total_projects"`
	ActiveProjects    int     `json:"active_projects"`
	ExpiredProjects   int     `json:"expired_projects"`
	FundedProjects    int     `json:"successful_projects"`
	SuccessRate       float64 `json:"success_rate"`
	TotalGoalAmount   float64 `json:"total_goal_amount"`
	TotalRaisedAmount float64 `json:"total_raised_amount"`
	OverallProgress   float64 `json:"overall_progress"`
}

// UserStats содержит статистику по пользователям платформы.
type UserStats struct {
	TotalUsers  int `json:"total_users"`
	RecentUsers int `json:"recent_users"`
}
