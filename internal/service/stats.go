package service

import (
	"context"
	"math"

	"github.com/birb-png/birbfunding/internal/model"
	"github.com/birb-png/birbfunding/internal/money"
)

const (
	topReasonsLimit   = 5
	defaultTopBackers = 10
)

// PledgeStatistics возвращает сводную статистику по журналам успешных
// и отклонённых взносов.
func (s *Service) PledgeStatistics(ctx context.Context) (*model.PledgeStats, error) {
	totals, err := s.repo.GetPledgeTotals(ctx)
	if err != nil {
		return nil, err
	}

	reasons, err := s.repo.GetTopRejectionReasons(ctx, topReasonsLimit)
	if err != nil {
		return nil, err
	}

	attempts := totals.SuccessfulCount + totals.RejectedCount

	var rate float64
	if attempts > 0 {
		rate = round2(float64(totals.SuccessfulCount) / float64(attempts) * 100)
	}

	var avg float64
	if totals.SuccessfulCount > 0 {
		avg = round2(money.ToUnits(totals.TotalAmountCents) / float64(totals.SuccessfulCount))
	}

	return &model.PledgeStats{
		TotalSuccessful:     totals.SuccessfulCount,
		TotalRejected:       totals.RejectedCount,
		TotalAttempts:       attempts,
		SuccessRate:         rate,
		TotalPledgedAmount:  money.ToUnits(totals.TotalAmountCents),
		AveragePledgeAmount: avg,
		RecentSuccessful:    totals.RecentSuccessful,
		RecentRejected:      totals.RecentRejected,
		TopRejectionReasons: reasons,
	}, nil
}

// TopBackers возвращает бэкеров с наибольшей суммой успешных взносов.
// Неположительный limit заменяется значением по умолчанию.
func (s *Service) TopBackers(ctx context.Context, limit int) ([]model.Backer, error) {
	if limit <= 0 {
		limit = defaultTopBackers
	}

	rows, err := s.repo.GetTopBackers(ctx, limit)
	if err != nil {
		return nil, err
	}

	backers := make([]model.Backer, 0, len(rows))
	for _, r := range rows {
		backers = append(backers, model.Backer{
			UserName:     r.UserName,
			Username:     r.Username,
			TotalPledged: money.ToUnits(r.TotalCents),
			PledgeCount:  r.PledgeCount,
		})
	}

	return backers, nil
}

// ProjectStatistics возвращает сводную статистику по каталогу проектов.
func (s *Service) ProjectStatistics(ctx context.Context) (*model.ProjectStats, error) {
	totals, err := s.repo.GetProjectTotals(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.ProjectStats{
		TotalProjects:     totals.TotalProjects,
		ActiveProjects:    totals.ActiveProjects,
		ExpiredProjects:   totals.TotalProjects - totals.ActiveProjects,
		FundedProjects:    totals.FundedProjects,
		TotalGoalAmount:   money.ToUnits(totals.GoalAmountCents),
		TotalRaisedAmount: money.ToUnits(totals.RaisedCents),
	}

	if totals.TotalProjects > 0 {
		stats.SuccessRate = round2(float64(totals.FundedProjects) / float64(totals.TotalProjects) * 100)
	}
	if totals.GoalAmountCents > 0 {
		stats.OverallProgress = round2(float64(totals.RaisedCents) / float64(totals.GoalAmountCents) * 100)
	}

	return stats, nil
}

// UserStatistics возвращает статистику по пользователям платформы.
func (s *Service) UserStatistics(ctx context.Context) (*model.UserStats, error) {
	total, recent, err := s.repo.GetUserTotals(ctx)
	if err != nil {
		return nil, err
	}
	return &model.UserStats{TotalUsers: total, RecentUsers: recent}, nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
