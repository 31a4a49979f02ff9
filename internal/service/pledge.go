package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/birb-png/birbfunding/internal/model"
	"github.com/birb-png/birbfunding/internal/money"
	"github.com/birb-png/birbfunding/internal/repository"
)

// Сообщения результатов обработки взноса. Тексты входят в журнал отказов
// и используются статистикой для классификации, менять осторожно.
const (
	msgProjectNotFound = "Project not found"
	msgDeadlinePassed  = "Project deadline has passed"
	msgRewardNotFound  = "Selected reward tier not found"
	msgRewardSoldOut   = "Selected reward tier is sold out"
	msgAmountTooLowFmt = "Amount must be at least %.2f for this reward"
	msgNonPositive     = "Pledge amount must be greater than zero"
	msgPledgeCreated   = "Pledge created successfully"

	systemErrorPrefix = "System error: "
)

// ResultKind классифицирует исход попытки взноса.
type ResultKind string

const (
	// ResultAccepted — взнос принят и записан в журнал успешных.
	ResultAccepted ResultKind = "accepted"
	// ResultRejected — взнос отклонён бизнес-правилом.
	ResultRejected ResultKind = "rejected"
	// ResultSystemError — взнос отклонён из-за системного сбоя.
	ResultSystemError ResultKind = "system_error"
)

// PledgeRequest описывает попытку взноса.
// Пустой RewardID означает взнос без вознаграждения.
type PledgeRequest struct {
	UserID    int64
	ProjectID string
	Amount    int64
	RewardID  string
}

// PledgeResult содержит исход попытки взноса. Message пригоден для показа
// пользователю; Kind позволяет вызывающему коду отличить системный сбой
// от отказа по бизнес-правилу.
type PledgeResult struct {
	Accepted bool
	Kind     ResultKind
	Message  string
	PledgeID string
}

// pledgeContext — снимок данных, над которым выполняются правила валидации.
type pledgeContext struct {
	req     PledgeRequest
	project *model.Project
	tier    *model.RewardTier
}

// pledgeRule проверяет одно бизнес-правило. Возвращает причину отказа
// или пустую строку, если правило выполнено.
type pledgeRule func(pc pledgeContext) string

// pledgeRules — конвейер валидации. Порядок правил фиксирован: первое
// нарушенное правило определяет записанную причину отказа.
var pledgeRules = []pledgeRule{
	ruleProjectExists,
	ruleDeadlineNotPassed,
	ruleRewardResolved,
	ruleMinimumAmount,
	ruleQuotaAvailable,
}

func ruleProjectExists(pc pledgeContext) string {
	if pc.project == nil {
		return msgProjectNotFound
	}
	return ""
}

func ruleDeadlineNotPassed(pc pledgeContext) string {
	if pc.project.DaysRemaining <= 0 {
		return msgDeadlinePassed
	}
	return ""
}

func ruleRewardResolved(pc pledgeContext) string {
	if pc.req.RewardID != "" && pc.tier == nil {
		return msgRewardNotFound
	}
	return ""
}

func ruleMinimumAmount(pc pledgeContext) string {
	if pc.tier != nil && pc.req.Amount < pc.tier.MinAmount {
		return fmt.Sprintf(msgAmountTooLowFmt, money.ToUnits(pc.tier.MinAmount))
	}
	return ""
}

func ruleQuotaAvailable(pc pledgeContext) string {
	if pc.tier != nil && pc.tier.RemainingQuota <= 0 {
		return msgRewardSoldOut
	}
	return ""
}

// CreatePledge проверяет попытку взноса по конвейеру правил и применяет её.
// Каждый вызов оставляет ровно одну долговечную запись: успешный взнос
// в журнале успешных либо отказ в журнале отклонённых. Ошибка возвращается
// только если не удалось записать даже отказ.
func (s *Service) CreatePledge(ctx context.Context, req PledgeRequest) (PledgeResult, error) {
	now := time.Now()

	// Контроллер отклоняет неположительные суммы до вызова сервиса,
	// но прямой вызов не должен обходить проверку.
	if req.Amount <= 0 {
		return s.rejectPledge(ctx, req, now, msgNonPositive, ResultRejected)
	}

	pc, err := s.resolvePledge(ctx, req, now)
	if err != nil {
		return s.rejectPledge(ctx, req, now, systemErrorPrefix+err.Error(), ResultSystemError)
	}

	for _, rule := range pledgeRules {
		if reason := rule(pc); reason != "" {
			return s.rejectPledge(ctx, req, now, reason, ResultRejected)
		}
	}

	pledge := model.Pledge{
		UserID:     req.UserID,
		ProjectID:  req.ProjectID,
		Amount:     req.Amount,
		RewardID:   optionalRewardID(req.RewardID),
		PledgeDate: now,
	}

	label, err := s.repo.SettlePledge(ctx, pledge)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTierSoldOut):
			// Квоту забрал параллельный взнос после снятия снимка.
			return s.rejectPledge(ctx, req, now, msgRewardSoldOut, ResultRejected)
		case errors.Is(err, repository.ErrProjectNotFound):
			return s.rejectPledge(ctx, req, now, msgProjectNotFound, ResultRejected)
		default:
			return s.rejectPledge(ctx, req, now, systemErrorPrefix+err.Error(), ResultSystemError)
		}
	}

	return PledgeResult{
		Accepted: true,
		Kind:     ResultAccepted,
		Message:  msgPledgeCreated,
		PledgeID: label,
	}, nil
}

// resolvePledge собирает снимок данных для правил валидации.
// Отсутствие проекта не ошибка: правило ruleProjectExists различает
// nil-проект и системный сбой чтения.
func (s *Service) resolvePledge(ctx context.Context, req PledgeRequest, now time.Time) (pledgeContext, error) {
	pc := pledgeContext{req: req}

	project, err := s.repo.GetProjectByID(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return pc, nil
		}
		return pc, err
	}

	decorateProject(project, now)
	pc.project = project

	if req.RewardID == "" {
		return pc, nil
	}

	// Поиск уровня ограничен проектом взноса: идентификатор уровня
	// чужого проекта неотличим от несуществующего.
	tiers, err := s.repo.GetRewardTiers(ctx, req.ProjectID)
	if err != nil {
		return pc, err
	}

	for i := range tiers {
		if tiers[i].ID == req.RewardID {
			pc.tier = &tiers[i]
			break
		}
	}

	return pc, nil
}

// rejectPledge записывает отказ в журнал отклонённых взносов.
func (s *Service) rejectPledge(ctx context.Context, req PledgeRequest, now time.Time, reason string, kind ResultKind) (PledgeResult, error) {
	rejected := model.RejectedPledge{
		UserID:        req.UserID,
		ProjectID:     req.ProjectID,
		Amount:        req.Amount,
		RewardID:      optionalRewardID(req.RewardID),
		RejectionDate: now,
		Reason:        reason,
	}

	if err := s.repo.CreateRejectedPledge(ctx, rejected); err != nil {
		return PledgeResult{}, fmt.Errorf("record rejected pledge: %w", err)
	}

	return PledgeResult{
		Accepted: false,
		Kind:     kind,
		Message:  reason,
	}, nil
}

func optionalRewardID(rewardID string) *string {
	if rewardID == "" {
		return nil
	}
	return &rewardID
}
