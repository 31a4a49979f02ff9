// Package seed наполняет пустой каталог демонстрационными данными:
// проектами, уровнями вознаграждения, пользователями и историей взносов.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/birb-png/birbfunding/internal/model"
)

// Store описывает операции хранилища, используемые генератором данных.
type Store interface {
	CountProjects(ctx context.Context) (int, error)
	CreateCategory(ctx context.Context, id, name string) error
	CreateProject(ctx context.Context, p model.Project) error
	CreateRewardTier(ctx context.Context, t model.RewardTier) error
	InsertPledge(ctx context.Context, p model.Pledge) error
	CreateRejectedPledge(ctx context.Context, rp model.RejectedPledge) error
}

// UserRegistrar регистрирует демонстрационных пользователей через
// обычный путь регистрации, чтобы пароли хешировались единообразно.
type UserRegistrar interface {
	RegisterUser(ctx context.Context, username, password, email, fullName string) (int64, error)
}

type seedUser struct {
	username string
	fullName string
}

type seedTier struct {
	id        string
	name      string
	desc      string
	minAmount int64
	quota     int
}

type seedProject struct {
	id          string
	name        string
	desc        string
	category    string
	creator     string
	goal        int64
	daysLeft    int
	createdAgo  int
	tiers       []seedTier
	extraPledge int64
}

var seedUsers = []seedUser{
	{"alice", "Alice Johnson"},
	{"bob", "Bob Smith"},
	{"carol", "Carol White"},
	{"dave", "Dave Brown"},
	{"erin", "Erin Davis"},
	{"frank", "Frank Miller"},
	{"grace", "Grace Wilson"},
	{"heidi", "Heidi Moore"},
	{"ivan", "Ivan Taylor"},
	{"judy", "Judy Anderson"},
	{"mallory", "Mallory Thomas"},
	{"oscar", "Oscar Jackson"},
}

var seedCategories = []struct{ id, name string }{
	{"technology", "Technology"},
	{"games", "Games"},
	{"design", "Design"},
	{"film", "Film"},
	{"music", "Music"},
}

// seedProjects — восемь проектов: один с истёкшим дедлайном, один
// перевыполнивший цель за счёт extraPledge.
var seedProjects = []seedProject{
	{
		id: "10001001", name: "Smart Home IoT System",
		desc:     "An open hub that ties together sensors, lights and locks without a cloud account.",
		category: "Technology", creator: "Nikolai Petrov",
		goal: 5000000, daysLeft: 45, createdAgo: 15,
		tiers: []seedTier{
			{"reward_1", "Early Bird Kit", "Hub and three sensors at a discount.", 250000, 0},
			{"reward_2", "Starter Kit", "Hub and one sensor.", 100000, 25},
			{"reward_3", "Sticker Pack", "Logo stickers and a thank-you note.", 10000, 200},
		},
	},
	{
		id: "10001002", name: "Cardboard Dungeons",
		desc:     "A print-and-play dungeon crawler with a campaign book.",
		category: "Games", creator: "Maria Lopez",
		goal: 1500000, daysLeft: 20, createdAgo: 25,
		tiers: []seedTier{
			{"reward_4", "Digital Edition", "PDF of the full game.", 50000, 500},
			{"reward_5", "Boxed Edition", "Printed box with all miniatures.", 200000, 80},
		},
	},
	{
		id: "10001003", name: "Pocket Synthesizer",
		desc:     "A hackable pocket synth with open firmware.",
		category: "Music", creator: "Taro Yamada",
		goal: 2500000, daysLeft: 10, createdAgo: 35,
		// extraPledge выводит проект за цель.
		extraPledge: 400000,
		tiers: []seedTier{
			{"reward_6", "Synth Unit", "One assembled synthesizer.", 300000, 40},
			{"reward_7", "DIY Kit", "Parts and a soldering guide.", 150000, 60},
		},
	},
	{
		id: "10001004", name: "Minimalist Field Journal",
		desc:     "A weatherproof notebook built for hiking trips.",
		category: "Design", creator: "Anna Keller",
		goal: 800000, daysLeft: 30, createdAgo: 10,
		tiers: []seedTier{
			{"reward_8", "Single Journal", "One journal in kraft paper.", 40000, 300},
			{"reward_9", "Journal Trio", "Three journals in a canvas sleeve.", 100000, 120},
		},
	},
	{
		id: "10001005", name: "Lost Rivers Documentary",
		desc:     "A film about the buried rivers under old European cities.",
		category: "Film", creator: "Pawel Nowak",
		goal: 4000000, daysLeft: -5, createdAgo: 50,
		tiers: []seedTier{
			{"reward_10", "Streaming Access", "Early digital screening.", 60000, 1000},
			{"reward_11", "Producer Credit", "Your name in the closing titles.", 1000000, 10},
		},
	},
	{
		id: "10001006", name: "Urban Beekeeping Starter",
		desc:     "Flat-pack hives and courses for city rooftops.",
		category: "Technology", creator: "Sofia Rossi",
		goal: 1200000, daysLeft: 38, createdAgo: 7,
		tiers: []seedTier{
			{"reward_12", "Course Seat", "A place in the online course.", 30000, 150},
			{"reward_13", "Hive Kit", "Flat-pack hive plus the course.", 250000, 35},
		},
	},
	{
		id: "10001007", name: "Tactile Chess for All",
		desc:     "A chess set designed with and for blind players.",
		category: "Games", creator: "Viktor Hansen",
		goal: 900000, daysLeft: 55, createdAgo: 5,
		tiers: []seedTier{
			{"reward_14", "Tournament Set", "Full-size tactile set.", 120000, 90},
		},
	},
	{
		id: "10001008", name: "Letterpress Poster Series",
		desc:     "Twelve hand-printed posters celebrating dead typefaces.",
		category: "Design", creator: "Claire Dubois",
		goal: 600000, daysLeft: 15, createdAgo: 30,
		tiers: []seedTier{
			{"reward_15", "Single Poster", "One poster of your choice.", 35000, 250},
			{"reward_16", "Full Series", "All twelve posters in a tube.", 350000, 30},
		},
	},
}

const (
	successfulPledges = 50
	rejectedPledges   = 15
	historyDays       = 45
)

// Run наполняет пустое хранилище демонстрационными данными.
// Если каталог уже содержит проекты, ничего не делает.
func Run(ctx context.Context, store Store, users UserRegistrar, logger *zap.Logger) error {
	n, err := store.CountProjects(ctx)
	if err != nil {
		return fmt.Errorf("seed: count projects: %w", err)
	}
	if n > 0 {
		logger.Info("seed skipped: catalog is not empty", zap.Int("projects", n))
		return nil
	}

	userIDs := make([]int64, 0, len(seedUsers))
	for _, u := range seedUsers {
		id, err := users.RegisterUser(ctx, u.username, u.username+"-pass", u.username+"@example.com", u.fullName)
		if err != nil {
			return fmt.Errorf("seed: register user %s: %w", u.username, err)
		}
		userIDs = append(userIDs, id)
	}

	for _, c := range seedCategories {
		if err := store.CreateCategory(ctx, c.id, c.name); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	// Фиксированное зерно даёт воспроизводимую историю взносов.
	rng := rand.New(rand.NewSource(1))
	now := time.Now()

	pledges := generatePledges(rng, now, userIDs)
	totals := make(map[string]int64, len(seedProjects))
	for _, p := range pledges {
		totals[p.ProjectID] += p.Amount
	}

	for _, sp := range seedProjects {
		project := model.Project{
			ID:            sp.id,
			Name:          sp.name,
			Description:   sp.desc,
			Category:      sp.category,
			Creator:       sp.creator,
			GoalAmount:    sp.goal,
			CurrentAmount: totals[sp.id],
			Deadline:      now.AddDate(0, 0, sp.daysLeft),
			CreatedDate:   now.AddDate(0, 0, -sp.createdAgo),
		}
		if err := store.CreateProject(ctx, project); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		for _, st := range sp.tiers {
			tier := model.RewardTier{
				ID:             st.id,
				ProjectID:      sp.id,
				Name:           st.name,
				Description:    st.desc,
				MinAmount:      st.minAmount,
				RemainingQuota: st.quota,
			}
			if err := store.CreateRewardTier(ctx, tier); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
		}
	}

	for _, p := range pledges {
		if err := store.InsertPledge(ctx, p); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	if err := generateRejections(ctx, store, rng, now, userIDs); err != nil {
		return err
	}

	logger.Info("seed completed",
		zap.Int("users", len(userIDs)),
		zap.Int("projects", len(seedProjects)),
		zap.Int("pledges", len(pledges)),
		zap.Int("rejections", rejectedPledges),
	)
	return nil
}

// generatePledges строит историю успешных взносов за последние 45 дней.
// Взносы с вознаграждением не опускаются ниже минимума уровня; распроданные
// уровни в историю не попадают.
func generatePledges(rng *rand.Rand, now time.Time, userIDs []int64) []model.Pledge {
	pledges := make([]model.Pledge, 0, successfulPledges+1)

	for len(pledges) < successfulPledges {
		sp := seedProjects[rng.Intn(len(seedProjects))]
		userID := userIDs[rng.Intn(len(userIDs))]

		maxAge := historyDays
		if sp.daysLeft < 0 {
			// Взносы в завершённый проект датируются до его дедлайна.
			maxAge = historyDays + sp.daysLeft
		}
		date := now.AddDate(0, 0, -rng.Intn(maxAge+1)).Add(-time.Duration(rng.Intn(24)) * time.Hour)

		p := model.Pledge{
			UserID:     userID,
			ProjectID:  sp.id,
			PledgeDate: date,
		}

		if tier, ok := pickTier(rng, sp); ok && rng.Intn(100) < 60 {
			rewardID := tier.id
			p.RewardID = &rewardID
			p.Amount = tier.minAmount + int64(rng.Intn(50))*1000
		} else {
			p.Amount = int64(5+rng.Intn(295)) * 100
		}

		pledges = append(pledges, p)
	}

	for _, sp := range seedProjects {
		if sp.extraPledge == 0 {
			continue
		}
		pledges = append(pledges, model.Pledge{
			UserID:     userIDs[0],
			ProjectID:  sp.id,
			Amount:     sp.goal + sp.extraPledge,
			PledgeDate: now.AddDate(0, 0, -2),
		})
	}

	return pledges
}

func pickTier(rng *rand.Rand, sp seedProject) (seedTier, bool) {
	open := make([]seedTier, 0, len(sp.tiers))
	for _, t := range sp.tiers {
		if t.quota > 0 {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return seedTier{}, false
	}
	return open[rng.Intn(len(open))], true
}

// generateRejections записывает историю отказов с теми же текстами причин,
// которые выдаёт обработка взносов.
func generateRejections(ctx context.Context, store Store, rng *rand.Rand, now time.Time, userIDs []int64) error {
	soldOut := "reward_1"
	unknownReward := "reward_404"

	rejections := []model.RejectedPledge{
		{ProjectID: "99999999", Amount: 100000, Reason: "Project not found"},
		{ProjectID: "88888888", Amount: 50000, Reason: "Project not found"},
		{ProjectID: "10001005", Amount: 200000, Reason: "Project deadline has passed"},
		{ProjectID: "10001005", Amount: 75000, Reason: "Project deadline has passed"},
		{ProjectID: "10001005", Amount: 120000, Reason: "Project deadline has passed"},
		{ProjectID: "10001001", Amount: 300000, RewardID: &soldOut, Reason: "Selected reward tier is sold out"},
		{ProjectID: "10001001", Amount: 260000, RewardID: &soldOut, Reason: "Selected reward tier is sold out"},
		{ProjectID: "10001001", Amount: 500000, RewardID: &soldOut, Reason: "Selected reward tier is sold out"},
		{ProjectID: "10001002", Amount: 10000, RewardID: &unknownReward, Reason: "Selected reward tier not found"},
		{ProjectID: "10001004", Amount: 5000, RewardID: &unknownReward, Reason: "Selected reward tier not found"},
		{ProjectID: "10001003", Amount: 100000, RewardID: strptr("reward_6"), Reason: "Amount must be at least 3000.00 for this reward"},
		{ProjectID: "10001003", Amount: 200000, RewardID: strptr("reward_6"), Reason: "Amount must be at least 3000.00 for this reward"},
		{ProjectID: "10001008", Amount: 20000, RewardID: strptr("reward_15"), Reason: "Amount must be at least 350.00 for this reward"},
		{ProjectID: "10001006", Amount: 10000, RewardID: strptr("reward_13"), Reason: "Amount must be at least 2500.00 for this reward"},
		{ProjectID: "10001007", Amount: 90000, Reason: "System error: context deadline exceeded"},
	}

	for i := range rejections {
		rejections[i].UserID = userIDs[rng.Intn(len(userIDs))]
		rejections[i].RejectionDate = now.AddDate(0, 0, -rng.Intn(historyDays+1))
		if err := store.CreateRejectedPledge(ctx, rejections[i]); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	return nil
}

func strptr(s string) *string { return &s }
