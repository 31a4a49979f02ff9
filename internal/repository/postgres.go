// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/birb-png/birbfunding/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с занятым именем или email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProjectNotFound возвращается, если проект не найден в каталоге.
	ErrProjectNotFound = errors.New("project not found")
	// ErrTierSoldOut возвращается при попытке списать квоту распроданного уровня.
	ErrTierSoldOut = errors.New("reward tier is sold out")
)

// PledgeTotals содержит агрегаты по двум журналам взносов.
type PledgeTotals struct {
	SuccessfulCount  int
	RejectedCount    int
	TotalAmountCents int64
	RecentSuccessful int
	RecentRejected   int
}

// BackerTotal содержит сумму взносов одного пользователя в центах.
type BackerTotal struct {
	UserName    string
	Username    string
	TotalCents  int64
	PledgeCount int
}

// ProjectTotals содержит агрегаты по каталогу проектов в центах.
type ProjectTotals struct {
	TotalProjects   int
	ActiveProjects  int
	FundedProjects  int
	GoalAmountCents int64
	RaisedCents     int64
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных ошибках БД: конфликтах
// сериализации, дедлоках и обрывах соединения. Операция должна быть
// безопасной для повтора: транзакция откатывается при ошибке.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, username string, passwordHash []byte, email, fullName string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, email, full_name) VALUES ($1, $2, $3, $4) RETURNING id`,
		username, passwordHash, email, fullName,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByUsername возвращает пользователя по имени.
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, email, full_name, created_at FROM users WHERE username = $1`,
		username,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, email, full_name, created_at FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.FullName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

const projectColumns = `id, name, description, category, creator, goal_amount, current_amount, deadline, created_date`

// GetProjects возвращает проекты каталога с фильтрацией и сортировкой.
func (r *PostgresRepository) GetProjects(ctx context.Context, search, category string, sort model.SortOption) ([]model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`

	var conds []string
	var args []any

	if search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", n, n))
	}
	if category != "" {
		args = append(args, category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	switch sort {
	case model.SortDeadline:
		query += " ORDER BY deadline ASC"
	case model.SortRaisedAmount:
		query += " ORDER BY current_amount DESC"
	case model.SortGoalAmount:
		query += " ORDER BY goal_amount DESC"
	default:
		query += " ORDER BY created_date DESC, id"
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Creator,
			&p.GoalAmount, &p.CurrentAmount, &p.Deadline, &p.CreatedDate); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return projects, nil
}

// GetProjectByID возвращает проект по идентификатору.
func (r *PostgresRepository) GetProjectByID(ctx context.Context, id string) (*model.Project, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`,
		id,
	)

	var p model.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Creator,
		&p.GoalAmount, &p.CurrentAmount, &p.Deadline, &p.CreatedDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	return &p, nil
}

// GetCategories возвращает названия всех категорий каталога.
func (r *PostgresRepository) GetCategories(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return names, nil
}

// GetRewardTiers возвращает уровни вознаграждения проекта по возрастанию минимальной суммы.
func (r *PostgresRepository) GetRewardTiers(ctx context.Context, projectID string) ([]model.RewardTier, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, project_id, name, description, min_amount, remaining_quota
		 FROM reward_tiers
		 WHERE project_id = $1
		 ORDER BY min_amount`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reward tiers: %w", err)
	}
	defer rows.Close()

	var tiers []model.RewardTier
	for rows.Next() {
		var t model.RewardTier
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Description, &t.MinAmount, &t.RemainingQuota); err != nil {
			return nil, fmt.Errorf("scan reward tier: %w", err)
		}
		tiers = append(tiers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tiers, nil
}

// SettlePledge атомарно применяет успешный взнос: записывает его в журнал,
// увеличивает собранную сумму проекта и списывает квоту выбранного уровня.
// Строка проекта блокируется для сериализации одновременных взносов:
// два параллельных взноса на последнюю единицу квоты не пройдут оба.
// Возвращает присвоенный идентификатор взноса вида pledge_000001.
func (r *PostgresRepository) SettlePledge(ctx context.Context, p model.Pledge) (string, error) {
	var label string

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var dummy int
		err = tx.QueryRow(ctx, `SELECT 1 FROM projects WHERE id = $1 FOR UPDATE`, p.ProjectID).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrProjectNotFound
			}
			return fmt.Errorf("lock project for update: %w", err)
		}

		if p.RewardID != nil {
			cmdTag, err := tx.Exec(ctx,
				`UPDATE reward_tiers
				 SET remaining_quota = remaining_quota - 1
				 WHERE id = $1 AND project_id = $2 AND remaining_quota > 0`,
				*p.RewardID, p.ProjectID,
			)
			if err != nil {
				return fmt.Errorf("decrement tier quota: %w", err)
			}
			// Квота кончилась между проверкой и списанием: откатываем всё.
			if cmdTag.RowsAffected() == 0 {
				return ErrTierSoldOut
			}
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO pledges (user_id, project_id, amount, reward_id, pledge_date)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING label`,
			p.UserID, p.ProjectID, p.Amount, p.RewardID, p.PledgeDate,
		).Scan(&label)
		if err != nil {
			return fmt.Errorf("insert pledge: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE projects SET current_amount = current_amount + $2 WHERE id = $1`,
			p.ProjectID, p.Amount,
		)
		if err != nil {
			return fmt.Errorf("increment project amount: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return label, nil
}

// InsertPledge добавляет запись об успешном взносе без побочных эффектов.
// Используется генератором демонстрационных данных.
func (r *PostgresRepository) InsertPledge(ctx context.Context, p model.Pledge) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO pledges (user_id, project_id, amount, reward_id, pledge_date)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.UserID, p.ProjectID, p.Amount, p.RewardID, p.PledgeDate,
	)
	if err != nil {
		return fmt.Errorf("insert pledge: %w", err)
	}
	return nil
}

// CreateRejectedPledge добавляет запись об отклонённой попытке взноса.
// Журнал отказов не связан внешними ключами: отказ может ссылаться
// на несуществующий проект или уровень вознаграждения.
func (r *PostgresRepository) CreateRejectedPledge(ctx context.Context, rp model.RejectedPledge) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO rejected_pledges (user_id, project_id, amount, reward_id, rejection_date, rejection_reason)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rp.UserID, rp.ProjectID, rp.Amount, rp.RewardID, rp.RejectionDate, rp.Reason,
		)
		if err != nil {
			return fmt.Errorf("insert rejected pledge: %w", err)
		}
		return nil
	})
}

// GetPledgesByProject возвращает успешные взносы проекта, новые первыми,
// с именами бэкеров.
func (r *PostgresRepository) GetPledgesByProject(ctx context.Context, projectID string) ([]model.Pledge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.label, p.user_id, p.project_id, p.amount, p.reward_id, p.pledge_date, u.full_name
		 FROM pledges p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.project_id = $1
		 ORDER BY p.pledge_date DESC, p.id DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("select project pledges: %w", err)
	}
	defer rows.Close()

	var res []model.Pledge
	for rows.Next() {
		var p model.Pledge
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProjectID, &p.Amount, &p.RewardID, &p.PledgeDate, &p.UserName); err != nil {
			return nil, fmt.Errorf("scan pledge: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPledgesByUser возвращает взносы пользователя с названиями проектов.
func (r *PostgresRepository) GetPledgesByUser(ctx context.Context, userID int64) ([]model.Pledge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.label, p.user_id, p.project_id, p.amount, p.reward_id, p.pledge_date, pr.name
		 FROM pledges p
		 JOIN projects pr ON pr.id = p.project_id
		 WHERE p.user_id = $1
		 ORDER BY p.pledge_date DESC, p.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select user pledges: %w", err)
	}
	defer rows.Close()

	var res []model.Pledge
	for rows.Next() {
		var p model.Pledge
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProjectID, &p.Amount, &p.RewardID, &p.PledgeDate, &p.ProjectName); err != nil {
			return nil, fmt.Errorf("scan pledge: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPledgeTotals возвращает агрегаты по журналам успешных и отклонённых взносов.
// Окно недавней активности — последние семь суток включительно.
func (r *PostgresRepository) GetPledgeTotals(ctx context.Context) (PledgeTotals, error) {
	var t PledgeTotals

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(amount), 0),
		        COUNT(*) FILTER (WHERE pledge_date >= now() - interval '7 days')
		 FROM pledges`,
	).Scan(&t.SuccessfulCount, &t.TotalAmountCents, &t.RecentSuccessful)
	if err != nil {
		return PledgeTotals{}, fmt.Errorf("aggregate pledges: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE rejection_date >= now() - interval '7 days')
		 FROM rejected_pledges`,
	).Scan(&t.RejectedCount, &t.RecentRejected)
	if err != nil {
		return PledgeTotals{}, fmt.Errorf("aggregate rejected pledges: %w", err)
	}

	return t, nil
}

// GetTopRejectionReasons возвращает самые частые причины отказов.
// При равенстве счётчиков первой идёт раньше встреченная причина.
func (r *PostgresRepository) GetTopRejectionReasons(ctx context.Context, limit int) ([]model.ReasonCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT rejection_reason, COUNT(*) AS cnt
		 FROM rejected_pledges
		 GROUP BY rejection_reason
		 ORDER BY cnt DESC, MIN(id)
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select rejection reasons: %w", err)
	}
	defer rows.Close()

	var res []model.ReasonCount
	for rows.Next() {
		var rc model.ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("scan rejection reason: %w", err)
		}
		res = append(res, rc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetTopBackers возвращает бэкеров с наибольшей суммой успешных взносов.
// Пользователи без успешных взносов в выборку не попадают.
func (r *PostgresRepository) GetTopBackers(ctx context.Context, limit int) ([]BackerTotal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.full_name, u.username, SUM(p.amount) AS total, COUNT(*)
		 FROM pledges p
		 JOIN users u ON u.id = p.user_id
		 GROUP BY u.id, u.full_name, u.username
		 ORDER BY total DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select top backers: %w", err)
	}
	defer rows.Close()

	var res []BackerTotal
	for rows.Next() {
		var b BackerTotal
		if err := rows.Scan(&b.UserName, &b.Username, &b.TotalCents, &b.PledgeCount); err != nil {
			return nil, fmt.Errorf("scan backer: %w", err)
		}
		res = append(res, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetProjectTotals возвращает агрегаты по каталогу проектов.
func (r *PostgresRepository) GetProjectTotals(ctx context.Context) (ProjectTotals, error) {
	var t ProjectTotals

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE deadline > CURRENT_DATE),
		        COUNT(*) FILTER (WHERE current_amount >= goal_amount),
		        COALESCE(SUM(goal_amount), 0),
		        COALESCE(SUM(current_amount), 0)
		 FROM projects`,
	).Scan(&t.TotalProjects, &t.ActiveProjects, &t.FundedProjects, &t.GoalAmountCents, &t.RaisedCents)
	if err != nil {
		return ProjectTotals{}, fmt.Errorf("aggregate projects: %w", err)
	}

	return t, nil
}

// GetUserTotals возвращает общее число пользователей и число регистраций за последние 30 дней.
func (r *PostgresRepository) GetUserTotals(ctx context.Context) (int, int, error) {
	var total, recent int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE created_at >= now() - interval '30 days')
		 FROM users`,
	).Scan(&total, &recent)
	if err != nil {
		return 0, 0, fmt.Errorf("aggregate users: %w", err)
	}
	return total, recent, nil
}

// CountProjects возвращает число проектов в каталоге.
func (r *PostgresRepository) CountProjects(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

// CreateCategory добавляет категорию каталога.
func (r *PostgresRepository) CreateCategory(ctx context.Context, id, name string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO categories (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// CreateProject добавляет проект в каталог.
func (r *PostgresRepository) CreateProject(ctx context.Context, p model.Project) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO projects (id, name, description, category, creator, goal_amount, current_amount, deadline, created_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Name, p.Description, p.Category, p.Creator,
		p.GoalAmount, p.CurrentAmount, p.Deadline, p.CreatedDate,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// CreateRewardTier добавляет уровень вознаграждения проекта.
func (r *PostgresRepository) CreateRewardTier(ctx context.Context, t model.RewardTier) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reward_tiers (id, project_id, name, description, min_amount, remaining_quota)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.ProjectID, t.Name, t.Description, t.MinAmount, t.RemainingQuota,
	)
	if err != nil {
		return fmt.Errorf("insert reward tier: %w", err)
	}
	return nil
}
