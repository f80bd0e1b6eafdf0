// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/elixr-referral/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultTimeout ограничивает время одного обращения к БД, если таймаут не задан.
const DefaultTimeout = 3 * time.Second

// ErrCodeNotFound возвращается, если реферальный код не найден.
var (
	ErrCodeNotFound = errors.New("referral code not found")
	// ErrAmbiguousMatch возвращается, если канонический код соответствует нескольким рефереррам.
	ErrAmbiguousMatch = errors.New("referral code matches more than one referrer")
	// ErrDuplicateEntry возвращается при нарушении уникальности журнала вознаграждений.
	ErrDuplicateEntry = errors.New("duplicate reward entry")
	// ErrOrderCredited сопровождает ErrDuplicateEntry, если по заказу уже есть вознаграждение.
	ErrOrderCredited = errors.New("order already credited")
	// ErrStoreUnavailable возвращается при недоступности БД или превышении таймаута.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrRewardNotFound возвращается, если запись журнала не найдена.
	ErrRewardNotFound = errors.New("reward entry not found")
	// ErrInvalidTransition возвращается при недопустимой смене статуса записи.
	ErrInvalidTransition = errors.New("invalid reward status transition")
	// ErrUserHasCode возвращается, если у пользователя уже есть реферальный код.
	ErrUserHasCode = errors.New("user already has a referral code")
	// ErrCodeTaken возвращается, если код уже принадлежит другому пользователю.
	ErrCodeTaken = errors.New("referral code already taken")
)

// Имена ограничений из migrations/00001_referrals.sql.
const (
	orderConstraint    = "referral_rewards_order_key"
	userCodeConstraint = "referral_codes_pkey"
	codeConstraint     = "referral_codes_code_key"
)

const rewardColumns = `id::text, referrer_user_id, referred_user_id, code, points, amount_cents,
	status, order_id, created_at, completed_at, reversed_at, reversal_reason`

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string, timeout time.Duration) (*PostgresRepository, error) {
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

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r := &PostgresRepository{pool: pool, timeout: timeout}

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

func (r *PostgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// classify приводит ошибку драйвера к ошибкам репозитория.
// Повторные попытки не выполняются: решение о повторе принимает вызывающий.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == orderConstraint:
			return fmt.Errorf("%s: %w: %w", op, ErrDuplicateEntry, ErrOrderCredited)
		case pgErr.Code == pgerrcode.UniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrDuplicateEntry, pgErr.ConstraintName)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || isConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "failed to connect")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return classify("ping", r.pool.Ping(ctx))
}

// FindReferrerByCode возвращает идентификатор владельца канонического кода.
// Сравнение только точное: код хранится в каноническом виде.
func (r *PostgresRepository) FindReferrerByCode(ctx context.Context, code string) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM referral_codes WHERE code = $1 LIMIT 2`,
		code,
	)
	if err != nil {
		return "", classify("select referrer", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", classify("scan referrer", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return "", classify("rows error", err)
	}

	switch len(ids) {
	case 0:
		return "", ErrCodeNotFound
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousMatch, code)
	}
}

// HasCompletedReward сообщает, получал ли пользователь уже статус приглашённого.
func (r *PostgresRepository) HasCompletedReward(ctx context.Context, referredUserID string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM referral_rewards
			WHERE referred_user_id = $1 AND status = $2
		)`,
		referredUserID, string(model.RewardStatusCompleted),
	).Scan(&exists)
	if err != nil {
		return false, classify("select completed reward", err)
	}

	return exists, nil
}

// InsertPendingReward добавляет запись со статусом pending и возвращает её идентификатор.
// Уникальность по приглашённому пользователю и заказу обеспечивают индексы БД.
func (r *PostgresRepository) InsertPendingReward(ctx context.Context, entry model.RewardEntry) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO referral_rewards
			(id, referrer_user_id, referred_user_id, code, points, amount_cents, status, order_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, entry.ReferrerUserID, entry.ReferredUserID, entry.Code,
		entry.Points, toCents(entry.Amount), string(model.RewardStatusPending), entry.OrderID,
	)
	if err != nil {
		return "", classify("insert reward", err)
	}

	return id, nil
}

// MarkCompleted переводит запись из pending в completed. Повторный вызов для завершённой записи ничего не меняет.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, entryID string, orderID *string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE referral_rewards
		 SET status = $2, completed_at = now(), order_id = COALESCE($3, order_id)
		 WHERE id = $1 AND status = $4`,
		entryID, string(model.RewardStatusCompleted), orderID, string(model.RewardStatusPending),
	)
	if err != nil {
		return classify("complete reward", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	status, err := r.rewardStatus(ctx, entryID)
	if err != nil {
		return err
	}
	if status == model.RewardStatusCompleted {
		return nil
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, model.RewardStatusCompleted)
}

// MarkReversed переводит запись в reversed, сохраняя её в журнале.
func (r *PostgresRepository) MarkReversed(ctx context.Context, entryID, reason string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE referral_rewards
		 SET status = $2, reversed_at = now(), reversal_reason = $3
		 WHERE id = $1 AND status IN ($4, $5)`,
		entryID, string(model.RewardStatusReversed), reason,
		string(model.RewardStatusPending), string(model.RewardStatusCompleted),
	)
	if err != nil {
		return classify("reverse reward", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	// Запись уже отменена либо отсутствует.
	_, err = r.rewardStatus(ctx, entryID)
	return err
}

func (r *PostgresRepository) rewardStatus(ctx context.Context, entryID string) (model.RewardStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM referral_rewards WHERE id = $1`,
		entryID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrRewardNotFound
		}
		return "", classify("select reward status", err)
	}

	return model.RewardStatus(status), nil
}

// GetReward возвращает запись журнала по идентификатору.
func (r *PostgresRepository) GetReward(ctx context.Context, entryID string) (*model.RewardEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT `+rewardColumns+` FROM referral_rewards WHERE id = $1`,
		entryID,
	)

	e, err := scanReward(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, classify("select reward", err)
	}

	return e, nil
}

// GetActiveReward возвращает неотменённую запись приглашённого пользователя; завершённая имеет приоритет.
func (r *PostgresRepository) GetActiveReward(ctx context.Context, referredUserID string) (*model.RewardEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT `+rewardColumns+`
		 FROM referral_rewards
		 WHERE referred_user_id = $1 AND status <> $2
		 ORDER BY (status = $3) DESC, created_at DESC
		 LIMIT 1`,
		referredUserID, string(model.RewardStatusReversed), string(model.RewardStatusCompleted),
	)

	e, err := scanReward(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, classify("select active reward", err)
	}

	return e, nil
}

// GetRewardsByReferrer возвращает историю вознаграждений реферера.
func (r *PostgresRepository) GetRewardsByReferrer(ctx context.Context, referrerUserID string) ([]model.RewardEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+rewardColumns+`
		 FROM referral_rewards
		 WHERE referrer_user_id = $1
		 ORDER BY created_at DESC`,
		referrerUserID,
	)
	if err != nil {
		return nil, classify("select rewards", err)
	}
	defer rows.Close()

	return collectRewards(rows)
}

// GetPendingOrderRewards возвращает записи pending, привязанные к заказу.
func (r *PostgresRepository) GetPendingOrderRewards(ctx context.Context, limit int) ([]model.RewardEntry, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+rewardColumns+`
		 FROM referral_rewards
		 WHERE status = $1 AND order_id IS NOT NULL
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.RewardStatusPending), limit,
	)
	if err != nil {
		return nil, classify("select pending rewards", err)
	}
	defer rows.Close()

	return collectRewards(rows)
}

// GetReferrerSummary возвращает агрегаты по вознаграждениям реферера.
func (r *PostgresRepository) GetReferrerSummary(ctx context.Context, referrerUserID string) (*model.ReferrerSummary, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		s           model.ReferrerSummary
		amountCents int64
	)
	err := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COALESCE(SUM(points) FILTER (WHERE status = $2), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = $2), 0)
		 FROM referral_rewards
		 WHERE referrer_user_id = $1`,
		referrerUserID, string(model.RewardStatusCompleted), string(model.RewardStatusPending),
	).Scan(&s.Completed, &s.Pending, &s.Points, &amountCents)
	if err != nil {
		return nil, classify("select summary", err)
	}

	s.Amount = fromCents(amountCents)
	return &s, nil
}

// CreateReferralCode сохраняет канонический код пользователя.
func (r *PostgresRepository) CreateReferralCode(ctx context.Context, userID, code string) (*model.ReferralCode, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rc := model.ReferralCode{UserID: userID, Code: code}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO referral_codes (user_id, code) VALUES ($1, $2) RETURNING created_at`,
		userID, code,
	).Scan(&rc.CreatedAt)
	if err != nil {
		return nil, codeConflict(err, userID, code)
	}

	return &rc, nil
}

// codeConflict различает конфликт по пользователю и по коду при вставке реферального кода.
func codeConflict(err error, userID, code string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case userCodeConstraint:
			return fmt.Errorf("%w: %s", ErrUserHasCode, userID)
		case codeConstraint:
			return fmt.Errorf("%w: %s", ErrCodeTaken, code)
		}
	}
	return classify("insert referral code", err)
}

// GetCodeByUser возвращает реферальный код пользователя.
func (r *PostgresRepository) GetCodeByUser(ctx context.Context, userID string) (*model.ReferralCode, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var rc model.ReferralCode
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, code, created_at FROM referral_codes WHERE user_id = $1`,
		userID,
	).Scan(&rc.UserID, &rc.Code, &rc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, classify("select referral code", err)
	}

	return &rc, nil
}

func scanReward(row pgx.Row) (*model.RewardEntry, error) {
	var (
		e           model.RewardEntry
		status      string
		amountCents int64
	)

	err := row.Scan(
		&e.ID, &e.ReferrerUserID, &e.ReferredUserID, &e.Code, &e.Points, &amountCents,
		&status, &e.OrderID, &e.CreatedAt, &e.CompletedAt, &e.ReversedAt, &e.ReversalReason,
	)
	if err != nil {
		return nil, err
	}

	e.Status = model.RewardStatus(status)
	e.Amount = fromCents(amountCents)
	return &e, nil
}

func collectRewards(rows pgx.Rows) ([]model.RewardEntry, error) {
	var res []model.RewardEntry
	for rows.Next() {
		e, err := scanReward(rows)
		if err != nil {
			return nil, classify("scan reward", err)
		}
		res = append(res, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("rows error", err)
	}

	return res, nil
}

func toCents(v float64) int64 {
	if v < 0 {
		return int64(v*100 - 0.5)
	}
	return int64(v*100 + 0.5)
}

func fromCents(v int64) float64 {
	return float64(v) / 100
}
