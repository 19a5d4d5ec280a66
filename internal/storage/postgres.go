package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/receiverbot/internal/domain"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// NewPostgres returns the postgres-backed stores.
func NewPostgres(db *sqlx.DB) Stores {
	return Stores{
		Steps:    &stepRepo{db: db},
		Accounts: &accountRepo{db: db},
		Users:    &userRepo{db: db},
		Settings: &settingsRepo{db: db},
	}
}

type stepRepo struct {
	db *sqlx.DB
}

func (r *stepRepo) Get(ctx context.Context, userID int64) (domain.StepRecord, error) {
	var rec domain.StepRecord
	err := r.db.GetContext(ctx, &rec, `SELECT user_id, step, expires_at FROM user_steps WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StepRecord{}, ErrStepNotFound
	}
	if err != nil {
		return domain.StepRecord{}, fmt.Errorf("get step: %w", err)
	}
	return rec, nil
}

func (r *stepRepo) Replace(ctx context.Context, rec domain.StepRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_steps WHERE user_id = $1`, rec.UserID); err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	// a concurrent Replace for the same user may have inserted between the two statements
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO user_steps (user_id, step, expires_at)
		VALUES (:user_id, :step, :expires_at)
		ON CONFLICT (user_id) DO UPDATE SET step = EXCLUDED.step, expires_at = EXCLUDED.expires_at
	`, rec); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *stepRepo) Remove(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_steps WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("remove step: %w", err)
	}
	return nil
}

func (r *stepRepo) List(ctx context.Context) ([]domain.StepRecord, error) {
	var recs []domain.StepRecord
	if err := r.db.SelectContext(ctx, &recs, `SELECT user_id, step, expires_at FROM user_steps ORDER BY expires_at`); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return recs, nil
}

type accountRepo struct {
	db *sqlx.DB
}

const accountColumns = `id, country_code, national_number, status, registered_on, owner_id,
	credentials_ref, device_model, system_version, app_version, lang_code`

func (r *accountRepo) Create(ctx context.Context, rec domain.AccountRecord) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (:id, :country_code, :national_number, :status, :registered_on, :owner_id,
			:credentials_ref, :device_model, :system_version, :app_version, :lang_code)
	`, rec)
	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *accountRepo) Exists(ctx context.Context, countryCode, national string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE country_code = $1 AND national_number = $2)`,
		countryCode, national)
	if err != nil {
		return false, fmt.Errorf("account exists: %w", err)
	}
	return exists, nil
}

func (r *accountRepo) Get(ctx context.Context, id uuid.UUID) (domain.AccountRecord, error) {
	var rec domain.AccountRecord
	err := r.db.GetContext(ctx, &rec, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AccountRecord{}, ErrAccountNotFound
	}
	if err != nil {
		return domain.AccountRecord{}, fmt.Errorf("get account: %w", err)
	}
	return rec, nil
}

func (r *accountRepo) MarkClaimed(ctx context.Context, id uuid.UUID, ownerID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET status = $1
		WHERE id = $2 AND owner_id = $3 AND status = $4
	`, domain.AccountClaimed, id, ownerID, domain.AccountProvisioned)
	if err != nil {
		return fmt.Errorf("claim account: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.OwnerID != ownerID {
		return ErrAccountNotFound
	}
	return ErrAlreadyClaimed
}

func (r *accountRepo) ListByOwner(ctx context.Context, ownerID int64) ([]domain.AccountRecord, error) {
	var recs []domain.AccountRecord
	err := r.db.SelectContext(ctx, &recs,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY registered_on DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return recs, nil
}

type statusCount struct {
	Status domain.AccountStatus `db:"status"`
	N      int                  `db:"n"`
}

func foldCounts(rows []statusCount) domain.AccountCounts {
	var c domain.AccountCounts
	for _, row := range rows {
		switch row.Status {
		case domain.AccountProvisioned:
			c.Provisioned = row.N
		case domain.AccountClaimed:
			c.Claimed = row.N
		}
	}
	return c
}

func (r *accountRepo) CountByOwner(ctx context.Context, ownerID int64) (domain.AccountCounts, error) {
	var rows []statusCount
	err := r.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS n FROM accounts WHERE owner_id = $1 GROUP BY status`, ownerID)
	if err != nil {
		return domain.AccountCounts{}, fmt.Errorf("count accounts: %w", err)
	}
	return foldCounts(rows), nil
}

func (r *accountRepo) Count(ctx context.Context) (domain.AccountCounts, error) {
	var rows []statusCount
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM accounts GROUP BY status`); err != nil {
		return domain.AccountCounts{}, fmt.Errorf("count accounts: %w", err)
	}
	return foldCounts(rows), nil
}

type userRepo struct {
	db *sqlx.DB
}

func (r *userRepo) Register(ctx context.Context, userID int64, allowed bool) (domain.ChatUser, bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_users (user_id, allowed) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, allowed)
	if err != nil {
		return domain.ChatUser{}, false, fmt.Errorf("register user: %w", err)
	}
	n, _ := res.RowsAffected()
	u, err := r.Get(ctx, userID)
	return u, n > 0, err
}

func (r *userRepo) Get(ctx context.Context, userID int64) (domain.ChatUser, error) {
	var u domain.ChatUser
	err := r.db.GetContext(ctx, &u, `SELECT user_id, allowed, created_at FROM chat_users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatUser{}, ErrUserNotFound
	}
	if err != nil {
		return domain.ChatUser{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepo) SetAllowed(ctx context.Context, userID int64, allowed bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_users SET allowed = $1 WHERE user_id = $2`, allowed, userID)
	if err != nil {
		return fmt.Errorf("set allowed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM chat_users`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

type settingsRepo struct {
	db *sqlx.DB
}

type settingRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

func (r *settingsRepo) Policy(ctx context.Context) (domain.Policy, error) {
	var rows []settingRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT key, value FROM bot_settings`); err != nil {
		return domain.Policy{}, fmt.Errorf("load settings: %w", err)
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return PolicyFromValues(values), nil
}

func (r *settingsRepo) Set(ctx context.Context, key string, value bool) error {
	if !KnownSetting(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bot_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, strconv.FormatBool(value))
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (r *settingsRepo) Seed(ctx context.Context, defaults domain.Policy) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	for key, value := range PolicyValues(defaults) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bot_settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			key, value); err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}
	return tx.Commit()
}
