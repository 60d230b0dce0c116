package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/chapterhub/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, password_hash, role, is_active, profile_id, last_login_at, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*model.User, error) {
	user := &model.User{}
	var role string
	var profileID sql.NullString
	var lastLoginAt sql.NullTime
	if err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &role,
		&user.IsActive, &profileID, &lastLoginAt, &user.CreatedAt,
	); err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	user.ProfileID = stringPtrValue(profileID)
	user.LastLoginAt = timePtrValue(lastLoginAt)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は小文字化済みメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。メールアドレス重複時はErrDuplicateを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, is_active, profile_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, user.PasswordHash, string(user.Role),
		user.IsActive, nullStringPtr(user.ProfileID), user.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("failed to insert user", err)
	}
	return nil
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// SetActive はアカウントの有効・無効を切り替える。
func (r *PostgresUserRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = $2 WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("failed to set user active flag: %w", err)
	}
	return nil
}

// LinkProfile はユーザーにプロフィールを紐づける。
func (r *PostgresUserRepo) LinkProfile(ctx context.Context, userID, profileID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET profile_id = $2 WHERE id = $1`,
		userID, profileID,
	)
	if err != nil {
		return fmt.Errorf("failed to link profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
