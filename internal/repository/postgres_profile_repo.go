package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/chapterhub/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db DBTX
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db DBTX) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `id, user_id, first_name, last_name, grade, student_number,
	verification_status, verified_at, verified_by, rejection_reason,
	total_approved_hours, total_pending_hours, meetings_attended, created_at, updated_at`

func scanProfile(row interface{ Scan(...interface{}) error }) (*model.Profile, error) {
	p := &model.Profile{}
	var status string
	var studentNumber, rejectionReason, verifiedBy sql.NullString
	var verifiedAt sql.NullTime
	if err := row.Scan(
		&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.Grade, &studentNumber,
		&status, &verifiedAt, &verifiedBy, &rejectionReason,
		&p.TotalApprovedHours, &p.TotalPendingHours, &p.MeetingsAttended,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.StudentNumber = studentNumber.String
	p.VerificationStatus = model.VerificationStatus(status)
	p.VerifiedAt = timePtrValue(verifiedAt)
	p.VerifiedBy = stringPtrValue(verifiedBy)
	p.RejectionReason = rejectionReason.String
	return p, nil
}

func (r *PostgresProfileRepo) findOne(ctx context.Context, where string, arg string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE `+where,
		arg,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	return r.findOne(ctx, "id = $1", id)
}

// FindByUserID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	return r.findOne(ctx, "user_id = $1", userID)
}

// Create はプロフィールを作成する。同一ユーザーの重複時はErrDuplicateを返す。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, first_name, last_name, grade, student_number,
		   verification_status, total_approved_hours, total_pending_hours, meetings_attended,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.UserID, p.FirstName, p.LastName, p.Grade, nullString(p.StudentNumber),
		string(p.VerificationStatus), p.TotalApprovedHours, p.TotalPendingHours, p.MeetingsAttended,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("failed to insert profile", err)
	}
	return nil
}

// UpdateDetails は氏名・学年・学籍番号を更新する。
func (r *PostgresProfileRepo) UpdateDetails(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET first_name = $2, last_name = $3, grade = $4, student_number = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.Grade, nullString(p.StudentNumber), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// UpdateVerification は承認状態と承認者・却下理由を更新する。
func (r *PostgresProfileRepo) UpdateVerification(ctx context.Context, p *model.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET verification_status = $2, verified_at = $3, verified_by = $4,
		     rejection_reason = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, string(p.VerificationStatus), nullTimePtr(p.VerifiedAt), nullStringPtr(p.VerifiedBy),
		nullString(p.RejectionReason), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile verification: %w", err)
	}
	return nil
}

// AdjustHours は保留時間・承認時間に差分を加算する。結果は0未満にならない。
func (r *PostgresProfileRepo) AdjustHours(ctx context.Context, id string, pendingDelta, approvedDelta float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET total_pending_hours = GREATEST(total_pending_hours + $2, 0),
		     total_approved_hours = GREATEST(total_approved_hours + $3, 0),
		     updated_at = now()
		 WHERE id = $1`,
		id, pendingDelta, approvedDelta,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust profile hours: %w", err)
	}
	return nil
}

// AdjustMeetingsAttended は出席回数に差分を加算する。結果は0未満にならない。
func (r *PostgresProfileRepo) AdjustMeetingsAttended(ctx context.Context, id string, delta int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET meetings_attended = GREATEST(meetings_attended + $2, 0), updated_at = now()
		 WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust meetings attended: %w", err)
	}
	return nil
}

// SetCounters は集計キャッシュを指定値で上書きする。
func (r *PostgresProfileRepo) SetCounters(ctx context.Context, id string, approvedHours, pendingHours float64, meetingsAttended int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET total_approved_hours = $2, total_pending_hours = $3, meetings_attended = $4,
		     updated_at = now()
		 WHERE id = $1`,
		id, approvedHours, pendingHours, meetingsAttended,
	)
	if err != nil {
		return fmt.Errorf("failed to set profile counters: %w", err)
	}
	return nil
}

// List は条件に一致するプロフィールを姓・名の順で返す。
func (r *PostgresProfileRepo) List(ctx context.Context, filter ProfileFilter) ([]*model.Profile, error) {
	var conds []string
	var args []interface{}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("verification_status = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(first_name ILIKE $%d OR last_name ILIKE $%d OR student_number ILIKE $%d)", n, n, n))
	}

	query := `SELECT ` + profileColumns + ` FROM profiles`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY last_name, first_name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// CountByStatus は指定承認状態のプロフィール数を返す。
func (r *PostgresProfileRepo) CountByStatus(ctx context.Context, status model.VerificationStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE verification_status = $1`,
		string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
