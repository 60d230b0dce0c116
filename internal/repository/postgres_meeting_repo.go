package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chapterhub/internal/model"
)

// PostgresMeetingRepo はPostgreSQLを使用したミーティングリポジトリ。
type PostgresMeetingRepo struct {
	db DBTX
}

// NewPostgresMeetingRepo はPostgresMeetingRepoを生成する。
func NewPostgresMeetingRepo(db DBTX) *PostgresMeetingRepo {
	return &PostgresMeetingRepo{db: db}
}

const meetingColumns = `id, title, description, location,
	to_char(scheduled_date, 'YYYY-MM-DD'), scheduled_start_time, scheduled_end_time,
	check_in_status, check_in_opened_at, check_in_closed_at,
	current_code, code_generated_at, code_expires_at,
	attendee_count, created_by, created_at, updated_at`

func scanMeeting(row interface{ Scan(...interface{}) error }) (*model.Meeting, error) {
	m := &model.Meeting{}
	var status string
	var description, location, code sql.NullString
	var openedAt, closedAt, generatedAt, expiresAt sql.NullTime
	if err := row.Scan(
		&m.ID, &m.Title, &description, &location,
		&m.ScheduledDate, &m.ScheduledStartTime, &m.ScheduledEndTime,
		&status, &openedAt, &closedAt,
		&code, &generatedAt, &expiresAt,
		&m.AttendeeCount, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Description = description.String
	m.Location = location.String
	m.CheckInStatus = model.CheckInStatus(status)
	m.CheckInOpenedAt = timePtrValue(openedAt)
	m.CheckInClosedAt = timePtrValue(closedAt)
	m.CurrentCode = code.String
	m.CodeGeneratedAt = timePtrValue(generatedAt)
	m.CodeExpiresAt = timePtrValue(expiresAt)
	return m, nil
}

func (r *PostgresMeetingRepo) findOne(ctx context.Context, query string, args ...interface{}) (*model.Meeting, error) {
	m, err := scanMeeting(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find meeting: %w", err)
	}
	return m, nil
}

// FindByID は指定IDのミーティングを取得する。見つからない場合はnilを返す。
func (r *PostgresMeetingRepo) FindByID(ctx context.Context, id string) (*model.Meeting, error) {
	return r.findOne(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
}

// LockByID は指定IDのミーティングをFOR UPDATEで取得する。
// 同一ミーティングへのチェックイン操作はこのロックで直列化される。
func (r *PostgresMeetingRepo) LockByID(ctx context.Context, id string) (*model.Meeting, error) {
	return r.findOne(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1 FOR UPDATE`, id)
}

// Create はミーティングを作成する。
func (r *PostgresMeetingRepo) Create(ctx context.Context, m *model.Meeting) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO meetings (id, title, description, location, scheduled_date,
		   scheduled_start_time, scheduled_end_time, check_in_status, attendee_count,
		   created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.Title, nullString(m.Description), nullString(m.Location), m.ScheduledDate,
		m.ScheduledStartTime, m.ScheduledEndTime, string(m.CheckInStatus), m.AttendeeCount,
		m.CreatedBy, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("failed to insert meeting", err)
	}
	return nil
}

// UpdateDetails はタイトル・説明・場所・日時を更新する。
func (r *PostgresMeetingRepo) UpdateDetails(ctx context.Context, m *model.Meeting) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meetings
		 SET title = $2, description = $3, location = $4, scheduled_date = $5::date,
		     scheduled_start_time = $6, scheduled_end_time = $7, updated_at = $8
		 WHERE id = $1`,
		m.ID, m.Title, nullString(m.Description), nullString(m.Location), m.ScheduledDate,
		m.ScheduledStartTime, m.ScheduledEndTime, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update meeting: %w", err)
	}
	return nil
}

// UpdateCheckIn はチェックイン状態・コード・有効期限を更新する。
func (r *PostgresMeetingRepo) UpdateCheckIn(ctx context.Context, m *model.Meeting) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meetings
		 SET check_in_status = $2, check_in_opened_at = $3, check_in_closed_at = $4,
		     current_code = $5, code_generated_at = $6, code_expires_at = $7, updated_at = $8
		 WHERE id = $1`,
		m.ID, string(m.CheckInStatus), nullTimePtr(m.CheckInOpenedAt), nullTimePtr(m.CheckInClosedAt),
		nullString(m.CurrentCode), nullTimePtr(m.CodeGeneratedAt), nullTimePtr(m.CodeExpiresAt),
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update meeting check-in: %w", err)
	}
	return nil
}

// AdjustAttendeeCount は出席者数に差分を加算する。結果は0未満にならない。
func (r *PostgresMeetingRepo) AdjustAttendeeCount(ctx context.Context, id string, delta int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meetings SET attendee_count = GREATEST(attendee_count + $2, 0) WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust attendee count: %w", err)
	}
	return nil
}

// SetAttendeeCount は出席者数を指定値で上書きする。
func (r *PostgresMeetingRepo) SetAttendeeCount(ctx context.Context, id string, count int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE meetings SET attendee_count = $2 WHERE id = $1`,
		id, count,
	)
	if err != nil {
		return fmt.Errorf("failed to set attendee count: %w", err)
	}
	return nil
}

// Delete は指定IDのミーティングを削除する。
func (r *PostgresMeetingRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete meeting: %w", err)
	}
	return nil
}

// List は条件に一致するミーティングを予定日順で返す。
func (r *PostgresMeetingRepo) List(ctx context.Context, filter MeetingFilter) ([]*model.Meeting, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings`
	var args []interface{}
	switch {
	case filter.Upcoming:
		query += ` WHERE scheduled_date >= $1::date ORDER BY scheduled_date ASC, scheduled_start_time ASC`
		args = append(args, filter.Today)
	case filter.Past:
		query += ` WHERE scheduled_date < $1::date ORDER BY scheduled_date DESC, scheduled_start_time DESC`
		args = append(args, filter.Today)
	default:
		query += ` ORDER BY scheduled_date DESC, scheduled_start_time DESC`
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []*model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate meetings: %w", err)
	}
	return meetings, nil
}

// FindOpen はチェックイン受付中のミーティングを1件返す。存在しない場合はnilを返す。
func (r *PostgresMeetingRepo) FindOpen(ctx context.Context) (*model.Meeting, error) {
	return r.findOne(ctx,
		`SELECT `+meetingColumns+` FROM meetings
		 WHERE check_in_status = 'open'
		 ORDER BY check_in_opened_at DESC
		 LIMIT 1`)
}

// CountBefore は予定日がdateより前のミーティング数を返す。
func (r *PostgresMeetingRepo) CountBefore(ctx context.Context, date string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM meetings WHERE scheduled_date < $1::date`,
		date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count meetings: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ MeetingRepository = (*PostgresMeetingRepo)(nil)
