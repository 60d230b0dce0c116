package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/chapterhub/internal/model"
)

// PostgresAttendanceRepo はPostgreSQLを使用した出席記録リポジトリ。
type PostgresAttendanceRepo struct {
	db DBTX
}

// NewPostgresAttendanceRepo はPostgresAttendanceRepoを生成する。
func NewPostgresAttendanceRepo(db DBTX) *PostgresAttendanceRepo {
	return &PostgresAttendanceRepo{db: db}
}

const attendanceColumns = `id, meeting_id, student_id, profile_id, check_in_timestamp,
	verification_method, code_used, status, manually_verified_by, notes, created_at`

func scanAttendance(row interface{ Scan(...interface{}) error }) (*model.AttendanceRecord, error) {
	rec := &model.AttendanceRecord{}
	var method, status string
	var codeUsed, verifiedBy, notes sql.NullString
	if err := row.Scan(
		&rec.ID, &rec.MeetingID, &rec.StudentID, &rec.ProfileID, &rec.CheckInTimestamp,
		&method, &codeUsed, &status, &verifiedBy, &notes, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.VerificationMethod = model.VerificationMethod(method)
	rec.Status = model.AttendanceStatus(status)
	rec.CodeUsed = codeUsed.String
	rec.ManuallyVerifiedBy = stringPtrValue(verifiedBy)
	rec.Notes = notes.String
	return rec, nil
}

func (r *PostgresAttendanceRepo) findOne(ctx context.Context, query string, args ...interface{}) (*model.AttendanceRecord, error) {
	rec, err := scanAttendance(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attendance record: %w", err)
	}
	return rec, nil
}

func (r *PostgresAttendanceRepo) list(ctx context.Context, query string, args ...interface{}) ([]*model.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance records: %w", err)
	}
	defer rows.Close()

	var records []*model.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendance records: %w", err)
	}
	return records, nil
}

// FindByID は指定IDの出席記録を取得する。見つからない場合はnilを返す。
func (r *PostgresAttendanceRepo) FindByID(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	return r.findOne(ctx, `SELECT `+attendanceColumns+` FROM attendance_records WHERE id = $1`, id)
}

// LockByID は指定IDの出席記録をFOR UPDATEで取得する。
func (r *PostgresAttendanceRepo) LockByID(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	return r.findOne(ctx, `SELECT `+attendanceColumns+` FROM attendance_records WHERE id = $1 FOR UPDATE`, id)
}

// FindByMeetingAndStudent は(ミーティング, 生徒)の出席記録を取得する。見つからない場合はnilを返す。
func (r *PostgresAttendanceRepo) FindByMeetingAndStudent(ctx context.Context, meetingID, studentID string) (*model.AttendanceRecord, error) {
	return r.findOne(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_records
		 WHERE meeting_id = $1 AND student_id = $2`,
		meetingID, studentID)
}

// Create は出席記録を作成する。UNIQUE(meeting_id, student_id)違反時はErrDuplicateを返す。
func (r *PostgresAttendanceRepo) Create(ctx context.Context, rec *model.AttendanceRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attendance_records (id, meeting_id, student_id, profile_id, check_in_timestamp,
		   verification_method, code_used, status, manually_verified_by, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.MeetingID, rec.StudentID, rec.ProfileID, rec.CheckInTimestamp,
		string(rec.VerificationMethod), nullString(rec.CodeUsed), string(rec.Status),
		nullStringPtr(rec.ManuallyVerifiedBy), nullString(rec.Notes), rec.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("failed to insert attendance record", err)
	}
	return nil
}

// Update は状態・確認方法・確認者・メモを更新する。
func (r *PostgresAttendanceRepo) Update(ctx context.Context, rec *model.AttendanceRecord) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE attendance_records
		 SET status = $2, verification_method = $3, manually_verified_by = $4, notes = $5
		 WHERE id = $1`,
		rec.ID, string(rec.Status), string(rec.VerificationMethod),
		nullStringPtr(rec.ManuallyVerifiedBy), nullString(rec.Notes),
	)
	if err != nil {
		return fmt.Errorf("failed to update attendance record: %w", err)
	}
	return nil
}

// ListByMeeting はミーティングの出席記録をチェックイン時刻順で返す。
func (r *PostgresAttendanceRepo) ListByMeeting(ctx context.Context, meetingID string) ([]*model.AttendanceRecord, error) {
	return r.list(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_records
		 WHERE meeting_id = $1 ORDER BY check_in_timestamp ASC`,
		meetingID)
}

// ListByStudent は生徒の出席記録を新しい順で返す。
func (r *PostgresAttendanceRepo) ListByStudent(ctx context.Context, studentID string) ([]*model.AttendanceRecord, error) {
	return r.list(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_records
		 WHERE student_id = $1 ORDER BY check_in_timestamp DESC`,
		studentID)
}

func (r *PostgresAttendanceRepo) countPresent(ctx context.Context, column, value string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_records WHERE `+column+` = $1 AND status = 'present'`,
		value,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attendance: %w", err)
	}
	return count, nil
}

// CountPresentByMeeting はミーティングのpresent記録数を返す。
func (r *PostgresAttendanceRepo) CountPresentByMeeting(ctx context.Context, meetingID string) (int, error) {
	return r.countPresent(ctx, "meeting_id", meetingID)
}

// CountPresentByProfile はプロフィールのpresent記録数を返す。
func (r *PostgresAttendanceRepo) CountPresentByProfile(ctx context.Context, profileID string) (int, error) {
	return r.countPresent(ctx, "profile_id", profileID)
}

// compile-time interface check
var _ AttendanceRepository = (*PostgresAttendanceRepo)(nil)
