package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/chapterhub/internal/model"
)

// PostgresSubmissionRepo はPostgreSQLを使用した奉仕時間申請リポジトリ。
type PostgresSubmissionRepo struct {
	db DBTX
}

// NewPostgresSubmissionRepo はPostgresSubmissionRepoを生成する。
func NewPostgresSubmissionRepo(db DBTX) *PostgresSubmissionRepo {
	return &PostgresSubmissionRepo{db: db}
}

const submissionColumns = `id, student_id, profile_id, organization_name,
	to_char(service_date, 'YYYY-MM-DD'), start_time, end_time, total_hours, description,
	supervisor_name, supervisor_email, supervisor_phone, evidence_url, evidence_file_name,
	status, reviewed_by, reviewed_at, review_notes, resubmission_count, created_at, updated_at`

func scanSubmission(row interface{ Scan(...interface{}) error }) (*model.ServiceSubmission, error) {
	s := &model.ServiceSubmission{}
	var status string
	var phone, evidenceURL, evidenceName, reviewedBy, reviewNotes sql.NullString
	var reviewedAt sql.NullTime
	if err := row.Scan(
		&s.ID, &s.StudentID, &s.ProfileID, &s.OrganizationName,
		&s.ServiceDate, &s.StartTime, &s.EndTime, &s.TotalHours, &s.Description,
		&s.SupervisorName, &s.SupervisorEmail, &phone, &evidenceURL, &evidenceName,
		&status, &reviewedBy, &reviewedAt, &reviewNotes, &s.ResubmissionCount,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.SupervisorPhone = phone.String
	s.EvidenceURL = evidenceURL.String
	s.EvidenceFileName = evidenceName.String
	s.Status = model.SubmissionStatus(status)
	s.ReviewedBy = stringPtrValue(reviewedBy)
	s.ReviewedAt = timePtrValue(reviewedAt)
	s.ReviewNotes = reviewNotes.String
	return s, nil
}

func (r *PostgresSubmissionRepo) findOne(ctx context.Context, query string, id string) (*model.ServiceSubmission, error) {
	s, err := scanSubmission(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find submission: %w", err)
	}
	return s, nil
}

// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
func (r *PostgresSubmissionRepo) FindByID(ctx context.Context, id string) (*model.ServiceSubmission, error) {
	return r.findOne(ctx, `SELECT `+submissionColumns+` FROM service_submissions WHERE id = $1`, id)
}

// LockByID は指定IDの申請をFOR UPDATEで取得する。
func (r *PostgresSubmissionRepo) LockByID(ctx context.Context, id string) (*model.ServiceSubmission, error) {
	return r.findOne(ctx, `SELECT `+submissionColumns+` FROM service_submissions WHERE id = $1 FOR UPDATE`, id)
}

// Create は申請を作成する。
func (r *PostgresSubmissionRepo) Create(ctx context.Context, s *model.ServiceSubmission) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO service_submissions (id, student_id, profile_id, organization_name,
		   service_date, start_time, end_time, total_hours, description,
		   supervisor_name, supervisor_email, supervisor_phone, evidence_url, evidence_file_name,
		   status, resubmission_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.ID, s.StudentID, s.ProfileID, s.OrganizationName,
		s.ServiceDate, s.StartTime, s.EndTime, s.TotalHours, s.Description,
		s.SupervisorName, s.SupervisorEmail, nullString(s.SupervisorPhone),
		nullString(s.EvidenceURL), nullString(s.EvidenceFileName),
		string(s.Status), s.ResubmissionCount, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("failed to insert submission", err)
	}
	return nil
}

// Update は申請内容・状態・審査情報を上書き更新する。
func (r *PostgresSubmissionRepo) Update(ctx context.Context, s *model.ServiceSubmission) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE service_submissions
		 SET organization_name = $2, service_date = $3::date, start_time = $4, end_time = $5,
		     total_hours = $6, description = $7, supervisor_name = $8, supervisor_email = $9,
		     supervisor_phone = $10, evidence_url = $11, evidence_file_name = $12,
		     status = $13, reviewed_by = $14, reviewed_at = $15, review_notes = $16,
		     resubmission_count = $17, updated_at = $18
		 WHERE id = $1`,
		s.ID, s.OrganizationName, s.ServiceDate, s.StartTime, s.EndTime,
		s.TotalHours, s.Description, s.SupervisorName, s.SupervisorEmail,
		nullString(s.SupervisorPhone), nullString(s.EvidenceURL), nullString(s.EvidenceFileName),
		string(s.Status), nullStringPtr(s.ReviewedBy), nullTimePtr(s.ReviewedAt), nullString(s.ReviewNotes),
		s.ResubmissionCount, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	return nil
}

// Delete は指定IDの申請を削除する。
func (r *PostgresSubmissionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM service_submissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	return nil
}

// List は条件に一致する申請を新しい順で返す。
func (r *PostgresSubmissionRepo) List(ctx context.Context, filter SubmissionFilter) ([]*model.ServiceSubmission, error) {
	var conds []string
	var args []interface{}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conds = append(conds, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + submissionColumns + ` FROM service_submissions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var submissions []*model.ServiceSubmission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submissions: %w", err)
	}
	return submissions, nil
}

// SumHoursByProfile はプロフィールの指定状態の申請時間合計を返す。
func (r *PostgresSubmissionRepo) SumHoursByProfile(ctx context.Context, profileID string, status model.SubmissionStatus) (float64, error) {
	var total float64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_hours), 0) FROM service_submissions
		 WHERE profile_id = $1 AND status = $2`,
		profileID, string(status),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum submission hours: %w", err)
	}
	return total, nil
}

// CountByStatus は指定状態の申請数を返す。
func (r *PostgresSubmissionRepo) CountByStatus(ctx context.Context, status model.SubmissionStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM service_submissions WHERE status = $1`,
		string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

// ReviewStatsSince はsince以降に審査された申請の承認時間合計と却下件数を返す。
func (r *PostgresSubmissionRepo) ReviewStatsSince(ctx context.Context, since time.Time) (float64, int, error) {
	var approvedHours float64
	var deniedCount int
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(total_hours) FILTER (WHERE status = 'approved'), 0),
		   COUNT(*) FILTER (WHERE status = 'denied')
		 FROM service_submissions
		 WHERE reviewed_at >= $1`,
		since,
	).Scan(&approvedHours, &deniedCount)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate review stats: %w", err)
	}
	return approvedHours, deniedCount, nil
}

// compile-time interface check
var _ SubmissionRepository = (*PostgresSubmissionRepo)(nil)
