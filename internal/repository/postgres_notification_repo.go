package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/chapterhub/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db DBTX
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db DBTX) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Create は通知を作成する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message,
		   related_submission_id, related_meeting_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message,
		nullStringPtr(n.RelatedSubmissionID), nullStringPtr(n.RelatedMeetingID), n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("failed to insert notification", err)
	}
	return nil
}

// ListByUser はユーザーの通知を新しい順に最大limit件返す。
func (r *PostgresNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, title, message, related_submission_id, related_meeting_id,
		        is_read, read_at, created_at
		 FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var typ string
		var submissionID, meetingID sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(
			&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &submissionID, &meetingID,
			&n.IsRead, &readAt, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		n.RelatedSubmissionID = stringPtrValue(submissionID)
		n.RelatedMeetingID = stringPtrValue(meetingID)
		n.ReadAt = timePtrValue(readAt)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// CountUnread はユーザーの未読通知数を返す。
func (r *PostgresNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead は通知を既読にする。ユーザーの通知が存在しない場合はfalseを返す。
// 既読済みの通知はread_atを変更しない。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications
		 SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		 WHERE id = $1 AND user_id = $2`,
		id, userID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
