// Package model はドメインモデルを定義する。
package model

import "time"

// NotificationType は通知の種別を表す。
type NotificationType string

const (
	NotificationSubmissionApproved NotificationType = "submission_approved"
	NotificationSubmissionDenied   NotificationType = "submission_denied"
	NotificationRevisionRequested  NotificationType = "submission_revision_requested"
	NotificationProfileVerified    NotificationType = "profile_verified"
	NotificationProfileRejected    NotificationType = "profile_rejected"
	NotificationMeetingCheckIn     NotificationType = "meeting_checkin_open"
)

// Notification はアプリ内通知を表す。配信は行わず保存のみ。
type Notification struct {
	ID                  string
	UserID              string
	Type                NotificationType
	Title               string
	Message             string
	RelatedSubmissionID *string
	RelatedMeetingID    *string
	IsRead              bool
	ReadAt              *time.Time
	CreatedAt           time.Time
}
