// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/chapterhub/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// PostgreSQLでは23505、メモリストアでは同等のキー重複で返される。
var ErrDuplicate = errors.New("repository: duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は小文字化済みメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレス重複時はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateLastLogin は最終ログイン日時を更新する。
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// LinkProfile はユーザーにプロフィールを紐づける。
	LinkProfile(ctx context.Context, userID, profileID string) error

	// SetActive はアカウントの有効・無効を切り替える。
	SetActive(ctx context.Context, id string, active bool) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByTokenHash はトークンハッシュでセッションを取得する。
	// 期限切れでも行が残っていれば返す。有効期限の判定は呼び出し側が行う。
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)

	// DeleteByTokenHash はトークンハッシュに対応するセッションを削除する。
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ProfileFilter はプロフィール一覧の絞り込み条件。
type ProfileFilter struct {
	Status *model.VerificationStatus
	Search string // 氏名・学籍番号の部分一致（大文字小文字を区別しない）
}

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByUserID はユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// Create はプロフィールを作成する。同一ユーザーの重複時はErrDuplicateを返す。
	Create(ctx context.Context, profile *model.Profile) error

	// UpdateDetails は氏名・学年・学籍番号を更新する。
	UpdateDetails(ctx context.Context, profile *model.Profile) error

	// UpdateVerification は承認状態と承認者・却下理由を更新する。
	UpdateVerification(ctx context.Context, profile *model.Profile) error

	// AdjustHours は保留時間・承認時間に差分を加算する。結果は0未満にならない。
	AdjustHours(ctx context.Context, id string, pendingDelta, approvedDelta float64) error

	// AdjustMeetingsAttended は出席回数に差分を加算する。結果は0未満にならない。
	AdjustMeetingsAttended(ctx context.Context, id string, delta int) error

	// SetCounters は集計キャッシュを指定値で上書きする。整合性修復ジョブが使用する。
	SetCounters(ctx context.Context, id string, approvedHours, pendingHours float64, meetingsAttended int) error

	// List は条件に一致するプロフィールを姓・名の順で返す。
	List(ctx context.Context, filter ProfileFilter) ([]*model.Profile, error)

	// CountByStatus は指定承認状態のプロフィール数を返す。
	CountByStatus(ctx context.Context, status model.VerificationStatus) (int, error)
}

// MeetingFilter はミーティング一覧の絞り込み条件。
// Todayを基準日として、Upcomingはそれ以降、Pastはそれより前を返す。
type MeetingFilter struct {
	Today    string
	Upcoming bool
	Past     bool
}

// MeetingRepository はミーティングデータの永続化インターフェース。
type MeetingRepository interface {
	// FindByID は指定IDのミーティングを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Meeting, error)

	// LockByID は指定IDのミーティングを行ロック付きで取得する。見つからない場合はnilを返す。
	// トランザクション内でのみ意味を持つ。
	LockByID(ctx context.Context, id string) (*model.Meeting, error)

	// Create はミーティングを作成する。
	Create(ctx context.Context, meeting *model.Meeting) error

	// UpdateDetails はタイトル・説明・場所・日時を更新する。
	UpdateDetails(ctx context.Context, meeting *model.Meeting) error

	// UpdateCheckIn はチェックイン状態・コード・有効期限を更新する。
	UpdateCheckIn(ctx context.Context, meeting *model.Meeting) error

	// AdjustAttendeeCount は出席者数に差分を加算する。結果は0未満にならない。
	AdjustAttendeeCount(ctx context.Context, id string, delta int) error

	// SetAttendeeCount は出席者数を指定値で上書きする。
	SetAttendeeCount(ctx context.Context, id string, count int) error

	// Delete は指定IDのミーティングを削除する。
	Delete(ctx context.Context, id string) error

	// List は条件に一致するミーティングを予定日順で返す。
	// Upcomingは昇順、それ以外は降順。
	List(ctx context.Context, filter MeetingFilter) ([]*model.Meeting, error)

	// FindOpen はチェックイン受付中のミーティングを1件返す。存在しない場合はnilを返す。
	FindOpen(ctx context.Context) (*model.Meeting, error)

	// CountBefore は予定日がdateより前のミーティング数を返す。
	CountBefore(ctx context.Context, date string) (int, error)
}

// AttendanceRepository は出席記録の永続化インターフェース。
type AttendanceRepository interface {
	// FindByID は指定IDの出席記録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AttendanceRecord, error)

	// LockByID は指定IDの出席記録を行ロック付きで取得する。見つからない場合はnilを返す。
	LockByID(ctx context.Context, id string) (*model.AttendanceRecord, error)

	// FindByMeetingAndStudent は(ミーティング, 生徒)の出席記録を取得する。見つからない場合はnilを返す。
	FindByMeetingAndStudent(ctx context.Context, meetingID, studentID string) (*model.AttendanceRecord, error)

	// Create は出席記録を作成する。(ミーティング, 生徒)の重複時はErrDuplicateを返す。
	Create(ctx context.Context, record *model.AttendanceRecord) error

	// Update は状態・確認方法・確認者・メモを更新する。
	Update(ctx context.Context, record *model.AttendanceRecord) error

	// ListByMeeting はミーティングの出席記録をチェックイン時刻順で返す。
	ListByMeeting(ctx context.Context, meetingID string) ([]*model.AttendanceRecord, error)

	// ListByStudent は生徒の出席記録を新しい順で返す。
	ListByStudent(ctx context.Context, studentID string) ([]*model.AttendanceRecord, error)

	// CountPresentByMeeting はミーティングのpresent記録数を返す。
	CountPresentByMeeting(ctx context.Context, meetingID string) (int, error)

	// CountPresentByProfile はプロフィールのpresent記録数を返す。
	CountPresentByProfile(ctx context.Context, profileID string) (int, error)
}

// SubmissionFilter は奉仕時間申請一覧の絞り込み条件。
type SubmissionFilter struct {
	StudentID string
	Status    *model.SubmissionStatus
}

// SubmissionRepository は奉仕時間申請の永続化インターフェース。
type SubmissionRepository interface {
	// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ServiceSubmission, error)

	// LockByID は指定IDの申請を行ロック付きで取得する。見つからない場合はnilを返す。
	LockByID(ctx context.Context, id string) (*model.ServiceSubmission, error)

	// Create は申請を作成する。
	Create(ctx context.Context, submission *model.ServiceSubmission) error

	// Update は申請内容・状態・審査情報を上書き更新する。
	Update(ctx context.Context, submission *model.ServiceSubmission) error

	// Delete は指定IDの申請を削除する。
	Delete(ctx context.Context, id string) error

	// List は条件に一致する申請を新しい順で返す。
	List(ctx context.Context, filter SubmissionFilter) ([]*model.ServiceSubmission, error)

	// SumHoursByProfile はプロフィールの指定状態の申請時間合計を返す。
	SumHoursByProfile(ctx context.Context, profileID string, status model.SubmissionStatus) (float64, error)

	// CountByStatus は指定状態の申請数を返す。
	CountByStatus(ctx context.Context, status model.SubmissionStatus) (int, error)

	// ReviewStatsSince はsince以降に審査された申請の承認時間合計と却下件数を返す。
	ReviewStatsSince(ctx context.Context, since time.Time) (approvedHours float64, deniedCount int, err error)
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// Create は通知を作成する。
	Create(ctx context.Context, notification *model.Notification) error

	// ListByUser はユーザーの通知を新しい順に最大limit件返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Notification, error)

	// CountUnread はユーザーの未読通知数を返す。
	CountUnread(ctx context.Context, userID string) (int, error)

	// MarkRead は通知を既読にする。ユーザーの通知が存在しない場合はfalseを返す。
	MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error)
}

// Tx は1トランザクション内で使用するリポジトリの集合。
type Tx interface {
	Users() UserRepository
	Sessions() SessionRepository
	Profiles() ProfileRepository
	Meetings() MeetingRepository
	Attendance() AttendanceRepository
	Submissions() SubmissionRepository
	Notifications() NotificationRepository
}

// Store はトランザクション境界を提供する永続化ストア。
// WithTxはfnがエラーを返した場合にすべての変更を破棄する。
// Viewは読み取り専用の一貫したスナップショットでfnを実行する。
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}
