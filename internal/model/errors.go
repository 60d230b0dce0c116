// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。
// HTTPステータスへの変換やクエリでのnil応答判定に使用する。
type ErrorKind string

const (
	// KindUnauthenticated はトークン未指定・期限切れ・無効を表す。
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindForbidden は認証済みだがロールまたは所有権が不足していることを表す。
	KindForbidden ErrorKind = "forbidden"
	// KindNotFound は参照先エンティティが存在しないことを表す。
	KindNotFound ErrorKind = "not_found"
	// KindConflict は状態の競合（重複チェックイン、クローズ済み等）を表す。
	KindConflict ErrorKind = "conflict"
	// KindValidation は入力値の不正を表す。
	KindValidation ErrorKind = "validation"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind // エラー分類
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, attendance, service_hours, profile, system
	Action   string    // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeAccountDeactivated  = "ACCOUNT_DEACTIVATED"
	ErrCodeEmailInUse          = "EMAIL_IN_USE"
	ErrCodeProfileIncomplete   = "PROFILE_INCOMPLETE"
	ErrCodeNotVerified         = "NOT_VERIFIED"
	ErrCodeProfileExists       = "PROFILE_EXISTS"
	ErrCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	ErrCodeAlreadyVerified     = "ALREADY_VERIFIED"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeMeetingNotFound     = "MEETING_NOT_FOUND"
	ErrCodeMeetingStarted      = "MEETING_STARTED"
	ErrCodeCheckInAlreadyOpen  = "CHECKIN_ALREADY_OPEN"
	ErrCodeCheckInClosed       = "CHECKIN_ALREADY_CLOSED"
	ErrCodeCheckInNotStarted   = "CHECKIN_NOT_STARTED"
	ErrCodeCheckInNotOpen      = "CHECKIN_NOT_OPEN"
	ErrCodeAlreadyCheckedIn    = "ALREADY_CHECKED_IN"
	ErrCodeInvalidCode         = "INVALID_CODE"
	ErrCodeCodeExpired         = "CODE_EXPIRED"
	ErrCodeRecordNotFound      = "ATTENDANCE_RECORD_NOT_FOUND"
	ErrCodeSubmissionNotFound  = "SUBMISSION_NOT_FOUND"
	ErrCodeSubmissionLocked    = "SUBMISSION_NOT_EDITABLE"
	ErrCodeSubmissionReviewed  = "SUBMISSION_NOT_REVIEWABLE"
	ErrCodeNotificationMissing = "NOTIFICATION_NOT_FOUND"
	ErrCodeValidation          = "VALIDATION_FAILED"
)

// KindOf はエラーチェーンからAPIErrorの分類を取り出す。
// APIErrorを含まない場合は空文字を返す。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind はエラーが指定分類のAPIErrorかどうかを判定する。
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// CodeOf はエラーチェーンからAPIErrorのコードを取り出す。
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(required string) *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作には権限が必要です: %s", required),
		Category: "auth",
		Action:   "管理者に権限を確認してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewAccountDeactivatedError は無効化されたアカウントのエラーを生成する。
func NewAccountDeactivatedError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeAccountDeactivated,
		Message:  "このアカウントは無効化されています。",
		Category: "auth",
		Action:   "管理者に連絡してください。",
	}
}

// NewEmailInUseError はメールアドレス重複エラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeEmailInUse,
		Message:  "このメールアドレスは既に使用されています。",
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewProfileIncompleteError はプロフィール未作成エラーを生成する。
func NewProfileIncompleteError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeProfileIncomplete,
		Message:  "プロフィールが作成されていません。",
		Category: "profile",
		Action:   "先にプロフィールを作成してください。",
	}
}

// NewNotVerifiedError はプロフィール未承認エラーを生成する。
func NewNotVerifiedError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeNotVerified,
		Message:  "この操作にはプロフィールの承認が必要です。",
		Category: "profile",
		Action:   "管理者による承認をお待ちください。",
	}
}

// NewProfileExistsError はプロフィール重複作成エラーを生成する。
func NewProfileExistsError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeProfileExists,
		Message:  "プロフィールは既に作成されています。",
		Category: "profile",
		Action:   "プロフィール編集から変更してください。",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError(profileID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("指定されたプロフィールが見つかりません: %s", profileID),
		Category: "profile",
		Action:   "プロフィールIDを確認してください。",
	}
}

// NewAlreadyVerifiedError は承認済みプロフィールの再承認エラーを生成する。
func NewAlreadyVerifiedError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeAlreadyVerified,
		Message:  "このプロフィールは既に承認されています。",
		Category: "profile",
		Action:   "操作は不要です。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つからないか、プロフィールがありません: %s", userID),
		Category: "profile",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewMeetingNotFoundError はミーティング未検出エラーを生成する。
func NewMeetingNotFoundError(meetingID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeMeetingNotFound,
		Message:  fmt.Sprintf("指定されたミーティングが見つかりません: %s", meetingID),
		Category: "attendance",
		Action:   "ミーティングIDを確認してください。",
	}
}

// NewMeetingStartedError はチェックイン開始後のミーティング削除エラーを生成する。
func NewMeetingStartedError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeMeetingStarted,
		Message:  "チェックインを開始したミーティングは削除できません。",
		Category: "attendance",
		Action:   "削除ではなく内容の編集を行ってください。",
	}
}

// NewCheckInAlreadyOpenError はチェックイン受付中の再オープンエラーを生成する。
func NewCheckInAlreadyOpenError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeCheckInAlreadyOpen,
		Message:  "チェックインは既に受付中です。",
		Category: "attendance",
		Action:   "コードを更新する場合はリフレッシュを使用してください。",
	}
}

// NewCheckInClosedError はクローズ済みチェックインに対する操作エラーを生成する。
func NewCheckInClosedError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeCheckInClosed,
		Message:  "このミーティングのチェックインは既に終了しています。",
		Category: "attendance",
		Action:   "出席の追加は手動チェックインで行ってください。",
	}
}

// NewCheckInNotStartedError は未開始チェックインのクローズエラーを生成する。
func NewCheckInNotStartedError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeCheckInNotStarted,
		Message:  "チェックインはまだ開始されていません。",
		Category: "attendance",
		Action:   "先にチェックインを開始してください。",
	}
}

// NewCheckInNotOpenError はチェックイン受付外の操作エラーを生成する。
func NewCheckInNotOpenError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeCheckInNotOpen,
		Message:  "このミーティングは現在チェックインを受け付けていません。",
		Category: "attendance",
		Action:   "チェックインの開始を待ってください。",
	}
}

// NewAlreadyCheckedInError は重複チェックインエラーを生成する。
func NewAlreadyCheckedInError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeAlreadyCheckedIn,
		Message:  "このミーティングには既にチェックイン済みです。",
		Category: "attendance",
		Action:   "操作は不要です。",
	}
}

// NewInvalidCodeError はチェックインコード不一致エラーを生成する。
func NewInvalidCodeError() *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidCode,
		Message:  "チェックインコードが正しくありません。",
		Category: "attendance",
		Action:   "画面に表示されているコードを入力してください。",
	}
}

// NewCodeExpiredError はチェックインコード期限切れエラーを生成する。
func NewCodeExpiredError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeCodeExpired,
		Message:  "チェックインコードの有効期限が切れています。",
		Category: "attendance",
		Action:   "現在表示されているコードを入力してください。",
	}
}

// NewRecordNotFoundError は出席記録未検出エラーを生成する。
func NewRecordNotFoundError(recordID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeRecordNotFound,
		Message:  fmt.Sprintf("指定された出席記録が見つかりません: %s", recordID),
		Category: "attendance",
		Action:   "出席記録IDを確認してください。",
	}
}

// NewSubmissionNotFoundError は奉仕時間申請未検出エラーを生成する。
func NewSubmissionNotFoundError(submissionID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeSubmissionNotFound,
		Message:  fmt.Sprintf("指定された申請が見つかりません: %s", submissionID),
		Category: "service_hours",
		Action:   "申請IDを確認してください。",
	}
}

// NewSubmissionLockedError は編集・削除できない状態の申請に対するエラーを生成する。
func NewSubmissionLockedError(status SubmissionStatus) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeSubmissionLocked,
		Message:  fmt.Sprintf("この状態の申請は変更できません: %s", status),
		Category: "service_hours",
		Action:   "審査待ちまたは差し戻しの申請のみ変更できます。",
	}
}

// NewSubmissionNotReviewableError は審査できない状態の申請に対するエラーを生成する。
func NewSubmissionNotReviewableError(status SubmissionStatus) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeSubmissionReviewed,
		Message:  fmt.Sprintf("この状態の申請は審査できません: %s", status),
		Category: "service_hours",
		Action:   "審査待ちの申請のみ審査できます。",
	}
}

// NewNotificationNotFoundError は通知未検出エラーを生成する。
func NewNotificationNotFoundError(notificationID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeNotificationMissing,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", notificationID),
		Category: "notification",
		Action:   "通知IDを確認してください。",
	}
}

// NewValidationError は入力値エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
