// Package model はドメインモデルを定義する。
package model

import "time"

// CheckInStatus はミーティングのチェックイン受付状態を表す。
// not_started → open → closed の順にのみ遷移する。
type CheckInStatus string

const (
	CheckInNotStarted CheckInStatus = "not_started"
	CheckInOpen       CheckInStatus = "open"
	CheckInClosed     CheckInStatus = "closed"
)

// Meeting は定例会などのイベントを表す。
// CurrentCode、CodeGeneratedAt、CodeExpiresAtはチェックイン受付中のみ値を持つ。
type Meeting struct {
	ID                 string
	Title              string
	Description        string
	Location           string
	ScheduledDate      string // YYYY-MM-DD
	ScheduledStartTime string // HH:MM
	ScheduledEndTime   string // HH:MM
	CheckInStatus      CheckInStatus
	CheckInOpenedAt    *time.Time
	CheckInClosedAt    *time.Time
	CurrentCode        string
	CodeGeneratedAt    *time.Time
	CodeExpiresAt      *time.Time
	AttendeeCount      int
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AttendanceStatus は出席記録の状態を表す。
type AttendanceStatus string

const (
	AttendancePresent     AttendanceStatus = "present"
	AttendanceExcused     AttendanceStatus = "excused"
	AttendanceInvalidated AttendanceStatus = "invalidated"
)

// Valid は出席状態が定義済みの値かどうかを返す。
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceExcused, AttendanceInvalidated:
		return true
	}
	return false
}

// VerificationMethod は出席の確認方法を表す。
type VerificationMethod string

const (
	MethodRotatingCode VerificationMethod = "rotating_code"
	MethodManualAdmin  VerificationMethod = "manual_admin"
	MethodRetroactive  VerificationMethod = "retroactive"
)

// AttendanceRecord は(ミーティング, 生徒)ごとに1件だけ存在する出席記録。
type AttendanceRecord struct {
	ID                 string
	MeetingID          string
	StudentID          string
	ProfileID          string
	CheckInTimestamp   time.Time
	VerificationMethod VerificationMethod
	CodeUsed           string
	Status             AttendanceStatus
	ManuallyVerifiedBy *string
	Notes              string
	CreatedAt          time.Time
}
