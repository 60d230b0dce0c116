// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーのロールを表す。
type Role string

const (
	// RoleStudent は一般メンバー（生徒）。
	RoleStudent Role = "student"
	// RoleOfficer は役員。
	RoleOfficer Role = "officer"
	// RoleAdmin は管理者（顧問）。
	RoleAdmin Role = "admin"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleOfficer, RoleAdmin:
		return true
	}
	return false
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	IsActive     bool
	ProfileID    *string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// トークン自体は保存せず、SHA-256ハッシュのみを保持する。
type Session struct {
	ID        string
	TokenHash string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ValidAt は指定時刻においてセッションが有効期限内かどうかを返す。
func (s *Session) ValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// VerificationStatus はプロフィールの承認状態を表す。
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// Profile はユーザーと1対1で紐づく会員プロフィールを表す。
// TotalApprovedHours、TotalPendingHours、MeetingsAttendedは集計キャッシュ。
type Profile struct {
	ID                 string
	UserID             string
	FirstName          string
	LastName           string
	Grade              int
	StudentNumber      string
	VerificationStatus VerificationStatus
	VerifiedAt         *time.Time
	VerifiedBy         *string
	RejectionReason    string
	TotalApprovedHours float64
	TotalPendingHours  float64
	MeetingsAttended   int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FullName は表示用の氏名を返す。
func (p *Profile) FullName() string {
	return p.FirstName + " " + p.LastName
}

// ValidGrade は学年が9〜12の範囲内かどうかを返す。
func ValidGrade(grade int) bool {
	return grade >= 9 && grade <= 12
}
