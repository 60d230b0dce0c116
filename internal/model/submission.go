// Package model はドメインモデルを定義する。
package model

import "time"

// SubmissionStatus は奉仕時間申請の審査状態を表す。
// approvedとdeniedは終端状態。
type SubmissionStatus string

const (
	SubmissionPending           SubmissionStatus = "pending"
	SubmissionApproved          SubmissionStatus = "approved"
	SubmissionDenied            SubmissionStatus = "denied"
	SubmissionRevisionRequested SubmissionStatus = "revision_requested"
)

// Valid は審査状態が定義済みの値かどうかを返す。
func (s SubmissionStatus) Valid() bool {
	switch s {
	case SubmissionPending, SubmissionApproved, SubmissionDenied, SubmissionRevisionRequested:
		return true
	}
	return false
}

// Editable は生徒による編集が許可される状態かどうかを返す。
func (s SubmissionStatus) Editable() bool {
	return s == SubmissionPending || s == SubmissionRevisionRequested
}

// ServiceSubmission は生徒による奉仕時間の申請を表す。
type ServiceSubmission struct {
	ID                string
	StudentID         string
	ProfileID         string
	OrganizationName  string
	ServiceDate       string // YYYY-MM-DD
	StartTime         string // HH:MM
	EndTime           string // HH:MM
	TotalHours        float64
	Description       string
	SupervisorName    string
	SupervisorEmail   string
	SupervisorPhone   string
	EvidenceURL       string
	EvidenceFileName  string
	Status            SubmissionStatus
	ReviewedBy        *string
	ReviewedAt        *time.Time
	ReviewNotes       string
	ResubmissionCount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
