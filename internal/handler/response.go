package handler

import (
	"time"

	"github.com/hitoshi/chapterhub/internal/model"
)

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"is_active"`
	ProfileID   *string    `json:"profile_id"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        string(u.Role),
		IsActive:    u.IsActive,
		ProfileID:   u.ProfileID,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Grade              int        `json:"grade"`
	StudentNumber      string     `json:"student_number"`
	VerificationStatus string     `json:"verification_status"`
	VerifiedAt         *time.Time `json:"verified_at"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	TotalApprovedHours float64    `json:"total_approved_hours"`
	TotalPendingHours  float64    `json:"total_pending_hours"`
	MeetingsAttended   int        `json:"meetings_attended"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toProfileResponse(p *model.Profile) *profileResponse {
	if p == nil {
		return nil
	}
	return &profileResponse{
		ID:                 p.ID,
		UserID:             p.UserID,
		FirstName:          p.FirstName,
		LastName:           p.LastName,
		Grade:              p.Grade,
		StudentNumber:      p.StudentNumber,
		VerificationStatus: string(p.VerificationStatus),
		VerifiedAt:         p.VerifiedAt,
		RejectionReason:    p.RejectionReason,
		TotalApprovedHours: p.TotalApprovedHours,
		TotalPendingHours:  p.TotalPendingHours,
		MeetingsAttended:   p.MeetingsAttended,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

// meetingResponse はミーティングのAPIレスポンス。
// current_codeとcode_expires_atはサービス層が権限に応じて空にする。
type meetingResponse struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Location           string     `json:"location"`
	ScheduledDate      string     `json:"scheduled_date"`
	ScheduledStartTime string     `json:"scheduled_start_time"`
	ScheduledEndTime   string     `json:"scheduled_end_time"`
	CheckInStatus      string     `json:"check_in_status"`
	CheckInOpenedAt    *time.Time `json:"check_in_opened_at"`
	CheckInClosedAt    *time.Time `json:"check_in_closed_at"`
	CurrentCode        string     `json:"current_code,omitempty"`
	CodeExpiresAt      *time.Time `json:"code_expires_at,omitempty"`
	AttendeeCount      int        `json:"attendee_count"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toMeetingResponse(m *model.Meeting) meetingResponse {
	return meetingResponse{
		ID:                 m.ID,
		Title:              m.Title,
		Description:        m.Description,
		Location:           m.Location,
		ScheduledDate:      m.ScheduledDate,
		ScheduledStartTime: m.ScheduledStartTime,
		ScheduledEndTime:   m.ScheduledEndTime,
		CheckInStatus:      string(m.CheckInStatus),
		CheckInOpenedAt:    m.CheckInOpenedAt,
		CheckInClosedAt:    m.CheckInClosedAt,
		CurrentCode:        m.CurrentCode,
		CodeExpiresAt:      m.CodeExpiresAt,
		AttendeeCount:      m.AttendeeCount,
		CreatedBy:          m.CreatedBy,
		CreatedAt:          m.CreatedAt,
	}
}

// attendanceResponse は出席記録のAPIレスポンス。
type attendanceResponse struct {
	ID                 string    `json:"id"`
	MeetingID          string    `json:"meeting_id"`
	StudentID          string    `json:"student_id"`
	ProfileID          string    `json:"profile_id"`
	CheckInTimestamp   time.Time `json:"check_in_timestamp"`
	VerificationMethod string    `json:"verification_method"`
	Status             string    `json:"status"`
	ManuallyVerifiedBy *string   `json:"manually_verified_by"`
	Notes              string    `json:"notes,omitempty"`
}

func toAttendanceResponse(a *model.AttendanceRecord) *attendanceResponse {
	if a == nil {
		return nil
	}
	return &attendanceResponse{
		ID:                 a.ID,
		MeetingID:          a.MeetingID,
		StudentID:          a.StudentID,
		ProfileID:          a.ProfileID,
		CheckInTimestamp:   a.CheckInTimestamp,
		VerificationMethod: string(a.VerificationMethod),
		Status:             string(a.Status),
		ManuallyVerifiedBy: a.ManuallyVerifiedBy,
		Notes:              a.Notes,
	}
}

// submissionResponse は奉仕時間申請のAPIレスポンス。
type submissionResponse struct {
	ID                string     `json:"id"`
	StudentID         string     `json:"student_id"`
	OrganizationName  string     `json:"organization_name"`
	ServiceDate       string     `json:"service_date"`
	StartTime         string     `json:"start_time"`
	EndTime           string     `json:"end_time"`
	TotalHours        float64    `json:"total_hours"`
	Description       string     `json:"description"`
	SupervisorName    string     `json:"supervisor_name"`
	SupervisorEmail   string     `json:"supervisor_email"`
	SupervisorPhone   string     `json:"supervisor_phone,omitempty"`
	EvidenceURL       string     `json:"evidence_url,omitempty"`
	EvidenceFileName  string     `json:"evidence_file_name,omitempty"`
	Status            string     `json:"status"`
	ReviewedBy        *string    `json:"reviewed_by"`
	ReviewedAt        *time.Time `json:"reviewed_at"`
	ReviewNotes       string     `json:"review_notes,omitempty"`
	ResubmissionCount int        `json:"resubmission_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	// 管理者向けの生徒情報
	StudentName  string `json:"student_name,omitempty"`
	StudentEmail string `json:"student_email,omitempty"`
	StudentGrade int    `json:"student_grade,omitempty"`
}

func toSubmissionResponse(s *model.ServiceSubmission) submissionResponse {
	return submissionResponse{
		ID:                s.ID,
		StudentID:         s.StudentID,
		OrganizationName:  s.OrganizationName,
		ServiceDate:       s.ServiceDate,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		TotalHours:        s.TotalHours,
		Description:       s.Description,
		SupervisorName:    s.SupervisorName,
		SupervisorEmail:   s.SupervisorEmail,
		SupervisorPhone:   s.SupervisorPhone,
		EvidenceURL:       s.EvidenceURL,
		EvidenceFileName:  s.EvidenceFileName,
		Status:            string(s.Status),
		ReviewedBy:        s.ReviewedBy,
		ReviewedAt:        s.ReviewedAt,
		ReviewNotes:       s.ReviewNotes,
		ResubmissionCount: s.ResubmissionCount,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toSubmissionResponses(subs []*model.ServiceSubmission) []submissionResponse {
	out := make([]submissionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubmissionResponse(s))
	}
	return out
}

// notificationResponse は通知のAPIレスポンス。
type notificationResponse struct {
	ID                  string     `json:"id"`
	Type                string     `json:"type"`
	Title               string     `json:"title"`
	Message             string     `json:"message"`
	RelatedSubmissionID *string    `json:"related_submission_id,omitempty"`
	RelatedMeetingID    *string    `json:"related_meeting_id,omitempty"`
	IsRead              bool       `json:"is_read"`
	ReadAt              *time.Time `json:"read_at"`
	CreatedAt           time.Time  `json:"created_at"`
}

func toNotificationResponse(n *model.Notification) notificationResponse {
	return notificationResponse{
		ID:                  n.ID,
		Type:                string(n.Type),
		Title:               n.Title,
		Message:             n.Message,
		RelatedSubmissionID: n.RelatedSubmissionID,
		RelatedMeetingID:    n.RelatedMeetingID,
		IsRead:              n.IsRead,
		ReadAt:              n.ReadAt,
		CreatedAt:           n.CreatedAt,
	}
}

// idResponse は作成系操作のAPIレスポンス。
type idResponse struct {
	ID string `json:"id"`
}
