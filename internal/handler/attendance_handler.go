package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chapterhub/internal/attendance"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/hitoshi/chapterhub/internal/model"
)

// AttendanceServiceInterface は出席ハンドラーが必要とするサービスインターフェース。
type AttendanceServiceInterface interface {
	ManualCheckIn(ctx context.Context, token string, in attendance.ManualCheckInInput) error
	UpdateAttendanceStatus(ctx context.Context, token, recordID string, status model.AttendanceStatus, notes string) error
	MeetingAttendance(ctx context.Context, token, meetingID string) (*attendance.MeetingAttendance, error)
	MyAttendance(ctx context.Context, token, meetingID string) (*model.AttendanceRecord, error)
	Stats(ctx context.Context, token, studentID string) (*attendance.Stats, error)
}

// AttendanceHandler は出席記録のHTTPハンドラー。
type AttendanceHandler struct {
	service AttendanceServiceInterface
}

// NewAttendanceHandler はAttendanceHandlerを生成する。
func NewAttendanceHandler(service AttendanceServiceInterface) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

type manualCheckInRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=present excused"`
	Notes     string `json:"notes" validate:"max=1000"`
}

type updateAttendanceRequest struct {
	Status string `json:"status" validate:"required,oneof=present excused invalidated"`
	Notes  string `json:"notes" validate:"max=1000"`
}

type attendanceEntryResponse struct {
	*attendanceResponse
	StudentName  string `json:"student_name"`
	StudentEmail string `json:"student_email"`
	StudentGrade int    `json:"student_grade"`
}

type meetingAttendanceResponse struct {
	Meeting       meetingResponse           `json:"meeting"`
	Records       []attendanceEntryResponse `json:"records"`
	PresentCount  int                       `json:"present_count"`
	ExcusedCount  int                       `json:"excused_count"`
	TotalStudents int                       `json:"total_students"`
}

type attendanceStatsResponse struct {
	Attended   int `json:"attended"`
	Excused    int `json:"excused"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// ManualCheckIn は管理者による手動出席登録を行う。
// POST /api/meetings/{id}/attendance
func (h *AttendanceHandler) ManualCheckIn(w http.ResponseWriter, r *http.Request) {
	var req manualCheckInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	err := h.service.ManualCheckIn(r.Context(), tokenOf(r), attendance.ManualCheckInInput{
		MeetingID: chi.URLParam(r, "id"),
		StudentID: req.StudentID,
		Status:    model.AttendanceStatus(req.Status),
		Notes:     req.Notes,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// UpdateStatus は出席記録の状態を変更する。
// PATCH /api/attendance/{id}
func (h *AttendanceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateAttendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	err := h.service.UpdateAttendanceStatus(r.Context(), tokenOf(r), chi.URLParam(r, "id"), model.AttendanceStatus(req.Status), req.Notes)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// MeetingAttendance はミーティングの出席一覧を返す。
// GET /api/meetings/{id}/attendance
func (h *AttendanceHandler) MeetingAttendance(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.MeetingAttendance(r.Context(), tokenOf(r), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, result, func(m *attendance.MeetingAttendance) any {
		records := make([]attendanceEntryResponse, 0, len(m.Records))
		for _, e := range m.Records {
			records = append(records, attendanceEntryResponse{
				attendanceResponse: toAttendanceResponse(e.Record),
				StudentName:        e.StudentName,
				StudentEmail:       e.StudentEmail,
				StudentGrade:       e.StudentGrade,
			})
		}
		return meetingAttendanceResponse{
			Meeting:       toMeetingResponse(m.Meeting),
			Records:       records,
			PresentCount:  m.PresentCount,
			ExcusedCount:  m.ExcusedCount,
			TotalStudents: m.TotalStudents,
		}
	})
}

// MyAttendance は呼び出しユーザーの出席記録を返す。
// GET /api/meetings/{id}/attendance/me
func (h *AttendanceHandler) MyAttendance(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.MyAttendance(r.Context(), tokenOf(r), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, record, func(a *model.AttendanceRecord) any {
		return toAttendanceResponse(a)
	})
}

// Stats は出席統計を返す。管理者はstudent_idで他の生徒を指定できる。
// GET /api/attendance/stats?student_id=...
func (h *AttendanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), tokenOf(r), r.URL.Query().Get("student_id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, stats, func(s *attendance.Stats) any {
		return attendanceStatsResponse{
			Attended:   s.Attended,
			Excused:    s.Excused,
			Total:      s.Total,
			Percentage: s.Percentage,
		}
	})
}
