package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/user"
)

// UserServiceInterface はプロフィール・生徒管理ハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	CreateProfile(ctx context.Context, token string, in user.ProfileInput) (string, error)
	UpdateProfile(ctx context.Context, token string, patch user.ProfilePatch) error
	VerifyProfile(ctx context.Context, token, profileID string) error
	RejectProfile(ctx context.Context, token, profileID, reason string) error
	SetActive(ctx context.Context, token, userID string, active bool) error
	ListStudents(ctx context.Context, token string, status *model.VerificationStatus, search string) ([]user.StudentEntry, error)
	StudentDetails(ctx context.Context, token, profileID string) (*user.StudentDetails, error)
}

// UserHandler はプロフィールと生徒管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

type createProfileRequest struct {
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"required,max=100"`
	Grade         int    `json:"grade" validate:"required"`
	StudentNumber string `json:"student_number" validate:"max=50"`
}

type updateProfileRequest struct {
	FirstName     *string `json:"first_name" validate:"omitempty,max=100"`
	LastName      *string `json:"last_name" validate:"omitempty,max=100"`
	Grade         *int    `json:"grade"`
	StudentNumber *string `json:"student_number" validate:"omitempty,max=50"`
}

type rejectProfileRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type studentEntryResponse struct {
	Profile  *profileResponse `json:"profile"`
	Email    string           `json:"email"`
	Role     string           `json:"role"`
	IsActive bool             `json:"is_active"`
}

type studentDetailsResponse struct {
	Profile           *profileResponse      `json:"profile"`
	User              *userResponse         `json:"user"`
	RecentSubmissions []submissionResponse  `json:"recent_submissions"`
	RecentAttendance  []*attendanceResponse `json:"recent_attendance"`
}

// CreateProfile はログイン中のユーザーのプロフィールを作成する。
// POST /api/profile
func (h *UserHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	id, err := h.service.CreateProfile(r.Context(), tokenOf(r), user.ProfileInput{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Grade:         req.Grade,
		StudentNumber: req.StudentNumber,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// UpdateProfile はログイン中のユーザーのプロフィールを部分更新する。
// PATCH /api/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	err := h.service.UpdateProfile(r.Context(), tokenOf(r), user.ProfilePatch{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Grade:         req.Grade,
		StudentNumber: req.StudentNumber,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// VerifyProfile はプロフィールを承認する。
// POST /api/admin/profiles/{id}/verify
func (h *UserHandler) VerifyProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.service.VerifyProfile(r.Context(), tokenOf(r), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// RejectProfile はプロフィールを却下する。
// POST /api/admin/profiles/{id}/reject
func (h *UserHandler) RejectProfile(w http.ResponseWriter, r *http.Request) {
	var req rejectProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := h.service.RejectProfile(r.Context(), tokenOf(r), chi.URLParam(r, "id"), req.Reason); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// SetActive はユーザーの有効・無効を切り替える。
// PUT /api/admin/users/{id}/active
func (h *UserHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := h.service.SetActive(r.Context(), tokenOf(r), chi.URLParam(r, "id"), *req.Active); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// ListStudents は生徒一覧を返す。
// GET /api/admin/students?status=pending&search=...
func (h *UserHandler) ListStudents(w http.ResponseWriter, r *http.Request) {
	status, err := queryStatus(r, func(s model.VerificationStatus) bool {
		switch s {
		case model.VerificationPending, model.VerificationVerified, model.VerificationRejected:
			return true
		}
		return false
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	entries, err := h.service.ListStudents(r.Context(), tokenOf(r), status, r.URL.Query().Get("search"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	out := make([]studentEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, studentEntryResponse{
			Profile:  toProfileResponse(e.Profile),
			Email:    e.Email,
			Role:     string(e.Role),
			IsActive: e.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// StudentDetails は生徒1人分の詳細を返す。
// GET /api/admin/students/{id}
func (h *UserHandler) StudentDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.StudentDetails(r.Context(), tokenOf(r), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, details, func(d *user.StudentDetails) any {
		attendance := make([]*attendanceResponse, 0, len(d.RecentAttendance))
		for _, a := range d.RecentAttendance {
			attendance = append(attendance, toAttendanceResponse(a))
		}
		return studentDetailsResponse{
			Profile:           toProfileResponse(d.Profile),
			User:              toUserResponse(d.User),
			RecentSubmissions: toSubmissionResponses(d.RecentSubmissions),
			RecentAttendance:  attendance,
		}
	})
}
