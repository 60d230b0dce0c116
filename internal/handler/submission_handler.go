package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/servicehours"
)

// SubmissionServiceInterface は奉仕時間ハンドラーが必要とするサービスインターフェース。
type SubmissionServiceInterface interface {
	Submit(ctx context.Context, token string, in servicehours.SubmitInput) (string, error)
	Update(ctx context.Context, token, submissionID string, patch servicehours.SubmissionPatch) error
	Delete(ctx context.Context, token, submissionID string) error
	ListMine(ctx context.Context, token string, status *model.SubmissionStatus) ([]*model.ServiceSubmission, error)
	Get(ctx context.Context, token, submissionID string) (*servicehours.SubmissionView, error)
	Review(ctx context.Context, token, submissionID string, decision model.SubmissionStatus, notes string) error
	ListForReview(ctx context.Context, token string, status *model.SubmissionStatus) ([]servicehours.SubmissionView, error)
	AdminStats(ctx context.Context, token string) (*servicehours.AdminStats, error)
}

// SubmissionHandler は奉仕時間申請と審査のHTTPハンドラー。
type SubmissionHandler struct {
	service SubmissionServiceInterface
}

// NewSubmissionHandler はSubmissionHandlerを生成する。
func NewSubmissionHandler(service SubmissionServiceInterface) *SubmissionHandler {
	return &SubmissionHandler{service: service}
}

type submitRequest struct {
	OrganizationName string `json:"organization_name" validate:"required,max=200"`
	ServiceDate      string `json:"service_date" validate:"required"`
	StartTime        string `json:"start_time" validate:"required"`
	EndTime          string `json:"end_time" validate:"required"`
	Description      string `json:"description" validate:"required,max=5000"`
	SupervisorName   string `json:"supervisor_name" validate:"required,max=200"`
	SupervisorEmail  string `json:"supervisor_email" validate:"required,max=254"`
	SupervisorPhone  string `json:"supervisor_phone" validate:"max=50"`
	EvidenceURL      string `json:"evidence_url" validate:"max=2048"`
	EvidenceFileName string `json:"evidence_file_name" validate:"max=255"`
}

type updateSubmissionRequest struct {
	OrganizationName *string `json:"organization_name" validate:"omitempty,max=200"`
	ServiceDate      *string `json:"service_date"`
	StartTime        *string `json:"start_time"`
	EndTime          *string `json:"end_time"`
	Description      *string `json:"description" validate:"omitempty,max=5000"`
	SupervisorName   *string `json:"supervisor_name" validate:"omitempty,max=200"`
	SupervisorEmail  *string `json:"supervisor_email" validate:"omitempty,max=254"`
	SupervisorPhone  *string `json:"supervisor_phone" validate:"omitempty,max=50"`
}

type reviewRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved denied revision_requested"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type adminStatsResponse struct {
	PendingSubmissions     int     `json:"pending_submissions"`
	UnverifiedStudents     int     `json:"unverified_students"`
	ApprovedHoursThisMonth float64 `json:"approved_hours_this_month"`
	DeniedThisMonth        int     `json:"denied_this_month"`
}

func toSubmissionViewResponse(v *servicehours.SubmissionView) submissionResponse {
	resp := toSubmissionResponse(v.Submission)
	resp.StudentName = v.StudentName
	resp.StudentEmail = v.StudentEmail
	resp.StudentGrade = v.StudentGrade
	return resp
}

func submissionStatus(s model.SubmissionStatus) bool { return s.Valid() }

// Submit は奉仕時間申請を作成する。
// POST /api/submissions
func (h *SubmissionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	id, err := h.service.Submit(r.Context(), tokenOf(r), servicehours.SubmitInput{
		OrganizationName: req.OrganizationName,
		ServiceDate:      req.ServiceDate,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		Description:      req.Description,
		SupervisorName:   req.SupervisorName,
		SupervisorEmail:  req.SupervisorEmail,
		SupervisorPhone:  req.SupervisorPhone,
		EvidenceURL:      req.EvidenceURL,
		EvidenceFileName: req.EvidenceFileName,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// ListMine は呼び出しユーザーの申請一覧を返す。
// GET /api/submissions?status=pending
func (h *SubmissionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	status, err := queryStatus(r, submissionStatus)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	subs, err := h.service.ListMine(r.Context(), tokenOf(r), status)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponses(subs))
}

// Get は申請を1件返す。
// GET /api/submissions/{id}
func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), tokenOf(r), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, view, func(v *servicehours.SubmissionView) any {
		return toSubmissionViewResponse(v)
	})
}

// Update は申請を部分更新する。
// PATCH /api/submissions/{id}
func (h *SubmissionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSubmissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	err := h.service.Update(r.Context(), tokenOf(r), chi.URLParam(r, "id"), servicehours.SubmissionPatch{
		OrganizationName: req.OrganizationName,
		ServiceDate:      req.ServiceDate,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		Description:      req.Description,
		SupervisorName:   req.SupervisorName,
		SupervisorEmail:  req.SupervisorEmail,
		SupervisorPhone:  req.SupervisorPhone,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// Delete はpendingの申請を削除する。
// DELETE /api/submissions/{id}
func (h *SubmissionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), tokenOf(r), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// Review は申請の審査結果を記録する。
// POST /api/submissions/{id}/review
func (h *SubmissionHandler) Review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	err := h.service.Review(r.Context(), tokenOf(r), chi.URLParam(r, "id"), model.SubmissionStatus(req.Decision), req.Notes)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// ListForReview は審査対象の申請一覧を返す。
// GET /api/admin/submissions?status=pending
func (h *SubmissionHandler) ListForReview(w http.ResponseWriter, r *http.Request) {
	status, err := queryStatus(r, submissionStatus)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	views, err := h.service.ListForReview(r.Context(), tokenOf(r), status)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]submissionResponse, 0, len(views))
	for i := range views {
		out = append(out, toSubmissionViewResponse(&views[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// AdminStats は管理者ダッシュボードの集計値を返す。
// GET /api/admin/stats
func (h *SubmissionHandler) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.AdminStats(r.Context(), tokenOf(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, stats, func(s *servicehours.AdminStats) any {
		return adminStatsResponse{
			PendingSubmissions:     s.PendingSubmissions,
			UnverifiedStudents:     s.UnverifiedStudents,
			ApprovedHoursThisMonth: s.ApprovedHoursThisMonth,
			DeniedThisMonth:        s.DeniedThisMonth,
		}
	})
}
