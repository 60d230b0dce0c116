package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chapterhub/internal/checkin"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/hitoshi/chapterhub/internal/model"
)

// CheckInServiceInterface はミーティング・チェックインハンドラーが必要とするサービスインターフェース。
type CheckInServiceInterface interface {
	CreateMeeting(ctx context.Context, token string, in checkin.MeetingInput) (string, error)
	UpdateMeeting(ctx context.Context, token, meetingID string, patch checkin.MeetingPatch) error
	DeleteMeeting(ctx context.Context, token, meetingID string) error
	ListMeetings(ctx context.Context, token string, q checkin.MeetingQuery) ([]*model.Meeting, error)
	GetMeeting(ctx context.Context, token, meetingID string) (*checkin.MeetingView, error)
	ActiveMeetingForCheckIn(ctx context.Context, token string) (*checkin.ActiveMeeting, error)

	OpenCheckIn(ctx context.Context, token, meetingID string) (*checkin.Code, error)
	RefreshCheckInCode(ctx context.Context, token, meetingID string) (*checkin.Code, error)
	CloseCheckIn(ctx context.Context, token, meetingID string) error
	CheckIn(ctx context.Context, token, meetingID, code string) error
	CurrentCode(ctx context.Context, token, meetingID string) (*checkin.Code, error)
}

// MeetingHandler はミーティング管理とチェックインのHTTPハンドラー。
type MeetingHandler struct {
	service CheckInServiceInterface
}

// NewMeetingHandler はMeetingHandlerを生成する。
func NewMeetingHandler(service CheckInServiceInterface) *MeetingHandler {
	return &MeetingHandler{service: service}
}

type createMeetingRequest struct {
	Title              string `json:"title" validate:"required,max=200"`
	Description        string `json:"description" validate:"max=5000"`
	Location           string `json:"location" validate:"max=200"`
	ScheduledDate      string `json:"scheduled_date" validate:"required"`
	ScheduledStartTime string `json:"scheduled_start_time" validate:"required"`
	ScheduledEndTime   string `json:"scheduled_end_time" validate:"required"`
}

type updateMeetingRequest struct {
	Title              *string `json:"title" validate:"omitempty,max=200"`
	Description        *string `json:"description" validate:"omitempty,max=5000"`
	Location           *string `json:"location" validate:"omitempty,max=200"`
	ScheduledDate      *string `json:"scheduled_date"`
	ScheduledStartTime *string `json:"scheduled_start_time"`
	ScheduledEndTime   *string `json:"scheduled_end_time"`
}

type checkInRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type codeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type meetingDetailResponse struct {
	meetingResponse
	CreatorName string `json:"creator_name"`
}

type activeMeetingResponse struct {
	Meeting          meetingResponse `json:"meeting"`
	AlreadyCheckedIn bool            `json:"already_checked_in"`
	CheckInTime      *time.Time      `json:"check_in_time"`
}

// ListMeetings はミーティング一覧を返す。
// GET /api/meetings?filter=upcoming|past
func (h *MeetingHandler) ListMeetings(w http.ResponseWriter, r *http.Request) {
	var q checkin.MeetingQuery
	switch r.URL.Query().Get("filter") {
	case "":
	case "upcoming":
		q.Upcoming = true
	case "past":
		q.Past = true
	default:
		middleware.WriteError(w, model.NewValidationError("filter must be upcoming or past"))
		return
	}

	meetings, err := h.service.ListMeetings(r.Context(), tokenOf(r), q)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]meetingResponse, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, toMeetingResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateMeeting はミーティングを作成する。
// POST /api/meetings
func (h *MeetingHandler) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req createMeetingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	id, err := h.service.CreateMeeting(r.Context(), tokenOf(r), checkin.MeetingInput{
		Title:              req.Title,
		Description:        req.Description,
		Location:           req.Location,
		ScheduledDate:      req.ScheduledDate,
		ScheduledStartTime: req.ScheduledStartTime,
		ScheduledEndTime:   req.ScheduledEndTime,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// GetMeeting はミーティング詳細を返す。
// GET /api/meetings/{id}
func (h *MeetingHandler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetMeeting(r.Context(), tokenOf(r), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, view, func(v *checkin.MeetingView) any {
		return meetingDetailResponse{
			meetingResponse: toMeetingResponse(v.Meeting),
			CreatorName:     v.CreatorName,
		}
	})
}

// UpdateMeeting はミーティングを部分更新する。
// PATCH /api/meetings/{id}
func (h *MeetingHandler) UpdateMeeting(w http.ResponseWriter, r *http.Request) {
	var req updateMeetingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	err := h.service.UpdateMeeting(r.Context(), tokenOf(r), chi.URLParam(r, "id"), checkin.MeetingPatch{
		Title:              req.Title,
		Description:        req.Description,
		Location:           req.Location,
		ScheduledDate:      req.ScheduledDate,
		ScheduledStartTime: req.ScheduledStartTime,
		ScheduledEndTime:   req.ScheduledEndTime,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// DeleteMeeting はミーティングを削除する。
// DELETE /api/meetings/{id}
func (h *MeetingHandler) DeleteMeeting(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMeeting(r.Context(), tokenOf(r), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// ActiveMeeting はチェックイン受付中のミーティングを返す。
// GET /api/meetings/active
func (h *MeetingHandler) ActiveMeeting(w http.ResponseWriter, r *http.Request) {
	active, err := h.service.ActiveMeetingForCheckIn(r.Context(), tokenOf(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, active, func(a *checkin.ActiveMeeting) any {
		return activeMeetingResponse{
			Meeting:          toMeetingResponse(a.Meeting),
			AlreadyCheckedIn: a.AlreadyCheckedIn,
			CheckInTime:      a.CheckInTime,
		}
	})
}

// OpenCheckIn はチェックイン受付を開始する。
// POST /api/meetings/{id}/checkin/open
func (h *MeetingHandler) OpenCheckIn(w http.ResponseWriter, r *http.Request) {
	h.writeCode(w, r, h.service.OpenCheckIn)
}

// RefreshCheckInCode はコードを再発行する。
// POST /api/meetings/{id}/checkin/refresh
func (h *MeetingHandler) RefreshCheckInCode(w http.ResponseWriter, r *http.Request) {
	h.writeCode(w, r, h.service.RefreshCheckInCode)
}

// CloseCheckIn はチェックイン受付を終了する。
// POST /api/meetings/{id}/checkin/close
func (h *MeetingHandler) CloseCheckIn(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseCheckIn(r.Context(), tokenOf(r), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}

// CurrentCode は表示用端末向けに現在のコードを返す。
// GET /api/meetings/{id}/checkin/code
func (h *MeetingHandler) CurrentCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.service.CurrentCode(r.Context(), tokenOf(r), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeQueryResult(w, code, func(c *checkin.Code) any {
		return codeResponse{Code: c.Value, ExpiresAt: c.ExpiresAt}
	})
}

// CheckIn はコードによるチェックインを記録する。
// POST /api/meetings/{id}/checkin
func (h *MeetingHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := h.service.CheckIn(r.Context(), tokenOf(r), chi.URLParam(r, "id"), req.Code); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"checked_in": true})
}

func (h *MeetingHandler) writeCode(w http.ResponseWriter, r *http.Request, issue func(ctx context.Context, token, meetingID string) (*checkin.Code, error)) {
	code, err := issue(r.Context(), tokenOf(r), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, codeResponse{Code: code.Value, ExpiresAt: code.ExpiresAt})
}
