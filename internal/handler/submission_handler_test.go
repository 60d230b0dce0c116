package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/hitoshi/chapterhub/internal/attendance"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/servicehours"
)

func TestSubmit_PassesInputAndReturnsID(t *testing.T) {
	deps := testDeps()
	var got servicehours.SubmitInput
	deps.SubmissionService = &mockSubmissionService{
		submitFn: func(ctx context.Context, token string, in servicehours.SubmitInput) (string, error) {
			got = in
			return "sub-1", nil
		},
	}

	body := `{
		"organization_name": "Food Bank",
		"service_date": "2026-02-20",
		"start_time": "09:00",
		"end_time": "12:30",
		"description": "Sorted donations",
		"supervisor_name": "Pat Lee",
		"supervisor_email": "pat@example.org"
	}`
	rec := serve(deps, bearerRequest(http.MethodPost, "/api/submissions", "student-token", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.OrganizationName != "Food Bank" || got.EndTime != "12:30" {
		t.Errorf("unexpected input: %+v", got)
	}
	var resp idResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.ID != "sub-1" {
		t.Errorf("expected id sub-1, got %q", resp.ID)
	}
}

func TestListMine_StatusFilter(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantFilter *model.SubmissionStatus
	}{
		{name: "all", query: "", wantStatus: http.StatusOK},
		{name: "pending", query: "?status=pending", wantStatus: http.StatusOK, wantFilter: ptr(model.SubmissionPending)},
		{name: "unknown", query: "?status=archived", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			var got *model.SubmissionStatus
			deps.SubmissionService = &mockSubmissionService{
				listMineFn: func(ctx context.Context, token string, status *model.SubmissionStatus) ([]*model.ServiceSubmission, error) {
					got = status
					return []*model.ServiceSubmission{{ID: "sub-1", Status: model.SubmissionPending, TotalHours: 3.5}}, nil
				},
			}

			rec := serve(deps, bearerRequest(http.MethodGet, "/api/submissions"+tt.query, "student-token", ""))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if (got == nil) != (tt.wantFilter == nil) || (got != nil && *got != *tt.wantFilter) {
				t.Errorf("unexpected status filter: %v", got)
			}
			var resp []submissionResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if len(resp) != 1 || resp[0].TotalHours != 3.5 {
				t.Errorf("unexpected body: %+v", resp)
			}
		})
	}
}

func TestGetSubmission_NullWhenNotVisible(t *testing.T) {
	rec := serve(testDeps(), bearerRequest(http.MethodGet, "/api/submissions/sub-9", "student-token", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "null" {
		t.Errorf("expected null body, got %s", got)
	}
}

func TestReview_PassesDecision(t *testing.T) {
	deps := testDeps()
	var gotDecision model.SubmissionStatus
	var gotNotes string
	deps.SubmissionService = &mockSubmissionService{
		reviewFn: func(ctx context.Context, token, submissionID string, decision model.SubmissionStatus, notes string) error {
			gotDecision, gotNotes = decision, notes
			return nil
		},
	}

	rec := serve(deps, bearerRequest(http.MethodPost, "/api/submissions/sub-1/review", "admin-token", `{"decision":"revision_requested","notes":"add supervisor phone"}`))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if gotDecision != model.SubmissionRevisionRequested || gotNotes != "add supervisor phone" {
		t.Errorf("unexpected arguments: decision=%q notes=%q", gotDecision, gotNotes)
	}
}

func TestReview_NotReviewableReturns409(t *testing.T) {
	deps := testDeps()
	deps.SubmissionService = &mockSubmissionService{
		reviewFn: func(ctx context.Context, token, submissionID string, decision model.SubmissionStatus, notes string) error {
			return model.NewSubmissionNotReviewableError(model.SubmissionApproved)
		},
	}

	rec := serve(deps, bearerRequest(http.MethodPost, "/api/submissions/sub-1/review", "admin-token", `{"decision":"denied"}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body.Code != model.ErrCodeSubmissionReviewed {
		t.Errorf("expected code %s, got %s", model.ErrCodeSubmissionReviewed, body.Code)
	}
}

func TestListForReview_IncludesStudentInfo(t *testing.T) {
	deps := testDeps()
	deps.SubmissionService = &mockSubmissionService{
		listForReviewFn: func(ctx context.Context, token string, status *model.SubmissionStatus) ([]servicehours.SubmissionView, error) {
			return []servicehours.SubmissionView{{
				Submission:   &model.ServiceSubmission{ID: "sub-1", Status: model.SubmissionPending},
				StudentName:  "Ada Lovelace",
				StudentEmail: "ada@example.com",
				StudentGrade: 11,
			}}, nil
		},
	}

	rec := serve(deps, bearerRequest(http.MethodGet, "/api/admin/submissions", "admin-token", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp []submissionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp) != 1 || resp[0].StudentName != "Ada Lovelace" || resp[0].StudentGrade != 11 {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestAttendanceStats_PassesStudentID(t *testing.T) {
	deps := testDeps()
	var gotStudent string
	deps.AttendanceService = &mockAttendanceService{
		statsFn: func(ctx context.Context, token, studentID string) (*attendance.Stats, error) {
			gotStudent = studentID
			return &attendance.Stats{Attended: 3, Excused: 1, Total: 5, Percentage: 80}, nil
		},
	}

	rec := serve(deps, bearerRequest(http.MethodGet, "/api/attendance/stats?student_id=p-7", "admin-token", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if gotStudent != "p-7" {
		t.Errorf("expected student_id p-7, got %q", gotStudent)
	}
	var resp attendanceStatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Percentage != 80 || resp.Total != 5 {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestNotifications_DefaultLimit(t *testing.T) {
	deps := testDeps()
	gotLimit := -1
	deps.NotificationService = &mockNotificationService{
		listFn: func(ctx context.Context, token string, limit int) ([]*model.Notification, error) {
			gotLimit = limit
			return nil, nil
		},
	}

	rec := serve(deps, bearerRequest(http.MethodGet, "/api/notifications", "student-token", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if gotLimit != 50 {
		t.Errorf("expected default limit 50, got %d", gotLimit)
	}
}

func ptr[T any](v T) *T { return &v }
