package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/hitoshi/chapterhub/internal/attendance"
	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/checkin"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/servicehours"
	"github.com/hitoshi/chapterhub/internal/user"
)

// --- モック ---

type mockResolver struct {
	tokens map[string]string
}

func (m *mockResolver) ResolveUserID(ctx context.Context, token string) (string, error) {
	return m.tokens[token], nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

type mockAuthService struct {
	signUpFn         func(ctx context.Context, in auth.SignUpInput) (*auth.SessionResult, error)
	signInFn         func(ctx context.Context, email, password string) (*auth.SessionResult, error)
	signOutFn        func(ctx context.Context, token string) error
	getCurrentUserFn func(ctx context.Context, token string) (*auth.CurrentUser, error)
}

func (m *mockAuthService) SignUp(ctx context.Context, in auth.SignUpInput) (*auth.SessionResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, in)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*auth.SessionResult, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) SignOut(ctx context.Context, token string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, token string) (*auth.CurrentUser, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, token)
	}
	return nil, nil
}

type mockUserService struct {
	createProfileFn  func(ctx context.Context, token string, in user.ProfileInput) (string, error)
	updateProfileFn  func(ctx context.Context, token string, patch user.ProfilePatch) error
	verifyProfileFn  func(ctx context.Context, token, profileID string) error
	rejectProfileFn  func(ctx context.Context, token, profileID, reason string) error
	setActiveFn      func(ctx context.Context, token, userID string, active bool) error
	listStudentsFn   func(ctx context.Context, token string, status *model.VerificationStatus, search string) ([]user.StudentEntry, error)
	studentDetailsFn func(ctx context.Context, token, profileID string) (*user.StudentDetails, error)
}

func (m *mockUserService) CreateProfile(ctx context.Context, token string, in user.ProfileInput) (string, error) {
	if m.createProfileFn != nil {
		return m.createProfileFn(ctx, token, in)
	}
	return "", nil
}

func (m *mockUserService) UpdateProfile(ctx context.Context, token string, patch user.ProfilePatch) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, token, patch)
	}
	return nil
}

func (m *mockUserService) VerifyProfile(ctx context.Context, token, profileID string) error {
	if m.verifyProfileFn != nil {
		return m.verifyProfileFn(ctx, token, profileID)
	}
	return nil
}

func (m *mockUserService) RejectProfile(ctx context.Context, token, profileID, reason string) error {
	if m.rejectProfileFn != nil {
		return m.rejectProfileFn(ctx, token, profileID, reason)
	}
	return nil
}

func (m *mockUserService) SetActive(ctx context.Context, token, userID string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, token, userID, active)
	}
	return nil
}

func (m *mockUserService) ListStudents(ctx context.Context, token string, status *model.VerificationStatus, search string) ([]user.StudentEntry, error) {
	if m.listStudentsFn != nil {
		return m.listStudentsFn(ctx, token, status, search)
	}
	return nil, nil
}

func (m *mockUserService) StudentDetails(ctx context.Context, token, profileID string) (*user.StudentDetails, error) {
	if m.studentDetailsFn != nil {
		return m.studentDetailsFn(ctx, token, profileID)
	}
	return nil, nil
}

type mockCheckInService struct {
	createMeetingFn func(ctx context.Context, token string, in checkin.MeetingInput) (string, error)
	updateMeetingFn func(ctx context.Context, token, meetingID string, patch checkin.MeetingPatch) error
	deleteMeetingFn func(ctx context.Context, token, meetingID string) error
	listMeetingsFn  func(ctx context.Context, token string, q checkin.MeetingQuery) ([]*model.Meeting, error)
	getMeetingFn    func(ctx context.Context, token, meetingID string) (*checkin.MeetingView, error)
	activeMeetingFn func(ctx context.Context, token string) (*checkin.ActiveMeeting, error)
	openCheckInFn   func(ctx context.Context, token, meetingID string) (*checkin.Code, error)
	refreshCodeFn   func(ctx context.Context, token, meetingID string) (*checkin.Code, error)
	closeCheckInFn  func(ctx context.Context, token, meetingID string) error
	checkInFn       func(ctx context.Context, token, meetingID, code string) error
	currentCodeFn   func(ctx context.Context, token, meetingID string) (*checkin.Code, error)
}

func (m *mockCheckInService) CreateMeeting(ctx context.Context, token string, in checkin.MeetingInput) (string, error) {
	if m.createMeetingFn != nil {
		return m.createMeetingFn(ctx, token, in)
	}
	return "", nil
}

func (m *mockCheckInService) UpdateMeeting(ctx context.Context, token, meetingID string, patch checkin.MeetingPatch) error {
	if m.updateMeetingFn != nil {
		return m.updateMeetingFn(ctx, token, meetingID, patch)
	}
	return nil
}

func (m *mockCheckInService) DeleteMeeting(ctx context.Context, token, meetingID string) error {
	if m.deleteMeetingFn != nil {
		return m.deleteMeetingFn(ctx, token, meetingID)
	}
	return nil
}

func (m *mockCheckInService) ListMeetings(ctx context.Context, token string, q checkin.MeetingQuery) ([]*model.Meeting, error) {
	if m.listMeetingsFn != nil {
		return m.listMeetingsFn(ctx, token, q)
	}
	return nil, nil
}

func (m *mockCheckInService) GetMeeting(ctx context.Context, token, meetingID string) (*checkin.MeetingView, error) {
	if m.getMeetingFn != nil {
		return m.getMeetingFn(ctx, token, meetingID)
	}
	return nil, nil
}

func (m *mockCheckInService) ActiveMeetingForCheckIn(ctx context.Context, token string) (*checkin.ActiveMeeting, error) {
	if m.activeMeetingFn != nil {
		return m.activeMeetingFn(ctx, token)
	}
	return nil, nil
}

func (m *mockCheckInService) OpenCheckIn(ctx context.Context, token, meetingID string) (*checkin.Code, error) {
	if m.openCheckInFn != nil {
		return m.openCheckInFn(ctx, token, meetingID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCheckInService) RefreshCheckInCode(ctx context.Context, token, meetingID string) (*checkin.Code, error) {
	if m.refreshCodeFn != nil {
		return m.refreshCodeFn(ctx, token, meetingID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockCheckInService) CloseCheckIn(ctx context.Context, token, meetingID string) error {
	if m.closeCheckInFn != nil {
		return m.closeCheckInFn(ctx, token, meetingID)
	}
	return nil
}

func (m *mockCheckInService) CheckIn(ctx context.Context, token, meetingID, code string) error {
	if m.checkInFn != nil {
		return m.checkInFn(ctx, token, meetingID, code)
	}
	return nil
}

func (m *mockCheckInService) CurrentCode(ctx context.Context, token, meetingID string) (*checkin.Code, error) {
	if m.currentCodeFn != nil {
		return m.currentCodeFn(ctx, token, meetingID)
	}
	return nil, nil
}

type mockAttendanceService struct {
	manualCheckInFn     func(ctx context.Context, token string, in attendance.ManualCheckInInput) error
	updateStatusFn      func(ctx context.Context, token, recordID string, status model.AttendanceStatus, notes string) error
	meetingAttendanceFn func(ctx context.Context, token, meetingID string) (*attendance.MeetingAttendance, error)
	myAttendanceFn      func(ctx context.Context, token, meetingID string) (*model.AttendanceRecord, error)
	statsFn             func(ctx context.Context, token, studentID string) (*attendance.Stats, error)
}

func (m *mockAttendanceService) ManualCheckIn(ctx context.Context, token string, in attendance.ManualCheckInInput) error {
	if m.manualCheckInFn != nil {
		return m.manualCheckInFn(ctx, token, in)
	}
	return nil
}

func (m *mockAttendanceService) UpdateAttendanceStatus(ctx context.Context, token, recordID string, status model.AttendanceStatus, notes string) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, token, recordID, status, notes)
	}
	return nil
}

func (m *mockAttendanceService) MeetingAttendance(ctx context.Context, token, meetingID string) (*attendance.MeetingAttendance, error) {
	if m.meetingAttendanceFn != nil {
		return m.meetingAttendanceFn(ctx, token, meetingID)
	}
	return nil, nil
}

func (m *mockAttendanceService) MyAttendance(ctx context.Context, token, meetingID string) (*model.AttendanceRecord, error) {
	if m.myAttendanceFn != nil {
		return m.myAttendanceFn(ctx, token, meetingID)
	}
	return nil, nil
}

func (m *mockAttendanceService) Stats(ctx context.Context, token, studentID string) (*attendance.Stats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, token, studentID)
	}
	return nil, nil
}

type mockSubmissionService struct {
	submitFn        func(ctx context.Context, token string, in servicehours.SubmitInput) (string, error)
	updateFn        func(ctx context.Context, token, submissionID string, patch servicehours.SubmissionPatch) error
	deleteFn        func(ctx context.Context, token, submissionID string) error
	listMineFn      func(ctx context.Context, token string, status *model.SubmissionStatus) ([]*model.ServiceSubmission, error)
	getFn           func(ctx context.Context, token, submissionID string) (*servicehours.SubmissionView, error)
	reviewFn        func(ctx context.Context, token, submissionID string, decision model.SubmissionStatus, notes string) error
	listForReviewFn func(ctx context.Context, token string, status *model.SubmissionStatus) ([]servicehours.SubmissionView, error)
	adminStatsFn    func(ctx context.Context, token string) (*servicehours.AdminStats, error)
}

func (m *mockSubmissionService) Submit(ctx context.Context, token string, in servicehours.SubmitInput) (string, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, token, in)
	}
	return "", nil
}

func (m *mockSubmissionService) Update(ctx context.Context, token, submissionID string, patch servicehours.SubmissionPatch) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, token, submissionID, patch)
	}
	return nil
}

func (m *mockSubmissionService) Delete(ctx context.Context, token, submissionID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, token, submissionID)
	}
	return nil
}

func (m *mockSubmissionService) ListMine(ctx context.Context, token string, status *model.SubmissionStatus) ([]*model.ServiceSubmission, error) {
	if m.listMineFn != nil {
		return m.listMineFn(ctx, token, status)
	}
	return nil, nil
}

func (m *mockSubmissionService) Get(ctx context.Context, token, submissionID string) (*servicehours.SubmissionView, error) {
	if m.getFn != nil {
		return m.getFn(ctx, token, submissionID)
	}
	return nil, nil
}

func (m *mockSubmissionService) Review(ctx context.Context, token, submissionID string, decision model.SubmissionStatus, notes string) error {
	if m.reviewFn != nil {
		return m.reviewFn(ctx, token, submissionID, decision, notes)
	}
	return nil
}

func (m *mockSubmissionService) ListForReview(ctx context.Context, token string, status *model.SubmissionStatus) ([]servicehours.SubmissionView, error) {
	if m.listForReviewFn != nil {
		return m.listForReviewFn(ctx, token, status)
	}
	return nil, nil
}

func (m *mockSubmissionService) AdminStats(ctx context.Context, token string) (*servicehours.AdminStats, error) {
	if m.adminStatsFn != nil {
		return m.adminStatsFn(ctx, token)
	}
	return nil, nil
}

type mockNotificationService struct {
	listFn     func(ctx context.Context, token string, limit int) ([]*model.Notification, error)
	markReadFn func(ctx context.Context, token, notificationID string) error
}

func (m *mockNotificationService) List(ctx context.Context, token string, limit int) ([]*model.Notification, error) {
	if m.listFn != nil {
		return m.listFn(ctx, token, limit)
	}
	return nil, nil
}

func (m *mockNotificationService) MarkRead(ctx context.Context, token, notificationID string) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, token, notificationID)
	}
	return nil
}

// --- ヘルパー ---

// testDeps はモックサービスを組み込んだRouterDepsを返す。
// "student-token" と "admin-token" がそれぞれユーザーIDに解決される。
func testDeps() *RouterDeps {
	return &RouterDeps{
		HealthChecker: &mockPinger{},
		UserResolver: &mockResolver{tokens: map[string]string{
			"student-token": "user-student",
			"admin-token":   "user-admin",
		}},
		CSRFConfig:          middleware.CSRFConfig{},
		RateLimiter:         middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
		AuthService:         &mockAuthService{},
		UserService:         &mockUserService{},
		CheckInService:      &mockCheckInService{},
		AttendanceService:   &mockAttendanceService{},
		SubmissionService:   &mockSubmissionService{},
		NotificationService: &mockNotificationService{},
	}
}

// bearerRequest はBearerトークン付きのリクエストを生成する。
func bearerRequest(method, path, token, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// serve はルーターにリクエストを流してレスポンスを返す。
func serve(deps *RouterDeps, req *http.Request) *httptest.ResponseRecorder {
	router := NewRouter(deps)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}
