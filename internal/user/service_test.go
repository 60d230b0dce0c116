package user

import (
	"context"
	"testing"

	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
	"github.com/hitoshi/chapterhub/internal/security"
	"github.com/hitoshi/chapterhub/internal/testfixture"
)

type userEnv struct {
	*testfixture.Env
	svc   *Service
	admin string
}

func newUserEnv(t *testing.T) *userEnv {
	t.Helper()
	env := testfixture.New(t)
	e := &userEnv{Env: env, svc: NewService(env.Store, env.Guard, env.Clock, security.NewTextSanitizer())}
	e.admin = env.AddUser(t, testfixture.User{ID: "admin", Role: model.RoleAdmin})
	return e
}

func (e *userEnv) user(t *testing.T, id string) *model.User {
	t.Helper()
	var u *model.User
	e.Tx(t, func(ctx context.Context, tx repository.Tx) (err error) {
		u, err = tx.Users().FindByID(ctx, id)
		return err
	})
	return u
}

func ptr[T any](v T) *T { return &v }

func TestCreateProfile(t *testing.T) {
	e := newUserEnv(t)
	token := e.AddUser(t, testfixture.User{ID: "new"})

	id, err := e.svc.CreateProfile(context.Background(), token, ProfileInput{
		FirstName: " Ada ", LastName: "<b>Lovelace</b>", Grade: 11, StudentNumber: "S-100",
	})
	if err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}

	p := e.Profile(t, id)
	if p.FirstName != "Ada" || p.LastName != "Lovelace" || p.Grade != 11 || p.StudentNumber != "S-100" {
		t.Errorf("profile = %+v", p)
	}
	if p.VerificationStatus != model.VerificationPending || p.UserID != "new" {
		t.Errorf("status/user = %s/%s, want pending/new", p.VerificationStatus, p.UserID)
	}
	if p.TotalApprovedHours != 0 || p.TotalPendingHours != 0 || p.MeetingsAttended != 0 {
		t.Errorf("counters = %+v, want zero", p)
	}
	if u := e.user(t, "new"); u.ProfileID == nil || *u.ProfileID != id {
		t.Errorf("user.ProfileID = %v, want %s", u.ProfileID, id)
	}

	_, err = e.svc.CreateProfile(context.Background(), token, ProfileInput{FirstName: "A", LastName: "L", Grade: 11})
	if got := model.CodeOf(err); got != model.ErrCodeProfileExists {
		t.Errorf("second CreateProfile() code = %q, want %q", got, model.ErrCodeProfileExists)
	}
}

func TestCreateProfile_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   ProfileInput
	}{
		{"grade too low", ProfileInput{FirstName: "A", LastName: "B", Grade: 8}},
		{"grade too high", ProfileInput{FirstName: "A", LastName: "B", Grade: 13}},
		{"missing first name", ProfileInput{LastName: "B", Grade: 9}},
		{"markup only last name", ProfileInput{FirstName: "A", LastName: "<i></i>", Grade: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newUserEnv(t)
			token := e.AddUser(t, testfixture.User{ID: "new"})

			_, err := e.svc.CreateProfile(context.Background(), token, tt.in)
			if !model.IsKind(err, model.KindValidation) {
				t.Fatalf("CreateProfile() error = %v, want validation", err)
			}
			if u := e.user(t, "new"); u.ProfileID != nil {
				t.Errorf("user.ProfileID = %v, want nil", *u.ProfileID)
			}
		})
	}
}

func TestCreateProfile_Unauthenticated(t *testing.T) {
	e := newUserEnv(t)
	_, err := e.svc.CreateProfile(context.Background(), "bogus", ProfileInput{FirstName: "A", LastName: "B", Grade: 9})
	if !model.IsKind(err, model.KindUnauthenticated) {
		t.Errorf("CreateProfile() error = %v, want unauthenticated", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	e := newUserEnv(t)
	token := e.AddUser(t, testfixture.User{ID: "stu", ProfileStatus: model.VerificationVerified})

	err := e.svc.UpdateProfile(context.Background(), token, ProfilePatch{Grade: ptr(12), LastName: ptr("Hopper")})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	p := e.Profile(t, testfixture.ProfileID("stu"))
	if p.Grade != 12 || p.LastName != "Hopper" || p.FirstName != "stu" {
		t.Errorf("profile = %+v", p)
	}
	if p.VerificationStatus != model.VerificationVerified {
		t.Errorf("VerificationStatus = %s, want verified (unchanged)", p.VerificationStatus)
	}

	err = e.svc.UpdateProfile(context.Background(), token, ProfilePatch{Grade: ptr(7)})
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("UpdateProfile(grade 7) error = %v, want validation", err)
	}
}

func TestUpdateProfile_WithoutProfile(t *testing.T) {
	e := newUserEnv(t)
	token := e.AddUser(t, testfixture.User{ID: "new"})

	err := e.svc.UpdateProfile(context.Background(), token, ProfilePatch{Grade: ptr(10)})
	if got := model.CodeOf(err); got != model.ErrCodeProfileIncomplete {
		t.Errorf("UpdateProfile() code = %q, want %q", got, model.ErrCodeProfileIncomplete)
	}
}

func TestVerifyProfile(t *testing.T) {
	e := newUserEnv(t)
	ctx := context.Background()
	e.AddUser(t, testfixture.User{ID: "stu", ProfileStatus: model.VerificationPending})
	profileID := testfixture.ProfileID("stu")

	if err := e.svc.VerifyProfile(ctx, e.admin, profileID); err != nil {
		t.Fatalf("VerifyProfile() error = %v", err)
	}

	p := e.Profile(t, profileID)
	if p.VerificationStatus != model.VerificationVerified {
		t.Errorf("VerificationStatus = %s, want verified", p.VerificationStatus)
	}
	if p.VerifiedBy == nil || *p.VerifiedBy != "admin" || p.VerifiedAt == nil || !p.VerifiedAt.Equal(testfixture.Now) {
		t.Errorf("verified by/at = %v/%v", p.VerifiedBy, p.VerifiedAt)
	}

	ns := e.Notifications(t, "stu")
	if len(ns) != 1 || ns[0].Type != model.NotificationProfileVerified {
		t.Errorf("notifications = %+v, want one profile_verified", ns)
	}

	err := e.svc.VerifyProfile(ctx, e.admin, profileID)
	if got := model.CodeOf(err); got != model.ErrCodeAlreadyVerified {
		t.Errorf("second VerifyProfile() code = %q, want %q", got, model.ErrCodeAlreadyVerified)
	}
	if !model.IsKind(err, model.KindConflict) {
		t.Errorf("second VerifyProfile() kind = %q, want conflict", model.KindOf(err))
	}
}

func TestVerifyProfile_AfterRejection(t *testing.T) {
	e := newUserEnv(t)
	ctx := context.Background()
	e.AddUser(t, testfixture.User{ID: "stu", ProfileStatus: model.VerificationPending})
	profileID := testfixture.ProfileID("stu")

	if err := e.svc.RejectProfile(ctx, e.admin, profileID, "Student number does not match"); err != nil {
		t.Fatalf("RejectProfile() error = %v", err)
	}
	if err := e.svc.VerifyProfile(ctx, e.admin, profileID); err != nil {
		t.Fatalf("VerifyProfile() error = %v", err)
	}
	if p := e.Profile(t, profileID); p.RejectionReason != "" {
		t.Errorf("RejectionReason = %q, want cleared", p.RejectionReason)
	}
}

func TestRejectProfile(t *testing.T) {
	e := newUserEnv(t)
	ctx := context.Background()
	e.AddUser(t, testfixture.User{ID: "stu", ProfileStatus: model.VerificationPending})
	profileID := testfixture.ProfileID("stu")

	err := e.svc.RejectProfile(ctx, e.admin, profileID, "   ")
	if !model.IsKind(err, model.KindValidation) {
		t.Fatalf("RejectProfile(blank reason) error = %v, want validation", err)
	}

	if err := e.svc.RejectProfile(ctx, e.admin, profileID, "Wrong grade"); err != nil {
		t.Fatalf("RejectProfile() error = %v", err)
	}
	p := e.Profile(t, profileID)
	if p.VerificationStatus != model.VerificationRejected || p.RejectionReason != "Wrong grade" {
		t.Errorf("profile = %s %q, want rejected with reason", p.VerificationStatus, p.RejectionReason)
	}

	ns := e.Notifications(t, "stu")
	if len(ns) != 1 || ns[0].Type != model.NotificationProfileRejected {
		t.Fatalf("notifications = %+v, want one profile_rejected", ns)
	}
	if ns[0].Message != "Your profile verification was not approved. Reason: Wrong grade" {
		t.Errorf("Message = %q", ns[0].Message)
	}
}

func TestVerifyAndReject_Errors(t *testing.T) {
	e := newUserEnv(t)
	ctx := context.Background()
	officer := e.AddUser(t, testfixture.User{ID: "off", Role: model.RoleOfficer})
	e.AddUser(t, testfixture.User{ID: "stu", ProfileStatus: model.VerificationPending})

	if err := e.svc.VerifyProfile(ctx, officer, testfixture.ProfileID("stu")); !model.IsKind(err, model.KindForbidden) {
		t.Errorf("VerifyProfile(officer) error = %v, want forbidden", err)
	}
	if err := e.svc.RejectProfile(ctx, officer, testfixture.ProfileID("stu"), "x"); !model.IsKind(err, model.KindForbidden) {
		t.Errorf("RejectProfile(officer) error = %v, want forbidden", err)
	}
	if err := e.svc.VerifyProfile(ctx, e.admin, "missing"); model.CodeOf(err) != model.ErrCodeProfileNotFound {
		t.Errorf("VerifyProfile(missing) error = %v, want %s", err, model.ErrCodeProfileNotFound)
	}
	if err := e.svc.RejectProfile(ctx, e.admin, "missing", "x"); model.CodeOf(err) != model.ErrCodeProfileNotFound {
		t.Errorf("RejectProfile(missing) error = %v, want %s", err, model.ErrCodeProfileNotFound)
	}
	if p := e.Profile(t, testfixture.ProfileID("stu")); p.VerificationStatus != model.VerificationPending {
		t.Errorf("VerificationStatus = %s, want pending", p.VerificationStatus)
	}
}

func TestSetActive(t *testing.T) {
	e := newUserEnv(t)
	ctx := context.Background()
	token := e.AddUser(t, testfixture.User{ID: "stu", ProfileStatus: model.VerificationVerified})

	if err := e.svc.SetActive(ctx, e.admin, "stu", false); err != nil {
		t.Fatalf("SetActive(false) error = %v", err)
	}
	if u := e.user(t, "stu"); u.IsActive {
		t.Error("IsActive = true, want false")
	}
	// 無効化されたユーザーのトークンは拒否される
	if err := e.svc.UpdateProfile(ctx, token, ProfilePatch{Grade: ptr(11)}); !model.IsKind(err, model.KindUnauthenticated) {
		t.Errorf("UpdateProfile(deactivated) error = %v, want unauthenticated", err)
	}

	if err := e.svc.SetActive(ctx, e.admin, "stu", true); err != nil {
		t.Fatalf("SetActive(true) error = %v", err)
	}
	if u := e.user(t, "stu"); !u.IsActive {
		t.Error("IsActive = false, want true")
	}

	if err := e.svc.SetActive(ctx, e.admin, "admin", false); !model.IsKind(err, model.KindValidation) {
		t.Errorf("SetActive(self) error = %v, want validation", err)
	}
	if err := e.svc.SetActive(ctx, e.admin, "missing", false); model.CodeOf(err) != model.ErrCodeUserNotFound {
		t.Errorf("SetActive(missing) error = %v, want %s", err, model.ErrCodeUserNotFound)
	}
	if err := e.svc.SetActive(ctx, token, "admin", false); !model.IsKind(err, model.KindForbidden) {
		t.Errorf("SetActive(student) error = %v, want forbidden", err)
	}
}

func TestListStudents(t *testing.T) {
	e := newUserEnv(t)
	ctx := context.Background()
	student := e.AddUser(t, testfixture.User{ID: "amy", ProfileStatus: model.VerificationVerified})
	e.AddUser(t, testfixture.User{ID: "bob", ProfileStatus: model.VerificationPending})
	e.AddUser(t, testfixture.User{ID: "cal", ProfileStatus: model.VerificationPending, Inactive: true})

	all, err := e.svc.ListStudents(ctx, e.admin, nil, "")
	if err != nil {
		t.Fatalf("ListStudents() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListStudents() = %d entries, want 3", len(all))
	}
	// 姓が同じため名の順
	if all[0].Profile.FirstName != "amy" || all[2].Profile.FirstName != "cal" {
		t.Errorf("order = %s, %s, %s", all[0].Profile.FirstName, all[1].Profile.FirstName, all[2].Profile.FirstName)
	}
	if all[2].Email != "cal@example.com" || all[2].IsActive || all[2].Role != model.RoleStudent {
		t.Errorf("entry = %+v", all[2])
	}

	pending, _ := e.svc.ListStudents(ctx, e.admin, ptr(model.VerificationPending), "")
	if len(pending) != 2 {
		t.Errorf("ListStudents(pending) = %d entries, want 2", len(pending))
	}

	found, _ := e.svc.ListStudents(ctx, e.admin, nil, "S-BO")
	if len(found) != 1 || found[0].Profile.UserID != "bob" {
		t.Errorf("ListStudents(search) = %+v, want bob", found)
	}

	got, err := e.svc.ListStudents(ctx, student, nil, "")
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("ListStudents(student) = %v, %v; want empty slice", got, err)
	}
}

func TestStudentDetails(t *testing.T) {
	e := newUserEnv(t)
	ctx := context.Background()
	student := e.AddUser(t, testfixture.User{ID: "stu", ProfileStatus: model.VerificationVerified})
	e.AddMeeting(t, "m1", "2026-03-01")
	e.Tx(t, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Submissions().Create(ctx, &model.ServiceSubmission{
			ID: "sub-1", StudentID: "stu", ProfileID: testfixture.ProfileID("stu"),
			Status: model.SubmissionPending, TotalHours: 2, CreatedAt: testfixture.Now,
		}); err != nil {
			return err
		}
		return tx.Attendance().Create(ctx, &model.AttendanceRecord{
			ID: "att-1", MeetingID: "m1", StudentID: "stu", ProfileID: testfixture.ProfileID("stu"),
			Status: model.AttendancePresent, CheckInTimestamp: testfixture.Now, CreatedAt: testfixture.Now,
		})
	})

	details, err := e.svc.StudentDetails(ctx, e.admin, testfixture.ProfileID("stu"))
	if err != nil || details == nil {
		t.Fatalf("StudentDetails() = %+v, %v", details, err)
	}
	if details.User == nil || details.User.Email != "stu@example.com" || details.User.PasswordHash != "" {
		t.Errorf("User = %+v", details.User)
	}
	if len(details.RecentSubmissions) != 1 || details.RecentSubmissions[0].ID != "sub-1" {
		t.Errorf("RecentSubmissions = %+v", details.RecentSubmissions)
	}
	if len(details.RecentAttendance) != 1 || details.RecentAttendance[0].ID != "att-1" {
		t.Errorf("RecentAttendance = %+v", details.RecentAttendance)
	}

	if got, err := e.svc.StudentDetails(ctx, student, testfixture.ProfileID("stu")); err != nil || got != nil {
		t.Errorf("StudentDetails(student) = %+v, %v; want nil", got, err)
	}
	if got, err := e.svc.StudentDetails(ctx, e.admin, "missing"); err != nil || got != nil {
		t.Errorf("StudentDetails(missing) = %+v, %v; want nil", got, err)
	}
}

func TestFirstN(t *testing.T) {
	if got := firstN([]int{1, 2, 3}, 2); len(got) != 2 {
		t.Errorf("firstN(3, 2) = %v", got)
	}
	if got := firstN([]int{1}, 2); len(got) != 1 {
		t.Errorf("firstN(1, 2) = %v", got)
	}
}
