package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/chapterhub/internal/model"
)

// MemoryStore はプロセス内メモリ上のStore実装。
// STORAGE_DRIVER=memory での開発起動とサービス層のテストで使用する。
// 書き込みトランザクションはストア全体の排他ロックで直列化され、
// テーブルのコピーに対して実行した結果をfn成功時にのみ反映する。
type MemoryStore struct {
	mu   sync.RWMutex
	data *memoryTables
}

type memoryTables struct {
	users         map[string]model.User
	sessions      map[string]model.Session // key: token hash
	profiles      map[string]model.Profile
	meetings      map[string]model.Meeting
	attendance    map[string]model.AttendanceRecord
	submissions   map[string]model.ServiceSubmission
	notifications map[string]model.Notification
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryTables{
		users:         map[string]model.User{},
		sessions:      map[string]model.Session{},
		profiles:      map[string]model.Profile{},
		meetings:      map[string]model.Meeting{},
		attendance:    map[string]model.AttendanceRecord{},
		submissions:   map[string]model.ServiceSubmission{},
		notifications: map[string]model.Notification{},
	}}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t *memoryTables) clone() *memoryTables {
	return &memoryTables{
		users:         cloneMap(t.users),
		sessions:      cloneMap(t.sessions),
		profiles:      cloneMap(t.profiles),
		meetings:      cloneMap(t.meetings),
		attendance:    cloneMap(t.attendance),
		submissions:   cloneMap(t.submissions),
		notifications: cloneMap(t.notifications),
	}
}

// WithTx はストアのコピーに対してfnを実行し、成功時のみ反映する。
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memoryTx{t: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// View は共有ロックの下でfnを実行する。
func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memoryTx{t: s.data})
}

// Ping はコンテキストが有効であれば成功する。
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memoryTx struct {
	t *memoryTables
}

func (m *memoryTx) Users() UserRepository                 { return memUserRepo{m.t} }
func (m *memoryTx) Sessions() SessionRepository           { return memSessionRepo{m.t} }
func (m *memoryTx) Profiles() ProfileRepository           { return memProfileRepo{m.t} }
func (m *memoryTx) Meetings() MeetingRepository           { return memMeetingRepo{m.t} }
func (m *memoryTx) Attendance() AttendanceRepository      { return memAttendanceRepo{m.t} }
func (m *memoryTx) Submissions() SubmissionRepository     { return memSubmissionRepo{m.t} }
func (m *memoryTx) Notifications() NotificationRepository { return memNotificationRepo{m.t} }

// --- users ---

type memUserRepo struct{ t *memoryTables }

func (r memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := r.t.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range r.t.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (r memUserRepo) Create(_ context.Context, user *model.User) error {
	for _, u := range r.t.users {
		if u.Email == user.Email {
			return ErrDuplicate
		}
	}
	r.t.users[user.ID] = *user
	return nil
}

func (r memUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	u, ok := r.t.users[id]
	if !ok {
		return nil
	}
	u.LastLoginAt = &at
	r.t.users[id] = u
	return nil
}

func (r memUserRepo) LinkProfile(_ context.Context, userID, profileID string) error {
	u, ok := r.t.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	u.ProfileID = &profileID
	r.t.users[userID] = u
	return nil
}

func (r memUserRepo) SetActive(_ context.Context, id string, active bool) error {
	u, ok := r.t.users[id]
	if !ok {
		return fmt.Errorf("user not found: %s", id)
	}
	u.IsActive = active
	r.t.users[id] = u
	return nil
}

// --- sessions ---

type memSessionRepo struct{ t *memoryTables }

func (r memSessionRepo) Create(_ context.Context, session *model.Session) error {
	if _, ok := r.t.sessions[session.TokenHash]; ok {
		return ErrDuplicate
	}
	r.t.sessions[session.TokenHash] = *session
	return nil
}

func (r memSessionRepo) FindByTokenHash(_ context.Context, tokenHash string) (*model.Session, error) {
	if s, ok := r.t.sessions[tokenHash]; ok {
		return &s, nil
	}
	return nil, nil
}

func (r memSessionRepo) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	delete(r.t.sessions, tokenHash)
	return nil
}

func (r memSessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	var deleted int64
	for k, s := range r.t.sessions {
		if !s.ExpiresAt.After(before) {
			delete(r.t.sessions, k)
			deleted++
		}
	}
	return deleted, nil
}

// --- profiles ---

type memProfileRepo struct{ t *memoryTables }

func (r memProfileRepo) FindByID(_ context.Context, id string) (*model.Profile, error) {
	if p, ok := r.t.profiles[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (r memProfileRepo) FindByUserID(_ context.Context, userID string) (*model.Profile, error) {
	for _, p := range r.t.profiles {
		if p.UserID == userID {
			return &p, nil
		}
	}
	return nil, nil
}

func (r memProfileRepo) Create(_ context.Context, profile *model.Profile) error {
	for _, p := range r.t.profiles {
		if p.UserID == profile.UserID {
			return ErrDuplicate
		}
	}
	r.t.profiles[profile.ID] = *profile
	return nil
}

func (r memProfileRepo) UpdateDetails(_ context.Context, profile *model.Profile) error {
	p, ok := r.t.profiles[profile.ID]
	if !ok {
		return nil
	}
	p.FirstName = profile.FirstName
	p.LastName = profile.LastName
	p.Grade = profile.Grade
	p.StudentNumber = profile.StudentNumber
	p.UpdatedAt = profile.UpdatedAt
	r.t.profiles[p.ID] = p
	return nil
}

func (r memProfileRepo) UpdateVerification(_ context.Context, profile *model.Profile) error {
	p, ok := r.t.profiles[profile.ID]
	if !ok {
		return nil
	}
	p.VerificationStatus = profile.VerificationStatus
	p.VerifiedAt = profile.VerifiedAt
	p.VerifiedBy = profile.VerifiedBy
	p.RejectionReason = profile.RejectionReason
	p.UpdatedAt = profile.UpdatedAt
	r.t.profiles[p.ID] = p
	return nil
}

func (r memProfileRepo) AdjustHours(_ context.Context, id string, pendingDelta, approvedDelta float64) error {
	p, ok := r.t.profiles[id]
	if !ok {
		return nil
	}
	p.TotalPendingHours = max(p.TotalPendingHours+pendingDelta, 0)
	p.TotalApprovedHours = max(p.TotalApprovedHours+approvedDelta, 0)
	r.t.profiles[id] = p
	return nil
}

func (r memProfileRepo) AdjustMeetingsAttended(_ context.Context, id string, delta int) error {
	p, ok := r.t.profiles[id]
	if !ok {
		return nil
	}
	p.MeetingsAttended = max(p.MeetingsAttended+delta, 0)
	r.t.profiles[id] = p
	return nil
}

func (r memProfileRepo) SetCounters(_ context.Context, id string, approvedHours, pendingHours float64, meetingsAttended int) error {
	p, ok := r.t.profiles[id]
	if !ok {
		return nil
	}
	p.TotalApprovedHours = approvedHours
	p.TotalPendingHours = pendingHours
	p.MeetingsAttended = meetingsAttended
	r.t.profiles[id] = p
	return nil
}

func (r memProfileRepo) List(_ context.Context, filter ProfileFilter) ([]*model.Profile, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []*model.Profile
	for _, p := range r.t.profiles {
		if filter.Status != nil && p.VerificationStatus != *filter.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.FirstName), search) &&
			!strings.Contains(strings.ToLower(p.LastName), search) &&
			!strings.Contains(strings.ToLower(p.StudentNumber), search) {
			continue
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].FirstName < out[j].FirstName
	})
	return out, nil
}

func (r memProfileRepo) CountByStatus(_ context.Context, status model.VerificationStatus) (int, error) {
	count := 0
	for _, p := range r.t.profiles {
		if p.VerificationStatus == status {
			count++
		}
	}
	return count, nil
}

// --- meetings ---

type memMeetingRepo struct{ t *memoryTables }

func (r memMeetingRepo) FindByID(_ context.Context, id string) (*model.Meeting, error) {
	if m, ok := r.t.meetings[id]; ok {
		return &m, nil
	}
	return nil, nil
}

// LockByID はストア全体が排他ロック済みのためFindByIDと同じ。
func (r memMeetingRepo) LockByID(ctx context.Context, id string) (*model.Meeting, error) {
	return r.FindByID(ctx, id)
}

func (r memMeetingRepo) Create(_ context.Context, meeting *model.Meeting) error {
	if _, ok := r.t.meetings[meeting.ID]; ok {
		return ErrDuplicate
	}
	r.t.meetings[meeting.ID] = *meeting
	return nil
}

func (r memMeetingRepo) UpdateDetails(_ context.Context, meeting *model.Meeting) error {
	m, ok := r.t.meetings[meeting.ID]
	if !ok {
		return nil
	}
	m.Title = meeting.Title
	m.Description = meeting.Description
	m.Location = meeting.Location
	m.ScheduledDate = meeting.ScheduledDate
	m.ScheduledStartTime = meeting.ScheduledStartTime
	m.ScheduledEndTime = meeting.ScheduledEndTime
	m.UpdatedAt = meeting.UpdatedAt
	r.t.meetings[m.ID] = m
	return nil
}

func (r memMeetingRepo) UpdateCheckIn(_ context.Context, meeting *model.Meeting) error {
	m, ok := r.t.meetings[meeting.ID]
	if !ok {
		return nil
	}
	m.CheckInStatus = meeting.CheckInStatus
	m.CheckInOpenedAt = meeting.CheckInOpenedAt
	m.CheckInClosedAt = meeting.CheckInClosedAt
	m.CurrentCode = meeting.CurrentCode
	m.CodeGeneratedAt = meeting.CodeGeneratedAt
	m.CodeExpiresAt = meeting.CodeExpiresAt
	m.UpdatedAt = meeting.UpdatedAt
	r.t.meetings[m.ID] = m
	return nil
}

func (r memMeetingRepo) AdjustAttendeeCount(_ context.Context, id string, delta int) error {
	m, ok := r.t.meetings[id]
	if !ok {
		return nil
	}
	m.AttendeeCount = max(m.AttendeeCount+delta, 0)
	r.t.meetings[id] = m
	return nil
}

func (r memMeetingRepo) SetAttendeeCount(_ context.Context, id string, count int) error {
	m, ok := r.t.meetings[id]
	if !ok {
		return nil
	}
	m.AttendeeCount = count
	r.t.meetings[id] = m
	return nil
}

func (r memMeetingRepo) Delete(_ context.Context, id string) error {
	delete(r.t.meetings, id)
	return nil
}

func (r memMeetingRepo) List(_ context.Context, filter MeetingFilter) ([]*model.Meeting, error) {
	var out []*model.Meeting
	for _, m := range r.t.meetings {
		if filter.Upcoming && m.ScheduledDate < filter.Today {
			continue
		}
		if !filter.Upcoming && filter.Past && m.ScheduledDate >= filter.Today {
			continue
		}
		out = append(out, &m)
	}
	key := func(m *model.Meeting) string { return m.ScheduledDate + " " + m.ScheduledStartTime }
	sort.Slice(out, func(i, j int) bool {
		if filter.Upcoming {
			return key(out[i]) < key(out[j])
		}
		return key(out[i]) > key(out[j])
	})
	return out, nil
}

func (r memMeetingRepo) FindOpen(_ context.Context) (*model.Meeting, error) {
	var found *model.Meeting
	for _, m := range r.t.meetings {
		if m.CheckInStatus != model.CheckInOpen {
			continue
		}
		if found == nil || (m.CheckInOpenedAt != nil && found.CheckInOpenedAt != nil && m.CheckInOpenedAt.After(*found.CheckInOpenedAt)) {
			found = &m
		}
	}
	return found, nil
}

func (r memMeetingRepo) CountBefore(_ context.Context, date string) (int, error) {
	count := 0
	for _, m := range r.t.meetings {
		if m.ScheduledDate < date {
			count++
		}
	}
	return count, nil
}

// --- attendance ---

type memAttendanceRepo struct{ t *memoryTables }

func (r memAttendanceRepo) FindByID(_ context.Context, id string) (*model.AttendanceRecord, error) {
	if rec, ok := r.t.attendance[id]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (r memAttendanceRepo) LockByID(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	return r.FindByID(ctx, id)
}

func (r memAttendanceRepo) FindByMeetingAndStudent(_ context.Context, meetingID, studentID string) (*model.AttendanceRecord, error) {
	for _, rec := range r.t.attendance {
		if rec.MeetingID == meetingID && rec.StudentID == studentID {
			return &rec, nil
		}
	}
	return nil, nil
}

func (r memAttendanceRepo) Create(ctx context.Context, record *model.AttendanceRecord) error {
	existing, _ := r.FindByMeetingAndStudent(ctx, record.MeetingID, record.StudentID)
	if existing != nil {
		return ErrDuplicate
	}
	r.t.attendance[record.ID] = *record
	return nil
}

func (r memAttendanceRepo) Update(_ context.Context, record *model.AttendanceRecord) error {
	rec, ok := r.t.attendance[record.ID]
	if !ok {
		return nil
	}
	rec.Status = record.Status
	rec.VerificationMethod = record.VerificationMethod
	rec.ManuallyVerifiedBy = record.ManuallyVerifiedBy
	rec.Notes = record.Notes
	r.t.attendance[rec.ID] = rec
	return nil
}

func (r memAttendanceRepo) filter(keep func(model.AttendanceRecord) bool) []*model.AttendanceRecord {
	var out []*model.AttendanceRecord
	for _, rec := range r.t.attendance {
		if keep(rec) {
			out = append(out, &rec)
		}
	}
	return out
}

func (r memAttendanceRepo) ListByMeeting(_ context.Context, meetingID string) ([]*model.AttendanceRecord, error) {
	out := r.filter(func(rec model.AttendanceRecord) bool { return rec.MeetingID == meetingID })
	sort.Slice(out, func(i, j int) bool { return out[i].CheckInTimestamp.Before(out[j].CheckInTimestamp) })
	return out, nil
}

func (r memAttendanceRepo) ListByStudent(_ context.Context, studentID string) ([]*model.AttendanceRecord, error) {
	out := r.filter(func(rec model.AttendanceRecord) bool { return rec.StudentID == studentID })
	sort.Slice(out, func(i, j int) bool { return out[i].CheckInTimestamp.After(out[j].CheckInTimestamp) })
	return out, nil
}

func (r memAttendanceRepo) CountPresentByMeeting(_ context.Context, meetingID string) (int, error) {
	return len(r.filter(func(rec model.AttendanceRecord) bool {
		return rec.MeetingID == meetingID && rec.Status == model.AttendancePresent
	})), nil
}

func (r memAttendanceRepo) CountPresentByProfile(_ context.Context, profileID string) (int, error) {
	return len(r.filter(func(rec model.AttendanceRecord) bool {
		return rec.ProfileID == profileID && rec.Status == model.AttendancePresent
	})), nil
}

// --- submissions ---

type memSubmissionRepo struct{ t *memoryTables }

func (r memSubmissionRepo) FindByID(_ context.Context, id string) (*model.ServiceSubmission, error) {
	if s, ok := r.t.submissions[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (r memSubmissionRepo) LockByID(ctx context.Context, id string) (*model.ServiceSubmission, error) {
	return r.FindByID(ctx, id)
}

func (r memSubmissionRepo) Create(_ context.Context, submission *model.ServiceSubmission) error {
	if _, ok := r.t.submissions[submission.ID]; ok {
		return ErrDuplicate
	}
	r.t.submissions[submission.ID] = *submission
	return nil
}

func (r memSubmissionRepo) Update(_ context.Context, submission *model.ServiceSubmission) error {
	if _, ok := r.t.submissions[submission.ID]; !ok {
		return nil
	}
	r.t.submissions[submission.ID] = *submission
	return nil
}

func (r memSubmissionRepo) Delete(_ context.Context, id string) error {
	delete(r.t.submissions, id)
	return nil
}

func (r memSubmissionRepo) List(_ context.Context, filter SubmissionFilter) ([]*model.ServiceSubmission, error) {
	var out []*model.ServiceSubmission
	for _, s := range r.t.submissions {
		if filter.StudentID != "" && s.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memSubmissionRepo) SumHoursByProfile(_ context.Context, profileID string, status model.SubmissionStatus) (float64, error) {
	var total float64
	for _, s := range r.t.submissions {
		if s.ProfileID == profileID && s.Status == status {
			total += s.TotalHours
		}
	}
	return total, nil
}

func (r memSubmissionRepo) CountByStatus(_ context.Context, status model.SubmissionStatus) (int, error) {
	count := 0
	for _, s := range r.t.submissions {
		if s.Status == status {
			count++
		}
	}
	return count, nil
}

func (r memSubmissionRepo) ReviewStatsSince(_ context.Context, since time.Time) (float64, int, error) {
	var approvedHours float64
	var deniedCount int
	for _, s := range r.t.submissions {
		if s.ReviewedAt == nil || s.ReviewedAt.Before(since) {
			continue
		}
		switch s.Status {
		case model.SubmissionApproved:
			approvedHours += s.TotalHours
		case model.SubmissionDenied:
			deniedCount++
		}
	}
	return approvedHours, deniedCount, nil
}

// --- notifications ---

type memNotificationRepo struct{ t *memoryTables }

func (r memNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	r.t.notifications[n.ID] = *n
	return nil
}

func (r memNotificationRepo) ListByUser(_ context.Context, userID string, limit int) ([]*model.Notification, error) {
	var out []*model.Notification
	for _, n := range r.t.notifications {
		if n.UserID == userID {
			out = append(out, &n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memNotificationRepo) CountUnread(_ context.Context, userID string) (int, error) {
	count := 0
	for _, n := range r.t.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r memNotificationRepo) MarkRead(_ context.Context, id, userID string, at time.Time) (bool, error) {
	n, ok := r.t.notifications[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	if !n.IsRead {
		n.IsRead = true
		n.ReadAt = &at
		r.t.notifications[id] = n
	}
	return true, nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
