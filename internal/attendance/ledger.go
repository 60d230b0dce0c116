// Package attendance はミーティングの出席記録と出席者数の集計を管理する。
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
	"github.com/hitoshi/chapterhub/internal/security"
)

// Ledger は出席記録の作成・更新と、それに伴う集計キャッシュの更新を行う。
// 出席記録と集計の更新は常に同一トランザクション内で行う。
type Ledger struct {
	store     repository.Store
	guard     *auth.Guard
	clock     clock.Clock
	sanitizer security.TextSanitizer
}

// NewLedger はLedgerを生成する。
func NewLedger(store repository.Store, guard *auth.Guard, c clock.Clock, sanitizer security.TextSanitizer) *Ledger {
	return &Ledger{store: store, guard: guard, clock: c, sanitizer: sanitizer}
}

// RecordCodeCheckIn はチェックインコードによる出席記録を作成し、出席者数と出席回数を加算する。
// 呼び出し側はミーティング行をロックしたトランザクション内で呼び出すこと。
func (l *Ledger) RecordCodeCheckIn(ctx context.Context, tx repository.Tx, meetingID string, user *model.User, profile *model.Profile, code string) (*model.AttendanceRecord, error) {
	now := l.clock.Now()
	record := &model.AttendanceRecord{
		ID:                 uuid.New().String(),
		MeetingID:          meetingID,
		StudentID:          user.ID,
		ProfileID:          profile.ID,
		CheckInTimestamp:   now,
		VerificationMethod: model.MethodRotatingCode,
		CodeUsed:           code,
		Status:             model.AttendancePresent,
		CreatedAt:          now,
	}
	if err := l.insert(ctx, tx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ManualCheckInInput は手動出席登録の入力。
type ManualCheckInInput struct {
	MeetingID string
	StudentID string
	Status    model.AttendanceStatus // presentまたはexcused
	Notes     string
}

// ManualCheckIn は管理者が生徒の出席を登録する。
// 既存記録がある場合は状態・メモ・確認者のみを更新し、集計は変更しない。
// 新規作成時はstatusがpresentの場合のみ集計を加算する。
func (l *Ledger) ManualCheckIn(ctx context.Context, token string, in ManualCheckInInput) error {
	if in.Status != model.AttendancePresent && in.Status != model.AttendanceExcused {
		return model.NewValidationError("status must be present or excused")
	}
	notes := l.sanitizer.Sanitize(in.Notes)

	return l.store.WithTx(ctx, func(tx repository.Tx) error {
		admin, err := l.guard.RequireAdmin(ctx, tx, token)
		if err != nil {
			return err
		}

		meeting, err := tx.Meetings().LockByID(ctx, in.MeetingID)
		if err != nil {
			return fmt.Errorf("failed to lock meeting: %w", err)
		}
		if meeting == nil {
			return model.NewMeetingNotFoundError(in.MeetingID)
		}

		student, err := tx.Users().FindByID(ctx, in.StudentID)
		if err != nil {
			return fmt.Errorf("failed to find student: %w", err)
		}
		if student == nil || student.ProfileID == nil {
			return model.NewUserNotFoundError(in.StudentID)
		}

		existing, err := tx.Attendance().FindByMeetingAndStudent(ctx, in.MeetingID, in.StudentID)
		if err != nil {
			return fmt.Errorf("failed to find attendance record: %w", err)
		}

		if existing != nil {
			existing.Status = in.Status
			existing.Notes = notes
			existing.ManuallyVerifiedBy = &admin.ID
			existing.VerificationMethod = model.MethodManualAdmin
			if err := tx.Attendance().Update(ctx, existing); err != nil {
				return fmt.Errorf("failed to update attendance record: %w", err)
			}
			slog.Info("attendance record updated manually",
				slog.String("record_id", existing.ID),
				slog.String("status", string(in.Status)),
				slog.String("admin_id", admin.ID),
			)
			return nil
		}

		now := l.clock.Now()
		record := &model.AttendanceRecord{
			ID:                 uuid.New().String(),
			MeetingID:          in.MeetingID,
			StudentID:          in.StudentID,
			ProfileID:          *student.ProfileID,
			CheckInTimestamp:   now,
			VerificationMethod: model.MethodManualAdmin,
			Status:             in.Status,
			ManuallyVerifiedBy: &admin.ID,
			Notes:              notes,
			CreatedAt:          now,
		}
		if err := l.insert(ctx, tx, record); err != nil {
			return err
		}
		slog.Info("attendance recorded manually",
			slog.String("record_id", record.ID),
			slog.String("meeting_id", in.MeetingID),
			slog.String("student_id", in.StudentID),
			slog.String("status", string(in.Status)),
		)
		return nil
	})
}

// UpdateAttendanceStatus は出席記録の状態を変更し、presentへの出入りに応じて集計を増減する。
// 集計は0未満にならない。
func (l *Ledger) UpdateAttendanceStatus(ctx context.Context, token, recordID string, status model.AttendanceStatus, notes string) error {
	if !status.Valid() {
		return model.NewValidationError("status must be present, excused or invalidated")
	}
	notes = l.sanitizer.Sanitize(notes)

	return l.store.WithTx(ctx, func(tx repository.Tx) error {
		admin, err := l.guard.RequireAdmin(ctx, tx, token)
		if err != nil {
			return err
		}

		record, err := tx.Attendance().LockByID(ctx, recordID)
		if err != nil {
			return fmt.Errorf("failed to lock attendance record: %w", err)
		}
		if record == nil {
			return model.NewRecordNotFoundError(recordID)
		}

		previous := record.Status
		record.Status = status
		record.Notes = notes
		record.ManuallyVerifiedBy = &admin.ID
		if err := tx.Attendance().Update(ctx, record); err != nil {
			return fmt.Errorf("failed to update attendance record: %w", err)
		}

		delta := 0
		switch {
		case previous == model.AttendancePresent && status != model.AttendancePresent:
			delta = -1
		case previous != model.AttendancePresent && status == model.AttendancePresent:
			delta = 1
		}
		if delta != 0 {
			if err := adjustCounters(ctx, tx, record, delta); err != nil {
				return err
			}
		}

		slog.Info("attendance status changed",
			slog.String("record_id", recordID),
			slog.String("from", string(previous)),
			slog.String("to", string(status)),
			slog.String("admin_id", admin.ID),
		)
		return nil
	})
}

// insert は出席記録を作成し、presentであれば集計を加算する。
// (ミーティング, 生徒)の一意制約違反はALREADY_CHECKED_INに変換する。
func (l *Ledger) insert(ctx context.Context, tx repository.Tx, record *model.AttendanceRecord) error {
	if err := tx.Attendance().Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.NewAlreadyCheckedInError()
		}
		return fmt.Errorf("failed to create attendance record: %w", err)
	}
	if record.Status != model.AttendancePresent {
		return nil
	}
	return adjustCounters(ctx, tx, record, 1)
}

func adjustCounters(ctx context.Context, tx repository.Tx, record *model.AttendanceRecord, delta int) error {
	if err := tx.Meetings().AdjustAttendeeCount(ctx, record.MeetingID, delta); err != nil {
		return fmt.Errorf("failed to adjust attendee count: %w", err)
	}
	if err := tx.Profiles().AdjustMeetingsAttended(ctx, record.ProfileID, delta); err != nil {
		return fmt.Errorf("failed to adjust meetings attended: %w", err)
	}
	return nil
}

// AttendanceEntry は出席一覧の1行。生徒情報を付加した出席記録。
type AttendanceEntry struct {
	Record       *model.AttendanceRecord
	StudentName  string
	StudentEmail string
	StudentGrade int
}

// MeetingAttendance はミーティングの出席状況。
type MeetingAttendance struct {
	Meeting       *model.Meeting
	Records       []AttendanceEntry
	PresentCount  int
	ExcusedCount  int
	TotalStudents int // 承認済み生徒数
}

// MeetingAttendance はミーティングの出席一覧を返す。管理者以外、またはミーティングが存在しない場合はnilを返す。
func (l *Ledger) MeetingAttendance(ctx context.Context, token, meetingID string) (*MeetingAttendance, error) {
	var result *MeetingAttendance
	err := l.store.View(ctx, func(tx repository.Tx) error {
		user, err := l.guard.CurrentUser(ctx, tx, token)
		if err != nil || !auth.CanManageMeetings(user) {
			return err
		}

		meeting, err := tx.Meetings().FindByID(ctx, meetingID)
		if err != nil {
			return fmt.Errorf("failed to find meeting: %w", err)
		}
		if meeting == nil {
			return nil
		}

		records, err := tx.Attendance().ListByMeeting(ctx, meetingID)
		if err != nil {
			return fmt.Errorf("failed to list attendance records: %w", err)
		}

		out := &MeetingAttendance{Meeting: meeting, Records: make([]AttendanceEntry, 0, len(records))}
		for _, r := range records {
			entry := AttendanceEntry{Record: r, StudentName: "Unknown"}
			profile, err := tx.Profiles().FindByID(ctx, r.ProfileID)
			if err != nil {
				return fmt.Errorf("failed to find profile: %w", err)
			}
			if profile != nil {
				entry.StudentName = profile.FullName()
				entry.StudentGrade = profile.Grade
			}
			student, err := tx.Users().FindByID(ctx, r.StudentID)
			if err != nil {
				return fmt.Errorf("failed to find student: %w", err)
			}
			if student != nil {
				entry.StudentEmail = student.Email
			}
			out.Records = append(out.Records, entry)

			switch r.Status {
			case model.AttendancePresent:
				out.PresentCount++
			case model.AttendanceExcused:
				out.ExcusedCount++
			}
		}

		out.TotalStudents, err = tx.Profiles().CountByStatus(ctx, model.VerificationVerified)
		if err != nil {
			return fmt.Errorf("failed to count verified profiles: %w", err)
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MyAttendance は呼び出しユーザーのミーティング出席記録を返す。未認証または記録がない場合はnilを返す。
func (l *Ledger) MyAttendance(ctx context.Context, token, meetingID string) (*model.AttendanceRecord, error) {
	var record *model.AttendanceRecord
	err := l.store.View(ctx, func(tx repository.Tx) error {
		user, err := l.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}
		record, err = tx.Attendance().FindByMeetingAndStudent(ctx, meetingID, user.ID)
		if err != nil {
			return fmt.Errorf("failed to find attendance record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Stats は出席統計。
type Stats struct {
	Attended   int
	Excused    int
	Total      int // 今日より前のミーティング数
	Percentage int
}

// Stats は出席統計を返す。studentIDの指定は管理者のみ有効で、それ以外は呼び出しユーザー自身の統計を返す。
// 未認証の場合はnilを返す。
func (l *Ledger) Stats(ctx context.Context, token, studentID string) (*Stats, error) {
	var stats *Stats
	err := l.store.View(ctx, func(tx repository.Tx) error {
		user, err := l.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}

		target := user.ID
		if studentID != "" && user.Role == model.RoleAdmin {
			target = studentID
		}

		records, err := tx.Attendance().ListByStudent(ctx, target)
		if err != nil {
			return fmt.Errorf("failed to list attendance records: %w", err)
		}
		past, err := tx.Meetings().CountBefore(ctx, model.DateOf(l.clock.Now()))
		if err != nil {
			return fmt.Errorf("failed to count past meetings: %w", err)
		}

		s := &Stats{Total: past}
		for _, r := range records {
			switch r.Status {
			case model.AttendancePresent:
				s.Attended++
			case model.AttendanceExcused:
				s.Excused++
			}
		}
		if past > 0 {
			s.Percentage = int(math.Round(float64(s.Attended) / float64(past) * 100))
		}
		stats = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
