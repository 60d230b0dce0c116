package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
)

// MeetingInput はミーティング作成の入力。
type MeetingInput struct {
	Title              string
	Description        string
	Location           string
	ScheduledDate      string // YYYY-MM-DD
	ScheduledStartTime string // HH:MM
	ScheduledEndTime   string // HH:MM
}

// MeetingPatch はミーティング更新の入力。nilのフィールドは変更しない。
type MeetingPatch struct {
	Title              *string
	Description        *string
	Location           *string
	ScheduledDate      *string
	ScheduledStartTime *string
	ScheduledEndTime   *string
}

// MeetingQuery はミーティング一覧の絞り込み条件。
type MeetingQuery struct {
	Upcoming bool
	Past     bool
}

// MeetingView はミーティング詳細の応答。
// コードと有効期限は管理者にのみ含める。
type MeetingView struct {
	Meeting     *model.Meeting
	CreatorName string
}

// ActiveMeeting は生徒向けのチェックイン受付中ミーティング。
type ActiveMeeting struct {
	Meeting          *model.Meeting
	AlreadyCheckedIn bool
	CheckInTime      *time.Time
}

// CreateMeeting はミーティングを作成し、IDを返す。
func (s *Service) CreateMeeting(ctx context.Context, token string, in MeetingInput) (string, error) {
	meeting := &model.Meeting{
		Title:              s.sanitizer.Sanitize(in.Title),
		Description:        s.sanitizer.Sanitize(in.Description),
		Location:           s.sanitizer.Sanitize(in.Location),
		ScheduledDate:      in.ScheduledDate,
		ScheduledStartTime: in.ScheduledStartTime,
		ScheduledEndTime:   in.ScheduledEndTime,
		CheckInStatus:      model.CheckInNotStarted,
	}
	if err := validateMeeting(meeting); err != nil {
		return "", err
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		admin, err := s.guard.RequireAdmin(ctx, tx, token)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		meeting.ID = uuid.New().String()
		meeting.CreatedBy = admin.ID
		meeting.CreatedAt = now
		meeting.UpdatedAt = now
		if err := tx.Meetings().Create(ctx, meeting); err != nil {
			return fmt.Errorf("failed to create meeting: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.Info("meeting created",
		slog.String("meeting_id", meeting.ID),
		slog.String("scheduled_date", meeting.ScheduledDate),
	)
	return meeting.ID, nil
}

// UpdateMeeting はミーティングの内容と日時を更新する。チェックイン状態は変更しない。
func (s *Service) UpdateMeeting(ctx context.Context, token, meetingID string, patch MeetingPatch) error {
	return s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := s.guard.RequireAdmin(ctx, tx, token); err != nil {
			return err
		}

		meeting, err := s.lockMeeting(ctx, tx, meetingID)
		if err != nil {
			return err
		}

		if patch.Title != nil {
			meeting.Title = s.sanitizer.Sanitize(*patch.Title)
		}
		if patch.Description != nil {
			meeting.Description = s.sanitizer.Sanitize(*patch.Description)
		}
		if patch.Location != nil {
			meeting.Location = s.sanitizer.Sanitize(*patch.Location)
		}
		if patch.ScheduledDate != nil {
			meeting.ScheduledDate = *patch.ScheduledDate
		}
		if patch.ScheduledStartTime != nil {
			meeting.ScheduledStartTime = *patch.ScheduledStartTime
		}
		if patch.ScheduledEndTime != nil {
			meeting.ScheduledEndTime = *patch.ScheduledEndTime
		}
		if err := validateMeeting(meeting); err != nil {
			return err
		}

		meeting.UpdatedAt = s.clock.Now()
		if err := tx.Meetings().UpdateDetails(ctx, meeting); err != nil {
			return fmt.Errorf("failed to update meeting: %w", err)
		}
		return nil
	})
}

// DeleteMeeting はチェックイン未開始のミーティングを削除する。
func (s *Service) DeleteMeeting(ctx context.Context, token, meetingID string) error {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := s.guard.RequireAdmin(ctx, tx, token); err != nil {
			return err
		}

		meeting, err := s.lockMeeting(ctx, tx, meetingID)
		if err != nil {
			return err
		}
		if meeting.CheckInStatus != model.CheckInNotStarted {
			return model.NewMeetingStartedError()
		}
		if err := tx.Meetings().Delete(ctx, meetingID); err != nil {
			return fmt.Errorf("failed to delete meeting: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("meeting deleted", slog.String("meeting_id", meetingID))
	return nil
}

// ListMeetings はミーティング一覧を返す。未認証の場合は空を返す。
func (s *Service) ListMeetings(ctx context.Context, token string, q MeetingQuery) ([]*model.Meeting, error) {
	var meetings []*model.Meeting
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}

		meetings, err = tx.Meetings().List(ctx, repository.MeetingFilter{
			Today:    model.DateOf(s.clock.Now()),
			Upcoming: q.Upcoming,
			Past:     q.Past,
		})
		if err != nil {
			return fmt.Errorf("failed to list meetings: %w", err)
		}
		if !auth.CanManageMeetings(user) {
			for _, m := range meetings {
				redactCode(m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if meetings == nil {
		meetings = []*model.Meeting{}
	}
	return meetings, nil
}

// GetMeeting はミーティング詳細を返す。未認証・存在しない場合はnilを返す。
func (s *Service) GetMeeting(ctx context.Context, token, meetingID string) (*MeetingView, error) {
	var view *MeetingView
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}

		meeting, err := tx.Meetings().FindByID(ctx, meetingID)
		if err != nil {
			return fmt.Errorf("failed to find meeting: %w", err)
		}
		if meeting == nil {
			return nil
		}
		if !auth.CanManageMeetings(user) {
			redactCode(meeting)
		}

		creatorName := "Unknown"
		creator, err := tx.Users().FindByID(ctx, meeting.CreatedBy)
		if err != nil {
			return fmt.Errorf("failed to find meeting creator: %w", err)
		}
		if creator != nil {
			creatorName = creator.Name
		}

		view = &MeetingView{Meeting: meeting, CreatorName: creatorName}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ActiveMeetingForCheckIn はチェックイン受付中のミーティングと、呼び出しユーザーのチェックイン状況を返す。
// 未認証または受付中のミーティングがない場合はnilを返す。
func (s *Service) ActiveMeetingForCheckIn(ctx context.Context, token string) (*ActiveMeeting, error) {
	var active *ActiveMeeting
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}

		meeting, err := tx.Meetings().FindOpen(ctx)
		if err != nil {
			return fmt.Errorf("failed to find open meeting: %w", err)
		}
		if meeting == nil {
			return nil
		}
		redactCode(meeting)

		record, err := tx.Attendance().FindByMeetingAndStudent(ctx, meeting.ID, user.ID)
		if err != nil {
			return fmt.Errorf("failed to find attendance record: %w", err)
		}

		active = &ActiveMeeting{Meeting: meeting}
		if record != nil {
			active.AlreadyCheckedIn = true
			checkInTime := record.CheckInTimestamp
			active.CheckInTime = &checkInTime
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return active, nil
}

func validateMeeting(m *model.Meeting) error {
	if m.Title == "" {
		return model.NewValidationError("title is required")
	}
	if m.Location == "" {
		return model.NewValidationError("location is required")
	}
	if !model.ValidDate(m.ScheduledDate) {
		return model.NewValidationError("scheduled date must be YYYY-MM-DD")
	}
	start, err := model.ParseTimeOfDay(m.ScheduledStartTime)
	if err != nil {
		return model.NewValidationError("start time must be HH:MM")
	}
	end, err := model.ParseTimeOfDay(m.ScheduledEndTime)
	if err != nil {
		return model.NewValidationError("end time must be HH:MM")
	}
	if end <= start {
		return model.NewValidationError("end time must be after start time")
	}
	return nil
}

// redactCode は管理者以外に返すミーティングからコード情報を取り除く。
func redactCode(m *model.Meeting) {
	m.CurrentCode = ""
	m.CodeGeneratedAt = nil
	m.CodeExpiresAt = nil
}
