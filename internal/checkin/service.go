package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chapterhub/internal/attendance"
	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/metrics"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
	"github.com/hitoshi/chapterhub/internal/security"
)

// Code は発行済みのチェックインコード。
type Code struct {
	Value     string
	ExpiresAt time.Time
}

// ServiceConfig はチェックインサービスの設定。
type ServiceConfig struct {
	CodeTTL time.Duration // コードの有効期間。0以下の場合はDefaultCodeTTL
}

// Service はチェックイン受付の状態遷移、コード検証、ミーティング管理を提供する。
// チェックイン状態は not_started → open → closed の順にのみ遷移する。
type Service struct {
	store     repository.Store
	guard     *auth.Guard
	ledger    *attendance.Ledger
	cache     CodeCache
	clock     clock.Clock
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	config    ServiceConfig
}

// NewService はServiceを生成する。cacheがnilの場合はキャッシュを使用しない。
func NewService(
	store repository.Store,
	guard *auth.Guard,
	ledger *attendance.Ledger,
	cache CodeCache,
	c clock.Clock,
	sanitizer security.TextSanitizer,
	m metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if cache == nil {
		cache = NopCodeCache{}
	}
	if config.CodeTTL <= 0 {
		config.CodeTTL = DefaultCodeTTL
	}
	return &Service{
		store:     store,
		guard:     guard,
		ledger:    ledger,
		cache:     cache,
		clock:     c,
		sanitizer: sanitizer,
		metrics:   metrics.OrNop(m),
		config:    config,
	}
}

// OpenCheckIn はチェックイン受付を開始し、最初のコードを発行する。
// 承認済み生徒には受付開始の通知を保存する。
func (s *Service) OpenCheckIn(ctx context.Context, token, meetingID string) (*Code, error) {
	var code *Code
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := s.guard.RequireAdmin(ctx, tx, token); err != nil {
			return err
		}

		meeting, err := s.lockMeeting(ctx, tx, meetingID)
		if err != nil {
			return err
		}
		switch meeting.CheckInStatus {
		case model.CheckInOpen:
			return model.NewCheckInAlreadyOpenError()
		case model.CheckInClosed:
			return model.NewCheckInClosedError()
		}

		now := s.clock.Now()
		meeting.CheckInStatus = model.CheckInOpen
		meeting.CheckInOpenedAt = &now
		code, err = s.rotate(ctx, tx, meeting, now)
		if err != nil {
			return err
		}
		return s.notifyCheckInOpen(ctx, tx, meeting, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCodeRotation("open")
	s.publish(ctx, meetingID, code)
	slog.Info("check-in opened", slog.String("meeting_id", meetingID))
	return code, nil
}

// RefreshCheckInCode は新しいコードと有効期限を発行する。状態は変更しない。
func (s *Service) RefreshCheckInCode(ctx context.Context, token, meetingID string) (*Code, error) {
	var code *Code
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := s.guard.RequireAdmin(ctx, tx, token); err != nil {
			return err
		}

		meeting, err := s.lockMeeting(ctx, tx, meetingID)
		if err != nil {
			return err
		}
		if meeting.CheckInStatus != model.CheckInOpen {
			return model.NewCheckInNotOpenError()
		}

		code, err = s.rotate(ctx, tx, meeting, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCodeRotation("refresh")
	s.publish(ctx, meetingID, code)
	return code, nil
}

// CloseCheckIn はチェックイン受付を終了し、現在のコードを破棄する。再開はできない。
func (s *Service) CloseCheckIn(ctx context.Context, token, meetingID string) error {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := s.guard.RequireAdmin(ctx, tx, token); err != nil {
			return err
		}

		meeting, err := s.lockMeeting(ctx, tx, meetingID)
		if err != nil {
			return err
		}
		switch meeting.CheckInStatus {
		case model.CheckInNotStarted:
			return model.NewCheckInNotStartedError()
		case model.CheckInClosed:
			return model.NewCheckInClosedError()
		}

		now := s.clock.Now()
		meeting.CheckInStatus = model.CheckInClosed
		meeting.CheckInClosedAt = &now
		meeting.CurrentCode = ""
		meeting.CodeExpiresAt = nil
		meeting.UpdatedAt = now
		if err := tx.Meetings().UpdateCheckIn(ctx, meeting); err != nil {
			return fmt.Errorf("failed to close check-in: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.cache.Clear(ctx, meetingID); err != nil {
		slog.Warn("failed to clear cached check-in code",
			slog.String("meeting_id", meetingID),
			slog.String("error", err.Error()),
		)
	}
	slog.Info("check-in closed", slog.String("meeting_id", meetingID))
	return nil
}

// CheckIn は承認済み生徒のコードによるチェックインを行う。
// 検証順: 受付中か → 既に記録がないか → コードが一致するか → 有効期限内か。
// ミーティング行をロックした同一トランザクション内で記録作成と集計更新を行う。
func (s *Service) CheckIn(ctx context.Context, token, meetingID, code string) error {
	submitted := NormalizeCode(code)

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, profile, err := s.guard.RequireVerifiedStudent(ctx, tx, token)
		if err != nil {
			return err
		}

		meeting, err := s.lockMeeting(ctx, tx, meetingID)
		if err != nil {
			return err
		}
		if meeting.CheckInStatus != model.CheckInOpen {
			return model.NewCheckInNotOpenError()
		}

		existing, err := tx.Attendance().FindByMeetingAndStudent(ctx, meetingID, user.ID)
		if err != nil {
			return fmt.Errorf("failed to find attendance record: %w", err)
		}
		if existing != nil {
			return model.NewAlreadyCheckedInError()
		}

		if submitted == "" || submitted != meeting.CurrentCode {
			return model.NewInvalidCodeError()
		}
		if meeting.CodeExpiresAt != nil && s.clock.Now().After(*meeting.CodeExpiresAt) {
			return model.NewCodeExpiredError()
		}

		_, err = s.ledger.RecordCodeCheckIn(ctx, tx, meetingID, user, profile, submitted)
		return err
	})

	s.metrics.RecordCheckIn(checkInOutcome(err))
	if err != nil {
		return err
	}
	slog.Info("student checked in", slog.String("meeting_id", meetingID))
	return nil
}

// CurrentCode は表示用端末向けに現在のコードを返す。
// 正はデータベースのミーティングで、キャッシュはその現在コードと一致する場合にのみ使う。
// 管理者以外・受付中でない場合はnilを返す。
func (s *Service) CurrentCode(ctx context.Context, token, meetingID string) (*Code, error) {
	var code *Code
	var authorized bool
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || !auth.CanManageMeetings(user) {
			return err
		}
		authorized = true

		meeting, err := tx.Meetings().FindByID(ctx, meetingID)
		if err != nil {
			return fmt.Errorf("failed to find meeting: %w", err)
		}
		if meeting == nil || meeting.CheckInStatus != model.CheckInOpen || meeting.CodeExpiresAt == nil {
			return nil
		}

		if cached, err := s.cache.Lookup(ctx, meetingID); err != nil {
			slog.Warn("failed to lookup cached check-in code",
				slog.String("meeting_id", meetingID),
				slog.String("error", err.Error()),
			)
		} else if cached != nil && cached.Value == meeting.CurrentCode && !s.clock.Now().After(cached.ExpiresAt) {
			code = cached
			return nil
		}

		code = &Code{Value: meeting.CurrentCode, ExpiresAt: *meeting.CodeExpiresAt}
		return nil
	})
	if err != nil || !authorized {
		return nil, err
	}
	return code, nil
}

// rotate は新しいコードを生成してミーティングに保存する。
func (s *Service) rotate(ctx context.Context, tx repository.Tx, meeting *model.Meeting, now time.Time) (*Code, error) {
	value, err := GenerateCode(DefaultCodeLength)
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(s.config.CodeTTL)

	meeting.CurrentCode = value
	meeting.CodeGeneratedAt = &now
	meeting.CodeExpiresAt = &expiresAt
	meeting.UpdatedAt = now
	if err := tx.Meetings().UpdateCheckIn(ctx, meeting); err != nil {
		return nil, fmt.Errorf("failed to save check-in code: %w", err)
	}
	return &Code{Value: value, ExpiresAt: expiresAt}, nil
}

func (s *Service) lockMeeting(ctx context.Context, tx repository.Tx, meetingID string) (*model.Meeting, error) {
	meeting, err := tx.Meetings().LockByID(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock meeting: %w", err)
	}
	if meeting == nil {
		return nil, model.NewMeetingNotFoundError(meetingID)
	}
	return meeting, nil
}

// notifyCheckInOpen は承認済み生徒全員に受付開始の通知を保存する。
func (s *Service) notifyCheckInOpen(ctx context.Context, tx repository.Tx, meeting *model.Meeting, now time.Time) error {
	verified := model.VerificationVerified
	profiles, err := tx.Profiles().List(ctx, repository.ProfileFilter{Status: &verified})
	if err != nil {
		return fmt.Errorf("failed to list verified profiles: %w", err)
	}
	meetingID := meeting.ID
	for _, p := range profiles {
		n := &model.Notification{
			ID:               uuid.New().String(),
			UserID:           p.UserID,
			Type:             model.NotificationMeetingCheckIn,
			Title:            "Check-in is open",
			Message:          fmt.Sprintf("Check-in for %s is now open.", meeting.Title),
			RelatedMeetingID: &meetingID,
			CreatedAt:        now,
		}
		if err := tx.Notifications().Create(ctx, n); err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
	}
	return nil
}

// publish はコミット済みのコードをキャッシュに反映する。失敗はログのみ。
func (s *Service) publish(ctx context.Context, meetingID string, code *Code) {
	ttl := code.ExpiresAt.Sub(s.clock.Now())
	if err := s.cache.Publish(ctx, meetingID, *code, ttl); err != nil {
		slog.Warn("failed to publish check-in code",
			slog.String("meeting_id", meetingID),
			slog.String("error", err.Error()),
		)
	}
}

func checkInOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := model.CodeOf(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}
