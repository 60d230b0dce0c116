// Package reconcile は集計キャッシュの整合性修復ジョブを提供する。
// ミーティングの出席者数とプロフィールの出席回数・奉仕時間合計を
// 出席記録と申請から再計算し、ずれていれば上書きする。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hitoshi/chapterhub/internal/metrics"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
)

const (
	jobName = "counter_reconcile"

	counterAttendeeCount    = "attendee_count"
	counterMeetingsAttended = "meetings_attended"
	counterHours            = "service_hours"

	// hoursEpsilon 未満の差は浮動小数点の誤差として扱う。
	hoursEpsilon = 0.001
)

// Result は1回の修復で検出したずれの件数。
type Result struct {
	MeetingsChecked int
	ProfilesChecked int
	MeetingsFixed   int
	ProfilesFixed   int
}

// ReconcileJob は集計キャッシュの修復ジョブ。
// 対象ごとに独立したトランザクションで再計算し、並列数はmaxConcurrencyで制限する。
type ReconcileJob struct {
	store          repository.Store
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	maxConcurrency int
}

// NewReconcileJob はReconcileJobを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewReconcileJob(store repository.Store, logger *slog.Logger, m metrics.MetricsCollector, maxConcurrency int) *ReconcileJob {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &ReconcileJob{
		store:          store,
		logger:         logger,
		metrics:        metrics.OrNop(m),
		maxConcurrency: maxConcurrency,
	}
}

// Run は全ミーティングと全プロフィールの集計値を検査・修復する。
func (j *ReconcileJob) Run(ctx context.Context) error {
	_, err := j.RunOnce(ctx)
	return err
}

// RunOnce はRunと同じ処理を行い、検査結果を返す。
func (j *ReconcileJob) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()

	var meetingIDs, profileIDs []string
	err := j.store.View(ctx, func(tx repository.Tx) error {
		meetings, err := tx.Meetings().List(ctx, repository.MeetingFilter{})
		if err != nil {
			return err
		}
		for _, m := range meetings {
			meetingIDs = append(meetingIDs, m.ID)
		}
		profiles, err := tx.Profiles().List(ctx, repository.ProfileFilter{})
		if err != nil {
			return err
		}
		for _, p := range profiles {
			profileIDs = append(profileIDs, p.ID)
		}
		return nil
	})
	if err != nil {
		j.logger.Error("修復対象の取得に失敗しました", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list reconcile targets: %w", err)
	}

	result := &Result{MeetingsChecked: len(meetingIDs), ProfilesChecked: len(profileIDs)}

	var (
		mu   sync.Mutex
		errs []error
	)
	fixed := func(meeting bool) {
		mu.Lock()
		defer mu.Unlock()
		if meeting {
			result.MeetingsFixed++
		} else {
			result.ProfilesFixed++
		}
	}
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, j.maxConcurrency)
	var wg sync.WaitGroup

	for _, id := range meetingIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			changed, err := j.reconcileMeeting(ctx, id)
			if err != nil {
				j.logger.Error("出席者数の修復に失敗しました",
					slog.String("meeting_id", id),
					slog.String("error", err.Error()),
				)
				fail(err)
				return
			}
			if changed {
				fixed(true)
			}
		}(id)
	}

	for _, id := range profileIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			changed, err := j.reconcileProfile(ctx, id)
			if err != nil {
				j.logger.Error("プロフィール集計の修復に失敗しました",
					slog.String("profile_id", id),
					slog.String("error", err.Error()),
				)
				fail(err)
				return
			}
			if changed {
				fixed(false)
			}
		}(id)
	}

	wg.Wait()

	duration := time.Since(start)
	j.metrics.RecordJobLatency(jobName, duration)
	j.logger.Info("集計修復ジョブが完了しました",
		slog.Int("meetings_checked", result.MeetingsChecked),
		slog.Int("meetings_fixed", result.MeetingsFixed),
		slog.Int("profiles_checked", result.ProfilesChecked),
		slog.Int("profiles_fixed", result.ProfilesFixed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	if len(errs) > 0 {
		return result, fmt.Errorf("failed to reconcile %d targets: %w", len(errs), errors.Join(errs...))
	}
	return result, nil
}

// reconcileMeeting はミーティングの出席者数をpresent記録数に合わせる。
func (j *ReconcileJob) reconcileMeeting(ctx context.Context, meetingID string) (bool, error) {
	changed := false
	err := j.store.WithTx(ctx, func(tx repository.Tx) error {
		meeting, err := tx.Meetings().LockByID(ctx, meetingID)
		if err != nil {
			return err
		}
		if meeting == nil {
			// 一覧取得後に削除された
			return nil
		}
		actual, err := tx.Attendance().CountPresentByMeeting(ctx, meetingID)
		if err != nil {
			return err
		}
		if actual == meeting.AttendeeCount {
			return nil
		}

		j.logger.Warn("出席者数のずれを検出しました",
			slog.String("meeting_id", meetingID),
			slog.Int("cached", meeting.AttendeeCount),
			slog.Int("actual", actual),
		)
		if err := tx.Meetings().SetAttendeeCount(ctx, meetingID, actual); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to reconcile meeting %s: %w", meetingID, err)
	}
	if changed {
		j.metrics.RecordCounterDrift(counterAttendeeCount, 1)
	}
	return changed, nil
}

// reconcileProfile はプロフィールの出席回数と奉仕時間合計を再計算する。
// 保留時間はpendingとrevision_requestedの申請の合計。
func (j *ReconcileJob) reconcileProfile(ctx context.Context, profileID string) (bool, error) {
	var attendedDrift, hoursDrift bool
	err := j.store.WithTx(ctx, func(tx repository.Tx) error {
		profile, err := tx.Profiles().FindByID(ctx, profileID)
		if err != nil {
			return err
		}
		if profile == nil {
			return nil
		}

		attended, err := tx.Attendance().CountPresentByProfile(ctx, profileID)
		if err != nil {
			return err
		}
		approved, err := tx.Submissions().SumHoursByProfile(ctx, profileID, model.SubmissionApproved)
		if err != nil {
			return err
		}
		pending, err := tx.Submissions().SumHoursByProfile(ctx, profileID, model.SubmissionPending)
		if err != nil {
			return err
		}
		revision, err := tx.Submissions().SumHoursByProfile(ctx, profileID, model.SubmissionRevisionRequested)
		if err != nil {
			return err
		}
		pending += revision

		attendedDrift = attended != profile.MeetingsAttended
		hoursDrift = !closeEnough(approved, profile.TotalApprovedHours) || !closeEnough(pending, profile.TotalPendingHours)
		if !attendedDrift && !hoursDrift {
			return nil
		}

		j.logger.Warn("プロフィール集計のずれを検出しました",
			slog.String("profile_id", profileID),
			slog.Int("cached_meetings_attended", profile.MeetingsAttended),
			slog.Int("actual_meetings_attended", attended),
			slog.Float64("cached_approved_hours", profile.TotalApprovedHours),
			slog.Float64("actual_approved_hours", approved),
			slog.Float64("cached_pending_hours", profile.TotalPendingHours),
			slog.Float64("actual_pending_hours", pending),
		)
		return tx.Profiles().SetCounters(ctx, profileID, approved, pending, attended)
	})
	if err != nil {
		return false, fmt.Errorf("failed to reconcile profile %s: %w", profileID, err)
	}
	if attendedDrift {
		j.metrics.RecordCounterDrift(counterMeetingsAttended, 1)
	}
	if hoursDrift {
		j.metrics.RecordCounterDrift(counterHours, 1)
	}
	return attendedDrift || hoursDrift, nil
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) < hoursEpsilon
}
