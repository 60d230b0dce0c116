// Package worker はバックグラウンドジョブの定期実行を提供する。
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job は定期実行されるバックグラウンドジョブ。
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc は関数をJobとして扱うアダプター。
type JobFunc func(ctx context.Context) error

// Run はf(ctx)を呼び出す。
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Schedule はジョブと実行間隔の組。
type Schedule struct {
	Name     string
	Job      Job
	Interval time.Duration
}

// Scheduler は複数のジョブをそれぞれの間隔で実行する。
type Scheduler struct {
	logger    *slog.Logger
	schedules []Schedule
}

// NewScheduler はSchedulerを生成する。Intervalが0以下のスケジュールは無視する。
func NewScheduler(logger *slog.Logger, schedules ...Schedule) *Scheduler {
	s := &Scheduler{logger: logger}
	for _, sc := range schedules {
		if sc.Interval <= 0 {
			logger.Warn("実行間隔が無効なジョブをスキップしました", slog.String("job", sc.Name))
			continue
		}
		s.schedules = append(s.schedules, sc)
	}
	return s
}

// Start はすべてのジョブを起動し、コンテキストがキャンセルされるまでブロックする。
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sc := range s.schedules {
		wg.Add(1)
		go func(sc Schedule) {
			defer wg.Done()
			s.loop(ctx, sc)
		}(sc)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, sc Schedule) {
	ticker := time.NewTicker(sc.Interval)
	defer ticker.Stop()

	s.logger.Info("ジョブを開始しました",
		slog.String("job", sc.Name),
		slog.Duration("interval", sc.Interval),
	)

	// 起動直後に1回実行
	s.runOnce(ctx, sc)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ジョブを停止しました", slog.String("job", sc.Name))
			return
		case <-ticker.C:
			s.runOnce(ctx, sc)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, sc Schedule) {
	if err := sc.Job.Run(ctx); err != nil {
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", sc.Name),
			slog.String("error", err.Error()),
		)
	}
}
