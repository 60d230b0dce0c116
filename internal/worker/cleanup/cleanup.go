// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// セッションは参照時に期限を判定するため、期限切れの行は明示的に削除しない限り残り続ける。
// このジョブが定期的にそれらをまとめて削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/metrics"
	"github.com/hitoshi/chapterhub/internal/repository"
)

// jobName はメトリクスとログで使用するジョブ名。
const jobName = "session_cleanup"

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	store   repository.Store
	clock   clock.Clock
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	// Grace は期限切れから削除までの猶予期間（デフォルト: 0）。
	Grace time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store repository.Store, c clock.Clock, logger *slog.Logger, m metrics.MetricsCollector) *CleanupJob {
	return &CleanupJob{
		store:   store,
		clock:   c,
		logger:  logger,
		metrics: metrics.OrNop(m),
	}
}

// Run は現在時刻からGraceを引いた時点で期限切れのセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.clock.Now().Add(-j.Grace)

	var deletedCount int64
	err := j.store.WithTx(ctx, func(tx repository.Tx) error {
		n, err := tx.Sessions().DeleteExpired(ctx, before)
		if err != nil {
			return err
		}
		deletedCount = n
		return nil
	})
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	duration := time.Since(start)
	j.metrics.RecordSessionsPurged(deletedCount)
	j.metrics.RecordJobLatency(jobName, duration)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("expired_before", before),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
