// Package cleanup は期限切れセッションの削除ジョブを提供する。
// cleanup-sessionsサブコマンドから1回実行される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/companionhub/internal/metrics"
)

// SessionPurger は期限切れセッションの削除を抽象化する。
// repository.SessionRepositoryが満たす。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SessionCleanupJob は期限切れセッションの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type SessionCleanupJob struct {
	sessions SessionPurger
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
func NewSessionCleanupJob(sessions SessionPurger, logger *slog.Logger, m metrics.MetricsCollector) *SessionCleanupJob {
	if m == nil {
		m = metrics.Nop{}
	}
	return &SessionCleanupJob{
		sessions: sessions,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Run は現在時刻で期限切れのセッションを削除し、削除件数を返す。
func (j *SessionCleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordSessionsCleaned(deleted)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}
