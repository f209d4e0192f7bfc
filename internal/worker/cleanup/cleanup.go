// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// セッションは作成時からの絶対期限で失効し、失効後の行をこのジョブがまとめて消す。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/storerating/internal/repository"
)

// DefaultInterval はジョブの標準実行間隔。
const DefaultInterval = 24 * time.Hour

// SessionCleanupJob は失効済みセッションの削除ジョブ。削除対象が無くても成功する。
type SessionCleanupJob struct {
	sessions repository.ExpiredSessionPurger
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionCleanupJob はジョブを生成する。now が nil の場合は time.Now を使う。
func NewSessionCleanupJob(sessions repository.ExpiredSessionPurger, logger *slog.Logger, now func() time.Time) *SessionCleanupJob {
	if now == nil {
		now = time.Now
	}
	return &SessionCleanupJob{sessions: sessions, logger: logger, now: now}
}

// Run は現在時刻より前に失効したセッションを削除する。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now()

	deleted, err := j.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		j.logger.Error("session cleanup failed", slog.String("error", err.Error()))
		return fmt.Errorf("session cleanup: %w", err)
	}

	j.logger.Info("session cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
	return nil
}

// Start は起動直後に1回、その後 interval ごとに Run を呼ぶ。ctx がキャンセルされるまで戻らない。
// 個々の失敗はログに残して次回に持ち越す。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = j.Run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
