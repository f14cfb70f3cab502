// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// セッションストアの実装（PostgreSQL・インメモリ・SQLite）に依存せず、
// SessionRepository.DeleteExpiredを周期的に呼び出す。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredSessionDeleter は期限切れセッションの削除を抽象化するインターフェース。
// repository.SessionRepositoryの各実装が満たす。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SweepRecorder は削除件数を記録するインターフェース。
type SweepRecorder interface {
	RecordSessionsSwept(count int64)
}

// SessionSweeper は期限切れセッションを削除するジョブ。
// 冪等: 削除対象がなくてもエラーにならない。
type SessionSweeper struct {
	store    ExpiredSessionDeleter
	recorder SweepRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionSweeper はSessionSweeperを生成する。recorderはnilでもよい。
func NewSessionSweeper(store ExpiredSessionDeleter, recorder SweepRecorder, logger *slog.Logger) *SessionSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweeper{
		store:    store,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は現在時刻時点で期限切れのセッションを1回削除する。
func (s *SessionSweeper) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordSessionsSwept(deleted)
	}

	s.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はinterval間隔でRunを繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまでブロックする。
func (s *SessionSweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("セッションクリーンアップを開始しました",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ済み
	_ = s.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = s.Run(ctx)
		}
	}
}
