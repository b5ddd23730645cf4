// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// 会話とメッセージは永続データのため削除対象にしない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ExpiredSessionDeleter は期限切れセッションを削除するインターフェース。
// repository.SessionRepositoryが実装する。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// scheduleParser は5フィールド形式と@hourly等の記述子を受け付ける。
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule はcron式を検証する。
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等な削除処理のため、実行が重複しても結果は変わらない。
type CleanupJob struct {
	sessions ExpiredSessionDeleter
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions ExpiredSessionDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は期限切れセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.sessions.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以降はscheduleに従って実行する。
// ctxが終了するまでブロックし、実行中のジョブの完了を待ってから戻る。
func (j *CleanupJob) Start(ctx context.Context, schedule string) error {
	parsed, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Warn("initial cleanup run failed", slog.String("error", err.Error()))
	}

	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(parsed, cron.FuncJob(func() {
		// エラーはRun内でログ出力済み
		_ = j.Run(ctx)
	}))
	c.Start()

	j.logger.Info("cleanup scheduler started", slog.String("schedule", schedule))

	<-ctx.Done()
	<-c.Stop().Done()

	j.logger.Info("cleanup scheduler stopped")
	return nil
}
