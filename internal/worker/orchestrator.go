// Package worker は収集タスクの起動と監督を提供する。
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// restartDelay はタスクが異常終了してから再起動するまでの待ち時間。
const restartDelay = 5 * time.Second

// Runner は監督対象のタスクが実装するインターフェース。
type Runner interface {
	Run(ctx context.Context) error
}

// ReporterService は進捗レポーターのインターフェース。
type ReporterService interface {
	Start(ctx context.Context)
}

// MetricsSink はタスク監督のメトリクスを受け取る。
type MetricsSink interface {
	RecordTaskRestart(task string)
}

// task は名前付きの監督対象タスク。
type task struct {
	name string
	// oneShot trueのタスクは正常終了で再起動しない（バックフィル）。
	// falseのタスクの正常終了は異常とみなし再起動する（ストリーム）。
	oneShot bool
	runner  Runner
}

// Orchestrator はトピックごとの収集タスクと進捗レポーターを起動し、
// 監督する。1つのタスクのパニックやエラーは他のタスクに波及しない。
type Orchestrator struct {
	stagger  time.Duration
	reporter ReporterService
	metrics  MetricsSink
	logger   *slog.Logger
	tasks    []task
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(stagger time.Duration, reporter ReporterService, metrics MetricsSink, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		stagger:  stagger,
		reporter: reporter,
		metrics:  metrics,
		logger:   logger,
	}
}

// AddBackfill はバックフィルタスクを登録する。1周完了で終了する。
func (o *Orchestrator) AddBackfill(topic string, runner Runner) {
	o.tasks = append(o.tasks, task{name: "backfill:" + topic, oneShot: true, runner: runner})
}

// AddLiveTail はリアルタイム収集タスクを登録する。シャットダウンまで
// 動き続けることを期待し、途中終了は再起動する。
func (o *Orchestrator) AddLiveTail(topic string, runner Runner) {
	o.tasks = append(o.tasks, task{name: "livetail:" + topic, oneShot: false, runner: runner})
}

// Start は登録済みの全タスクと進捗レポーターを起動し、コンテキストが
// キャンセルされるまでブロックする。タスクは一定間隔をあけて順に起動し、
// ソースへの同時アクセスの集中を避ける。
func (o *Orchestrator) Start(ctx context.Context) {
	o.logger.Info("オーケストレーターを起動します",
		slog.Int("task_count", len(o.tasks)),
		slog.Duration("stagger", o.stagger),
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.reporter.Start(ctx)
	}()

	for i, tk := range o.tasks {
		if i > 0 && !sleepContext(ctx, o.stagger) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(tk task) {
			defer wg.Done()
			o.supervise(ctx, tk)
		}(tk)
	}

	wg.Wait()
	o.logger.Info("オーケストレーターを停止しました")
}

// supervise は1タスクを実行し、異常終了を再起動でしのぐ。
// 他のタスクには影響を与えない。
func (o *Orchestrator) supervise(ctx context.Context, tk task) {
	logger := o.logger.With(slog.String("task", tk.name))

	for {
		err := o.safeRun(ctx, tk.runner)

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			if tk.oneShot {
				logger.Info("タスクが完了しました")
				return
			}
			logger.Warn("常駐タスクが終了しました。再起動します")
		} else {
			logger.Error("タスクが異常終了しました。再起動します",
				slog.String("error", err.Error()),
				slog.Duration("delay", restartDelay),
			)
		}

		o.metrics.RecordTaskRestart(tk.name)
		if !sleepContext(ctx, restartDelay) {
			return
		}
	}
}

// safeRun はタスクを実行し、パニックをエラーとして回収する。
func (o *Orchestrator) safeRun(ctx context.Context, runner Runner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("タスクがパニックしました: %v", r)
		}
	}()
	return runner.Run(ctx)
}

// sleepContext は指定時間待機する。キャンセルで中断された場合はfalseを返す。
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
