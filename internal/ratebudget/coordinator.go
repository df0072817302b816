// Package ratebudget はコンテンツソースへのリクエスト予算の調整を提供する。
// ソースが応答メタデータで報告する共有クォータを追跡し、全タスクの
// 外部呼び出しを単一のAcquire契約でゲートする。
package ratebudget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// initialFailureBackoff は一時的エラーに対する指数バックオフの初回遅延。
	initialFailureBackoff = 2 * time.Second
	// maxFailureBackoff は指数バックオフの最大遅延。
	maxFailureBackoff = 5 * time.Minute
	// minBudgetSleep は予算枯渇時の最小待機時間。
	minBudgetSleep = time.Second
)

// Config はレート予算の設定を保持する。
type Config struct {
	// LowWater は残りクォータがこの値を下回った場合にリセットまで待機する閾値。
	LowWater int
	// SleepBuffer はリセット時刻まで待機する際に追加する余裕時間。
	SleepBuffer time.Duration
	// Window はクォータ情報が報告されない場合に仮定するリセット間隔。
	Window time.Duration
	// PerMinute はローカルペーシングの上限（リクエスト/分）。
	PerMinute int
}

// DefaultConfig はデフォルトのレート予算設定を返す。
// ソースのレート制限（60リクエスト/分）に合わせている。
func DefaultConfig() Config {
	return Config{
		LowWater:    10,
		SleepBuffer: 5 * time.Second,
		Window:      time.Minute,
		PerMinute:   60,
	}
}

// Coordinator は共有リクエスト予算を管理し、外部呼び出しをゲートする。
// 予算の読み取り・更新はすべて単一のクリティカルセクションで行い、
// 複数タスクの並行呼び出しによる更新の喪失を防ぐ。
type Coordinator struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	mu                  sync.Mutex
	remaining           int
	resetAt             time.Time
	consecutiveFailures int

	// テスト用に差し替え可能
	now     func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error

	recorder SleepRecorder
}

// SleepRecorder は予算待機の時間を受け取る。metrics.Collectorが実装する。
type SleepRecorder interface {
	RecordRateSleep(duration time.Duration)
}

// NewCoordinator はCoordinatorの新しいインスタンスを生成する。
// 初期状態ではローカルペーシング上限いっぱいの予算があるとみなす。
func NewCoordinator(cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultConfig().PerMinute
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Coordinator{
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), cfg.PerMinute),
		logger:    logger,
		remaining: cfg.PerMinute,
		now:       time.Now,
		sleepFn:   sleepContext,
	}
}

// SetSleepRecorder は待機時間の記録先を設定する。nilのままなら記録しない。
func (c *Coordinator) SetSleepRecorder(r SleepRecorder) {
	c.recorder = r
}

// recordSleep は待機時間を記録する。
func (c *Coordinator) recordSleep(d time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordRateSleep(d)
	}
}

// Acquire は外部呼び出しが安全になるまで呼び出し元のタスクをブロックする。
// 待機中も他のタスクはブロックされない。コンテキストのキャンセルで
// エラーを返して早期に復帰する。
func (c *Coordinator) Acquire(ctx context.Context) error {
	// ローカルペーシング。ソース側の契約（60req/分）を超えない。
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	// 一時的エラーのバックオフ待機
	if delay := c.failureDelay(); delay > 0 {
		c.logger.Warn("連続エラーによりバックオフ待機します",
			slog.Duration("delay", delay),
		)
		c.recordSleep(delay)
		if err := c.sleepFn(ctx, delay); err != nil {
			return err
		}
	}

	// 予算の予約。枯渇が近い場合はリセット時刻まで待機してから予約する。
	reserved, sleep, resetAt := c.reserve()
	if !reserved {
		c.logger.Info("リクエスト予算が残り少ないため待機します",
			slog.Duration("sleep", sleep),
			slog.Time("reset_at", resetAt),
		)
		c.recordSleep(sleep)
		if err := c.sleepFn(ctx, sleep); err != nil {
			return err
		}
		c.resetAndConsume()
	}

	return nil
}

// Update はソースの応答メタデータで報告されたクォータ情報を反映する。
// すべての外部呼び出しの後に呼び出される。
func (c *Coordinator) Update(remaining int, resetAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = remaining
	c.resetAt = resetAt
}

// UpdateUnknown はクォータ情報が報告されなかった場合の悲観的デフォルトを設定する。
// 残り1・リセットは現在時刻+ウィンドウとし、安全側に倒す。
func (c *Coordinator) UpdateUnknown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = 1
	c.resetAt = c.now().Add(c.cfg.Window)
}

// ReportFailure は一時的エラーの発生を記録する。
// 連続回数に応じてAcquireのバックオフ待機が指数的に伸びる。
func (c *Coordinator) ReportFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures++
}

// ReportSuccess は呼び出し成功を記録し、バックオフ状態をリセットする。
func (c *Coordinator) ReportSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures = 0
}

// Remaining は現在把握している残りクォータを返す。運用時の観測用。
func (c *Coordinator) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// reserve は予算の確認と1件分の予約を単一のクリティカルセクションで行う。
// 残数が閾値以上なら減算して予約成功を返す。閾値未満なら予約せず、
// 必要な待機時間とリセット時刻を返す。確認と減算を分けると、複数タスクが
// 同じ残数を観測して閾値割れのまま呼び出しを発行できてしまう。
func (c *Coordinator) reserve() (reserved bool, sleep time.Duration, resetAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remaining >= c.cfg.LowWater {
		if c.remaining > 0 {
			c.remaining--
		}
		return true, 0, time.Time{}
	}

	sleep = c.resetAt.Sub(c.now())
	if sleep < minBudgetSleep {
		sleep = minBudgetSleep
	}
	return false, sleep + c.cfg.SleepBuffer, c.resetAt
}

// failureDelay は連続エラー回数に基づく指数バックオフ遅延を返す。
// 初回2秒、2倍ずつ増加、最大5分。
func (c *Coordinator) failureDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consecutiveFailures == 0 {
		return 0
	}

	delay := initialFailureBackoff
	for i := 1; i < c.consecutiveFailures; i++ {
		delay *= 2
		if delay > maxFailureBackoff {
			return maxFailureBackoff
		}
	}
	return delay
}

// resetAndConsume は予算待機の後の復元と消費を単一のクリティカル
// セクションで行う。リセット時刻を過ぎていれば予算を楽観的に復元し、
// その上で1件分を消費する。復元値は次の応答メタデータで上書きされる。
func (c *Coordinator) resetAndConsume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.now().Before(c.resetAt) {
		c.remaining = c.cfg.PerMinute
		c.resetAt = c.now().Add(c.cfg.Window)
	}
	if c.remaining > 0 {
		c.remaining--
	}
}

// sleepContext はコンテキストのキャンセルに応答するスリープ。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
