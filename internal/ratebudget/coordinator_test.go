package ratebudget

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// newTestCoordinator はスリープを実際には行わず記録するCoordinatorを生成する。
func newTestCoordinator(cfg Config) (*Coordinator, *[]time.Duration) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	c := NewCoordinator(cfg, logger)
	// ペーシングリミッターはテストでは無効化する（バースト内で完結させる）
	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	c.sleepFn = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*sleeps = append(*sleeps, d)
		return nil
	}
	return c, sleeps
}

// TestAcquire_NoSleepWhenBudgetAvailable は予算が十分な場合に待機しないことを検証する。
func TestAcquire_NoSleepWhenBudgetAvailable(t *testing.T) {
	c, sleeps := newTestCoordinator(DefaultConfig())
	c.Update(50, time.Now().Add(time.Minute))

	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(*sleeps) != 0 {
		t.Errorf("予算が十分なのに待機しました: %v", *sleeps)
	}
}

// TestAcquire_SleepsWhenBelowLowWater は残数が閾値未満のときに
// リセット時刻+バッファまで待機することを検証する。
func TestAcquire_SleepsWhenBelowLowWater(t *testing.T) {
	cfg := DefaultConfig()
	c, sleeps := newTestCoordinator(cfg)

	resetAt := time.Now().Add(30 * time.Second)
	c.Update(5, resetAt)

	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(*sleeps) != 1 {
		t.Fatalf("待機回数 = %d, want 1", len(*sleeps))
	}
	// 待機時間は (resetAt - now) + buffer 付近であること
	got := (*sleeps)[0]
	if got < 25*time.Second+cfg.SleepBuffer || got > 30*time.Second+cfg.SleepBuffer {
		t.Errorf("待機時間 = %v, want ~30s+%v", got, cfg.SleepBuffer)
	}
}

// TestAcquire_MinimumSleep はリセット時刻を過ぎていても最低1秒は待機することを検証する。
func TestAcquire_MinimumSleep(t *testing.T) {
	cfg := DefaultConfig()
	c, sleeps := newTestCoordinator(cfg)

	c.Update(0, time.Now().Add(-time.Minute)) // リセット時刻は既に過去

	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(*sleeps) != 1 {
		t.Fatalf("待機回数 = %d, want 1", len(*sleeps))
	}
	if got := (*sleeps)[0]; got != time.Second+cfg.SleepBuffer {
		t.Errorf("待機時間 = %v, want %v", got, time.Second+cfg.SleepBuffer)
	}
}

// TestAcquire_ResumesAfterReset は予算待機後に残数が楽観的に復元され、
// 次のAcquireが待機しないことを検証する。
func TestAcquire_ResumesAfterReset(t *testing.T) {
	c, sleeps := newTestCoordinator(DefaultConfig())
	c.Update(0, time.Now().Add(-time.Second))

	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(*sleeps) != 1 {
		t.Fatalf("1回目のAcquireで待機していません")
	}

	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(*sleeps) != 1 {
		t.Errorf("復元後のAcquireで待機しました: %v", *sleeps)
	}
}

// TestUpdateUnknown はクォータ情報がない場合の悲観的デフォルトを検証する。
func TestUpdateUnknown(t *testing.T) {
	c, sleeps := newTestCoordinator(DefaultConfig())
	c.UpdateUnknown()

	if got := c.Remaining(); got != 1 {
		t.Errorf("Remaining() = %d, want 1", got)
	}

	// remaining=1 < lowWater=10 なので次のAcquireは待機する
	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(*sleeps) != 1 {
		t.Errorf("悲観的デフォルト設定後のAcquireが待機しませんでした")
	}
}

// TestFailureBackoff は連続エラーで指数的にバックオフが伸び、
// 成功でリセットされることを検証する。
func TestFailureBackoff(t *testing.T) {
	c, sleeps := newTestCoordinator(DefaultConfig())
	c.Update(50, time.Now().Add(time.Minute))

	c.ReportFailure()
	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != initialFailureBackoff {
		t.Fatalf("1回目の失敗後の待機 = %v, want [%v]", *sleeps, initialFailureBackoff)
	}

	c.ReportFailure()
	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(*sleeps) != 2 || (*sleeps)[1] != 2*initialFailureBackoff {
		t.Fatalf("2回目の失敗後の待機 = %v, want %v", (*sleeps)[1], 2*initialFailureBackoff)
	}

	c.ReportSuccess()
	if err := c.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(*sleeps) != 2 {
		t.Errorf("成功後のAcquireでバックオフ待機しました: %v", *sleeps)
	}
}

// TestFailureBackoff_Cap はバックオフが最大値で頭打ちになることを検証する。
func TestFailureBackoff_Cap(t *testing.T) {
	c, _ := newTestCoordinator(DefaultConfig())
	for i := 0; i < 20; i++ {
		c.ReportFailure()
	}

	if got := c.failureDelay(); got != maxFailureBackoff {
		t.Errorf("failureDelay() = %v, want %v", got, maxFailureBackoff)
	}
}

// TestAcquire_ContextCancel はキャンセル済みコンテキストでAcquireが
// エラーを返すことを検証する。
func TestAcquire_ContextCancel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	c := NewCoordinator(DefaultConfig(), logger)
	c.Update(0, time.Now().Add(time.Hour)) // 長時間の待機が必要な状態

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Acquire(ctx); err == nil {
		t.Error("キャンセル済みコンテキストでエラーになりませんでした")
	}
}

// TestAcquire_Concurrent は並行Acquire/Updateでレースやロスト更新が
// 起きないことを検証する（-raceでの実行を想定）。
// TestAcquire_ThresholdReservationIsAtomic は閾値ちょうどの残数に対して
// 並行するAcquireのうち1つだけが待機なしで予約できることを検証する。
// 確認と減算が分かれていると両方が同じ残数を観測して素通りできてしまう。
func TestAcquire_ThresholdReservationIsAtomic(t *testing.T) {
	cfg := DefaultConfig()
	c, sleeps := newTestCoordinator(cfg)
	c.Update(cfg.LowWater, time.Now().Add(30*time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// 先に予約した側が残数を閾値未満に下げるので、もう一方は必ず待機する
	if len(*sleeps) != 1 {
		t.Errorf("待機回数 = %d, want 1", len(*sleeps))
	}
	if got := c.Remaining(); got != cfg.LowWater-2 {
		t.Errorf("Remaining() = %d, want %d", got, cfg.LowWater-2)
	}
}

func TestAcquire_Concurrent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerMinute = 6000 // テストがペーシングで詰まらないように
	c, _ := newTestCoordinator(cfg)
	c.Update(5000, time.Now().Add(time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := c.Acquire(context.Background()); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				c.Update(5000, time.Now().Add(time.Minute))
			}
		}()
	}
	wg.Wait()
}
