package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 条件满足即停止
func TestUntilStopsWhenDone(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Schedule{MaxAttempts: 10}, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return attempt == 3, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// 次数耗尽返回ErrExhausted
func TestUntilMaxAttempts(t *testing.T) {
	calls := 0
	err := Until(context.Background(), Schedule{MaxAttempts: 5}, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return false, nil
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 5, calls)
}

// 总时长耗尽返回ErrExhausted
func TestUntilMaxElapsed(t *testing.T) {
	err := Until(context.Background(), Schedule{
		Interval:   10 * time.Millisecond,
		MaxElapsed: 35 * time.Millisecond,
	}, func(ctx context.Context, attempt int) (bool, error) {
		return false, nil
	})

	assert.ErrorIs(t, err, ErrExhausted)
}

// 谓词出错立即上抛
func TestUntilPropagatesError(t *testing.T) {
	boom := errors.New("谓词失败")
	calls := 0
	err := Until(context.Background(), Schedule{MaxAttempts: 10}, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return false, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

// 上下文取消时在等待中退出
func TestUntilContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Until(ctx, Schedule{Interval: time.Second}, func(ctx context.Context, attempt int) (bool, error) {
		return false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

// 延迟节奏: 首次取InitialDelay，线性模式为LinearStep×n，否则固定Interval
func TestScheduleDelay(t *testing.T) {
	linear := Schedule{LinearStep: 500 * time.Millisecond}
	assert.Equal(t, 500*time.Millisecond, linear.delay(1))
	assert.Equal(t, time.Second, linear.delay(2))
	assert.Equal(t, 1500*time.Millisecond, linear.delay(3))

	fixed := Schedule{InitialDelay: 2 * time.Second, Interval: 3 * time.Second}
	assert.Equal(t, 2*time.Second, fixed.delay(1))
	assert.Equal(t, 3*time.Second, fixed.delay(2))
	assert.Equal(t, 3*time.Second, fixed.delay(5))
}
