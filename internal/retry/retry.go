package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted 重试次数或总时长耗尽仍未满足条件
var ErrExhausted = errors.New("重试次数或总时长已耗尽")

// Schedule 重试节奏参数
// 第n次尝试前的等待时间: n==1时优先取InitialDelay，
// 配置了LinearStep则为LinearStep×n（线性递增），否则为固定Interval
type Schedule struct {
	InitialDelay time.Duration
	Interval     time.Duration
	LinearStep   time.Duration
	MaxAttempts  int           // 0表示不限次数
	MaxElapsed   time.Duration // 0表示不限总时长
}

// Predicate 单次尝试，done为true表示条件已满足
type Predicate func(ctx context.Context, attempt int) (done bool, err error)

// Until 按节奏反复执行fn直到条件满足、出错、上下文取消或预算耗尽
// 投票回显轮询、领奖状态轮询和交易确认等待共用这一个实现
func Until(ctx context.Context, sched Schedule, fn Predicate) error {
	start := time.Now()

	for attempt := 1; ; attempt++ {
		if err := sleep(ctx, sched.delay(attempt)); err != nil {
			return err
		}

		if sched.MaxElapsed > 0 && time.Since(start) > sched.MaxElapsed {
			return ErrExhausted
		}

		done, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if sched.MaxAttempts > 0 && attempt >= sched.MaxAttempts {
			return ErrExhausted
		}
	}
}

func (s Schedule) delay(attempt int) time.Duration {
	if attempt == 1 && s.InitialDelay > 0 {
		return s.InitialDelay
	}
	if s.LinearStep > 0 {
		return s.LinearStep * time.Duration(attempt)
	}
	return s.Interval
}

// sleep 可被上下文取消的等待
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
