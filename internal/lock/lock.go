package lock

import (
	"fmt"
	"time"
)

// Lock 分布式锁接口
// 用于跨实例的单飞保证: 同一用户同一时刻只允许一个投票/领奖编排在执行，
// 持锁期间的重复调用直接作为空操作返回
type Lock interface {
	// AcquireLock 获取分布式锁，bool表示是否成功获取
	AcquireLock(lockName string, timeout time.Duration) (bool, error)

	// RefreshLock 刷新锁的过期时间
	RefreshLock(lockName string, timeout time.Duration) (bool, error)

	// ReleaseLock 释放分布式锁
	ReleaseLock(lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// Close 关闭分布式锁客户端
	Close() error
}

// VoteLockName 用户投票编排的在飞锁名
func VoteLockName(fid int64) string {
	return fmt.Sprintf("brnd:vote:inflight:%d", fid)
}

// ClaimLockName 用户领奖编排的在飞锁名
func ClaimLockName(fid int64) string {
	return fmt.Sprintf("brnd:claim:inflight:%d", fid)
}
