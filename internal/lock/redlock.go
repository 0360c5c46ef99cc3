package lock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/brndland/brndvote/config"
)

// 只释放/续期自己持有的锁
const (
	releaseScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	refreshScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// RedLock 基于多个独立Redis节点的Redlock实现
type RedLock struct {
	clients []*redis.Client
	ctx     context.Context
	mu      sync.Mutex
	tokens  map[string]string // 锁名 -> 持有令牌
	retries int
}

func NewRedLock() (*RedLock, error) {
	ctx := context.Background()

	var clients []*redis.Client
	for _, addr := range config.AppConfig.Redis.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     config.AppConfig.Redis.Password,
			DB:           config.AppConfig.Redis.DB,
			PoolSize:     config.AppConfig.Redis.PoolSize,
			MaxRetries:   config.AppConfig.Redis.MaxRetries,
			DialTimeout:  config.AppConfig.Redis.Timeout,
			ReadTimeout:  config.AppConfig.Redis.Timeout,
			WriteTimeout: config.AppConfig.Redis.Timeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("Redis锁节点 %s 连接测试失败: %w", addr, err)
		}
		clients = append(clients, client)
	}

	return &RedLock{
		clients: clients,
		ctx:     ctx,
		tokens:  make(map[string]string),
		retries: config.AppConfig.Vote.LockRetryCount,
	}, nil
}

// quorum 多数派节点数
func (r *RedLock) quorum() int {
	return len(r.clients)/2 + 1
}

// AcquireLock 获取分布式锁，多数节点SetNX成功且剩余有效期为正才算持有
func (r *RedLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Unix())

	for i := 0; i < r.retries; i++ {
		start := time.Now()
		success := 0

		for _, client := range r.clients {
			ok, err := client.SetNX(r.ctx, lockName, token, timeout).Result()
			if err != nil {
				log.Printf("获取锁 %s 时节点失败: %v", lockName, err)
				continue
			}
			if ok {
				success++
			}
		}

		validity := timeout - time.Since(start)
		if success >= r.quorum() && validity > 0 {
			r.tokens[lockName] = token
			return true, nil
		}

		// 未达多数派，清理已占的节点再试
		r.unlockAll(lockName, token)
		time.Sleep(100 * time.Millisecond)
	}

	return false, nil
}

// RefreshLock 刷新锁的过期时间
func (r *RedLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[lockName]
	if !ok {
		return false, fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}

	success := 0
	for _, client := range r.clients {
		result, err := client.Eval(r.ctx, refreshScript, []string{lockName}, token, int(timeout/time.Millisecond)).Result()
		if err != nil {
			log.Printf("刷新锁 %s 时节点失败: %v", lockName, err)
			continue
		}
		if v, isInt := result.(int64); isInt && v == 1 {
			success++
		}
	}

	if success >= r.quorum() {
		return true, nil
	}

	delete(r.tokens, lockName)
	return false, nil
}

// ReleaseLock 释放分布式锁
func (r *RedLock) ReleaseLock(lockName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[lockName]
	if !ok {
		return fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}

	r.unlockAll(lockName, token)
	delete(r.tokens, lockName)
	return nil
}

// unlockAll 在所有节点上释放锁
func (r *RedLock) unlockAll(lockName string, token string) {
	for _, client := range r.clients {
		if _, err := client.Eval(r.ctx, releaseScript, []string{lockName}, token).Result(); err != nil {
			log.Printf("释放锁 %s 时节点失败: %v", lockName, err)
		}
	}
}

// ReleaseAllLocks 释放所有持有的锁
func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, token := range r.tokens {
		r.unlockAll(name, token)
	}
	r.tokens = make(map[string]string)
}

// Close 关闭分布式锁客户端
func (r *RedLock) Close() error {
	r.ReleaseAllLocks()

	for _, client := range r.clients {
		if err := client.Close(); err != nil {
			log.Printf("关闭Redis锁客户端失败: %v", err)
		}
	}
	return nil
}
