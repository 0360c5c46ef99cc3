package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/brndland/brndvote/config"
)

const lockKeyPrefix = "/brndvote/locks/"

// EtcdLock 基于etcd租约的分布式锁实现
type EtcdLock struct {
	client *clientv3.Client
	mu     sync.Mutex
	held   map[string]*heldLock
}

type heldLock struct {
	leaseID clientv3.LeaseID
	key     string
	cancel  context.CancelFunc // 停止自动续约
}

func NewETCDLock() (*EtcdLock, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   config.AppConfig.ETCD.Endpoints,
		DialTimeout: config.AppConfig.ETCD.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建etcd客户端失败: %w", err)
	}

	return &EtcdLock{
		client: cli,
		held:   make(map[string]*heldLock),
	}, nil
}

func (el *EtcdLock) ttlSeconds() int64 {
	ttl := int64(config.AppConfig.ETCD.SessionTTL / time.Second)
	if ttl <= 0 {
		ttl = 10
	}
	return ttl
}

// AcquireLock 获取分布式锁: 创建租约后用事务抢占键，抢占失败立即回收租约
func (el *EtcdLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	if _, ok := el.held[lockName]; ok {
		return false, fmt.Errorf("锁 %s 已被当前实例持有", lockName)
	}

	key := lockKeyPrefix + lockName
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	lease := clientv3.NewLease(el.client)
	grant, err := lease.Grant(ctx, el.ttlSeconds())
	if err != nil {
		return false, fmt.Errorf("创建租约失败: %w", err)
	}

	txn := el.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(grant.ID)))

	resp, err := txn.Commit()
	if err != nil {
		lease.Revoke(context.Background(), grant.ID)
		return false, fmt.Errorf("抢占锁事务失败: %w", err)
	}
	if !resp.Succeeded {
		lease.Revoke(context.Background(), grant.ID)
		return false, nil
	}

	keepCtx, keepCancel := context.WithCancel(context.Background())
	go el.keepAlive(keepCtx, grant.ID)

	el.held[lockName] = &heldLock{
		leaseID: grant.ID,
		key:     key,
		cancel:  keepCancel,
	}
	return true, nil
}

// RefreshLock 手动续约一次
func (el *EtcdLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	el.mu.Lock()
	defer el.mu.Unlock()

	entry, ok := el.held[lockName]
	if !ok {
		return false, fmt.Errorf("未持有锁 %s", lockName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := clientv3.NewLease(el.client).KeepAliveOnce(ctx, entry.leaseID)
	if err != nil {
		if err == rpctypes.ErrLeaseNotFound {
			delete(el.held, lockName)
			return false, nil
		}
		return false, fmt.Errorf("续约失败: %w", err)
	}
	return true, nil
}

// ReleaseLock 释放分布式锁
func (el *EtcdLock) ReleaseLock(lockName string) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	return el.release(lockName)
}

// ReleaseAllLocks 释放所有持有的锁
func (el *EtcdLock) ReleaseAllLocks() {
	el.mu.Lock()
	defer el.mu.Unlock()

	for name := range el.held {
		el.release(name)
	}
}

// Close 关闭分布式锁客户端
func (el *EtcdLock) Close() error {
	el.ReleaseAllLocks()
	return el.client.Close()
}

// keepAlive 按租约TTL的一半周期自动续约，直到释放
func (el *EtcdLock) keepAlive(ctx context.Context, leaseID clientv3.LeaseID) {
	lease := clientv3.NewLease(el.client)
	interval := time.Duration(el.ttlSeconds()/2) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := lease.KeepAliveOnce(ctx, leaseID); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (el *EtcdLock) release(lockName string) error {
	entry, ok := el.held[lockName]
	if !ok {
		return nil
	}

	entry.cancel()

	if _, err := el.client.Delete(context.Background(), entry.key); err != nil {
		return fmt.Errorf("删除锁键失败: %w", err)
	}
	if _, err := clientv3.NewLease(el.client).Revoke(context.Background(), entry.leaseID); err != nil {
		return fmt.Errorf("释放租约失败: %w", err)
	}

	delete(el.held, lockName)
	return nil
}
