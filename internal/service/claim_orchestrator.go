package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/gateway"
	"github.com/brndland/brndvote/internal/lock"
	"github.com/brndland/brndvote/internal/model"
	"github.com/brndland/brndvote/internal/retry"
	"github.com/brndland/brndvote/internal/session"
)

// ClaimOrchestrator 领奖编排器，驱动 shared_not_claimed -> claimed 的转移
// 上链前本地校验签名资格，不满足条件时链上网关不会被触碰
type ClaimOrchestrator struct {
	chain    gateway.Chain
	shares   *ShareOrchestrator
	sessions *session.Manager
	events   EventPublisher
	dlock    lock.Lock // 可为nil

	mu   sync.Mutex
	busy map[int64]bool
}

func NewClaimOrchestrator(
	chain gateway.Chain,
	shares *ShareOrchestrator,
	sessions *session.Manager,
	events EventPublisher,
	dlock lock.Lock,
) *ClaimOrchestrator {
	return &ClaimOrchestrator{
		chain:    chain,
		shares:   shares,
		sessions: sessions,
		events:   events,
		dlock:    dlock,
		busy:     make(map[int64]bool),
	}
}

// Claim 用后端签名提交领奖交易
// 签名过期时静默换新后重试一次；用户拒绝按取消处理不报错；
// 交易确认后乐观置位hasClaimed并在后台轮询对账直到后端回写
func (o *ClaimOrchestrator) Claim(ctx context.Context, fid int64, castHash string, sig *model.ClaimSignature, day int64) error {
	if !o.acquire(fid) {
		return ErrOperationInFlight
	}
	defer o.release(fid)

	// 资格校验在一切链上交互之前
	if sig == nil || !sig.CanClaim {
		return ErrClaimNotEligible
	}
	if !o.chain.Connected() {
		return ErrWalletNotConnected
	}

	store := o.sessions.Get(fid)
	if err := store.EnsureLoaded(ctx); err != nil {
		return err
	}
	snapshot := store.Snapshot()
	if snapshot.TodaysVoteStatus.HasClaimed && snapshot.TodaysVoteStatus.Day == day {
		return ErrAlreadyClaimed
	}

	// 过期签名静默换新: 空castHash向后端补取，不重新发帖
	if sig.Expired(time.Now()) {
		fresh, err := o.refreshSignature(ctx, fid, snapshot)
		if err != nil {
			return ErrClaimSignatureExpired
		}
		sig = fresh
		if sig == nil || !sig.CanClaim {
			return ErrClaimNotEligible
		}
	}

	if err := o.chain.EnsureNetwork(ctx); err != nil {
		return err
	}

	txHash, err := o.chain.ClaimReward(ctx, &gateway.ClaimRequest{
		Recipient: o.chain.WalletAddress(),
		Amount:    gateway.BaseUnits(sig.Amount, config.AppConfig.Chain.TokenDecimals),
		FID:       fid,
		Day:       day,
		CastHash:  castHash,
		Deadline:  sig.Deadline,
		Signature: sig.Signature,
	})
	if err != nil {
		if gateway.IsUserRejection(err) {
			return gateway.ErrUserRejected
		}
		return fmt.Errorf("提交领奖交易失败: %w", err)
	}
	if err := o.chain.AwaitConfirmation(ctx, txHash); err != nil {
		return err
	}

	// 链上已确认，乐观置位让状态立即迁移到claimed
	event := model.LifecycleEvent{
		Type:            model.EventClaimConfirmed,
		FID:             fid,
		Day:             day,
		TransactionHash: txHash,
		CastHash:        castHash,
		RewardAmount:    sig.Amount,
		OccurredAt:      time.Now(),
	}
	store.Apply(event)
	if o.events != nil {
		if err := o.events.SendLifecycleEvent(&event); err != nil {
			log.Printf("发送领奖确认事件失败: %v", err)
		}
	}

	// 立即重拉一次，然后按计划轮询等后端回写hasClaimed
	if _, err := store.Refetch(ctx); err != nil {
		log.Printf("领奖后重拉快照失败: %v", err)
	}
	o.reconcile(ctx, fid, store)
	return nil
}

// refreshSignature 通过分享校验接口补取新签名，不发帖
func (o *ClaimOrchestrator) refreshSignature(ctx context.Context, fid int64, snapshot *model.UserSnapshot) (*model.ClaimSignature, error) {
	result, err := o.shares.RefreshClaimSignature(ctx, fid,
		snapshot.TodaysVoteStatus.VoteID, snapshot.TodaysVoteStatus.TransactionHash)
	if err != nil {
		return nil, err
	}
	return result.ClaimSignature, nil
}

// reconcile 有界轮询直到后端回写hasClaimed
// 耗尽不算失败: 乐观状态已经在位，后端最终会追平
func (o *ClaimOrchestrator) reconcile(ctx context.Context, fid int64, store *session.Store) {
	cfg := config.AppConfig.Claim
	err := retry.Until(ctx, retry.Schedule{
		InitialDelay: cfg.PollInitialDelay,
		Interval:     cfg.PollInterval,
		MaxElapsed:   cfg.PollMaxElapsed,
	}, func(ctx context.Context, attempt int) (bool, error) {
		snap, err := store.Refetch(ctx)
		if err != nil {
			log.Printf("领奖对账第%d次重拉失败: %v", attempt, err)
			return false, nil
		}
		if snap == nil {
			return true, nil // 会话已拆除
		}
		return snap.TodaysVoteStatus.HasClaimed, nil
	})
	if err != nil && errors.Is(err, retry.ErrExhausted) {
		log.Printf("用户 %d 领奖对账轮询耗尽，等待后端自然追平", fid)
	}
}

func (o *ClaimOrchestrator) acquire(fid int64) bool {
	o.mu.Lock()
	if o.busy[fid] {
		o.mu.Unlock()
		return false
	}
	o.busy[fid] = true
	o.mu.Unlock()

	if o.dlock != nil {
		ok, err := o.dlock.AcquireLock(lock.ClaimLockName(fid), config.AppConfig.Vote.LockTimeout)
		if err != nil || !ok {
			if err != nil {
				log.Printf("获取用户 %d 领奖锁失败: %v", fid, err)
			}
			o.mu.Lock()
			delete(o.busy, fid)
			o.mu.Unlock()
			return false
		}
	}
	return true
}

func (o *ClaimOrchestrator) release(fid int64) {
	if o.dlock != nil {
		if err := o.dlock.ReleaseLock(lock.ClaimLockName(fid)); err != nil {
			log.Printf("释放用户 %d 领奖锁失败: %v", fid, err)
		}
	}
	o.mu.Lock()
	delete(o.busy, fid)
	o.mu.Unlock()
}
