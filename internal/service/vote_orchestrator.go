package service

import (
	"context"
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
	"github.com/brndland/brndvote/internal/state"
)

// EventPublisher 生命周期事件发布端
type EventPublisher interface {
	SendLifecycleEvent(event *model.LifecycleEvent) error
}

// pendingVote 等待approve确认后自动重投的投票参数
type pendingVote struct {
	brandIDs []uint64
	auth     *model.AuthPayload
}

// VoteOrchestrator 投票编排器，驱动 not_voted -> voted_not_shared 的转移
// 同一用户同一时刻只允许一次在飞投票，重复调用直接被忽略
type VoteOrchestrator struct {
	backend  gateway.Backend
	chain    gateway.Chain
	sessions *session.Manager
	events   EventPublisher
	dlock    lock.Lock // 可为nil，跨实例在飞守卫
	decimals int

	mu      sync.Mutex
	busy    map[int64]bool
	pending map[int64]*pendingVote
}

func NewVoteOrchestrator(
	backend gateway.Backend,
	chain gateway.Chain,
	sessions *session.Manager,
	events EventPublisher,
	dlock lock.Lock,
) *VoteOrchestrator {
	return &VoteOrchestrator{
		backend:  backend,
		chain:    chain,
		sessions: sessions,
		events:   events,
		dlock:    dlock,
		decimals: config.AppConfig.Chain.TokenDecimals,
		busy:     make(map[int64]bool),
		pending:  make(map[int64]*pendingVote),
	}
}

// SubmitVote 为用户提交当日投票
// 校验 -> 支付策略 -> (必要时)授权 -> (必要时)approve两阶段 -> 投票上链 -> 等待后端回显
// 任何失败路径都会清空在飞标志和待重投数据，不留下卡死状态
func (o *VoteOrchestrator) SubmitVote(ctx context.Context, fid int64, brandIDs []uint64) (result *model.VoteResult, err error) {
	if !o.acquire(fid) {
		return nil, ErrOperationInFlight
	}
	defer func() {
		o.release(fid)
		if err != nil {
			o.clearPending(fid)
		}
	}()

	// 校验: 3个互不相同的品牌
	if err := validateSelection(brandIDs); err != nil {
		return nil, err
	}

	store := o.sessions.Get(fid)
	if err := store.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	snapshot := store.Snapshot()
	day := model.EpochDay(time.Now())

	// 快照与链上双重检查当日未投票
	if snapshot.TodaysVoteStatus.HasVoted && snapshot.TodaysVoteStatus.Day == day {
		return nil, ErrAlreadyVoted
	}
	if !o.chain.Connected() {
		return nil, ErrWalletNotConnected
	}
	wallet := o.chain.WalletAddress()
	voted, err := o.chain.HasVotedToday(ctx, wallet, day)
	if err != nil {
		return nil, fmt.Errorf("检查链上投票状态失败: %w", err)
	}
	if voted {
		return nil, ErrAlreadyVoted
	}

	// 支付策略: 按等级计算成本并与链上余额比较
	required := gateway.BaseUnits(state.VoteCost(snapshot.BrndPowerLevel), o.decimals)
	balance, err := o.chain.BalanceOf(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("读取余额失败: %w", err)
	}
	if balance.Cmp(required) < 0 {
		return nil, ErrInsufficientBalance
	}

	if err := o.chain.EnsureNetwork(ctx); err != nil {
		return nil, err
	}

	// 钱包尚未绑定用户身份时先取绑定授权，再取投票授权
	// 两份授权都随投票调用内联上链，不产生独立的授权交易
	deadline := time.Now().Add(10 * time.Minute).Unix()
	if snapshot.WalletAddress == "" || snapshot.WalletAddress != wallet {
		if _, err := o.backend.AuthorizeWallet(ctx, wallet, deadline); err != nil {
			return nil, err
		}
	}
	auth, err := o.backend.AuthorizeVote(ctx, wallet, brandIDs, deadline)
	if err != nil {
		return nil, err
	}

	// 额度不足时先approve，确认事件触发第二阶段自动重投，用户无需再次发起
	allowance, err := o.chain.Allowance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("读取授权额度失败: %w", err)
	}
	if allowance.Cmp(required) < 0 {
		o.storePending(fid, &pendingVote{brandIDs: brandIDs, auth: auth})

		approveTx, err := o.chain.Approve(ctx, required)
		if err != nil {
			if gateway.IsUserRejection(err) {
				return nil, gateway.ErrUserRejected
			}
			return nil, fmt.Errorf("提交approve交易失败: %w", err)
		}
		if err := o.chain.AwaitConfirmation(ctx, approveTx); err != nil {
			return nil, err
		}
		return o.onApproveConfirmed(ctx, fid, store, day)
	}

	return o.submitOnChain(ctx, fid, store, day, brandIDs, auth)
}

// onApproveConfirmed approve确认后的第二阶段: 取出暂存的投票参数自动重投
func (o *VoteOrchestrator) onApproveConfirmed(ctx context.Context, fid int64, store *session.Store, day int64) (*model.VoteResult, error) {
	pv := o.takePending(fid)
	if pv == nil {
		return nil, fmt.Errorf("approve已确认但待重投数据缺失")
	}
	return o.submitOnChain(ctx, fid, store, day, pv.brandIDs, pv.auth)
}

// submitOnChain 提交投票交易并等待后端回显voteId
func (o *VoteOrchestrator) submitOnChain(ctx context.Context, fid int64, store *session.Store, day int64, brandIDs []uint64, auth *model.AuthPayload) (*model.VoteResult, error) {
	txHash, err := o.chain.Vote(ctx, brandIDs, auth)
	if err != nil {
		if gateway.IsUserRejection(err) {
			return nil, gateway.ErrUserRejected
		}
		return nil, fmt.Errorf("提交投票交易失败: %w", err)
	}
	if err := o.chain.AwaitConfirmation(ctx, txHash); err != nil {
		return nil, err
	}

	// 乐观补丁先行，解析器立刻能给出voted_not_shared
	event := model.LifecycleEvent{
		Type:            model.EventVoteConfirmed,
		FID:             fid,
		Day:             day,
		TransactionHash: txHash,
		BrandIDs:        brandIDs,
		OccurredAt:      time.Now(),
	}
	store.Apply(event)
	if o.events != nil {
		if err := o.events.SendLifecycleEvent(&event); err != nil {
			log.Printf("发送投票确认事件失败: %v", err)
		}
	}

	// 轮询重拉，等后端回显voteId，延迟线性递增
	var latest *model.UserSnapshot
	pollErr := retry.Until(ctx, retry.Schedule{
		LinearStep:  config.AppConfig.Vote.StatusRetryDelay,
		MaxAttempts: config.AppConfig.Vote.StatusRetryCount,
	}, func(ctx context.Context, attempt int) (bool, error) {
		snap, err := store.Refetch(ctx)
		if err != nil {
			log.Printf("等待投票回显第%d次重拉失败: %v", attempt, err)
			return false, nil
		}
		if snap == nil {
			return true, nil // 会话已拆除
		}
		latest = snap
		return snap.TodaysVoteStatus.VoteID != "", nil
	})

	result := &model.VoteResult{
		VoteID:          txHash, // 交易哈希先充当投票标识
		TransactionHash: txHash,
		Day:             day,
	}
	if latest != nil {
		if latest.TodaysVoteStatus.VoteID != "" {
			result.VoteID = latest.TodaysVoteStatus.VoteID
		}
		if latest.TodaysVote != nil {
			result.Brands = []*model.Brand{latest.TodaysVote.Brand2, latest.TodaysVote.Brand1, latest.TodaysVote.Brand3}
		}
	}
	if pollErr != nil {
		// 重试耗尽时退回通用成功路径，解析器在数据到达后自会收敛
		log.Printf("等待投票回显超时: %v，按通用成功处理", pollErr)
	}
	return result, nil
}

func validateSelection(brandIDs []uint64) error {
	if len(brandIDs) != 3 {
		return ErrInvalidSelection
	}
	seen := make(map[uint64]bool, 3)
	for _, id := range brandIDs {
		if id == 0 || seen[id] {
			return ErrInvalidSelection
		}
		seen[id] = true
	}
	return nil
}

// acquire 在飞守卫: 本地busy标志加可选的跨实例分布式锁
func (o *VoteOrchestrator) acquire(fid int64) bool {
	o.mu.Lock()
	if o.busy[fid] {
		o.mu.Unlock()
		return false
	}
	o.busy[fid] = true
	o.mu.Unlock()

	if o.dlock != nil {
		ok, err := o.dlock.AcquireLock(lock.VoteLockName(fid), config.AppConfig.Vote.LockTimeout)
		if err != nil || !ok {
			if err != nil {
				log.Printf("获取用户 %d 投票锁失败: %v", fid, err)
			}
			o.mu.Lock()
			delete(o.busy, fid)
			o.mu.Unlock()
			return false
		}
	}
	return true
}

func (o *VoteOrchestrator) release(fid int64) {
	if o.dlock != nil {
		if err := o.dlock.ReleaseLock(lock.VoteLockName(fid)); err != nil {
			log.Printf("释放用户 %d 投票锁失败: %v", fid, err)
		}
	}
	o.mu.Lock()
	delete(o.busy, fid)
	o.mu.Unlock()
}

func (o *VoteOrchestrator) storePending(fid int64, pv *pendingVote) {
	o.mu.Lock()
	o.pending[fid] = pv
	o.mu.Unlock()
}

func (o *VoteOrchestrator) takePending(fid int64) *pendingVote {
	o.mu.Lock()
	defer o.mu.Unlock()
	pv := o.pending[fid]
	delete(o.pending, fid)
	return pv
}

func (o *VoteOrchestrator) clearPending(fid int64) {
	o.mu.Lock()
	delete(o.pending, fid)
	o.mu.Unlock()
}
