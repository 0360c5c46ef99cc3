package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/gateway"
	"github.com/brndland/brndvote/internal/model"
)

// setTestConfig 测试用编排参数，轮询间隔压到最小让用例快速收敛
func setTestConfig(t *testing.T) {
	t.Helper()
	config.AppConfig.Chain.TokenDecimals = 0
	config.AppConfig.Vote.StatusRetryCount = 3
	config.AppConfig.Vote.StatusRetryDelay = time.Millisecond
	config.AppConfig.Claim.PollInitialDelay = time.Millisecond
	config.AppConfig.Claim.PollInterval = time.Millisecond
	config.AppConfig.Claim.PollMaxElapsed = 20 * time.Millisecond
	config.AppConfig.Share.EmbedBaseURL = "https://brnd.example/votes"
}

// fakeBackend 内存后端网关
type fakeBackend struct {
	mu sync.Mutex

	snapshot *model.UserSnapshot

	meCalls              int
	authorizeWalletCalls int
	authorizeVoteCalls   int
	verifyShareReqs    []*gateway.VerifyShareRequest
	verifyShareResp    *gateway.VerifyShareResponse
	verifyShareErr     error
	fallbackVote       *model.TodaysVote
}

func (b *fakeBackend) setSnapshot(s *model.UserSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = s
}

func (b *fakeBackend) Me(ctx context.Context) (*model.UserSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meCalls++
	if b.snapshot == nil {
		return nil, fmt.Errorf("快照未配置")
	}
	cp := *b.snapshot
	return &cp, nil
}

func (b *fakeBackend) FallbackVote(ctx context.Context, fid int64, day int64) (*model.TodaysVote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fallbackVote, nil
}

func (b *fakeBackend) AuthorizeWallet(ctx context.Context, walletAddress string, deadline int64) (*model.AuthPayload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authorizeWalletCalls++
	return &model.AuthPayload{WalletAddress: walletAddress, Deadline: deadline, Signature: "0xwalletsig"}, nil
}

func (b *fakeBackend) AuthorizeVote(ctx context.Context, walletAddress string, brandIDs []uint64, deadline int64) (*model.AuthPayload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authorizeVoteCalls++
	return &model.AuthPayload{WalletAddress: walletAddress, Deadline: deadline, Signature: "0xvotesig"}, nil
}

func (b *fakeBackend) VerifyShare(ctx context.Context, req *gateway.VerifyShareRequest) (*gateway.VerifyShareResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifyShareReqs = append(b.verifyShareReqs, req)
	if b.verifyShareErr != nil {
		return nil, b.verifyShareErr
	}
	return b.verifyShareResp, nil
}

func (b *fakeBackend) LevelUp(ctx context.Context, newLevel int, walletAddress string, deadline int64) (*gateway.LevelUpResponse, error) {
	return &gateway.LevelUpResponse{Eligible: true}, nil
}

func (b *fakeBackend) VoteParameters(ctx context.Context) (*model.VoteParameters, error) {
	return &model.VoteParameters{Day: model.EpochDay(time.Now()), BaseCost: 100, BaseReward: 50}, nil
}

// fakeChain 内存链上网关
type fakeChain struct {
	mu sync.Mutex

	connected  bool
	wallet     string
	balance    *big.Int
	allowance  *big.Int
	votedToday bool

	approveCalls []*big.Int
	voteCalls    [][]uint64
	claimCalls   []*gateway.ClaimRequest

	voteErr  error
	claimErr error

	// onVoteConfirmed 投票交易确认后回调，模拟后端落库
	onVoteConfirmed func(txHash string)
	// onClaim 领奖交易提交后回调，模拟后端落库
	onClaim func(txHash string)
}

func (c *fakeChain) Connected() bool {
	return c.connected
}

func (c *fakeChain) WalletAddress() string {
	return c.wallet
}

func (c *fakeChain) EnsureNetwork(ctx context.Context) error {
	return nil
}

func (c *fakeChain) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	return new(big.Int).Set(c.balance), nil
}

func (c *fakeChain) Allowance(ctx context.Context, owner string) (*big.Int, error) {
	return new(big.Int).Set(c.allowance), nil
}

func (c *fakeChain) Approve(ctx context.Context, amount *big.Int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approveCalls = append(c.approveCalls, new(big.Int).Set(amount))
	c.allowance = new(big.Int).Set(amount)
	return "0xapprove", nil
}

func (c *fakeChain) HasVotedToday(ctx context.Context, owner string, day int64) (bool, error) {
	return c.votedToday, nil
}

func (c *fakeChain) Vote(ctx context.Context, brandIDs []uint64, auth *model.AuthPayload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voteErr != nil {
		return "", c.voteErr
	}
	c.voteCalls = append(c.voteCalls, append([]uint64(nil), brandIDs...))
	return "0xvotetx", nil
}

func (c *fakeChain) ClaimReward(ctx context.Context, req *gateway.ClaimRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return "", c.claimErr
	}
	c.claimCalls = append(c.claimCalls, req)
	if c.onClaim != nil {
		c.onClaim("0xclaimtx")
	}
	return "0xclaimtx", nil
}

func (c *fakeChain) AwaitConfirmation(ctx context.Context, txHash string) error {
	if txHash == "0xvotetx" && c.onVoteConfirmed != nil {
		c.onVoteConfirmed(txHash)
	}
	return nil
}

// fakeSocial 内存社交网关
type fakeSocial struct {
	mu       sync.Mutex
	castHash string
	err      error
	calls    []*gateway.CastRequest
}

func (s *fakeSocial) ComposeCast(ctx context.Context, req *gateway.CastRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return "", s.err
	}
	return s.castHash, nil
}

// fakePublisher 内存事件发布端
type fakePublisher struct {
	mu     sync.Mutex
	events []*model.LifecycleEvent
}

func (p *fakePublisher) SendLifecycleEvent(event *model.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) eventTypes() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]model.EventType, len(p.events))
	for i, ev := range p.events {
		types[i] = ev.Type
	}
	return types
}

// notVotedSnapshot 当日未投票的用户快照
func notVotedSnapshot(fid int64, level int) *model.UserSnapshot {
	return &model.UserSnapshot{
		FID:            fid,
		Username:       "tester",
		WalletAddress:  "0xwallet",
		BrndPowerLevel: level,
		TodaysVoteStatus: model.TodaysVoteStatus{
			Day: model.EpochDay(time.Now()),
		},
	}
}

// votedSnapshot 已落库的投票快照，品牌 7/3/9 分列一二三名
func votedSnapshot(fid int64) *model.UserSnapshot {
	s := notVotedSnapshot(fid, 0)
	s.TodaysVoteStatus.HasVoted = true
	s.TodaysVoteStatus.VoteID = "vote-abc"
	s.TodaysVoteStatus.TransactionHash = "0xvotetx"
	s.TodaysVote = &model.TodaysVote{
		ID:     "vote-abc",
		Brand1: &model.Brand{ID: 7, Name: "Alpha", Handle: "alpha"},
		Brand2: &model.Brand{ID: 3, Name: "Beta", Handle: "beta"},
		Brand3: &model.Brand{ID: 9, Name: "Gamma", Handle: "gamma"},
	}
	return s
}
