package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brndland/brndvote/internal/gateway"
	"github.com/brndland/brndvote/internal/model"
)

// stubBackend 可编程的后端网关
type stubBackend struct {
	mu       sync.Mutex
	snapshot *model.UserSnapshot
	meCalls  int
	meErr    error
	fallback *model.TodaysVote
}

func (b *stubBackend) Me(ctx context.Context) (*model.UserSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meCalls++
	if b.meErr != nil {
		return nil, b.meErr
	}
	cp := *b.snapshot
	return &cp, nil
}

func (b *stubBackend) FallbackVote(ctx context.Context, fid int64, day int64) (*model.TodaysVote, error) {
	return b.fallback, nil
}

func (b *stubBackend) AuthorizeWallet(ctx context.Context, walletAddress string, deadline int64) (*model.AuthPayload, error) {
	return nil, nil
}

func (b *stubBackend) AuthorizeVote(ctx context.Context, walletAddress string, brandIDs []uint64, deadline int64) (*model.AuthPayload, error) {
	return nil, nil
}

func (b *stubBackend) VerifyShare(ctx context.Context, req *gateway.VerifyShareRequest) (*gateway.VerifyShareResponse, error) {
	return nil, nil
}

func (b *stubBackend) LevelUp(ctx context.Context, newLevel int, walletAddress string, deadline int64) (*gateway.LevelUpResponse, error) {
	return nil, nil
}

func (b *stubBackend) VoteParameters(ctx context.Context) (*model.VoteParameters, error) {
	return nil, nil
}

func baseSnapshot() *model.UserSnapshot {
	return &model.UserSnapshot{
		FID: 42,
		TodaysVoteStatus: model.TodaysVoteStatus{
			Day: model.EpochDay(time.Now()),
		},
	}
}

// 会话内"/me"只拉一次
func TestEnsureLoadedFetchOnce(t *testing.T) {
	backend := &stubBackend{snapshot: baseSnapshot()}
	store := NewStore(42, backend, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.EnsureLoaded(context.Background()))
	}
	assert.Equal(t, 1, backend.meCalls)
}

// 拉取失败不置位，下一次调用重试
func TestEnsureLoadedRetriesAfterFailure(t *testing.T) {
	backend := &stubBackend{snapshot: baseSnapshot(), meErr: fmt.Errorf("后端不可用")}
	store := NewStore(42, backend, nil)

	require.Error(t, store.EnsureLoaded(context.Background()))

	backend.mu.Lock()
	backend.meErr = nil
	backend.mu.Unlock()

	require.NoError(t, store.EnsureLoaded(context.Background()))
	assert.Equal(t, 2, backend.meCalls)
	assert.NotNil(t, store.Snapshot())
}

// Snapshot返回副本，外部修改不影响存储
func TestSnapshotIsCopy(t *testing.T) {
	backend := &stubBackend{snapshot: baseSnapshot()}
	store := NewStore(42, backend, nil)
	require.NoError(t, store.EnsureLoaded(context.Background()))

	cp := store.Snapshot()
	cp.TodaysVoteStatus.HasVoted = true

	assert.False(t, store.Snapshot().TodaysVoteStatus.HasVoted)
}

// 事件归并立刻反映到派生状态
func TestApplyUpdatesVotingState(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.TodaysVote = &model.TodaysVote{
		ID:     "vote-abc",
		Brand1: &model.Brand{ID: 7},
		Brand2: &model.Brand{ID: 3},
		Brand3: &model.Brand{ID: 9},
	}
	backend := &stubBackend{snapshot: snapshot}
	store := NewStore(42, backend, nil)
	require.NoError(t, store.EnsureLoaded(context.Background()))

	assert.Equal(t, model.PhaseNotVoted, store.VotingState().Phase)

	store.Apply(model.LifecycleEvent{
		Type: model.EventVoteConfirmed, FID: 42,
		Day: snapshot.TodaysVoteStatus.Day, TransactionHash: "0xvote",
	})
	assert.Equal(t, model.PhaseVotedNotShared, store.VotingState().Phase)
}

// 重拉合并不回退乐观置位的状态
func TestRefetchMergesOptimisticBits(t *testing.T) {
	backend := &stubBackend{snapshot: baseSnapshot()}
	store := NewStore(42, backend, nil)
	require.NoError(t, store.EnsureLoaded(context.Background()))

	store.Apply(model.LifecycleEvent{
		Type: model.EventVoteConfirmed, FID: 42,
		Day: model.EpochDay(time.Now()), TransactionHash: "0xvote",
	})

	// 后端快照仍是未投票的旧状态
	merged, err := store.Refetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.True(t, merged.TodaysVoteStatus.HasVoted)
	assert.Equal(t, "0xvote", merged.TodaysVoteStatus.TransactionHash)
}

// 会话拆除后在飞结果被静默丢弃
func TestCloseDiscardsLateResults(t *testing.T) {
	backend := &stubBackend{snapshot: baseSnapshot()}
	store := NewStore(42, backend, nil)
	require.NoError(t, store.EnsureLoaded(context.Background()))

	store.Close()

	snap, err := store.Refetch(context.Background())
	assert.Error(t, err)
	assert.Nil(t, snap)
	assert.Nil(t, store.Snapshot())
}

// 跨日重置会话，下次访问重新拉取
func TestEnsureDayResets(t *testing.T) {
	old := baseSnapshot()
	old.TodaysVoteStatus.Day = model.EpochDay(time.Now()) - 1
	old.TodaysVoteStatus.HasVoted = true
	backend := &stubBackend{snapshot: old}
	store := NewStore(42, backend, nil)
	require.NoError(t, store.EnsureLoaded(context.Background()))

	store.EnsureDay(time.Now())
	assert.Nil(t, store.Snapshot())

	backend.mu.Lock()
	backend.snapshot = baseSnapshot()
	backend.mu.Unlock()

	require.NoError(t, store.EnsureLoaded(context.Background()))
	assert.Equal(t, 2, backend.meCalls)
	assert.False(t, store.Snapshot().TodaysVoteStatus.HasVoted)
}

// 兜底投票数据拉取并参与状态推导
func TestLoadFallbackVote(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.TodaysVoteStatus.HasVoted = true
	snapshot.TodaysVoteStatus.VoteID = "vote-abc"
	backend := &stubBackend{
		snapshot: snapshot,
		fallback: &model.TodaysVote{
			ID:     "vote-abc",
			Brand1: &model.Brand{ID: 7},
			Brand2: &model.Brand{ID: 3},
			Brand3: &model.Brand{ID: 9},
		},
	}
	store := NewStore(42, backend, nil)
	require.NoError(t, store.EnsureLoaded(context.Background()))

	vote, err := store.LoadFallbackVote(context.Background(), snapshot.TodaysVoteStatus.Day)
	require.NoError(t, err)
	require.NotNil(t, vote)

	state := store.VotingState()
	assert.Equal(t, model.PhaseVotedNotShared, state.Phase)
	require.Len(t, state.Brands, 3)
	assert.Equal(t, uint64(3), state.Brands[0].ID)
}

// 管理器按用户复用同一个会话存储
func TestManagerReusesStore(t *testing.T) {
	backend := &stubBackend{snapshot: baseSnapshot()}
	manager := NewManager(backend, nil)

	first := manager.Get(42)
	second := manager.Get(42)
	assert.Same(t, first, second)

	manager.Remove(42)
	third := manager.Get(42)
	assert.NotSame(t, first, third)
}
