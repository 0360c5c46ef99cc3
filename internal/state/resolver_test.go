package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brndland/brndvote/internal/model"
)

func testBrands() *model.TodaysVote {
	return &model.TodaysVote{
		ID:     "vote-123",
		Brand1: &model.Brand{ID: 7, Name: "第一名品牌", Handle: "first"},
		Brand2: &model.Brand{ID: 3, Name: "第二名品牌", Handle: "second"},
		Brand3: &model.Brand{ID: 9, Name: "第三名品牌", Handle: "third"},
	}
}

// 快照缺失时始终处于loading
func TestResolveNilSnapshot(t *testing.T) {
	got := Resolve(nil, false, nil, false)
	assert.Equal(t, model.PhaseLoading, got.Phase)
}

// 四个稳定状态的基本推导
func TestResolvePhases(t *testing.T) {
	vote := testBrands()

	tests := []struct {
		name   string
		status model.TodaysVoteStatus
		want   model.VotingPhase
	}{
		{
			name:   "未投票",
			status: model.TodaysVoteStatus{},
			want:   model.PhaseNotVoted,
		},
		{
			name:   "已投票未分享",
			status: model.TodaysVoteStatus{HasVoted: true, VoteID: "vote-123"},
			want:   model.PhaseVotedNotShared,
		},
		{
			name:   "已分享未领奖",
			status: model.TodaysVoteStatus{HasVoted: true, HasShared: true, VoteID: "vote-123", CastHash: "0xcast"},
			want:   model.PhaseSharedNotClaimed,
		},
		{
			name:   "已领奖",
			status: model.TodaysVoteStatus{HasVoted: true, HasShared: true, HasClaimed: true, VoteID: "vote-123"},
			want:   model.PhaseClaimed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := &model.UserSnapshot{
				FID:              42,
				TodaysVoteStatus: tt.status,
				TodaysVote:       vote,
			}
			got := Resolve(snapshot, false, nil, false)
			assert.Equal(t, tt.want, got.Phase)
		})
	}
}

// 纯函数: 相同输入多次调用结果一致
func TestResolveDeterministic(t *testing.T) {
	snapshot := &model.UserSnapshot{
		FID: 42,
		TodaysVoteStatus: model.TodaysVoteStatus{
			HasVoted: true, HasShared: true, VoteID: "vote-123", CastHash: "0xcast",
		},
		TodaysVote: testBrands(),
	}

	first := Resolve(snapshot, false, nil, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Resolve(snapshot, false, nil, false))
	}
}

// 品牌展示顺序固定为 [第二名, 第一名, 第三名]
func TestResolveDisplayOrder(t *testing.T) {
	snapshot := &model.UserSnapshot{
		FID:              42,
		TodaysVoteStatus: model.TodaysVoteStatus{HasVoted: true, VoteID: "vote-123"},
		TodaysVote:       testBrands(),
	}

	got := Resolve(snapshot, false, nil, false)
	require.Len(t, got.Brands, 3)
	assert.Equal(t, uint64(3), got.Brands[0].ID)
	assert.Equal(t, uint64(7), got.Brands[1].ID)
	assert.Equal(t, uint64(9), got.Brands[2].ID)
}

// voteId按优先级取第一个非空: status.voteId > status.transactionHash > todaysVote.id > 兜底数据id
func TestResolveVoteIDPriority(t *testing.T) {
	vote := testBrands()
	fallback := &model.TodaysVote{
		ID:     "fallback-456",
		Brand1: vote.Brand1, Brand2: vote.Brand2, Brand3: vote.Brand3,
	}

	tests := []struct {
		name   string
		status model.TodaysVoteStatus
		vote   *model.TodaysVote
		want   string
	}{
		{
			name:   "优先status.voteId",
			status: model.TodaysVoteStatus{HasVoted: true, VoteID: "id-1", TransactionHash: "0xtx"},
			vote:   vote,
			want:   "id-1",
		},
		{
			name:   "其次交易哈希",
			status: model.TodaysVoteStatus{HasVoted: true, TransactionHash: "0xtx"},
			vote:   vote,
			want:   "0xtx",
		},
		{
			name:   "再次当日投票id",
			status: model.TodaysVoteStatus{HasVoted: true},
			vote:   vote,
			want:   "vote-123",
		},
		{
			name:   "最后兜底数据id",
			status: model.TodaysVoteStatus{HasVoted: true},
			vote:   nil,
			want:   "fallback-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := &model.UserSnapshot{
				FID:              42,
				TodaysVoteStatus: tt.status,
				TodaysVote:       tt.vote,
			}
			got := Resolve(snapshot, false, fallback, false)
			assert.Equal(t, tt.want, got.VoteID)
		})
	}
}

// 后端尚未回写hasClaimed时，凭最近的claim交易加hasShared提前判定为claimed
func TestResolveDerivedClaimed(t *testing.T) {
	snapshot := &model.UserSnapshot{
		FID: 42,
		TodaysVoteStatus: model.TodaysVoteStatus{
			HasVoted: true, HasShared: true, VoteID: "vote-123", CastHash: "0xcast",
		},
		TodaysVote: testBrands(),
		ContextualTransaction: &model.ContextualTransaction{
			TransactionHash: "0xclaim",
			TransactionType: model.TransactionTypeClaim,
		},
	}

	got := Resolve(snapshot, false, nil, false)
	assert.Equal(t, model.PhaseClaimed, got.Phase)
	assert.Equal(t, "0xclaim", got.ClaimTransactionHash)
}

// 未分享时claim交易不触发提前判定
func TestResolveClaimTxWithoutShare(t *testing.T) {
	snapshot := &model.UserSnapshot{
		FID:              42,
		TodaysVoteStatus: model.TodaysVoteStatus{HasVoted: true, VoteID: "vote-123"},
		TodaysVote:       testBrands(),
		ContextualTransaction: &model.ContextualTransaction{
			TransactionHash: "0xclaim",
			TransactionType: model.TransactionTypeClaim,
		},
	}

	got := Resolve(snapshot, false, nil, false)
	assert.Equal(t, model.PhaseVotedNotShared, got.Phase)
}

// 已投票但品牌数据缺失: 兜底拉取进行中等待，结束后标记降级
func TestResolveMissingBrands(t *testing.T) {
	snapshot := &model.UserSnapshot{
		FID:              42,
		TodaysVoteStatus: model.TodaysVoteStatus{HasVoted: true, VoteID: "vote-123"},
	}

	loading := Resolve(snapshot, false, nil, true)
	assert.Equal(t, model.PhaseLoading, loading.Phase)

	settled := Resolve(snapshot, false, nil, false)
	assert.Equal(t, model.PhaseNotVoted, settled.Phase)
	assert.True(t, settled.Degraded)
}

// 快照重拉进行中: 没有乐观交易哈希也没有品牌数据时退回loading，
// 乐观交易哈希在位时保持当前状态不闪回
func TestResolveRefetchInProgress(t *testing.T) {
	bare := &model.UserSnapshot{FID: 42}
	got := Resolve(bare, true, nil, false)
	assert.Equal(t, model.PhaseLoading, got.Phase)

	optimistic := &model.UserSnapshot{
		FID: 42,
		TodaysVoteStatus: model.TodaysVoteStatus{
			HasVoted: true, TransactionHash: "0xtx",
		},
		TodaysVote: testBrands(),
	}
	got = Resolve(optimistic, true, nil, false)
	assert.Equal(t, model.PhaseVotedNotShared, got.Phase)
}

// 快照无当日投票时使用兜底数据渲染品牌
func TestResolveFallbackBrands(t *testing.T) {
	snapshot := &model.UserSnapshot{
		FID:              42,
		TodaysVoteStatus: model.TodaysVoteStatus{HasVoted: true, VoteID: "vote-123"},
	}
	fallback := testBrands()

	got := Resolve(snapshot, false, fallback, false)
	assert.Equal(t, model.PhaseVotedNotShared, got.Phase)
	require.Len(t, got.Brands, 3)
	assert.Equal(t, uint64(3), got.Brands[0].ID)
}
