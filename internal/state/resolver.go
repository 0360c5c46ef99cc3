package state

import (
	"github.com/brndland/brndvote/internal/model"
)

// Resolve 从用户快照和兜底投票数据推导当前投票生命周期状态
// 纯函数: 相同输入永远返回相同状态，按优先级逐条匹配，命中即返回
//
// snapshot为当日权威快照，可能过期或缺字段; snapshotLoading表示整体重拉进行中;
// fallbackVote为按日期兜底拉取的投票数据; fallbackLoading表示兜底拉取进行中
func Resolve(snapshot *model.UserSnapshot, snapshotLoading bool, fallbackVote *model.TodaysVote, fallbackLoading bool) model.VotingState {
	// 快照尚未就绪
	if snapshot == nil {
		return model.VotingState{Phase: model.PhaseLoading}
	}

	status := snapshot.TodaysVoteStatus

	// 优先使用快照内的当日投票，缺失时退到兜底数据
	vote := snapshot.TodaysVote
	if vote == nil {
		vote = fallbackVote
	}
	hasBrands := vote != nil && vote.Brand1 != nil && vote.Brand2 != nil && vote.Brand3 != nil

	// 乐观写入的交易哈希存在时，即使快照在重拉也不退回loading
	optimisticTx := status.TransactionHash != ""

	if snapshotLoading && !optimisticTx && !hasBrands {
		return model.VotingState{Phase: model.PhaseLoading}
	}

	// 已投票但品牌数据缺失: 兜底拉取进行中则等待，
	// 拉取已结束仍无数据时标记降级，提示用户刷新而不是静默展示错误视图
	if status.HasVoted && !hasBrands && !optimisticTx {
		if fallbackLoading {
			return model.VotingState{Phase: model.PhaseLoading}
		}
		return model.VotingState{Phase: model.PhaseNotVoted, Degraded: true}
	}

	// 后端尚未回写hasClaimed时，凭最近的claim交易加hasShared提前判定
	hasClaimed := status.HasClaimed
	ctxTx := snapshot.ContextualTransaction
	if !hasClaimed && ctxTx != nil && ctxTx.TransactionType == model.TransactionTypeClaim && status.HasShared {
		hasClaimed = true
	}

	switch {
	case hasClaimed && hasBrands:
		return model.VotingState{
			Phase:                model.PhaseClaimed,
			VoteID:               resolveVoteID(status, snapshot.TodaysVote, fallbackVote),
			VoteTransactionHash:  status.TransactionHash,
			CastHash:             resolveCastHash(status, ctxTx),
			ClaimTransactionHash: resolveClaimTxHash(status, ctxTx),
			Brands:               displayOrder(vote),
		}
	case status.HasShared && status.HasVoted && hasBrands:
		return model.VotingState{
			Phase:               model.PhaseSharedNotClaimed,
			VoteID:              resolveVoteID(status, snapshot.TodaysVote, fallbackVote),
			VoteTransactionHash: status.TransactionHash,
			CastHash:            resolveCastHash(status, ctxTx),
			Brands:              displayOrder(vote),
		}
	case status.HasVoted && hasBrands:
		return model.VotingState{
			Phase:               model.PhaseVotedNotShared,
			VoteID:              resolveVoteID(status, snapshot.TodaysVote, fallbackVote),
			VoteTransactionHash: status.TransactionHash,
			Brands:              displayOrder(vote),
		}
	default:
		return model.VotingState{Phase: model.PhaseNotVoted}
	}
}

// resolveVoteID 按优先级取第一个非空的投票标识
// 链上交易哈希发出后即可充当投票标识，没有独立的发号步骤
func resolveVoteID(status model.TodaysVoteStatus, vote *model.TodaysVote, fallback *model.TodaysVote) string {
	if status.VoteID != "" {
		return status.VoteID
	}
	if status.TransactionHash != "" {
		return status.TransactionHash
	}
	if vote != nil && vote.ID != "" {
		return vote.ID
	}
	if fallback != nil && fallback.ID != "" {
		return fallback.ID
	}
	return ""
}

func resolveCastHash(status model.TodaysVoteStatus, ctxTx *model.ContextualTransaction) string {
	if status.CastHash != "" {
		return status.CastHash
	}
	if ctxTx != nil {
		return ctxTx.CastHash
	}
	return ""
}

func resolveClaimTxHash(status model.TodaysVoteStatus, ctxTx *model.ContextualTransaction) string {
	if ctxTx != nil && ctxTx.TransactionType == model.TransactionTypeClaim {
		return ctxTx.TransactionHash
	}
	return ""
}

// displayOrder 按固定展示约定排列品牌: [第二名, 第一名, 第三名]
func displayOrder(vote *model.TodaysVote) []*model.Brand {
	if vote == nil {
		return nil
	}
	return []*model.Brand{vote.Brand2, vote.Brand1, vote.Brand3}
}
