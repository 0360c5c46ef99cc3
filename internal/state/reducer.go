package state

import (
	"github.com/brndland/brndvote/internal/model"
)

// Apply 把生命周期事件归并进用户快照，返回新快照，输入不被修改
// 所有乐观补丁与重拉合并都收敛在这里，调用方不做散落的局部更新
func Apply(cur *model.UserSnapshot, ev model.LifecycleEvent) *model.UserSnapshot {
	if cur == nil {
		if ev.Type == model.EventSnapshotRefetched && ev.Snapshot != nil {
			next := *ev.Snapshot
			return &next
		}
		return nil
	}

	next := *cur

	switch ev.Type {
	case model.EventVoteConfirmed:
		next.TodaysVoteStatus.HasVoted = true
		next.TodaysVoteStatus.Day = ev.Day
		if ev.VoteID != "" {
			next.TodaysVoteStatus.VoteID = ev.VoteID
		}
		if ev.TransactionHash != "" {
			next.TodaysVoteStatus.TransactionHash = ev.TransactionHash
		}
		next.ContextualTransaction = &model.ContextualTransaction{
			TransactionHash: ev.TransactionHash,
			TransactionType: model.TransactionTypeVote,
			Day:             ev.Day,
		}

	case model.EventShareVerified:
		next.TodaysVoteStatus.HasShared = true
		if ev.CastHash != "" {
			next.TodaysVoteStatus.CastHash = ev.CastHash
		}

	case model.EventClaimConfirmed:
		next.TodaysVoteStatus.HasClaimed = true
		// hasClaimed ⇒ hasShared ⇒ hasVoted
		next.TodaysVoteStatus.HasShared = true
		next.TodaysVoteStatus.HasVoted = true
		next.ContextualTransaction = &model.ContextualTransaction{
			TransactionHash: ev.TransactionHash,
			TransactionType: model.TransactionTypeClaim,
			RewardAmount:    ev.RewardAmount,
			CastHash:        ev.CastHash,
			Day:             ev.Day,
		}

	case model.EventSnapshotRefetched:
		if ev.Snapshot == nil {
			return &next
		}
		next = *ev.Snapshot
		// 同一天内后端回显可能落后于乐观补丁，状态位只进不退
		if next.TodaysVoteStatus.Day == cur.TodaysVoteStatus.Day {
			merged := &next.TodaysVoteStatus
			old := cur.TodaysVoteStatus
			merged.HasVoted = merged.HasVoted || old.HasVoted
			merged.HasShared = merged.HasShared || old.HasShared
			merged.HasClaimed = merged.HasClaimed || old.HasClaimed
			if merged.VoteID == "" {
				merged.VoteID = old.VoteID
			}
			if merged.TransactionHash == "" {
				merged.TransactionHash = old.TransactionHash
			}
			if merged.CastHash == "" {
				merged.CastHash = old.CastHash
			}
			if next.ContextualTransaction == nil {
				next.ContextualTransaction = cur.ContextualTransaction
			}
			// 当日品牌三连一旦出现不再变化
			if next.TodaysVote == nil {
				next.TodaysVote = cur.TodaysVote
			}
		}
	}

	return &next
}
