package model

import (
	"time"
)

// Brand 品牌信息（只读，来自后端）
type Brand struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Handle   string `json:"handle"`
	ImageURL string `json:"imageUrl"`
	Score    int64  `json:"score"`
}

// TodaysVoteStatus 当日投票状态标志位
// 不变式: hasClaimed ⇒ hasShared ⇒ hasVoted
type TodaysVoteStatus struct {
	HasVoted        bool   `json:"hasVoted"`
	HasShared       bool   `json:"hasShared"`
	HasClaimed      bool   `json:"hasClaimed"`
	VoteID          string `json:"voteId,omitempty"`
	CastHash        string `json:"castHash,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Day             int64  `json:"day"`
}

// TodaysVote 当日已记录的三连投票，后端落库后才出现
// Brand1为第一名，Brand2为第二名，Brand3为第三名
type TodaysVote struct {
	ID     string `json:"id"`
	Brand1 *Brand `json:"brand1"`
	Brand2 *Brand `json:"brand2"`
	Brand3 *Brand `json:"brand3"`
}

// TransactionType 链上交易类型
type TransactionType string

const (
	TransactionTypeVote  TransactionType = "vote"
	TransactionTypeClaim TransactionType = "claim"
)

// ContextualTransaction 最近一次与展示相关的链上交易
type ContextualTransaction struct {
	TransactionHash string          `json:"transactionHash"`
	TransactionType TransactionType `json:"transactionType"`
	RewardAmount    int64           `json:"rewardAmount,omitempty"`
	CastHash        string          `json:"castHash,omitempty"`
	Day             int64           `json:"day,omitempty"`
}

// UserSnapshot 会话内缓存的用户快照，唯一的权威视图
// 仅通过编排器发出的乐观补丁或整体重拉更新，不做静默轮询
type UserSnapshot struct {
	FID                   int64                  `json:"fid"`
	Username              string                 `json:"username"`
	PhotoURL              string                 `json:"photoUrl,omitempty"`
	WalletAddress         string                 `json:"walletAddress,omitempty"`
	BrndPowerLevel        int                    `json:"brndPowerLevel"`
	TodaysVoteStatus      TodaysVoteStatus       `json:"todaysVoteStatus"`
	TodaysVote            *TodaysVote            `json:"todaysVote,omitempty"`
	ContextualTransaction *ContextualTransaction `json:"contextualTransaction,omitempty"`
}

// VotingPhase 投票生命周期阶段，同一时刻有且只有一个
type VotingPhase string

const (
	PhaseLoading         VotingPhase = "loading"
	PhaseNotVoted        VotingPhase = "not_voted"
	PhaseVotedNotShared  VotingPhase = "voted_not_shared"
	PhaseSharedNotClaimed VotingPhase = "shared_not_claimed"
	PhaseClaimed         VotingPhase = "claimed"
)

// VotingState UI渲染所需的派生状态，由解析器每次重新计算
// Brands按展示顺序排列: [第二名, 第一名, 第三名]
type VotingState struct {
	Phase                VotingPhase `json:"phase"`
	VoteID               string      `json:"voteId,omitempty"`
	VoteTransactionHash  string      `json:"voteTransactionHash,omitempty"`
	CastHash             string      `json:"castHash,omitempty"`
	ClaimTransactionHash string      `json:"claimTransactionHash,omitempty"`
	Brands               []*Brand    `json:"brands,omitempty"`

	// Degraded 表示已投票但品牌数据始终缺失，需要提示用户刷新而不是静默展示错误视图
	Degraded bool `json:"degraded,omitempty"`
}

// ClaimSignature 后端签发的限时领奖授权，过期需重新获取，不做持久化
type ClaimSignature struct {
	Signature string `json:"signature"`
	Amount    int64  `json:"amount"`
	Deadline  int64  `json:"deadline"`
	Nonce     string `json:"nonce"`
	CanClaim  bool   `json:"canClaim"`
}

// Expired 判断签名是否已过期
func (s *ClaimSignature) Expired(now time.Time) bool {
	return now.Unix() >= s.Deadline
}

// AuthPayload 后端签发的钱包绑定授权，随投票/升级调用内联上链
type AuthPayload struct {
	WalletAddress string `json:"walletAddress"`
	Deadline      int64  `json:"deadline"`
	Signature     string `json:"signature"`
}

// VoteParameters 投票成本与奖励参数（辅助数据，允许短暂过期）
type VoteParameters struct {
	Day        int64 `json:"day"`
	BaseCost   int64 `json:"baseCost"`
	BaseReward int64 `json:"baseReward"`
}

// EventType 生命周期事件类型
type EventType string

const (
	EventVoteConfirmed     EventType = "vote_confirmed"
	EventShareVerified     EventType = "share_verified"
	EventClaimConfirmed    EventType = "claim_confirmed"
	EventSnapshotRefetched EventType = "snapshot_refetched"
)

// LifecycleEvent 生命周期事件，归并器的唯一输入，同时写入Kafka事件流
type LifecycleEvent struct {
	Type            EventType `json:"type"`
	FID             int64     `json:"fid"`
	Day             int64     `json:"day"`
	VoteID          string    `json:"voteId,omitempty"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	CastHash        string    `json:"castHash,omitempty"`
	RewardAmount    int64     `json:"rewardAmount,omitempty"`
	BrandIDs        []uint64  `json:"brandIds,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`

	// Snapshot 仅在Type为snapshot_refetched时携带
	Snapshot *UserSnapshot `json:"snapshot,omitempty"`
}

// VoteResult 投票编排结果，交给分享编排器的入口
type VoteResult struct {
	VoteID          string   `json:"voteId"`
	TransactionHash string   `json:"transactionHash"`
	Brands          []*Brand `json:"brands"`
	Day             int64    `json:"day"`
}

// ShareResult 分享编排结果
type ShareResult struct {
	CastHash       string          `json:"castHash"`
	Day            int64           `json:"day"`
	ClaimSignature *ClaimSignature `json:"claimSignature,omitempty"`
}

// JournalEntry 生命周期日志条目（活动流查询用）
type JournalEntry struct {
	ID              int64     `json:"id"`
	FID             int64     `json:"fid"`
	Day             int64     `json:"day"`
	EventType       EventType `json:"eventType"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	CastHash        string    `json:"castHash,omitempty"`
	RewardAmount    int64     `json:"rewardAmount,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// EpochDay 计算UTC纪元日序号
func EpochDay(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}
