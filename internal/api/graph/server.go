package graph

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/gateway"
	"github.com/brndland/brndvote/internal/model"
	"github.com/brndland/brndvote/internal/repository"
	"github.com/brndland/brndvote/internal/service"
	"github.com/brndland/brndvote/internal/session"
)

// GraphQLServer GraphQL服务器，gin承载API端点和健康检查
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
	engine   *gin.Engine
}

// 读取GraphQL Schema定义
const schemaString = `
type Brand {
  id: ID!
  name: String!
  handle: String!
  imageUrl: String!
  score: String!
}

type VotingState {
  # loading | not_voted | voted_not_shared | shared_not_claimed | claimed
  phase: String!
  voteId: String!
  voteTransactionHash: String!
  castHash: String!
  claimTransactionHash: String!
  # 展示顺序: [第二名, 第一名, 第三名]
  brands: [Brand!]!
  degraded: Boolean!
}

type ClaimSignature {
  signature: String!
  amount: String!
  deadline: String!
  nonce: String!
  canClaim: Boolean!
}

input ClaimSignatureInput {
  signature: String!
  amount: String!
  deadline: String!
  nonce: String!
  canClaim: Boolean!
}

type VoteResponse {
  success: Boolean!
  message: String!
  cancelled: Boolean!
  voteId: String!
  transactionHash: String!
  day: Int!
  brands: [Brand!]!
}

type ShareResponse {
  success: Boolean!
  message: String!
  cancelled: Boolean!
  castHash: String!
  day: Int!
  claimSignature: ClaimSignature
}

type ClaimResponse {
  success: Boolean!
  message: String!
  cancelled: Boolean!
}

type LevelUpResponse {
  eligible: Boolean!
  reason: String!
}

type VoteParameters {
  day: Int!
  baseCost: Int!
  baseReward: Int!
}

type ActivityEntry {
  day: Int!
  eventType: String!
  transactionHash: String!
  castHash: String!
  rewardAmount: String!
  createdAt: String!
}

type Query {
  # 当前投票生命周期状态（解析器每次重新推导）
  votingState(fid: Int!): VotingState!

  # 投票成本与奖励参数
  voteParameters: VoteParameters!

  # 用户最近的生命周期事件
  recentActivity(fid: Int!, limit: Int!): [ActivityEntry!]!
}

type Mutation {
  # 提交当日投票
  submitVote(fid: Int!, brandIds: [ID!]!): VoteResponse!

  # 发布分享帖并换取领奖签名
  shareVote(fid: Int!): ShareResponse!

  # 用领奖签名提交领奖交易
  claimReward(fid: Int!, castHash: String!, day: Int!, signature: ClaimSignatureInput!): ClaimResponse!

  # 请求升级资格校验
  levelUp(fid: Int!, newLevel: Int!): LevelUpResponse!

  # 登出，拆除用户会话
  logout(fid: Int!): Boolean!
}

schema {
  query: Query
  mutation: Mutation
}
`

// NewGraphQLServer 创建新的GraphQL服务器
func NewGraphQLServer(
	votes *service.VoteOrchestrator,
	shares *service.ShareOrchestrator,
	claims *service.ClaimOrchestrator,
	sessions *session.Manager,
	backend gateway.Backend,
	chain gateway.Chain,
	cache *repository.RedisRepository,
	journal *repository.MySQLRepository,
) *GraphQLServer {
	resolver := NewResolver(votes, shares, claims, sessions, backend, chain, cache, journal)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	handler := &relay.Handler{Schema: schema}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST(config.AppConfig.GraphQL.Path, gin.WrapH(handler))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html", []byte(playgroundHTML))
	})

	return &GraphQLServer{
		schema:   schema,
		handler:  handler,
		resolver: resolver,
		engine:   engine,
	}
}

// Start 启动GraphQL服务器
func (s *GraphQLServer) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("GraphQL服务已启动，API端点: %s, Playground: http://localhost%s/",
		config.AppConfig.GraphQL.Path, addr)
	return s.engine.Run(addr)
}

// Resolver GraphQL解析器
type Resolver struct {
	votes    *service.VoteOrchestrator
	shares   *service.ShareOrchestrator
	claims   *service.ClaimOrchestrator
	sessions *session.Manager
	backend  gateway.Backend
	chain    gateway.Chain
	cache    *repository.RedisRepository
	journal  *repository.MySQLRepository
}

// NewResolver 创建新的解析器
func NewResolver(
	votes *service.VoteOrchestrator,
	shares *service.ShareOrchestrator,
	claims *service.ClaimOrchestrator,
	sessions *session.Manager,
	backend gateway.Backend,
	chain gateway.Chain,
	cache *repository.RedisRepository,
	journal *repository.MySQLRepository,
) *Resolver {
	return &Resolver{
		votes:    votes,
		shares:   shares,
		claims:   claims,
		sessions: sessions,
		backend:  backend,
		chain:    chain,
		cache:    cache,
		journal:  journal,
	}
}

// VotingState 推导当前投票生命周期状态
// 快照缺当日投票数据时触发一次兜底拉取，再交给解析器
func (r *Resolver) VotingState(ctx context.Context, args struct{ Fid int32 }) (*VotingStateResolver, error) {
	fid := int64(args.Fid)
	store := r.sessions.Get(fid)
	store.EnsureDay(time.Now())

	if err := store.EnsureLoaded(ctx); err != nil {
		log.Printf("加载用户 %d 快照失败: %v", fid, err)
		return &VotingStateResolver{state: model.VotingState{Phase: model.PhaseLoading}}, nil
	}

	snapshot := store.Snapshot()
	if snapshot != nil && snapshot.TodaysVoteStatus.HasVoted && snapshot.TodaysVote == nil {
		if _, err := store.LoadFallbackVote(ctx, snapshot.TodaysVoteStatus.Day); err != nil {
			log.Printf("兜底拉取用户 %d 当日投票失败: %v", fid, err)
		}
	}

	return &VotingStateResolver{state: store.VotingState()}, nil
}

// VoteParameters 投票参数，优先走Redis缓存
func (r *Resolver) VoteParameters(ctx context.Context) (*VoteParametersResolver, error) {
	day := model.EpochDay(time.Now())
	if r.cache != nil {
		params, found, err := r.cache.GetVoteParameters(day)
		if err != nil {
			log.Printf("读取投票参数缓存失败: %v", err)
		}
		if found {
			return &VoteParametersResolver{params: params}, nil
		}
	}

	params, err := r.backend.VoteParameters(ctx)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.SetVoteParameters(params); err != nil {
			log.Printf("写入投票参数缓存失败: %v", err)
		}
	}
	return &VoteParametersResolver{params: params}, nil
}

// RecentActivity 查询用户最近的生命周期事件
func (r *Resolver) RecentActivity(ctx context.Context, args struct {
	Fid   int32
	Limit int32
}) ([]*ActivityEntryResolver, error) {
	limit := int(args.Limit)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	entries, err := r.journal.RecentEvents(int64(args.Fid), limit)
	if err != nil {
		return nil, err
	}
	resolvers := make([]*ActivityEntryResolver, len(entries))
	for i, entry := range entries {
		resolvers[i] = &ActivityEntryResolver{entry: entry}
	}
	return resolvers, nil
}

// SubmitVote 提交当日投票
func (r *Resolver) SubmitVote(ctx context.Context, args struct {
	Fid      int32
	BrandIds []graphql.ID
}) (*VoteResponseResolver, error) {
	fid := int64(args.Fid)

	brandIDs := make([]uint64, 0, len(args.BrandIds))
	for _, raw := range args.BrandIds {
		id, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return &VoteResponseResolver{message: service.ErrInvalidSelection.Error()}, nil
		}
		brandIDs = append(brandIDs, id)
	}

	result, err := r.votes.SubmitVote(ctx, fid, brandIDs)
	if err != nil {
		if service.IsSilentCancellation(err) {
			return &VoteResponseResolver{cancelled: true}, nil
		}
		return &VoteResponseResolver{message: service.UserMessage(err)}, nil
	}

	return &VoteResponseResolver{success: true, result: result}, nil
}

// ShareVote 发布分享帖并换取领奖签名，投票数据从会话快照取
func (r *Resolver) ShareVote(ctx context.Context, args struct{ Fid int32 }) (*ShareResponseResolver, error) {
	fid := int64(args.Fid)
	store := r.sessions.Get(fid)
	if err := store.EnsureLoaded(ctx); err != nil {
		return &ShareResponseResolver{message: service.UserMessage(err)}, nil
	}

	state := store.VotingState()
	if state.Phase != model.PhaseVotedNotShared && state.Phase != model.PhaseSharedNotClaimed {
		return &ShareResponseResolver{message: "当前状态不可分享"}, nil
	}

	result, err := r.shares.ShareAndVerify(ctx, fid, state.Brands, state.VoteID, state.VoteTransactionHash)
	if err != nil {
		if service.IsSilentCancellation(err) {
			return &ShareResponseResolver{cancelled: true}, nil
		}
		return &ShareResponseResolver{message: service.UserMessage(err)}, nil
	}

	return &ShareResponseResolver{success: true, result: result}, nil
}

// ClaimReward 用领奖签名提交领奖交易
func (r *Resolver) ClaimReward(ctx context.Context, args struct {
	Fid       int32
	CastHash  string
	Day       int32
	Signature ClaimSignatureInput
}) (*ClaimResponseResolver, error) {
	fid := int64(args.Fid)

	amount, err := strconv.ParseInt(args.Signature.Amount, 10, 64)
	if err != nil {
		return &ClaimResponseResolver{message: fmt.Sprintf("解析奖励数额失败: %v", err)}, nil
	}
	deadline, err := strconv.ParseInt(args.Signature.Deadline, 10, 64)
	if err != nil {
		return &ClaimResponseResolver{message: fmt.Sprintf("解析签名有效期失败: %v", err)}, nil
	}

	sig := &model.ClaimSignature{
		Signature: args.Signature.Signature,
		Amount:    amount,
		Deadline:  deadline,
		Nonce:     args.Signature.Nonce,
		CanClaim:  args.Signature.CanClaim,
	}

	if err := r.claims.Claim(ctx, fid, args.CastHash, sig, int64(args.Day)); err != nil {
		if service.IsSilentCancellation(err) {
			return &ClaimResponseResolver{cancelled: true}, nil
		}
		return &ClaimResponseResolver{message: service.UserMessage(err)}, nil
	}

	return &ClaimResponseResolver{success: true}, nil
}

// LevelUp 请求升级资格校验
func (r *Resolver) LevelUp(ctx context.Context, args struct {
	Fid      int32
	NewLevel int32
}) (*LevelUpResponseResolver, error) {
	fid := int64(args.Fid)
	deadline := time.Now().Add(10 * time.Minute).Unix()

	resp, err := r.backend.LevelUp(ctx, int(args.NewLevel), r.chain.WalletAddress(), deadline)
	if err != nil {
		return &LevelUpResponseResolver{reason: service.UserMessage(err)}, nil
	}

	// 升级生效后重拉快照，让新等级对投票成本计算可见
	if resp.Eligible {
		store := r.sessions.Get(fid)
		if _, err := store.Refetch(ctx); err != nil {
			log.Printf("升级后重拉用户 %d 快照失败: %v", fid, err)
		}
	}

	return &LevelUpResponseResolver{eligible: resp.Eligible, reason: resp.Reason}, nil
}

// Logout 拆除用户会话，之后到达的在飞结果全部丢弃
func (r *Resolver) Logout(ctx context.Context, args struct{ Fid int32 }) (bool, error) {
	r.sessions.Remove(int64(args.Fid))
	return true, nil
}

// ClaimSignatureInput 领奖签名输入类型
type ClaimSignatureInput struct {
	Signature string
	Amount    string
	Deadline  string
	Nonce     string
	CanClaim  bool
}

// BrandResolver 品牌解析器
type BrandResolver struct {
	brand *model.Brand
}

func (r *BrandResolver) ID() graphql.ID {
	return graphql.ID(strconv.FormatUint(r.brand.ID, 10))
}

func (r *BrandResolver) Name() string {
	return r.brand.Name
}

func (r *BrandResolver) Handle() string {
	return r.brand.Handle
}

func (r *BrandResolver) ImageUrl() string {
	return r.brand.ImageURL
}

func (r *BrandResolver) Score() string {
	return strconv.FormatInt(r.brand.Score, 10)
}

func brandResolvers(brands []*model.Brand) []*BrandResolver {
	resolvers := make([]*BrandResolver, 0, len(brands))
	for _, b := range brands {
		if b != nil {
			resolvers = append(resolvers, &BrandResolver{brand: b})
		}
	}
	return resolvers
}

// VotingStateResolver 投票状态解析器
type VotingStateResolver struct {
	state model.VotingState
}

func (r *VotingStateResolver) Phase() string {
	return string(r.state.Phase)
}

func (r *VotingStateResolver) VoteId() string {
	return r.state.VoteID
}

func (r *VotingStateResolver) VoteTransactionHash() string {
	return r.state.VoteTransactionHash
}

func (r *VotingStateResolver) CastHash() string {
	return r.state.CastHash
}

func (r *VotingStateResolver) ClaimTransactionHash() string {
	return r.state.ClaimTransactionHash
}

func (r *VotingStateResolver) Brands() []*BrandResolver {
	return brandResolvers(r.state.Brands)
}

func (r *VotingStateResolver) Degraded() bool {
	return r.state.Degraded
}

// ClaimSignatureResolver 领奖签名解析器
type ClaimSignatureResolver struct {
	sig *model.ClaimSignature
}

func (r *ClaimSignatureResolver) Signature() string {
	return r.sig.Signature
}

func (r *ClaimSignatureResolver) Amount() string {
	return strconv.FormatInt(r.sig.Amount, 10)
}

func (r *ClaimSignatureResolver) Deadline() string {
	return strconv.FormatInt(r.sig.Deadline, 10)
}

func (r *ClaimSignatureResolver) Nonce() string {
	return r.sig.Nonce
}

func (r *ClaimSignatureResolver) CanClaim() bool {
	return r.sig.CanClaim
}

// VoteResponseResolver 投票响应解析器
type VoteResponseResolver struct {
	success   bool
	cancelled bool
	message   string
	result    *model.VoteResult
}

func (r *VoteResponseResolver) Success() bool {
	return r.success
}

func (r *VoteResponseResolver) Message() string {
	return r.message
}

func (r *VoteResponseResolver) Cancelled() bool {
	return r.cancelled
}

func (r *VoteResponseResolver) VoteId() string {
	if r.result == nil {
		return ""
	}
	return r.result.VoteID
}

func (r *VoteResponseResolver) TransactionHash() string {
	if r.result == nil {
		return ""
	}
	return r.result.TransactionHash
}

func (r *VoteResponseResolver) Day() int32 {
	if r.result == nil {
		return 0
	}
	return int32(r.result.Day)
}

func (r *VoteResponseResolver) Brands() []*BrandResolver {
	if r.result == nil {
		return []*BrandResolver{}
	}
	return brandResolvers(r.result.Brands)
}

// ShareResponseResolver 分享响应解析器
type ShareResponseResolver struct {
	success   bool
	cancelled bool
	message   string
	result    *model.ShareResult
}

func (r *ShareResponseResolver) Success() bool {
	return r.success
}

func (r *ShareResponseResolver) Message() string {
	return r.message
}

func (r *ShareResponseResolver) Cancelled() bool {
	return r.cancelled
}

func (r *ShareResponseResolver) CastHash() string {
	if r.result == nil {
		return ""
	}
	return r.result.CastHash
}

func (r *ShareResponseResolver) Day() int32 {
	if r.result == nil {
		return 0
	}
	return int32(r.result.Day)
}

func (r *ShareResponseResolver) ClaimSignature() *ClaimSignatureResolver {
	if r.result == nil || r.result.ClaimSignature == nil {
		return nil
	}
	return &ClaimSignatureResolver{sig: r.result.ClaimSignature}
}

// ClaimResponseResolver 领奖响应解析器
type ClaimResponseResolver struct {
	success   bool
	cancelled bool
	message   string
}

func (r *ClaimResponseResolver) Success() bool {
	return r.success
}

func (r *ClaimResponseResolver) Message() string {
	return r.message
}

func (r *ClaimResponseResolver) Cancelled() bool {
	return r.cancelled
}

// LevelUpResponseResolver 升级响应解析器
type LevelUpResponseResolver struct {
	eligible bool
	reason   string
}

func (r *LevelUpResponseResolver) Eligible() bool {
	return r.eligible
}

func (r *LevelUpResponseResolver) Reason() string {
	return r.reason
}

// VoteParametersResolver 投票参数解析器
type VoteParametersResolver struct {
	params *model.VoteParameters
}

func (r *VoteParametersResolver) Day() int32 {
	return int32(r.params.Day)
}

func (r *VoteParametersResolver) BaseCost() int32 {
	return int32(r.params.BaseCost)
}

func (r *VoteParametersResolver) BaseReward() int32 {
	return int32(r.params.BaseReward)
}

// ActivityEntryResolver 活动流条目解析器
type ActivityEntryResolver struct {
	entry *model.JournalEntry
}

func (r *ActivityEntryResolver) Day() int32 {
	return int32(r.entry.Day)
}

func (r *ActivityEntryResolver) EventType() string {
	return string(r.entry.EventType)
}

func (r *ActivityEntryResolver) TransactionHash() string {
	return r.entry.TransactionHash
}

func (r *ActivityEntryResolver) CastHash() string {
	return r.entry.CastHash
}

func (r *ActivityEntryResolver) RewardAmount() string {
	return strconv.FormatInt(r.entry.RewardAmount, 10)
}

func (r *ActivityEntryResolver) CreatedAt() string {
	return r.entry.CreatedAt.Format(time.RFC3339)
}

// playgroundHTML GraphQL Playground HTML
const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>BRND Vote GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root">
    <style>
      body {
        background-color: rgb(23, 42, 58);
        font-family: Open Sans, sans-serif;
        height: 90vh;
      }
      #root {
        height: 100%;
        width: 100%;
        display: flex;
        align-items: center;
        justify-content: center;
      }
      .loading {
        font-size: 32px;
        font-weight: 200;
        color: rgba(255, 255, 255, .6);
        margin-left: 20px;
      }
      img {
        width: 78px;
        height: 78px;
      }
      .title {
        font-weight: 400;
      }
    </style>
    <img src='https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/logo.png' alt=''>
    <div class="loading">
      <span class="title">BRND Vote GraphQL Playground</span>
    </div>
  </div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '/graphql'
      })
    })</script>
</body>
</html>
`
