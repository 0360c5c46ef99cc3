package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/gateway"
	"github.com/brndland/brndvote/internal/model"
	"github.com/brndland/brndvote/internal/session"
)

// ShareOrchestrator 分享编排器，驱动 voted_not_shared -> shared_not_claimed 的转移
// 先发帖后校验，发帖不成功绝不调用后端
type ShareOrchestrator struct {
	backend  gateway.Backend
	chain    gateway.Chain
	social   gateway.Social
	sessions *session.Manager
	events   EventPublisher

	mu   sync.Mutex
	busy map[int64]bool
}

func NewShareOrchestrator(
	backend gateway.Backend,
	chain gateway.Chain,
	social gateway.Social,
	sessions *session.Manager,
	events EventPublisher,
) *ShareOrchestrator {
	return &ShareOrchestrator{
		backend:  backend,
		chain:    chain,
		social:   social,
		sessions: sessions,
		events:   events,
		busy:     make(map[int64]bool),
	}
}

// ShareAndVerify 发布分享帖并换取领奖签名
// 本步骤只做社交发帖和后端校验，不提交任何链上交易
func (o *ShareOrchestrator) ShareAndVerify(ctx context.Context, fid int64, brands []*model.Brand, voteID string, transactionHash string) (*model.ShareResult, error) {
	o.mu.Lock()
	if o.busy[fid] {
		o.mu.Unlock()
		return nil, ErrOperationInFlight
	}
	o.busy[fid] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.busy, fid)
		o.mu.Unlock()
	}()

	castHash, err := o.social.ComposeCast(ctx, &gateway.CastRequest{
		Text:   buildCastText(brands),
		Embeds: []string{embedURL(transactionHash)},
	})
	if err != nil {
		// 用户取消原样上抛，调用方按取消处理；其余为分享失败
		return nil, err
	}

	return o.verify(ctx, fid, castHash, voteID, transactionHash)
}

// RefreshClaimSignature 为已分享未领奖的投票补取领奖签名
// 空castHash是合法请求形态，表示不重新发帖只取签名
func (o *ShareOrchestrator) RefreshClaimSignature(ctx context.Context, fid int64, voteID string, transactionHash string) (*model.ShareResult, error) {
	return o.verify(ctx, fid, "", voteID, transactionHash)
}

// verify 调用后端校验分享并换取领奖签名，服务端对castHash去重，重复调用安全
func (o *ShareOrchestrator) verify(ctx context.Context, fid int64, castHash string, voteID string, transactionHash string) (*model.ShareResult, error) {
	resp, err := o.backend.VerifyShare(ctx, &gateway.VerifyShareRequest{
		CastHash:         castHash,
		VoteID:           voteID,
		RecipientAddress: o.chain.WalletAddress(),
		TransactionHash:  transactionHash,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Verified {
		return nil, fmt.Errorf("后端未确认分享")
	}

	store := o.sessions.Get(fid)

	// 补取签名不改变分享状态，只有真实发帖才发事件
	if castHash != "" {
		event := model.LifecycleEvent{
			Type:       model.EventShareVerified,
			FID:        fid,
			Day:        resp.Day,
			VoteID:     voteID,
			CastHash:   castHash,
			OccurredAt: time.Now(),
		}
		store.Apply(event)
		if o.events != nil {
			if err := o.events.SendLifecycleEvent(&event); err != nil {
				log.Printf("发送分享确认事件失败: %v", err)
			}
		}

		// 重拉让hasShared对所有读者可见，失败不影响本次结果
		if _, err := store.Refetch(ctx); err != nil {
			log.Printf("分享后重拉快照失败: %v", err)
		}
	}

	return &model.ShareResult{
		CastHash:       castHash,
		Day:            resp.Day,
		ClaimSignature: resp.ClaimSignature,
	}, nil
}

// buildCastText 按固定模板生成分享文案，品牌按展示顺序排列
func buildCastText(brands []*model.Brand) string {
	var b strings.Builder
	b.WriteString("我在BRND投出了今天的品牌三连 🏆\n")
	medals := []string{"🥈", "🥇", "🥉"}
	for i, brand := range brands {
		if brand == nil {
			continue
		}
		medal := ""
		if i < len(medals) {
			medal = medals[i]
		}
		if brand.Handle != "" {
			b.WriteString(fmt.Sprintf("%s @%s %s\n", medal, brand.Handle, brand.Name))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", medal, brand.Name))
		}
	}
	b.WriteString("每天投票，赢取BRND奖励")
	return b.String()
}

// embedURL 用投票交易哈希参数化嵌入链接
func embedURL(transactionHash string) string {
	return fmt.Sprintf("%s/%s", config.AppConfig.Share.EmbedBaseURL, transactionHash)
}
