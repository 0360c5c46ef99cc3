package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brndland/brndvote/internal/gateway"
	"github.com/brndland/brndvote/internal/model"
	"github.com/brndland/brndvote/internal/session"
)

func newShareFixture(t *testing.T) (*ShareOrchestrator, *fakeBackend, *fakeSocial, *fakePublisher) {
	t.Helper()
	setTestConfig(t)

	backend := &fakeBackend{
		snapshot: votedSnapshot(42),
		verifyShareResp: &gateway.VerifyShareResponse{
			Verified: true,
			Day:      model.EpochDay(time.Now()),
			ClaimSignature: &model.ClaimSignature{
				Signature: "0xclaimsig",
				Amount:    50,
				Deadline:  time.Now().Add(10 * time.Minute).Unix(),
				Nonce:     "nonce-1",
				CanClaim:  true,
			},
		},
	}
	chain := &fakeChain{connected: true, wallet: "0xwallet"}
	social := &fakeSocial{castHash: "0xcast"}
	publisher := &fakePublisher{}
	sessions := session.NewManager(backend, nil)

	return NewShareOrchestrator(backend, chain, social, sessions, publisher), backend, social, publisher
}

func displayBrands() []*model.Brand {
	return []*model.Brand{
		{ID: 3, Name: "Beta", Handle: "beta"},
		{ID: 7, Name: "Alpha", Handle: "alpha"},
		{ID: 9, Name: "Gamma", Handle: "gamma"},
	}
}

// 成功路径: 发帖 -> 后端校验 -> 返回领奖签名，发出分享确认事件
func TestShareAndVerifyHappyPath(t *testing.T) {
	orchestrator, backend, social, publisher := newShareFixture(t)

	result, err := orchestrator.ShareAndVerify(context.Background(), 42, displayBrands(), "vote-abc", "0xvotetx")
	require.NoError(t, err)

	assert.Equal(t, "0xcast", result.CastHash)
	require.NotNil(t, result.ClaimSignature)
	assert.True(t, result.ClaimSignature.CanClaim)

	require.Len(t, social.calls, 1)
	assert.Contains(t, social.calls[0].Text, "@beta")
	assert.Contains(t, social.calls[0].Text, "@alpha")
	assert.Contains(t, social.calls[0].Text, "@gamma")
	require.Len(t, social.calls[0].Embeds, 1)
	assert.Equal(t, "https://brnd.example/votes/0xvotetx", social.calls[0].Embeds[0])

	require.Len(t, backend.verifyShareReqs, 1)
	assert.Equal(t, "0xcast", backend.verifyShareReqs[0].CastHash)
	assert.Equal(t, "vote-abc", backend.verifyShareReqs[0].VoteID)
	assert.Equal(t, "0xwallet", backend.verifyShareReqs[0].RecipientAddress)

	assert.Contains(t, publisher.eventTypes(), model.EventShareVerified)
}

// 文案按展示顺序排列: 第二名在前，第一名居中，第三名收尾
func TestShareCastTextOrder(t *testing.T) {
	text := buildCastText(displayBrands())

	beta := indexOf(text, "@beta")
	alpha := indexOf(text, "@alpha")
	gamma := indexOf(text, "@gamma")
	require.True(t, beta >= 0 && alpha >= 0 && gamma >= 0)
	assert.Less(t, beta, alpha)
	assert.Less(t, alpha, gamma)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// 用户取消发帖: 直接停止，后端校验绝不执行
func TestShareCancelledNoBackendCall(t *testing.T) {
	orchestrator, backend, social, publisher := newShareFixture(t)
	social.err = gateway.ErrCastCancelled

	_, err := orchestrator.ShareAndVerify(context.Background(), 42, displayBrands(), "vote-abc", "0xvotetx")
	assert.ErrorIs(t, err, gateway.ErrCastCancelled)
	assert.True(t, IsSilentCancellation(err))

	assert.Empty(t, backend.verifyShareReqs, "取消后不应调用后端校验")
	assert.Empty(t, publisher.events)
}

// 补取签名: 空castHash请求合法，不发帖不发事件
func TestRefreshClaimSignature(t *testing.T) {
	orchestrator, backend, social, publisher := newShareFixture(t)

	result, err := orchestrator.RefreshClaimSignature(context.Background(), 42, "vote-abc", "0xvotetx")
	require.NoError(t, err)

	assert.Empty(t, social.calls, "补取签名不应发帖")
	require.Len(t, backend.verifyShareReqs, 1)
	assert.Equal(t, "", backend.verifyShareReqs[0].CastHash)
	require.NotNil(t, result.ClaimSignature)
	assert.Empty(t, publisher.events, "补取签名不改变分享状态")
}

// 校验是服务端幂等操作，重复调用返回一致结果
func TestShareVerifyIdempotent(t *testing.T) {
	orchestrator, backend, _, _ := newShareFixture(t)

	first, err := orchestrator.ShareAndVerify(context.Background(), 42, displayBrands(), "vote-abc", "0xvotetx")
	require.NoError(t, err)
	second, err := orchestrator.ShareAndVerify(context.Background(), 42, displayBrands(), "vote-abc", "0xvotetx")
	require.NoError(t, err)

	assert.Equal(t, first.CastHash, second.CastHash)
	assert.Equal(t, first.ClaimSignature, second.ClaimSignature)
	assert.Len(t, backend.verifyShareReqs, 2)
}
