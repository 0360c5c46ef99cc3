package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/model"
)

// Backend BRND后端网关，包装所有HTTP调用
type Backend interface {
	// Me 拉取当前认证用户快照
	Me(ctx context.Context) (*model.UserSnapshot, error)

	// FallbackVote 按日期兜底拉取当日投票数据
	FallbackVote(ctx context.Context, fid int64, day int64) (*model.TodaysVote, error)

	// AuthorizeWallet 请求钱包绑定授权签名
	AuthorizeWallet(ctx context.Context, walletAddress string, deadline int64) (*model.AuthPayload, error)

	// AuthorizeVote 请求投票授权签名（随投票交易内联上链）
	AuthorizeVote(ctx context.Context, walletAddress string, brandIDs []uint64, deadline int64) (*model.AuthPayload, error)

	// VerifyShare 校验分享并换取领奖签名，CastHash为空表示为已分享的投票补取签名
	VerifyShare(ctx context.Context, req *VerifyShareRequest) (*VerifyShareResponse, error)

	// LevelUp 请求升级资格校验与签名
	LevelUp(ctx context.Context, newLevel int, walletAddress string, deadline int64) (*LevelUpResponse, error)

	// VoteParameters 拉取投票成本与奖励参数
	VoteParameters(ctx context.Context) (*model.VoteParameters, error)
}

// VerifyShareRequest 分享校验请求
type VerifyShareRequest struct {
	CastHash         string `json:"castHash"`
	VoteID           string `json:"voteId"`
	RecipientAddress string `json:"recipientAddress"`
	TransactionHash  string `json:"transactionHash"`
}

// VerifyShareResponse 分享校验响应，服务端对相同castHash去重，重复调用安全
type VerifyShareResponse struct {
	Verified       bool                  `json:"verified"`
	Day            int64                 `json:"day"`
	ClaimSignature *model.ClaimSignature `json:"claimSignature,omitempty"`
}

// LevelUpResponse 升级校验响应
type LevelUpResponse struct {
	Eligible  bool   `json:"eligible"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// APIError 后端返回的业务错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("后端返回错误(状态码%d): %s", e.StatusCode, e.Message)
}

// HTTPBackend 基于net/http的后端网关实现
type HTTPBackend struct {
	baseURL   string
	authToken string
	client    *http.Client
}

func NewHTTPBackend() *HTTPBackend {
	return &HTTPBackend{
		baseURL:   config.AppConfig.Backend.BaseURL,
		authToken: config.AppConfig.Backend.AuthToken,
		client: &http.Client{
			Timeout: config.AppConfig.Backend.Timeout,
		},
	}
}

func (b *HTTPBackend) Me(ctx context.Context) (*model.UserSnapshot, error) {
	var snapshot model.UserSnapshot
	if err := b.do(ctx, http.MethodGet, "/me", nil, &snapshot); err != nil {
		return nil, fmt.Errorf("拉取用户快照失败: %w", err)
	}
	return &snapshot, nil
}

func (b *HTTPBackend) FallbackVote(ctx context.Context, fid int64, day int64) (*model.TodaysVote, error) {
	path := fmt.Sprintf("/votes/%d/%d", fid, day)
	var vote model.TodaysVote
	if err := b.do(ctx, http.MethodGet, path, nil, &vote); err != nil {
		return nil, fmt.Errorf("兜底拉取当日投票失败: %w", err)
	}
	if vote.ID == "" {
		return nil, nil
	}
	return &vote, nil
}

func (b *HTTPBackend) AuthorizeWallet(ctx context.Context, walletAddress string, deadline int64) (*model.AuthPayload, error) {
	body := map[string]interface{}{
		"walletAddress": walletAddress,
		"deadline":      deadline,
	}
	var auth model.AuthPayload
	if err := b.do(ctx, http.MethodPost, "/authorize-wallet", body, &auth); err != nil {
		return nil, fmt.Errorf("获取钱包授权失败: %w", err)
	}
	return &auth, nil
}

func (b *HTTPBackend) AuthorizeVote(ctx context.Context, walletAddress string, brandIDs []uint64, deadline int64) (*model.AuthPayload, error) {
	body := map[string]interface{}{
		"walletAddress": walletAddress,
		"brandIds":      brandIDs,
		"deadline":      deadline,
	}
	var auth model.AuthPayload
	if err := b.do(ctx, http.MethodPost, "/authorize-vote", body, &auth); err != nil {
		return nil, fmt.Errorf("获取投票授权失败: %w", err)
	}
	return &auth, nil
}

func (b *HTTPBackend) VerifyShare(ctx context.Context, req *VerifyShareRequest) (*VerifyShareResponse, error) {
	var resp VerifyShareResponse
	if err := b.do(ctx, http.MethodPost, "/verify-share", req, &resp); err != nil {
		return nil, fmt.Errorf("分享校验失败: %w", err)
	}
	return &resp, nil
}

func (b *HTTPBackend) LevelUp(ctx context.Context, newLevel int, walletAddress string, deadline int64) (*LevelUpResponse, error) {
	body := map[string]interface{}{
		"newLevel":      newLevel,
		"walletAddress": walletAddress,
		"deadline":      deadline,
	}
	var resp LevelUpResponse
	if err := b.do(ctx, http.MethodPost, "/level-up", body, &resp); err != nil {
		return nil, fmt.Errorf("升级校验失败: %w", err)
	}
	return &resp, nil
}

func (b *HTTPBackend) VoteParameters(ctx context.Context) (*model.VoteParameters, error) {
	var params model.VoteParameters
	if err := b.do(ctx, http.MethodGet, "/vote-parameters", nil, &params); err != nil {
		return nil, fmt.Errorf("拉取投票参数失败: %w", err)
	}
	return &params, nil
}

// do 发送请求并解析JSON响应，非2xx状态码转为APIError
func (b *HTTPBackend) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.authToken)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("请求后端失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		if msg == "" {
			msg = string(data)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
