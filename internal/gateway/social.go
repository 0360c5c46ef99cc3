package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/brndland/brndvote/config"
)

// ErrCastCancelled 用户取消了发帖，不算失败，后续校验不应执行
var ErrCastCancelled = errors.New("用户取消了分享")

// CastRequest 发帖请求
type CastRequest struct {
	Text   string   `json:"text"`
	Embeds []string `json:"embeds,omitempty"`
}

// Social 社交分享网关，包装平台的发帖能力
type Social interface {
	// ComposeCast 发布帖子，成功返回帖子哈希，用户取消返回ErrCastCancelled
	ComposeCast(ctx context.Context, req *CastRequest) (string, error)
}

// FarcasterPublisher 基于平台发布API的分享网关实现
type FarcasterPublisher struct {
	publisherURL string
	apiKey       string
	client       *http.Client
}

func NewFarcasterPublisher() *FarcasterPublisher {
	return &FarcasterPublisher{
		publisherURL: config.AppConfig.Share.PublisherURL,
		apiKey:       config.AppConfig.Share.APIKey,
		client: &http.Client{
			Timeout: config.AppConfig.Share.Timeout,
		},
	}
}

func (p *FarcasterPublisher) ComposeCast(ctx context.Context, castReq *CastRequest) (string, error) {
	body := map[string]interface{}{
		"text": castReq.Text,
	}
	if len(castReq.Embeds) > 0 {
		embeds := make([]map[string]string, 0, len(castReq.Embeds))
		for _, url := range castReq.Embeds {
			embeds = append(embeds, map[string]string{"url": url})
		}
		body["embeds"] = embeds
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("序列化发帖请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.publisherURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("构造发帖请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("api_key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求发布API失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取发布API响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("发布API返回错误(状态码%d): %s", resp.StatusCode, string(raw))
	}

	var out struct {
		Cast struct {
			Hash string `json:"hash"`
		} `json:"cast"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("解析发布API响应失败: %w", err)
	}

	// 平台返回空哈希表示用户在发帖界面取消
	if out.Cast.Hash == "" {
		return "", ErrCastCancelled
	}
	return out.Cast.Hash, nil
}
