package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/model"
)

const (
	// Redis键前缀
	VoteParamsKey   = "brnd:vote:params:"
	FallbackVoteKey = "brnd:vote:day:"

	// 辅助数据缓存时长，非权威数据，下一次快照覆盖
	auxCacheTTL = time.Hour
)

// RedisRepository 辅助数据的尽力缓存，缺失或过期都不影响正确性
type RedisRepository struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisRepository() (*RedisRepository, error) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.Redis.DataAddress,
		Password:     config.AppConfig.Redis.Password,
		DB:           config.AppConfig.Redis.DB,
		PoolSize:     config.AppConfig.Redis.PoolSize,
		MaxRetries:   config.AppConfig.Redis.MaxRetries,
		DialTimeout:  config.AppConfig.Redis.Timeout,
		ReadTimeout:  config.AppConfig.Redis.Timeout,
		WriteTimeout: config.AppConfig.Redis.Timeout,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	return &RedisRepository{
		client: client,
		ctx:    ctx,
	}, nil
}

// GetVoteParameters 从缓存获取投票参数
func (r *RedisRepository) GetVoteParameters(day int64) (*model.VoteParameters, bool, error) {
	key := fmt.Sprintf("%s%d", VoteParamsKey, day)
	data, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("获取投票参数缓存失败: %w", err)
	}

	var params model.VoteParameters
	if err := json.Unmarshal([]byte(data), &params); err != nil {
		return nil, false, fmt.Errorf("解析投票参数缓存失败: %w", err)
	}
	return &params, true, nil
}

// SetVoteParameters 设置投票参数缓存
func (r *RedisRepository) SetVoteParameters(params *model.VoteParameters) error {
	key := fmt.Sprintf("%s%d", VoteParamsKey, params.Day)
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("序列化投票参数失败: %w", err)
	}

	if err := r.client.Set(r.ctx, key, data, auxCacheTTL).Err(); err != nil {
		return fmt.Errorf("设置投票参数缓存失败: %w", err)
	}
	return nil
}

// GetFallbackVote 从缓存获取按日期兜底的投票数据
func (r *RedisRepository) GetFallbackVote(fid int64, day int64) (*model.TodaysVote, bool, error) {
	key := fmt.Sprintf("%s%d:%d", FallbackVoteKey, fid, day)
	data, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("获取兜底投票缓存失败: %w", err)
	}

	var vote model.TodaysVote
	if err := json.Unmarshal([]byte(data), &vote); err != nil {
		return nil, false, fmt.Errorf("解析兜底投票缓存失败: %w", err)
	}
	return &vote, true, nil
}

// SetFallbackVote 设置兜底投票缓存
func (r *RedisRepository) SetFallbackVote(fid int64, day int64, vote *model.TodaysVote) error {
	key := fmt.Sprintf("%s%d:%d", FallbackVoteKey, fid, day)
	data, err := json.Marshal(vote)
	if err != nil {
		return fmt.Errorf("序列化兜底投票失败: %w", err)
	}

	if err := r.client.Set(r.ctx, key, data, auxCacheTTL).Err(); err != nil {
		return fmt.Errorf("设置兜底投票缓存失败: %w", err)
	}
	return nil
}

// DeleteFallbackVote 删除兜底投票缓存（跨日重置时调用）
func (r *RedisRepository) DeleteFallbackVote(fid int64, day int64) error {
	key := fmt.Sprintf("%s%d:%d", FallbackVoteKey, fid, day)
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("删除兜底投票缓存失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
