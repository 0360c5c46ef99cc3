package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/brndland/brndvote/internal/gateway"
	"github.com/brndland/brndvote/internal/model"
	"github.com/brndland/brndvote/internal/repository"
	"github.com/brndland/brndvote/internal/state"
)

// Store 单个用户会话的快照存储
// 持有唯一的UserSnapshot缓存: 会话内"/me"只拉一次，之后仅通过
// 编排器发出的生命周期事件归并或显式重拉更新，不做静默轮询
type Store struct {
	fid     int64
	backend gateway.Backend
	cache   *repository.RedisRepository // 可为nil，纯尽力缓存

	mu              sync.Mutex
	snapshot        *model.UserSnapshot
	fetched         bool // 会话内是否已拉取过"/me"
	refetching      bool
	fallbackVote    *model.TodaysVote
	fallbackLoading bool

	// 会话拆除后丢弃在飞结果
	generation int
	closed     bool
}

func NewStore(fid int64, backend gateway.Backend, cache *repository.RedisRepository) *Store {
	return &Store{
		fid:     fid,
		backend: backend,
		cache:   cache,
	}
}

// EnsureLoaded 确保会话内拉取过一次用户快照，失败不置位，允许下次重试
func (s *Store) EnsureLoaded(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("会话已关闭")
	}
	if s.fetched {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	s.mu.Unlock()

	snapshot, err := s.backend.Me(ctx)
	if err != nil {
		return fmt.Errorf("初始化用户快照失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		return nil // 会话已拆除或重置，丢弃结果
	}
	s.snapshot = snapshot
	s.fetched = true
	return nil
}

// Snapshot 返回当前快照副本，nil表示尚未加载
func (s *Store) Snapshot() *model.UserSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	cp := *s.snapshot
	return &cp
}

// Apply 把生命周期事件归并进快照
func (s *Store) Apply(ev model.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.snapshot = state.Apply(s.snapshot, ev)
}

// Refetch 整体重拉快照并通过归并器合并，失败不破坏现有快照
func (s *Store) Refetch(ctx context.Context) (*model.UserSnapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("会话已关闭")
	}
	gen := s.generation
	s.refetching = true
	s.mu.Unlock()

	snapshot, err := s.backend.Me(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refetching = false
	if err != nil {
		return nil, fmt.Errorf("重拉用户快照失败: %w", err)
	}
	if s.closed || gen != s.generation {
		return nil, nil // 结果迟到，静默丢弃
	}
	s.snapshot = state.Apply(s.snapshot, model.LifecycleEvent{
		Type:     model.EventSnapshotRefetched,
		FID:      s.fid,
		Snapshot: snapshot,
	})
	cp := *s.snapshot
	return &cp, nil
}

// LoadFallbackVote 按日期兜底拉取当日投票数据，优先走缓存
func (s *Store) LoadFallbackVote(ctx context.Context, day int64) (*model.TodaysVote, error) {
	if s.cache != nil {
		vote, found, err := s.cache.GetFallbackVote(s.fid, day)
		if err != nil {
			log.Printf("读取兜底投票缓存失败: %v", err)
		}
		if found {
			s.mu.Lock()
			s.fallbackVote = vote
			s.mu.Unlock()
			return vote, nil
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("会话已关闭")
	}
	gen := s.generation
	s.fallbackLoading = true
	s.mu.Unlock()

	vote, err := s.backend.FallbackVote(ctx, s.fid, day)

	s.mu.Lock()
	s.fallbackLoading = false
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return nil, nil
	}
	s.fallbackVote = vote
	s.mu.Unlock()

	if vote != nil && s.cache != nil {
		if err := s.cache.SetFallbackVote(s.fid, day, vote); err != nil {
			log.Printf("写入兜底投票缓存失败: %v", err)
		}
	}
	return vote, nil
}

// VotingState 用解析器从当前快照派生投票状态
func (s *Store) VotingState() model.VotingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return state.Resolve(s.snapshot, s.refetching, s.fallbackVote, s.fallbackLoading)
}

// EnsureDay 跨日则整体重置会话（显式的全量重置路径）
func (s *Store) EnsureDay(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return
	}
	oldDay := s.snapshot.TodaysVoteStatus.Day
	if oldDay != model.EpochDay(now) {
		s.generation++
		s.snapshot = nil
		s.fetched = false
		s.fallbackVote = nil
		s.fallbackLoading = false
		if s.cache != nil {
			if err := s.cache.DeleteFallbackVote(s.fid, oldDay); err != nil {
				log.Printf("清理过期兜底投票缓存失败: %v", err)
			}
		}
	}
}

// Close 拆除会话，之后到达的在飞结果全部丢弃
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.generation++
	s.snapshot = nil
}

// Manager 按用户维护会话存储
type Manager struct {
	backend gateway.Backend
	cache   *repository.RedisRepository

	mu     sync.Mutex
	stores map[int64]*Store
}

func NewManager(backend gateway.Backend, cache *repository.RedisRepository) *Manager {
	return &Manager{
		backend: backend,
		cache:   cache,
		stores:  make(map[int64]*Store),
	}
}

// Get 获取或创建用户会话存储
func (m *Manager) Get(fid int64) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	store, ok := m.stores[fid]
	if !ok {
		store = NewStore(fid, m.backend, m.cache)
		m.stores[fid] = store
	}
	return store
}

// Remove 拆除并移除用户会话（登出）
func (m *Manager) Remove(fid int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if store, ok := m.stores[fid]; ok {
		store.Close()
		delete(m.stores, fid)
	}
}
