package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry 进程内策略表。写操作互斥，读操作可并发。
// 终态策略保留到调用方确认（Remove）为止，便于事后查询。
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

func (r *Registry) Add(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[s.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, s.ID())
	}
	r.strategies[s.ID()] = s
	return nil
}

func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return s, nil
}

// List 按创建时间返回策略视图；activeOnly 时只返回非终态策略。
func (r *Registry) List(activeOnly bool) []View {
	r.mu.RLock()
	all := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		all = append(all, s)
	}
	r.mu.RUnlock()

	views := make([]View, 0, len(all))
	for _, s := range all {
		v := s.View()
		if activeOnly && v.Status.IsTerminal() {
			continue
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

// Active 返回所有非终态策略（引擎停止时使用）。
func (r *Registry) Active() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		if !s.View().Status.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// Remove 删除已终态的策略；未终态返回 ErrNotTerminal。
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.strategies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if st := s.View().Status; !st.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, id, st)
	}
	delete(r.strategies, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}
