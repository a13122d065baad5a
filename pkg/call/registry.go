package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Registry maps call ids to live sessions.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
}

func NewRegistry() *Registry { return &Registry{} }

// Create stores s under its call id. A session already registered under the
// same id is replaced and returned so the caller can retire it.
func (r *Registry) Create(s *Session) *Session {
	prev, loaded := r.sessions.Swap(s.CallSID, s)
	if loaded {
		return prev.(*Session)
	}
	r.count.Add(1)
	return nil
}

func (r *Registry) Get(callSID string) (*Session, bool) {
	if v, ok := r.sessions.Load(callSID); ok {
		return v.(*Session), true
	}
	return nil, false
}

// Remove deletes the entry only while it still points at s.
func (r *Registry) Remove(s *Session) bool {
	if s == nil {
		return false
	}
	if r.sessions.CompareAndDelete(s.CallSID, s) {
		r.count.Add(-1)
		return true
	}
	return false
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

// Sessions returns a snapshot of the live sessions.
func (r *Registry) Sessions() []*Session {
	var out []*Session
	r.sessions.Range(func(_, value any) bool {
		out = append(out, value.(*Session))
		return true
	})
	return out
}

func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
