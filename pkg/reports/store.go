// Package reports keeps the most recent graded calls in memory.
package reports

import (
	"sync"
	"time"

	"github.com/harunnryd/callprobe/pkg/observers"
	"github.com/harunnryd/callprobe/pkg/scenario"
)

// CallReport is everything kept about a finished call.
type CallReport struct {
	ID        string                    `json:"id"`
	CallSID   string                    `json:"call_sid"`
	Scenario  scenario.Scenario         `json:"scenario"`
	Language  string                    `json:"language"`
	Symptom   string                    `json:"symptom"`
	History   []scenario.Turn           `json:"history"`
	Report    scenario.Report           `json:"report"`
	EndReason string                    `json:"end_reason"`
	StartedAt time.Time                 `json:"started_at"`
	EndedAt   time.Time                 `json:"ended_at"`
	Usage     observers.Usage           `json:"usage"`
	Timeline  []observers.TimelineEntry `json:"timeline,omitempty"`
}

// Store is a bounded ring of reports; the oldest is evicted first.
type Store struct {
	mu       sync.RWMutex
	capacity int
	items    []CallReport
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 50
	}
	return &Store{capacity: capacity}
}

func (s *Store) Add(r CallReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, r)
	if over := len(s.items) - s.capacity; over > 0 {
		s.items = append([]CallReport(nil), s.items[over:]...)
	}
}

// List returns up to limit reports, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) []CallReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.items)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]CallReport, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.items[i])
	}
	return out
}

// Get finds a report by id or call id.
func (s *Store) Get(id string) (CallReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].ID == id || s.items[i].CallSID == id {
			return s.items[i], true
		}
	}
	return CallReport{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
