package docgate

import (
	"context"
	"sync"
	"time"
)

// AuditEntry records one authorization decision taken by the gateway.
type AuditEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	SubjectID  string         `json:"subject_id"`
	Role       string         `json:"role"`
	Action     Action         `json:"action"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"document_id"`
	Decision   *Decision      `json:"decision"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects entries from an AuditStore.
type AuditFilter struct {
	SubjectID  string
	Collection string
	Action     Action
	Allowed    *bool
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// AuditStore persists audit entries.
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// MemoryAuditStore keeps audit entries in memory for tests and tools.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditEntry, 0)
	for _, e := range s.entries {
		if !filter.Match(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Match reports whether e passes the filter.
func (f AuditFilter) Match(e *AuditEntry) bool {
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Collection != "" && e.Collection != f.Collection {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Allowed != nil && (e.Decision == nil || e.Decision.Allowed != *f.Allowed) {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
