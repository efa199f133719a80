package projection

import (
	"math/big"
	"sync"
)

// HistoryEntry is one applied event against a credit line or pool.
type HistoryEntry struct {
	InstanceID string
	EventType  string
	Amount     *big.Int // nil for state-only events
	Asset      string
	Sequence   int64
	Timestamp  int64
}

// InstanceHistory keeps a bounded in-memory feed of recent activity
// per instance, serving the "recent activity" API without a DB
// round-trip. Older entries live in projections.repayment_history.
type InstanceHistory struct {
	mu      sync.RWMutex
	entries []HistoryEntry
	cap     int
}

func NewInstanceHistory(capacity int) *InstanceHistory {
	return &InstanceHistory{
		entries: make([]HistoryEntry, 0, capacity),
		cap:     capacity,
	}
}

// Add records an entry, evicting the oldest when full.
func (h *InstanceHistory) Add(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.cap {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, entry)
}

// Query returns the most recent entries for an instance, newest first.
func (h *InstanceHistory) Query(instanceID string, limit int) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]HistoryEntry, 0, limit)
	for i := len(h.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if h.entries[i].InstanceID == instanceID {
			result = append(result, h.entries[i])
		}
	}
	return result
}
