// Package webhooklog keeps the inbound pre-assessment webhooks received by
// this process, for inspection while integrating with the platform. It is
// diagnostic only and starts empty on every restart.
package webhooklog

import (
	"sync"
	"time"
)

// Entry is one received webhook.
type Entry struct {
	ReceivedAt      time.Time `json:"timestamp"`
	OrganizationID  string    `json:"organization_id"`
	PreassessmentID string    `json:"preassessment_id"`
	RegulationID    string    `json:"regulation_id"`
}

// Log stores received webhooks.
type Log interface {
	Record(entry Entry) Entry
	List() []Entry
	Clear() int
}

// MemoryLog is a Log held in process memory.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

var _ Log = (*MemoryLog)(nil)

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

// Record appends entry, stamping it with the receive time if unset.
func (l *MemoryLog) Record(entry Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = l.now().UTC()
	}
	l.entries = append(l.entries, entry)
	return entry
}

// List returns a copy of the entries in arrival order.
func (l *MemoryLog) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry{}, l.entries...)
}

// Clear removes all entries and returns how many there were.
func (l *MemoryLog) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	l.entries = nil
	return n
}
