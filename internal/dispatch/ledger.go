package dispatch

import (
	"sort"
	"sync"
	"time"

	"regwatch-ai/backend/pkg/models"
)

// DefaultRetention is how long finished records are kept when no retention
// is configured.
const DefaultRetention = 24 * time.Hour

// Ledger is the process-local record of deliveries, keyed by idempotency
// key. Each key has its own lock; the map lock is only held to find it.
//
// Delivered and failed records are dropped once they are older than the
// retention window, so a repeat of the same artifact after that is delivered
// again under the same idempotency key. In-flight records are never dropped.
type Ledger struct {
	mu        sync.Mutex
	entries   map[string]*ledgerEntry
	retention time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type ledgerEntry struct {
	mu      sync.Mutex
	record  models.DispatchRecord
	removed bool
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithRetention sets how long delivered and failed records are kept.
// Non-positive values keep DefaultRetention.
func WithRetention(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.retention = d
		}
	}
}

// NewLedger creates an empty Ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		entries:   make(map[string]*ledgerEntry),
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) entry(key string) *ledgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now := l.now(); now.Sub(l.lastSweep) >= l.retention/4 {
		l.sweep(now)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &ledgerEntry{record: models.DispatchRecord{Key: key}}
		l.entries[key] = e
	}
	return e
}

// sweep drops expired finished records. l.mu must be held. Entry locks are
// never held while waiting for l.mu, so taking them here cannot deadlock.
func (l *Ledger) sweep(now time.Time) {
	l.lastSweep = now
	for key, e := range l.entries {
		e.mu.Lock()
		switch e.record.Status {
		case models.DeliveryDelivered, models.DeliveryFailed, "":
			if now.Sub(e.record.UpdatedAt) >= l.retention {
				e.removed = true
				delete(l.entries, key)
			}
		}
		e.mu.Unlock()
	}
}

// lock returns the live entry for key with its lock held.
func (l *Ledger) lock(key string) *ledgerEntry {
	for {
		e := l.entry(key)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		// Swept between lookup and lock; look it up again.
		e.mu.Unlock()
	}
}

// Claim marks key in flight for artifactID. It fails, returning the existing
// record, when the key is already in flight or delivered. Failed keys can be
// claimed again.
func (l *Ledger) Claim(key, artifactID string) (models.DispatchRecord, bool) {
	e := l.lock(key)
	defer e.mu.Unlock()

	switch e.record.Status {
	case models.DeliveryInFlight, models.DeliveryDelivered:
		return e.record, false
	}
	e.record.ArtifactID = artifactID
	e.record.Status = models.DeliveryInFlight
	e.record.LastError = ""
	e.record.UpdatedAt = l.now()
	return e.record, true
}

// Finish records the final status of a claimed key.
func (l *Ledger) Finish(key string, status models.DeliveryStatus, attempts int, lastErr string) models.DispatchRecord {
	e := l.lock(key)
	defer e.mu.Unlock()

	e.record.Status = status
	e.record.Attempts += attempts
	e.record.LastError = lastErr
	e.record.UpdatedAt = l.now()
	return e.record
}

// Get returns the record for key.
func (l *Ledger) Get(key string) (models.DispatchRecord, bool) {
	l.mu.Lock()
	e, ok := l.entries[key]
	l.mu.Unlock()
	if !ok {
		return models.DispatchRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, e.record.Status != "" && !e.removed
}

// Records returns every record, ordered by key.
func (l *Ledger) Records() []models.DispatchRecord {
	l.mu.Lock()
	entries := make([]*ledgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.Unlock()

	records := make([]models.DispatchRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.record.Status != "" && !e.removed {
			records = append(records, e.record)
		}
		e.mu.Unlock()
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records
}
