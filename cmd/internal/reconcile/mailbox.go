package reconcile

import (
	"context"
	"sync"
	"time"
)

// DefaultMergeTTL bounds how long an untaken PendingMerge survives.
const DefaultMergeTTL = 10 * time.Minute

// PendingMerge is the one-shot signal handed to the next edit view after a conflict.
type PendingMerge struct {
	DocumentID    string `json:"document_id"`
	ServerText    string `json:"server_text"`
	ServerVersion int64  `json:"server_version"`
	AutoRetry     bool   `json:"auto_retry"`

	// Patch carries the rejected edits against ServerText (diff-match-patch text format).
	Patch string `json:"patch,omitempty"`
}

// MailboxKey scopes a PendingMerge to one principal and one document.
type MailboxKey struct {
	Principal  string
	DocumentID string
}

// Mailbox stores PendingMerge values until they are taken once.
type Mailbox interface {
	Put(ctx context.Context, key MailboxKey, m PendingMerge) error
	// Take returns and removes the entry; ok=false when there is none.
	Take(ctx context.Context, key MailboxKey) (m PendingMerge, ok bool, err error)
}

type memoryEntry struct {
	merge   PendingMerge
	expires time.Time
}

// MemoryMailbox is an in-process Mailbox for single-instance deployments and tests.
type MemoryMailbox struct {
	mu      sync.Mutex
	entries map[MailboxKey]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryMailbox(ttl time.Duration) *MemoryMailbox {
	if ttl <= 0 {
		ttl = DefaultMergeTTL
	}
	return &MemoryMailbox{
		entries: make(map[MailboxKey]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryMailbox) Put(_ context.Context, key MailboxKey, pm PendingMerge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)
	m.entries[key] = memoryEntry{merge: pm, expires: now.Add(m.ttl)}
	return nil
}

func (m *MemoryMailbox) Take(_ context.Context, key MailboxKey) (PendingMerge, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return PendingMerge{}, false, nil
	}
	delete(m.entries, key)
	if !m.now().Before(e.expires) {
		return PendingMerge{}, false, nil
	}
	return e.merge, true, nil
}

func (m *MemoryMailbox) sweepLocked(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}
