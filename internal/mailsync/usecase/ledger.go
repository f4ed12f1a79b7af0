package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"agency-crm-backend/internal/mailsync/repository"

	"github.com/rs/zerolog/log"
)

// Ledger is the per-account idempotency record of ingested message ids. The
// in-memory map answers Seen; the durable table is authoritative on Record.
type Ledger struct {
	accountKey string
	repo       repository.LedgerRepository
	retention  time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewLedger(accountKey string, repo repository.LedgerRepository, retention time.Duration, maxEntries int) *Ledger {
	return &Ledger{
		accountKey: accountKey,
		repo:       repo,
		retention:  retention,
		maxEntries: maxEntries,
		entries:    make(map[string]time.Time),
		now:        time.Now,
	}
}

// Load replaces the in-memory view with the durable entries.
func (l *Ledger) Load() error {
	rows, err := l.repo.LoadAccount(l.accountKey)
	if err != nil {
		return fmt.Errorf("unable to load ledger for %s: %w", l.accountKey, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]time.Time, len(rows))
	for _, row := range rows {
		l.entries[row.ExternalMessageID] = row.ProcessedAt
	}
	log.Info().Str("account", l.accountKey).Int("entries", len(rows)).Msg("[Ledger] loaded")
	return nil
}

func (l *Ledger) Seen(messageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[messageID]
	return ok
}

// Record stores messageID and reports whether this call inserted it.
func (l *Ledger) Record(messageID string) (bool, error) {
	at := l.now()
	inserted, err := l.repo.Insert(l.accountKey, messageID, at)
	if err != nil {
		return false, fmt.Errorf("unable to record %s in ledger: %w", messageID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[messageID]; !ok {
		l.entries[messageID] = at
	}
	return inserted, nil
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Evict drops entries older than the retention window, then the oldest
// entries beyond the count cap. Returns how many were removed from memory.
func (l *Ledger) Evict() (int, error) {
	cutoff := l.now().Add(-l.retention)

	l.mu.Lock()
	removed := 0
	for id, at := range l.entries {
		if at.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}

	var overflow []string
	if l.maxEntries > 0 && len(l.entries) > l.maxEntries {
		type entry struct {
			id string
			at time.Time
		}
		all := make([]entry, 0, len(l.entries))
		for id, at := range l.entries {
			all = append(all, entry{id, at})
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].at.Equal(all[j].at) {
				return all[i].id < all[j].id
			}
			return all[i].at.Before(all[j].at)
		})
		for _, e := range all[:len(all)-l.maxEntries] {
			delete(l.entries, e.id)
			overflow = append(overflow, e.id)
		}
		removed += len(overflow)
	}
	l.mu.Unlock()

	if _, err := l.repo.DeleteOlderThan(l.accountKey, cutoff); err != nil {
		return removed, fmt.Errorf("unable to evict expired ledger rows: %w", err)
	}
	if err := l.repo.DeleteMessages(l.accountKey, overflow); err != nil {
		return removed, fmt.Errorf("unable to evict overflow ledger rows: %w", err)
	}
	if removed > 0 {
		log.Info().Str("account", l.accountKey).Int("removed", removed).Msg("[Ledger] evicted entries")
	}
	return removed, nil
}
