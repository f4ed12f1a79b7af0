package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/internal/mailsync/repository"
	"agency-crm-backend/pkg/config"
	"agency-crm-backend/pkg/monitor"

	"github.com/rs/zerolog/log"
)

// SyncReport summarises one history pass.
type SyncReport struct {
	StartCursor  string `json:"start_cursor"`
	Cursor       string `json:"cursor"`
	Events       int    `json:"events"`
	Processed    int    `json:"processed"`
	Skipped      int    `json:"skipped"`
	Duplicates   int    `json:"duplicates"`
	Failed       int    `json:"failed"`
	Pages        int    `json:"pages"`
	PageCapHit   bool   `json:"page_cap_hit"`
	Stale        bool   `json:"stale"`
	Bootstrapped bool   `json:"bootstrapped"`
}

func (r *SyncReport) count(res domain.ProcessResult) {
	r.Events++
	switch res.Outcome {
	case domain.OutcomeProcessed:
		r.Processed++
	case domain.OutcomeSkipped:
		r.Skipped++
	case domain.OutcomeDuplicate:
		r.Duplicates++
	default:
		r.Failed++
	}
}

// HistorySyncEngine replays the provider change stream from the stored cursor.
// Passes for one account are serialised; every cursor write happens under mu.
type HistorySyncEngine struct {
	account  config.MailboxAccount
	provider domain.MailProvider
	states   repository.WatchStateRepository
	handler  MessageHandler
	monitor  monitor.Monitor
	pageSize int
	maxPages int

	mu  sync.Mutex
	now func() time.Time
}

func NewHistorySyncEngine(account config.MailboxAccount, provider domain.MailProvider, states repository.WatchStateRepository, handler MessageHandler, mon monitor.Monitor, pageSize, maxPages int) *HistorySyncEngine {
	if pageSize <= 0 {
		pageSize = 100
	}
	if maxPages <= 0 {
		maxPages = 20
	}
	if mon == nil {
		mon = monitor.Noop{}
	}
	return &HistorySyncEngine{
		account:  account,
		provider: provider,
		states:   states,
		handler:  handler,
		monitor:  mon,
		pageSize: pageSize,
		maxPages: maxPages,
		now:      time.Now,
	}
}

func (e *HistorySyncEngine) AccountKey() string {
	return e.account.Key
}

func (e *HistorySyncEngine) RecordNotification(at time.Time) {
	if _, err := e.states.Ensure(e.account.Key, e.account.Address); err != nil {
		log.Error().Err(err).Str("account", e.account.Key).Msg("[HistorySync] unable to load watch state")
		return
	}
	if err := e.states.TouchNotification(e.account.Key, at); err != nil {
		log.Error().Err(err).Str("account", e.account.Key).Msg("[HistorySync] unable to record notification")
	}
}

// Bootstrap stores cursor only when the account has none yet.
func (e *HistorySyncEngine) Bootstrap(cursor string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bootstrap(cursor)
}

func (e *HistorySyncEngine) bootstrap(cursor string) (bool, error) {
	state, err := e.states.Ensure(e.account.Key, e.account.Address)
	if err != nil {
		return false, err
	}
	if state.HistoryID != "" || cursor == "" {
		return false, nil
	}
	if err := e.states.AdvanceCursor(e.account.Key, cursor, nil); err != nil {
		return false, err
	}
	log.Info().Str("account", e.account.Key).Str("cursor", cursor).Msg("[HistorySync] cursor bootstrapped")
	return true, nil
}

// ApplyWatch records a fresh subscription and bootstraps the cursor from it.
func (e *HistorySyncEngine) ApplyWatch(result *domain.WatchResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.bootstrap(result.HistoryID); err != nil {
		return err
	}
	expiration := result.Expiration
	return e.states.UpdateWatch(e.account.Key, &expiration, true)
}

// Sync processes every message-added event after the stored cursor. newCursor
// is the cursor carried by the notification; empty means "whatever is latest".
func (e *HistorySyncEngine) Sync(ctx context.Context, newCursor string) (*SyncReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	report, err := e.sync(ctx, newCursor)
	e.monitor.Track(monitor.PipelineEvent{
		AccountKey: e.account.Key,
		Stage:      "history_sync",
		Outcome:    syncOutcome(report, err),
		Latency:    e.now().Sub(start),
		Failed:     err != nil,
	})
	return report, err
}

func (e *HistorySyncEngine) sync(ctx context.Context, newCursor string) (*SyncReport, error) {
	report := &SyncReport{}

	state, err := e.states.Ensure(e.account.Key, e.account.Address)
	if err != nil {
		return report, fmt.Errorf("unable to load watch state: %w", err)
	}
	stored := state.HistoryID
	report.StartCursor = stored
	report.Cursor = stored

	if stored == "" {
		if newCursor == "" {
			return report, nil
		}
		if err := e.states.AdvanceCursor(e.account.Key, newCursor, nil); err != nil {
			return report, fmt.Errorf("unable to bootstrap cursor: %w", err)
		}
		report.Cursor = newCursor
		report.Bootstrapped = true
		log.Info().Str("account", e.account.Key).Str("cursor", newCursor).Msg("[HistorySync] cursor bootstrapped from notification")
		return report, nil
	}

	if newCursor != "" && CompareCursors(newCursor, stored) <= 0 {
		report.Stale = true
		log.Debug().Str("account", e.account.Key).Str("stored", stored).Str("incoming", newCursor).Msg("[HistorySync] notification cursor not newer, skipping")
		return report, nil
	}

	settled := stored
	latest := ""
	failedAt := ""
	pageToken := ""

pages:
	for {
		page, err := e.provider.ListHistory(ctx, stored, pageToken, e.pageSize)
		if err != nil {
			return report, e.listFailed(err, newCursor, report)
		}
		report.Pages++
		latest = maxCursor(latest, page.HistoryID)

		for _, record := range page.Records {
			recordSettled := true
			for _, id := range record.MessageIDs {
				if ctx.Err() != nil {
					recordSettled = false
					break
				}
				res := e.handler.Process(ctx, id)
				report.count(res)
				if !res.Settled() {
					recordSettled = false
				}
			}
			if !recordSettled && failedAt == "" {
				failedAt = record.ID
			}
			if failedAt == "" {
				settled = maxCursor(settled, record.ID)
			}
			if ctx.Err() != nil {
				break pages
			}
		}

		if page.NextPageToken == "" {
			break
		}
		if report.Pages >= e.maxPages {
			report.PageCapHit = true
			log.Warn().Str("account", e.account.Key).Int("pages", report.Pages).Msg("[HistorySync] page cap reached, resuming from last settled record next pass")
			break
		}
		pageToken = page.NextPageToken
	}

	target := settled
	complete := failedAt == "" && !report.PageCapHit && ctx.Err() == nil
	if complete {
		if newCursor != "" {
			target = maxCursor(target, newCursor)
		} else {
			target = maxCursor(target, latest)
		}
	}

	var completedAt *time.Time
	if failedAt == "" && ctx.Err() == nil {
		now := e.now()
		completedAt = &now
	}
	if CompareCursors(target, stored) < 0 {
		target = stored
	}
	if target != stored || completedAt != nil {
		if err := e.states.AdvanceCursor(e.account.Key, target, completedAt); err != nil {
			return report, fmt.Errorf("unable to store cursor: %w", err)
		}
		report.Cursor = target
	}

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	if failedAt != "" {
		msg := fmt.Sprintf("%d of %d messages failed, cursor held before history record %s", report.Failed, report.Events, failedAt)
		if err := e.states.RecordError(e.account.Key, e.account.Address, msg); err != nil {
			log.Error().Err(err).Str("account", e.account.Key).Msg("[HistorySync] unable to record error")
		}
		log.Warn().Str("account", e.account.Key).Str("cursor", report.Cursor).Msg("[HistorySync] " + msg)
		return report, errors.New(msg)
	}

	log.Info().
		Str("account", e.account.Key).
		Str("from", stored).
		Str("to", report.Cursor).
		Int("events", report.Events).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("duplicates", report.Duplicates).
		Msg("[HistorySync] pass completed")
	return report, nil
}

func (e *HistorySyncEngine) listFailed(err error, newCursor string, report *SyncReport) error {
	key := e.account.Key
	switch {
	case errors.Is(err, domain.ErrCursorExpired):
		// The gap is picked up by the fallback poller.
		if newCursor != "" {
			if werr := e.states.AdvanceCursor(key, newCursor, nil); werr != nil {
				log.Error().Err(werr).Str("account", key).Msg("[HistorySync] unable to reset expired cursor")
			} else {
				report.Cursor = newCursor
			}
		}
		log.Warn().Err(err).Str("account", key).Str("cursor", newCursor).Msg("[HistorySync] stored cursor expired, reset to notification cursor")
	case errors.Is(err, domain.ErrAuthExpired):
		if werr := e.states.Deactivate(key, err.Error()); werr != nil {
			log.Error().Err(werr).Str("account", key).Msg("[HistorySync] unable to deactivate account")
		}
		log.Error().Err(err).Str("account", key).Msg("[HistorySync] authorization expired, account deactivated")
		return err
	default:
		log.Error().Err(err).Str("account", key).Msg("[HistorySync] unable to list history")
	}
	if werr := e.states.RecordError(key, e.account.Address, err.Error()); werr != nil {
		log.Error().Err(werr).Str("account", key).Msg("[HistorySync] unable to record error")
	}
	return err
}

func syncOutcome(report *SyncReport, err error) string {
	switch {
	case err != nil:
		return "error"
	case report.Stale:
		return "stale"
	case report.Bootstrapped:
		return "bootstrapped"
	}
	return "completed"
}
