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

	"github.com/rs/zerolog/log"
)

// WatchManager keeps the provider push subscription of one account alive.
type WatchManager struct {
	account   config.MailboxAccount
	provider  domain.MailProvider
	states    repository.WatchStateRepository
	engine    *HistorySyncEngine
	threshold time.Duration
	interval  time.Duration

	mu       sync.Mutex
	renewing bool
	now      func() time.Time
}

func NewWatchManager(account config.MailboxAccount, provider domain.MailProvider, states repository.WatchStateRepository, engine *HistorySyncEngine, threshold, interval time.Duration) *WatchManager {
	if threshold <= 0 {
		threshold = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &WatchManager{
		account:   account,
		provider:  provider,
		states:    states,
		engine:    engine,
		threshold: threshold,
		interval:  interval,
		now:       time.Now,
	}
}

// Start subscribes the mailbox and bootstraps the history cursor. It does
// not backfill older mail.
func (m *WatchManager) Start(ctx context.Context) error {
	result, err := m.provider.Watch(ctx)
	if err != nil {
		m.fail("start", err)
		return fmt.Errorf("unable to start watch for %s: %w", m.account.Key, err)
	}
	if err := m.engine.ApplyWatch(result); err != nil {
		return fmt.Errorf("unable to store watch for %s: %w", m.account.Key, err)
	}
	log.Info().
		Str("account", m.account.Key).
		Str("history_id", result.HistoryID).
		Time("expires", result.Expiration).
		Msg("[WatchManager] watch active")
	return nil
}

// Renew re-issues the subscription. On failure the stored cursor and expiry
// are left as they were.
func (m *WatchManager) Renew(ctx context.Context) error {
	m.mu.Lock()
	if m.renewing {
		m.mu.Unlock()
		return nil
	}
	m.renewing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.renewing = false
		m.mu.Unlock()
	}()

	log.Info().Str("account", m.account.Key).Msg("[WatchManager] renewing watch")
	return m.Start(ctx)
}

// Stop unsubscribes. An already expired subscription counts as stopped.
func (m *WatchManager) Stop(ctx context.Context) error {
	if err := m.provider.StopWatch(ctx); err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.fail("stop", err)
		return fmt.Errorf("unable to stop watch for %s: %w", m.account.Key, err)
	}
	if err := m.states.UpdateWatch(m.account.Key, nil, false); err != nil {
		return err
	}
	log.Info().Str("account", m.account.Key).Msg("[WatchManager] watch stopped")
	return nil
}

// CheckRenewal renews the watch when it is active and expires within the
// threshold. Reports whether a renewal was attempted.
func (m *WatchManager) CheckRenewal(ctx context.Context) (bool, error) {
	state, err := m.states.Get(m.account.Key)
	if err != nil {
		return false, err
	}
	// Expiry decides, not phase: a failed renewal must be retried next tick.
	if !state.ExpiresWithin(m.now(), m.threshold) {
		return false, nil
	}
	log.Info().
		Str("account", m.account.Key).
		Float64("hours_left", state.WatchExpiration.Sub(m.now()).Hours()).
		Msg("[WatchManager] watch expiring soon")
	return true, m.Renew(ctx)
}

// Phase reports the current lifecycle phase.
func (m *WatchManager) Phase() (domain.WatchPhase, error) {
	m.mu.Lock()
	renewing := m.renewing
	m.mu.Unlock()
	if renewing {
		return domain.WatchRenewing, nil
	}
	state, err := m.states.Get(m.account.Key)
	if err != nil {
		return "", err
	}
	return state.Phase(m.now(), m.threshold), nil
}

// Run checks for renewal every interval until ctx is cancelled.
func (m *WatchManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.CheckRenewal(ctx); err != nil {
				log.Error().Err(err).Str("account", m.account.Key).Msg("[WatchManager] renewal check failed")
			}
		case <-ctx.Done():
			log.Info().Str("account", m.account.Key).Msg("[WatchManager] stopped")
			return
		}
	}
}

func (m *WatchManager) fail(op string, err error) {
	if errors.Is(err, domain.ErrAuthExpired) {
		if _, eerr := m.states.Ensure(m.account.Key, m.account.Address); eerr != nil {
			log.Error().Err(eerr).Str("account", m.account.Key).Msg("[WatchManager] unable to load watch state")
		}
		if derr := m.states.Deactivate(m.account.Key, err.Error()); derr != nil {
			log.Error().Err(derr).Str("account", m.account.Key).Msg("[WatchManager] unable to deactivate account")
		}
		log.Error().Err(err).Str("account", m.account.Key).Msg("[WatchManager] authorization expired, account deactivated")
		return
	}
	if rerr := m.states.RecordError(m.account.Key, m.account.Address, op+": "+err.Error()); rerr != nil {
		log.Error().Err(rerr).Str("account", m.account.Key).Msg("[WatchManager] unable to record error")
	}
	log.Error().Err(err).Str("account", m.account.Key).Str("op", op).Msg("[WatchManager] watch call failed")
}
