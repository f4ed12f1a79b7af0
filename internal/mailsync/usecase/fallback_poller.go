package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/pkg/config"
	"agency-crm-backend/pkg/monitor"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const pollPageSize = 100

// PollReport summarises one fallback poll.
type PollReport struct {
	Listed     int  `json:"listed"`
	Processed  int  `json:"processed"`
	Skipped    int  `json:"skipped"`
	Duplicates int  `json:"duplicates"`
	Failed     int  `json:"failed"`
	Retries    int  `json:"retries"`
	Capped     bool `json:"capped"`
	Aborted    bool `json:"aborted"`
}

// FallbackPoller periodically lists recent inbox mail and feeds it through the
// processor, covering whatever the push path missed.
type FallbackPoller struct {
	account   config.MailboxAccount
	provider  domain.MailProvider
	processor MessageHandler
	ledger    *Ledger
	monitor   monitor.Monitor
	cfg       config.SyncConfig
	limiter   *rate.Limiter

	running sync.Mutex
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewFallbackPoller(account config.MailboxAccount, provider domain.MailProvider, processor MessageHandler, ledger *Ledger, mon monitor.Monitor, cfg config.SyncConfig) *FallbackPoller {
	limit := rate.Inf
	if cfg.PollCallDelay > 0 {
		limit = rate.Every(cfg.PollCallDelay)
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 1
	}
	if mon == nil {
		mon = monitor.Noop{}
	}
	return &FallbackPoller{
		account:   account,
		provider:  provider,
		processor: processor,
		ledger:    ledger,
		monitor:   mon,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		sleep:     sleepContext,
	}
}

func (p *FallbackPoller) query() string {
	return fmt.Sprintf("in:inbox (is:unread OR newer_than:%dd)", p.cfg.PollWindowDays)
}

// PollOnce runs a single poll. Concurrent calls for the same account queue up.
func (p *FallbackPoller) PollOnce(ctx context.Context) (*PollReport, error) {
	p.running.Lock()
	defer p.running.Unlock()

	start := time.Now()
	report, err := p.poll(ctx)
	p.monitor.Track(monitor.PipelineEvent{
		AccountKey: p.account.Key,
		Stage:      "poll",
		Outcome:    pollOutcome(report, err),
		Latency:    time.Since(start),
		Failed:     err != nil,
	})
	return report, err
}

func (p *FallbackPoller) poll(ctx context.Context) (*PollReport, error) {
	report := &PollReport{}
	handled := make(map[string]bool)
	query := p.query()
	pageToken := ""

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return report, err
		}
		var page *domain.MessagePage
		err := p.retry(ctx, report, func() error {
			var lerr error
			page, lerr = p.provider.ListMessages(ctx, query, pageToken, pollPageSize)
			return lerr
		})
		if err != nil {
			if errors.Is(err, domain.ErrAuthExpired) {
				report.Aborted = true
			}
			log.Error().Err(err).Str("account", p.account.Key).Msg("[Poller] unable to list messages")
			return report, err
		}

		for _, id := range page.MessageIDs {
			if report.Listed >= p.cfg.PollMaxMessages && p.cfg.PollMaxMessages > 0 {
				report.Capped = true
				break
			}
			if handled[id] {
				continue
			}
			handled[id] = true
			report.Listed++

			if p.ledger.Seen(id) {
				report.Duplicates++
				continue
			}

			res, err := p.processWithRetry(ctx, id, report)
			switch res.Outcome {
			case domain.OutcomeProcessed:
				report.Processed++
			case domain.OutcomeSkipped:
				report.Skipped++
			case domain.OutcomeDuplicate:
				report.Duplicates++
			default:
				report.Failed++
			}
			if err != nil {
				if errors.Is(err, domain.ErrAuthExpired) {
					report.Aborted = true
					log.Error().Err(err).Str("account", p.account.Key).Msg("[Poller] authorization expired, aborting run")
					return report, err
				}
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
			}
		}

		if report.Capped || page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	log.Info().
		Str("account", p.account.Key).
		Int("listed", report.Listed).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("duplicates", report.Duplicates).
		Int("failed", report.Failed).
		Msg("[Poller] poll finished")
	return report, nil
}

// processWithRetry gives a message up to PollMaxAttempts tries with
// exponential backoff. A message that still fails is left for the next poll.
func (p *FallbackPoller) processWithRetry(ctx context.Context, id string, report *PollReport) (domain.ProcessResult, error) {
	var res domain.ProcessResult
	err := p.retry(ctx, report, func() error {
		if werr := p.limiter.Wait(ctx); werr != nil {
			return werr
		}
		res = p.processor.Process(ctx, id)
		if res.Settled() {
			return nil
		}
		if res.Err == nil {
			return fmt.Errorf("message %s failed", id)
		}
		return res.Err
	})
	if err != nil && res.Outcome == "" {
		res = domain.ProcessResult{Outcome: domain.OutcomeError, MessageID: id, Err: err}
	}
	return res, err
}

func (p *FallbackPoller) retry(ctx context.Context, report *PollReport, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.cfg.PollMaxAttempts; attempt++ {
		if attempt > 0 {
			report.Retries++
			backoff := p.cfg.PollRetryBase * time.Duration(1<<(attempt-1))
			if serr := p.sleep(ctx, backoff); serr != nil {
				return serr
			}
		}
		err = fn()
		if err == nil || !domain.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// EvictLedger trims the account ledger to its retention window and size cap.
func (p *FallbackPoller) EvictLedger() {
	if _, err := p.ledger.Evict(); err != nil {
		log.Error().Err(err).Str("account", p.account.Key).Msg("[Poller] ledger eviction failed")
	}
}

// Run polls every PollInterval and evicts the ledger every
// LedgerEvictInterval until ctx is cancelled.
func (p *FallbackPoller) Run(ctx context.Context) {
	pollEvery := p.cfg.PollInterval
	if pollEvery <= 0 {
		pollEvery = 5 * time.Minute
	}
	evictEvery := p.cfg.LedgerEvictInterval
	if evictEvery <= 0 {
		evictEvery = time.Hour
	}

	pollTicker := time.NewTicker(pollEvery)
	defer pollTicker.Stop()
	evictTicker := time.NewTicker(evictEvery)
	defer evictTicker.Stop()

	log.Info().Str("account", p.account.Key).Dur("interval", pollEvery).Msg("[Poller] started")
	for {
		select {
		case <-pollTicker.C:
			if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("account", p.account.Key).Msg("[Poller] poll failed")
			}
		case <-evictTicker.C:
			p.EvictLedger()
		case <-ctx.Done():
			log.Info().Str("account", p.account.Key).Msg("[Poller] stopped")
			return
		}
	}
}

func pollOutcome(report *PollReport, err error) string {
	switch {
	case report != nil && report.Aborted:
		return "aborted"
	case err != nil:
		return "error"
	}
	return "completed"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
