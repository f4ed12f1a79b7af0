package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/internal/mailsync/repository"
	"agency-crm-backend/pkg/config"
	"agency-crm-backend/pkg/monitor"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ProviderFactory opens the provider client of one account.
type ProviderFactory func(ctx context.Context, account config.MailboxAccount) (domain.MailProvider, error)

// Dependencies are shared by every account pipeline.
type Dependencies struct {
	States    repository.WatchStateRepository
	Messages  repository.MessageRepository
	Leads     repository.LeadRepository
	Ledger    repository.LedgerRepository
	Extractor *ContentExtractor
	Events    domain.EventPublisher
	Push      PushNotifier
	Indexer   IndexQueue
	Monitor   monitor.Monitor
	Providers ProviderFactory
	Sync      config.SyncConfig
}

// AccountPipeline is the full set of pipeline components of one mailbox.
type AccountPipeline struct {
	Account   config.MailboxAccount
	Provider  domain.MailProvider
	Ledger    *Ledger
	Processor *MessageProcessor
	Engine    *HistorySyncEngine
	Watch     *WatchManager
	Poller    *FallbackPoller
}

// AccountStatus is the operator view of one account.
type AccountStatus struct {
	AccountKey   string             `json:"account_key"`
	EmailAddress string             `json:"email_address"`
	Phase        domain.WatchPhase  `json:"phase"`
	LedgerSize   int                `json:"ledger_size"`
	State        *domain.WatchState `json:"state"`
}

// Supervisor owns the per-account pipelines and their background loops.
type Supervisor struct {
	deps      Dependencies
	pipelines map[string]*AccountPipeline
	order     []string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSupervisor(ctx context.Context, accounts []config.MailboxAccount, deps Dependencies) (*Supervisor, error) {
	if deps.Monitor == nil {
		deps.Monitor = monitor.Noop{}
	}
	s := &Supervisor{
		deps:      deps,
		pipelines: make(map[string]*AccountPipeline, len(accounts)),
	}
	for _, account := range accounts {
		if _, dup := s.pipelines[account.Key]; dup {
			return nil, fmt.Errorf("duplicate mailbox account %q", account.Key)
		}
		provider, err := deps.Providers(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("unable to open provider for %s: %w", account.Key, err)
		}
		s.pipelines[account.Key] = s.build(account, provider)
		s.order = append(s.order, account.Key)
	}
	return s, nil
}

func (s *Supervisor) build(account config.MailboxAccount, provider domain.MailProvider) *AccountPipeline {
	cfg := s.deps.Sync
	ledger := NewLedger(account.Key, s.deps.Ledger, cfg.LedgerRetention, cfg.LedgerMaxEntries)
	processor := NewMessageProcessor(account, ProcessorDeps{
		Provider:   provider,
		Extractor:  s.deps.Extractor,
		Ledger:     ledger,
		Leads:      s.deps.Leads,
		Messages:   s.deps.Messages,
		Events:     s.deps.Events,
		Correlator: NewReplyCorrelator(s.deps.Messages, s.deps.Events, s.deps.Push, cfg.CorrelationWindow),
		Indexer:    s.deps.Indexer,
		Monitor:    s.deps.Monitor,
	})
	engine := NewHistorySyncEngine(account, provider, s.deps.States, processor, s.deps.Monitor, cfg.HistoryPageSize, cfg.HistoryMaxPages)
	return &AccountPipeline{
		Account:   account,
		Provider:  provider,
		Ledger:    ledger,
		Processor: processor,
		Engine:    engine,
		Watch:     NewWatchManager(account, provider, s.deps.States, engine, cfg.RenewThreshold, cfg.RenewCheckInterval),
		Poller:    NewFallbackPoller(account, provider, processor, ledger, s.deps.Monitor, cfg),
	}
}

// Start loads every ledger, starts the watches and launches the renewal and
// poll loops. A failed watch start is logged; the poller still covers that
// account.
func (s *Supervisor) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range s.order {
		p := s.pipelines[key]
		g.Go(func() error {
			if err := p.Ledger.Load(); err != nil {
				return err
			}
			if _, err := s.deps.States.Ensure(p.Account.Key, p.Account.Address); err != nil {
				return fmt.Errorf("unable to initialise watch state for %s: %w", p.Account.Key, err)
			}
			if err := p.Watch.Start(gctx); err != nil {
				log.Error().Err(err).Str("account", p.Account.Key).Msg("[Supervisor] watch start failed, relying on poller")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	for _, key := range s.order {
		p := s.pipelines[key]
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			p.Watch.Run(runCtx)
		}()
		go func() {
			defer s.wg.Done()
			p.Poller.Run(runCtx)
		}()
	}
	log.Info().Int("accounts", len(s.order)).Msg("[Supervisor] pipelines started")
	return nil
}

// Shutdown stops the loops and waits for in-flight work to finish.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	for _, key := range s.order {
		s.pipelines[key].Processor.Wait()
	}
	log.Info().Msg("[Supervisor] pipelines stopped")
}

func (s *Supervisor) Pipeline(key string) (*AccountPipeline, bool) {
	p, ok := s.pipelines[key]
	return p, ok
}

func (s *Supervisor) PipelineByAddress(address string) (*AccountPipeline, bool) {
	address = strings.ToLower(strings.TrimSpace(address))
	for _, key := range s.order {
		if p := s.pipelines[key]; strings.EqualFold(p.Account.Address, address) {
			return p, true
		}
	}
	return nil, false
}

func (s *Supervisor) Pipelines() []*AccountPipeline {
	out := make([]*AccountPipeline, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.pipelines[key])
	}
	return out
}

// Resolve implements AccountResolver: the explicit account hint wins over the
// address carried in the payload.
func (s *Supervisor) Resolve(accountHint, emailAddress string) (SyncTarget, bool) {
	if accountHint != "" {
		if p, ok := s.Pipeline(accountHint); ok {
			return p.Engine, true
		}
	}
	if emailAddress != "" {
		if p, ok := s.PipelineByAddress(emailAddress); ok {
			return p.Engine, true
		}
	}
	return nil, false
}

func (s *Supervisor) Statuses() ([]AccountStatus, error) {
	out := make([]AccountStatus, 0, len(s.order))
	for _, key := range s.order {
		p := s.pipelines[key]
		state, err := s.deps.States.Get(key)
		if err != nil {
			return nil, err
		}
		phase, err := p.Watch.Phase()
		if err != nil {
			return nil, err
		}
		out = append(out, AccountStatus{
			AccountKey:   key,
			EmailAddress: p.Account.Address,
			Phase:        phase,
			LedgerSize:   p.Ledger.Len(),
			State:        state,
		})
	}
	return out, nil
}

// StartWatch (re)registers the push subscription of one account.
func (s *Supervisor) StartWatch(ctx context.Context, key string) error {
	p, ok := s.Pipeline(key)
	if !ok {
		return domain.ErrUnknownAccount
	}
	return p.Watch.Start(ctx)
}

// StopWatch cancels the push subscription of one account. The poller keeps running.
func (s *Supervisor) StopWatch(ctx context.Context, key string) error {
	p, ok := s.Pipeline(key)
	if !ok {
		return domain.ErrUnknownAccount
	}
	return p.Watch.Stop(ctx)
}

// PollNow runs one fallback poll of the account outside its schedule.
func (s *Supervisor) PollNow(ctx context.Context, key string) (*PollReport, error) {
	p, ok := s.Pipeline(key)
	if !ok {
		return nil, domain.ErrUnknownAccount
	}
	return p.Poller.PollOnce(ctx)
}
