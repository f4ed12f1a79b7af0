package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/internal/mailsync/repository"
	"agency-crm-backend/pkg/config"
	"agency-crm-backend/pkg/mailtext"
	"agency-crm-backend/pkg/monitor"

	"github.com/rs/zerolog/log"
)

const (
	previewLength      = 150
	emptyContentMarker = "(no text content)"
)

// MessageProcessor ingests single inbound messages for one mailbox account.
type MessageProcessor struct {
	account    config.MailboxAccount
	provider   domain.MailProvider
	extractor  *ContentExtractor
	ledger     *Ledger
	leads      repository.LeadRepository
	messages   repository.MessageRepository
	events     domain.EventPublisher
	correlator *ReplyCorrelator
	indexer    IndexQueue
	monitor    monitor.Monitor

	inflightMu sync.Mutex
	inflight   map[string]chan struct{}
	background sync.WaitGroup
}

type ProcessorDeps struct {
	Provider   domain.MailProvider
	Extractor  *ContentExtractor
	Ledger     *Ledger
	Leads      repository.LeadRepository
	Messages   repository.MessageRepository
	Events     domain.EventPublisher
	Correlator *ReplyCorrelator
	Indexer    IndexQueue
	Monitor    monitor.Monitor
}

func NewMessageProcessor(account config.MailboxAccount, deps ProcessorDeps) *MessageProcessor {
	mon := deps.Monitor
	if mon == nil {
		mon = monitor.Noop{}
	}
	return &MessageProcessor{
		account:    account,
		provider:   deps.Provider,
		extractor:  deps.Extractor,
		ledger:     deps.Ledger,
		leads:      deps.Leads,
		messages:   deps.Messages,
		events:     deps.Events,
		correlator: deps.Correlator,
		indexer:    deps.Indexer,
		monitor:    mon,
		inflight:   make(map[string]chan struct{}),
	}
}

// Process runs the ingestion steps for messageID and never panics on provider
// or storage failures; they come back as an error outcome.
func (p *MessageProcessor) Process(ctx context.Context, messageID string) domain.ProcessResult {
	start := time.Now()
	release, err := p.acquire(ctx, messageID)
	if err != nil {
		return p.finish(start, domain.ProcessResult{Outcome: domain.OutcomeError, MessageID: messageID, Err: err})
	}
	defer release()

	return p.finish(start, p.process(ctx, messageID))
}

func (p *MessageProcessor) process(ctx context.Context, messageID string) domain.ProcessResult {
	result := domain.ProcessResult{MessageID: messageID}

	if p.ledger.Seen(messageID) {
		result.Outcome = domain.OutcomeDuplicate
		return result
	}

	msg, err := p.provider.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			result.Outcome = domain.OutcomeSkipped
			result.Reason = domain.SkipDeleted
			return result
		}
		result.Outcome = domain.OutcomeError
		result.Err = err
		return result
	}

	from := mailtext.ExtractAddress(msg.Header("From"))
	if !p.inbound(from, msg) {
		result.Outcome = domain.OutcomeSkipped
		result.Reason = domain.SkipNotAddressed
		return result
	}

	lead, err := p.leads.FindByEmail(from)
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.Err = fmt.Errorf("lead lookup failed: %w", err)
		return result
	}
	if lead == nil {
		log.Debug().Str("account", p.account.Key).Str("message_id", messageID).Str("from", from).Msg("[Processor] no lead for sender")
		result.Outcome = domain.OutcomeSkipped
		result.Reason = domain.SkipUnknownSender
		return result
	}
	result.LeadID = lead.ID

	if p.ledger.Seen(messageID) {
		result.Outcome = domain.OutcomeDuplicate
		return result
	}

	content, err := p.extractor.Extract(ctx, p.provider, msg)
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.Err = fmt.Errorf("content extraction failed: %w", err)
		return result
	}
	text := content.Text
	if strings.TrimSpace(text) == "" {
		if content.Empty() {
			log.Warn().Str("account", p.account.Key).Str("message_id", messageID).Msg("[Processor] no text or html body, storing placeholder")
		}
		text = emptyContentMarker
	}

	externalID := messageID
	record := &domain.LeadMessage{
		LeadID:            lead.ID,
		Type:              domain.MessageTypeInbound,
		Subject:           msg.Header("Subject"),
		Content:           text,
		EmailBody:         content.HTML,
		RecipientEmail:    from,
		Status:            domain.MessageStatusReceived,
		ExternalMessageID: &externalID,
		AccountKey:        p.account.Key,
		Attachments:       content.Assets,
		SentAt:            sentAt(msg),
	}

	created, err := p.messages.CreateInbound(record)
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.Err = fmt.Errorf("unable to store message: %w", err)
		return result
	}
	if _, err := p.ledger.Record(messageID); err != nil {
		// The unique index on lead_messages still rejects a second copy.
		log.Error().Err(err).Str("account", p.account.Key).Str("message_id", messageID).Msg("[Processor] ledger write failed")
	}
	if !created {
		result.Outcome = domain.OutcomeDuplicate
		return result
	}
	result.RecordID = record.ID

	preview := mailtext.Preview(text, previewLength)
	activity := &domain.LeadActivity{
		LeadID:    lead.ID,
		Kind:      domain.ActivityEmailReceived,
		Preview:   preview,
		MessageID: record.ID,
	}
	if err := p.leads.AppendActivity(activity); err != nil {
		log.Error().Err(err).Str("lead_id", lead.ID).Msg("[Processor] timeline append failed")
	}

	p.publish(lead, record, preview)
	p.correlate(ctx, record, lead)

	if p.indexer != nil {
		if !p.indexer.QueueJob(IndexJob{
			MessageID: record.ID,
			LeadID:    lead.ID,
			OwnerID:   lead.OwnerID,
			Subject:   record.Subject,
			Body:      text,
		}) {
			log.Warn().Str("message_id", record.ID).Msg("[Processor] index queue full, job dropped")
		}
	}

	log.Info().Str("account", p.account.Key).Str("message_id", messageID).Str("lead_id", lead.ID).Msg("[Processor] message ingested")
	result.Outcome = domain.OutcomeProcessed
	return result
}

// inbound reports whether the message was sent to this account by someone else.
func (p *MessageProcessor) inbound(from string, msg *domain.ProviderMessage) bool {
	if from == "" || strings.EqualFold(from, p.account.Address) {
		return false
	}
	return mailtext.Addressed(p.account.Address, msg.Header("To"), msg.Header("Cc"), msg.Header("Bcc"))
}

func (p *MessageProcessor) publish(lead *domain.Lead, record *domain.LeadMessage, preview string) {
	if p.events == nil {
		return
	}
	received := map[string]interface{}{
		"message_id": record.ID,
		"lead_id":    lead.ID,
		"account":    p.account.Key,
		"subject":    record.Subject,
		"preview":    preview,
		"sent_at":    record.SentAt,
	}
	updated := map[string]interface{}{
		"lead_id":               lead.ID,
		"last_activity_preview": preview,
	}
	if lead.OwnerID != "" {
		p.events.SendToUser(lead.OwnerID, domain.EventMessageReceived, received)
		p.events.SendToUser(lead.OwnerID, domain.EventLeadUpdated, updated)
	}
	p.events.Broadcast(domain.EventMessageReceived, received)
	p.events.Broadcast(domain.EventLeadUpdated, updated)
}

func (p *MessageProcessor) correlate(ctx context.Context, record *domain.LeadMessage, lead *domain.Lead) {
	if p.correlator == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		if _, err := p.correlator.Correlate(detached, record, lead); err != nil {
			log.Error().Err(err).Str("message_id", record.ID).Msg("[ReplyCorrelator] correlation failed")
		}
	}()
}

// acquire serialises work on one message id; a second caller waits for the
// first to finish and then sees its ledger entry.
func (p *MessageProcessor) acquire(ctx context.Context, messageID string) (func(), error) {
	for {
		p.inflightMu.Lock()
		done, busy := p.inflight[messageID]
		if !busy {
			done = make(chan struct{})
			p.inflight[messageID] = done
			p.inflightMu.Unlock()
			return func() {
				p.inflightMu.Lock()
				delete(p.inflight, messageID)
				p.inflightMu.Unlock()
				close(done)
			}, nil
		}
		p.inflightMu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *MessageProcessor) finish(start time.Time, result domain.ProcessResult) domain.ProcessResult {
	if result.Err != nil {
		log.Error().Err(result.Err).Str("account", p.account.Key).Str("message_id", result.MessageID).Msg("[Processor] message failed")
	}
	p.monitor.Track(monitor.PipelineEvent{
		AccountKey: p.account.Key,
		Stage:      "message",
		Outcome:    string(result.Outcome),
		Reason:     result.Reason,
		Latency:    time.Since(start),
		Failed:     result.Outcome == domain.OutcomeError,
	})
	return result
}

// Wait blocks until background correlation work has finished.
func (p *MessageProcessor) Wait() {
	p.background.Wait()
}

func sentAt(msg *domain.ProviderMessage) time.Time {
	if !msg.InternalDate.IsZero() {
		return msg.InternalDate
	}
	if t, err := mail.ParseDate(msg.Header("Date")); err == nil {
		return t
	}
	return time.Now()
}
