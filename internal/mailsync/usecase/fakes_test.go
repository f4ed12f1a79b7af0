package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/internal/mailsync/repository"
	"agency-crm-backend/pkg/config"
	"agency-crm-backend/pkg/database"

	"gorm.io/gorm"
)

var testAccount = config.MailboxAccount{
	Key:     "primary",
	Address: "hello@example.com",
	OwnerID: "owner-1",
}

type fakeProvider struct {
	mu sync.Mutex

	messages     map[string]*domain.ProviderMessage
	getErrs      map[string][]error
	getCalls     map[string]int
	attachments  map[string][]byte
	historyPages []*domain.HistoryPage
	historyErr   error
	historyCalls int
	historyFrom  []string
	listPages    []*domain.MessagePage
	listErrs     []error
	listCalls    int
	watchResult  *domain.WatchResult
	watchErr     error
	watchCalls   int
	stopErr      error
	stopCalls    int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		messages:    make(map[string]*domain.ProviderMessage),
		getErrs:     make(map[string][]error),
		getCalls:    make(map[string]int),
		attachments: make(map[string][]byte),
	}
}

func (f *fakeProvider) Watch(ctx context.Context) (*domain.WatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchCalls++
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.watchResult, nil
}

func (f *fakeProvider) StopWatch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

// pageIndex maps "" to page 0 and "pN" to page N.
func pageIndex(token string) int {
	if token == "" {
		return 0
	}
	n, _ := strconv.Atoi(token[1:])
	return n
}

func (f *fakeProvider) ListHistory(ctx context.Context, startCursor, pageToken string, pageSize int) (*domain.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	f.historyFrom = append(f.historyFrom, startCursor)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	i := pageIndex(pageToken)
	if i >= len(f.historyPages) {
		return &domain.HistoryPage{}, nil
	}
	return f.historyPages[i], nil
}

func (f *fakeProvider) GetMessage(ctx context.Context, messageID string) (*domain.ProviderMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls[messageID]++
	if errs := f.getErrs[messageID]; len(errs) > 0 {
		err := errs[0]
		f.getErrs[messageID] = errs[1:]
		return nil, err
	}
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, domain.NewProviderError(domain.ErrNotFound, "messages.get", nil)
	}
	return msg, nil
}

func (f *fakeProvider) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.attachments[attachmentID]
	if !ok {
		return nil, domain.NewProviderError(domain.ErrNotFound, "attachments.get", nil)
	}
	return data, nil
}

func (f *fakeProvider) ListMessages(ctx context.Context, query, pageToken string, pageSize int) (*domain.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	i := pageIndex(pageToken)
	if i >= len(f.listPages) {
		return &domain.MessagePage{}, nil
	}
	return f.listPages[i], nil
}

func (f *fakeProvider) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls[id]
}

func (f *fakeProvider) add(msg *domain.ProviderMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ID] = msg
}

func plainMessage(id, from, to, subject, body string) *domain.ProviderMessage {
	return &domain.ProviderMessage{
		ID:           id,
		InternalDate: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
		Payload: &domain.MessagePart{
			PartID:   "",
			MimeType: "text/plain",
			Headers: []domain.Header{
				{Name: "From", Value: from},
				{Name: "To", Value: to},
				{Name: "Subject", Value: subject},
			},
			Data: []byte(body),
		},
	}
}

type sentEvent struct {
	UserID string
	Type   string
	Data   interface{}
}

type fakeEvents struct {
	mu        sync.Mutex
	user      []sentEvent
	broadcast []sentEvent
}

func (f *fakeEvents) SendToUser(userID string, eventType string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = append(f.user, sentEvent{UserID: userID, Type: eventType, Data: data})
}

func (f *fakeEvents) Broadcast(eventType string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, sentEvent{Type: eventType, Data: data})
}

func (f *fakeEvents) userEvents(eventType string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.user {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEvents) broadcastCount(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.broadcast {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakePush struct {
	mu    sync.Mutex
	users []string
}

func (f *fakePush) NotifyUser(ctx context.Context, userID, title, body string, data map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
}

type fakeUploader struct {
	mu    sync.Mutex
	err   error
	names []string
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, desiredName, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, desiredName)
	return "https://cdn.example.com/" + desiredName, nil
}

type fakeIndexQueue struct {
	mu   sync.Mutex
	jobs []IndexJob
}

func (f *fakeIndexQueue) QueueJob(job IndexJob) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return true
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewSQLiteConnection(filepath.Join(t.TempDir(), "mailsync.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testEnv wires one account pipeline over sqlite and a fake provider.
type testEnv struct {
	states     repository.WatchStateRepository
	messages   repository.MessageRepository
	leads      repository.LeadRepository
	ledgerRepo repository.LedgerRepository
	provider   *fakeProvider
	events     *fakeEvents
	push       *fakePush
	uploader   *fakeUploader
	indexer    *fakeIndexQueue
	ledger     *Ledger
	processor  *MessageProcessor
	engine     *HistorySyncEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		states:     repository.NewWatchStateRepository(db),
		messages:   repository.NewMessageRepository(db),
		leads:      repository.NewLeadRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
		provider:   newFakeProvider(),
		events:     &fakeEvents{},
		push:       &fakePush{},
		uploader:   &fakeUploader{},
		indexer:    &fakeIndexQueue{},
	}
	if err := env.leads.Create(&domain.Lead{ID: "lead-1", OwnerID: "owner-1", Name: "Jane Client", Email: "jane@client.com"}); err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	env.ledger = NewLedger(testAccount.Key, env.ledgerRepo, 30*24*time.Hour, 5000)
	env.processor = env.newProcessor(env.ledger)
	env.engine = NewHistorySyncEngine(testAccount, env.provider, env.states, env.processor, nil, 10, 5)
	return env
}

func (env *testEnv) newProcessor(ledger *Ledger) *MessageProcessor {
	return NewMessageProcessor(testAccount, ProcessorDeps{
		Provider:   env.provider,
		Extractor:  NewContentExtractor(env.uploader),
		Ledger:     ledger,
		Leads:      env.leads,
		Messages:   env.messages,
		Events:     env.events,
		Correlator: NewReplyCorrelator(env.messages, env.events, env.push, 20),
		Indexer:    env.indexer,
	})
}

func (env *testEnv) cursor(t *testing.T) string {
	t.Helper()
	state, err := env.states.Get(testAccount.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if state == nil {
		return ""
	}
	return state.HistoryID
}

func (env *testEnv) inboundCount(t *testing.T) int64 {
	t.Helper()
	n, err := env.messages.CountByAccount(testAccount.Key)
	if err != nil {
		t.Fatalf("CountByAccount() error = %v", err)
	}
	return n
}

func transientErr(op string) error {
	return domain.NewProviderError(domain.ErrTransient, op, errors.New("503 backend error"))
}

func authErr(op string) error {
	return domain.NewProviderError(domain.ErrAuthExpired, op, fmt.Errorf("invalid_grant"))
}
