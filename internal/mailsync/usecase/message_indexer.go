package usecase

import (
	"context"
	"sync"
	"time"

	"agency-crm-backend/internal/mailsync/repository"

	"github.com/rs/zerolog/log"
)

// IndexJob asks for one stored inbound message to be embedded for search.
type IndexJob struct {
	MessageID string
	LeadID    string
	OwnerID   string
	Subject   string
	Body      string
}

// IndexDocument is what gets written to the vector index.
type IndexDocument struct {
	MessageID string
	LeadID    string
	OwnerID   string
	Subject   string
	Text      string
}

// MessageIndexer embeds ingested messages on a small worker pool. Failures
// never reach the ingestion path.
type MessageIndexer struct {
	history     repository.IndexHistoryRepository
	index       VectorIndex
	jobQueue    chan IndexJob
	workerWg    sync.WaitGroup
	workerCount int
	timeout     time.Duration
	started     bool
	stopped     bool
	mu          sync.Mutex
}

func NewMessageIndexer(history repository.IndexHistoryRepository, index VectorIndex, workerCount int) *MessageIndexer {
	if workerCount <= 0 {
		workerCount = 3
	}
	return &MessageIndexer{
		history:     history,
		index:       index,
		jobQueue:    make(chan IndexJob, 500),
		workerCount: workerCount,
		timeout:     30 * time.Second,
	}
}

func (s *MessageIndexer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	for i := 0; i < s.workerCount; i++ {
		s.workerWg.Add(1)
		go s.worker(i)
	}
	s.started = true
	log.Info().Int("workers", s.workerCount).Msg("[Indexer] started")
}

// Stop drains the queue and waits for the workers.
func (s *MessageIndexer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.jobQueue)
	s.mu.Unlock()

	s.workerWg.Wait()
	log.Info().Msg("[Indexer] all workers stopped")
}

func (s *MessageIndexer) worker(id int) {
	defer s.workerWg.Done()

	for job := range s.jobQueue {
		s.processJob(job)
	}
	log.Debug().Int("worker", id).Msg("[Indexer] worker stopped")
}

func (s *MessageIndexer) processJob(job IndexJob) {
	already, err := s.history.EnsureIndexed(job.MessageID, job.LeadID)
	if err != nil {
		log.Error().Err(err).Str("message_id", job.MessageID).Msg("[Indexer] unable to check index history")
		return
	}
	if already {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err = s.index.UpsertMessage(ctx, IndexDocument{
		MessageID: job.MessageID,
		LeadID:    job.LeadID,
		OwnerID:   job.OwnerID,
		Subject:   job.Subject,
		Text:      job.Body,
	})
	if err != nil {
		log.Error().Err(err).Str("message_id", job.MessageID).Msg("[Indexer] upsert failed")
		if uerr := s.history.Unmark(job.MessageID); uerr != nil {
			log.Error().Err(uerr).Str("message_id", job.MessageID).Msg("[Indexer] unable to clear index history")
		}
		return
	}
	log.Debug().Str("message_id", job.MessageID).Msg("[Indexer] message indexed")
}

// QueueJob adds a job without blocking. Returns false when the queue is full
// or the indexer has stopped.
func (s *MessageIndexer) QueueJob(job IndexJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	select {
	case s.jobQueue <- job:
		return true
	default:
		return false
	}
}

// Search returns message ids matching query among the owner's indexed mail.
func (s *MessageIndexer) Search(ctx context.Context, ownerID, query string, limit int) ([]string, []float64, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.index.Search(ctx, ownerID, query, limit)
}
