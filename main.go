package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	api "agency-crm-backend/cmd/api"
	authdomain "agency-crm-backend/internal/auth/domain"
	authRepo "agency-crm-backend/internal/auth/repository"
	authUsecase "agency-crm-backend/internal/auth/usecase"
	mailsyncDelivery "agency-crm-backend/internal/mailsync/delivery"
	"agency-crm-backend/internal/mailsync/domain"
	mailsyncRepo "agency-crm-backend/internal/mailsync/repository"
	mailsyncUsecase "agency-crm-backend/internal/mailsync/usecase"
	"agency-crm-backend/internal/notification"
	"agency-crm-backend/pkg/chroma"
	"agency-crm-backend/pkg/config"
	"agency-crm-backend/pkg/database"
	"agency-crm-backend/pkg/fcm"
	"agency-crm-backend/pkg/gmail"
	"agency-crm-backend/pkg/logger"
	"agency-crm-backend/pkg/monitor"
	"agency-crm-backend/pkg/sse"
	"agency-crm-backend/pkg/storage"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// chromaIndex adapts the Chroma client to the indexer's VectorIndex.
type chromaIndex struct {
	client *chroma.ChromaClient
}

func (c chromaIndex) UpsertMessage(ctx context.Context, doc mailsyncUsecase.IndexDocument) error {
	return c.client.Upsert(ctx, chroma.Document{
		ID:      doc.MessageID,
		OwnerID: doc.OwnerID,
		LeadID:  doc.LeadID,
		Subject: doc.Subject,
		Text:    doc.Text,
	})
}

func (c chromaIndex) Search(ctx context.Context, ownerID, query string, limit int) ([]string, []float64, error) {
	return c.client.Query(ctx, ownerID, query, limit)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := mailsyncRepo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	if err := db.AutoMigrate(&authdomain.FCMToken{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Initialize repositories (dependency injection)
	fcmTokenRepo := authRepo.NewFCMTokenRepository(db)
	stateRepo := mailsyncRepo.NewWatchStateRepository(db)
	messageRepo := mailsyncRepo.NewMessageRepository(db)
	leadRepo := mailsyncRepo.NewLeadRepository(db)
	ledgerRepo := mailsyncRepo.NewLedgerRepository(db)
	indexHistoryRepo := mailsyncRepo.NewIndexHistoryRepository(db)

	uploader, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob storage")
	}

	// Initialize SSE Manager
	sseManager := sse.NewManager()
	go sseManager.Run()

	// FCM is optional; without it replies are only announced over SSE.
	var push mailsyncUsecase.PushNotifier
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize FCM client, push notifications disabled")
		} else {
			push = notification.NewPushService(fcmClient, fcmTokenRepo)
		}
	} else {
		log.Info().Msg("No Firebase credentials configured, FCM disabled")
	}

	mon, err := monitor.New(cfg.PosthogAPIKey, cfg.PosthogEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize PostHog, pipeline analytics disabled")
		mon = monitor.Noop{}
	}

	// Semantic search over ingested replies is optional.
	var indexer *mailsyncUsecase.MessageIndexer
	var indexQueue mailsyncUsecase.IndexQueue
	var searcher mailsyncDelivery.MessageSearcher
	if cfg.ChromaAPIKey != "" {
		chromaClient, err := chroma.NewChromaClient(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Chroma client, semantic search disabled")
		} else {
			indexer = mailsyncUsecase.NewMessageIndexer(indexHistoryRepo, chromaIndex{client: chromaClient}, 3)
			indexer.Start()
			indexQueue = indexer
			searcher = indexer
		}
	} else {
		log.Info().Msg("CHROMA_API_KEY not set, semantic search disabled")
	}

	topicName := cfg.GooglePubSubTopic
	if topicName == "" && cfg.GoogleProjectID != "" {
		topicName = "projects/" + cfg.GoogleProjectID + "/topics/gmail-updates"
	}
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, topicName)

	supervisor, err := mailsyncUsecase.NewSupervisor(ctx, cfg.Accounts, mailsyncUsecase.Dependencies{
		States:    stateRepo,
		Messages:  messageRepo,
		Leads:     leadRepo,
		Ledger:    ledgerRepo,
		Extractor: mailsyncUsecase.NewContentExtractor(uploader),
		Events:    sseManager,
		Push:      push,
		Indexer:   indexQueue,
		Monitor:   mon,
		Sync:      cfg.Sync,
		Providers: func(ctx context.Context, account config.MailboxAccount) (domain.MailProvider, error) {
			return gmailService.ForAccount(ctx, account.Key, account.RefreshToken)
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build mailbox pipelines")
	}
	if err := supervisor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start mailbox pipelines")
	}

	receiver := mailsyncUsecase.NewNotificationReceiver(cfg.WebhookSecret, supervisor)

	// Pull subscription, only when a project is configured.
	var subscriber *notification.Subscriber
	subscriberDone := make(chan struct{})
	if cfg.GoogleProjectID != "" {
		shortTopic := topicName
		if parts := strings.Split(shortTopic, "/"); len(parts) > 1 {
			shortTopic = parts[len(parts)-1]
		}
		var opts []option.ClientOption
		if cfg.GoogleCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentials))
		}
		subscriber, err = notification.NewSubscriber(ctx, cfg.GoogleProjectID, shortTopic, cfg.GooglePubSubSub, receiver, opts...)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Pub/Sub subscriber")
		} else {
			go func() {
				defer close(subscriberDone)
				if err := subscriber.Start(ctx); err != nil {
					log.Error().Err(err).Msg("Pub/Sub subscriber stopped")
				}
			}()
		}
	} else {
		log.Warn().Msg("GOOGLE_PROJECT_ID not configured, Pub/Sub pull disabled")
	}

	handler := api.NewHandler(authUsecase.NewTokenValidator(cfg.JWTSecret), sseManager, fcmTokenRepo, receiver, supervisor, searcher)
	server := handler.NewServer(":" + cfg.Port)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if subscriber != nil {
		// Start returns only after its in-flight callbacks have returned.
		<-subscriberDone
		if err := subscriber.Close(); err != nil {
			log.Warn().Err(err).Msg("Pub/Sub client close failed")
		}
	}
	receiver.Wait()
	supervisor.Shutdown()
	if indexer != nil {
		indexer.Stop()
	}
	sseManager.Stop()
	if err := mon.Close(); err != nil {
		log.Warn().Err(err).Msg("PostHog flush failed")
	}
	if err := uploader.Close(); err != nil {
		log.Warn().Err(err).Msg("Blob storage client close failed")
	}
	log.Info().Msg("Shutdown complete")
}
