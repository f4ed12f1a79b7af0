package chroma

import (
	"context"
	"fmt"
	"os"

	"agency-crm-backend/pkg/config"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	"github.com/rs/zerolog/log"
)

const (
	collectionName = "lead_messages"
	maxTextLength  = 10000
)

// Document is one message as stored in the collection.
type Document struct {
	ID      string
	OwnerID string
	LeadID  string
	Subject string
	Text    string
}

type ChromaClient struct {
	client     chroma.Client
	collection chroma.Collection
}

func NewChromaClient(ctx context.Context, cfg *config.Config) (*ChromaClient, error) {
	if cfg.ChromaAPIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required")
	}

	if cfg.GeminiApiKey != "" {
		os.Setenv("GEMINI_API_KEY", cfg.GeminiApiKey)
	}

	embedFunc, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel("text-embedding-004"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}

	opts := []chroma.ClientOption{
		chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
		chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
	}
	switch {
	case cfg.ChromaDatabase != "" && cfg.ChromaTenant != "":
		opts = append(opts, chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant))
	case cfg.ChromaTenant != "":
		opts = append(opts, chroma.WithTenant(cfg.ChromaTenant))
	}

	client, err := chroma.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	collection, err := client.GetOrCreateCollection(ctx, collectionName, chroma.WithEmbeddingFunctionCreate(embedFunc))
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	log.Info().Str("collection", collectionName).Msg("[Chroma] client initialized")
	return &ChromaClient{client: client, collection: collection}, nil
}

// EmbeddingText combines subject and body, truncated to what the embedding
// model accepts.
func EmbeddingText(subject, body string) string {
	text := fmt.Sprintf("Subject: %s\n\nBody: %s", subject, body)
	if len(text) > maxTextLength {
		text = text[:maxTextLength]
	}
	return text
}

// Metadata returns the filterable fields stored next to a document.
func (d Document) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":   d.OwnerID,
		"lead_id":    d.LeadID,
		"message_id": d.ID,
		"subject":    d.Subject,
	}
}

// Upsert keys documents by message id so re-indexing replaces the entry.
func (c *ChromaClient) Upsert(ctx context.Context, doc Document) error {
	metadata, err := chroma.NewDocumentMetadataFromMap(doc.Metadata())
	if err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}

	err = c.collection.Upsert(
		ctx,
		chroma.WithIDs(chroma.DocumentID(doc.ID)),
		chroma.WithMetadatas(metadata),
		chroma.WithTexts(EmbeddingText(doc.Subject, doc.Text)),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message embedding: %w", err)
	}
	return nil
}

// Query returns the ids of the closest messages owned by ownerID.
func (c *ChromaClient) Query(ctx context.Context, ownerID, query string, limit int) ([]string, []float64, error) {
	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryTexts(query),
		chroma.WithNResults(limit),
		chroma.WithWhereQuery(chroma.EqString("owner_id", ownerID)),
	)
	if err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("[Chroma] query failed")
		return nil, nil, fmt.Errorf("failed to query collection: %w", err)
	}

	if results == nil || results.CountGroups() == 0 {
		return []string{}, []float64{}, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(idGroups) == 0 || len(idGroups[0]) == 0 {
		return []string{}, []float64{}, nil
	}

	ids := make([]string, 0, len(idGroups[0]))
	for _, id := range idGroups[0] {
		ids = append(ids, string(id))
	}

	distances := []float64{}
	if len(distanceGroups) > 0 {
		for _, d := range distanceGroups[0] {
			distances = append(distances, float64(d))
		}
	}

	log.Debug().Str("owner_id", ownerID).Int("results", len(ids)).Msg("[Chroma] query completed")
	return ids, distances, nil
}

func (c *ChromaClient) Delete(ctx context.Context, messageID string) error {
	if err := c.collection.Delete(ctx, chroma.WithIDsDelete(chroma.DocumentID(messageID))); err != nil {
		return fmt.Errorf("failed to delete message embedding: %w", err)
	}
	return nil
}
