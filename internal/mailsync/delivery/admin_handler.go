package delivery

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/internal/mailsync/usecase"

	"github.com/gin-gonic/gin"
)

// PipelineController exposes the operator actions of the sync supervisor.
type PipelineController interface {
	Statuses() ([]usecase.AccountStatus, error)
	StartWatch(ctx context.Context, key string) error
	StopWatch(ctx context.Context, key string) error
	PollNow(ctx context.Context, key string) (*usecase.PollReport, error)
}

// MessageSearcher finds indexed messages of one owner.
type MessageSearcher interface {
	Search(ctx context.Context, ownerID, query string, limit int) ([]string, []float64, error)
}

type SearchResult struct {
	MessageID string  `json:"message_id"`
	Distance  float64 `json:"distance"`
}

type AdminHandler struct {
	pipelines PipelineController
	searcher  MessageSearcher
}

// NewAdminHandler builds the handler; searcher may be nil when no index is configured.
func NewAdminHandler(pipelines PipelineController, searcher MessageSearcher) *AdminHandler {
	return &AdminHandler{pipelines: pipelines, searcher: searcher}
}

// GET /api/mailsync/accounts
func (h *AdminHandler) ListAccounts(c *gin.Context) {
	statuses, err := h.pipelines.Statuses()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": statuses})
}

// POST /api/mailsync/accounts/:key/watch
func (h *AdminHandler) StartWatch(c *gin.Context) {
	if err := h.pipelines.StartWatch(c.Request.Context(), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "watch started"})
}

// DELETE /api/mailsync/accounts/:key/watch
func (h *AdminHandler) StopWatch(c *gin.Context) {
	if err := h.pipelines.StopWatch(c.Request.Context(), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "watch stopped"})
}

// POST /api/mailsync/accounts/:key/poll
func (h *AdminHandler) PollNow(c *gin.Context) {
	report, err := h.pipelines.PollNow(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /api/mailsync/search?q=...&limit=...
func (h *AdminHandler) Search(c *gin.Context) {
	if h.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	limit := 10
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 50 {
			limit = parsed
		}
	}

	ids, distances, err := h.searcher.Search(c.Request.Context(), c.GetString("userID"), query, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := make([]SearchResult, 0, len(ids))
	for i, id := range ids {
		r := SearchResult{MessageID: id}
		if i < len(distances) {
			r.Distance = distances[i]
		}
		results = append(results, r)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownAccount):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAuthExpired):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case domain.IsRetryable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
