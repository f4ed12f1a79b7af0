package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agency-crm-backend/internal/mailsync/domain"
	"agency-crm-backend/internal/mailsync/usecase"

	"github.com/gin-gonic/gin"
)

type fakeDispatcher struct {
	token, hint string
	body        string
	err         error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, token, accountHint string, body []byte) error {
	f.token, f.hint, f.body = token, accountHint, string(body)
	return f.err
}

func TestReceiveGmailPush(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "accepted", status: http.StatusNoContent},
		{name: "bad token", err: domain.ErrInvalidToken, status: http.StatusForbidden},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{err: tt.err}
			r := gin.New()
			r.POST("/api/webhooks/gmail", NewWebhookHandler(d).ReceiveGmailPush)

			body := `{"message":{"data":"e30="}}`
			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/gmail?token=s3cret&account=primary", strings.NewReader(body))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if d.token != "s3cret" || d.hint != "primary" || d.body != body {
				t.Errorf("dispatch got token=%q hint=%q body=%q", d.token, d.hint, d.body)
			}
		})
	}
}

type fakeController struct {
	statuses []usecase.AccountStatus
	err      error
	started  []string
	stopped  []string
}

func (f *fakeController) Statuses() ([]usecase.AccountStatus, error) { return f.statuses, f.err }

func (f *fakeController) StartWatch(ctx context.Context, key string) error {
	if key != "primary" {
		return domain.ErrUnknownAccount
	}
	f.started = append(f.started, key)
	return f.err
}

func (f *fakeController) StopWatch(ctx context.Context, key string) error {
	if key != "primary" {
		return domain.ErrUnknownAccount
	}
	f.stopped = append(f.stopped, key)
	return f.err
}

func (f *fakeController) PollNow(ctx context.Context, key string) (*usecase.PollReport, error) {
	if key != "primary" {
		return nil, domain.ErrUnknownAccount
	}
	return &usecase.PollReport{Listed: 3, Processed: 1}, f.err
}

type fakeSearcher struct {
	owner, query string
	limit        int
}

func (f *fakeSearcher) Search(ctx context.Context, ownerID, query string, limit int) ([]string, []float64, error) {
	f.owner, f.query, f.limit = ownerID, query, limit
	return []string{"m1", "m2"}, []float64{0.1}, nil
}

func newAdminRouter(ctrl PipelineController, searcher MessageSearcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAdminHandler(ctrl, searcher)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "owner-1") })
	r.GET("/accounts", h.ListAccounts)
	r.POST("/accounts/:key/watch", h.StartWatch)
	r.DELETE("/accounts/:key/watch", h.StopWatch)
	r.POST("/accounts/:key/poll", h.PollNow)
	r.GET("/search", h.Search)
	return r
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestAdminHandlerAccounts(t *testing.T) {
	ctrl := &fakeController{statuses: []usecase.AccountStatus{{AccountKey: "primary", EmailAddress: "hello@example.com", Phase: domain.WatchActive}}}
	r := newAdminRouter(ctrl, nil)

	w := do(r, http.MethodGet, "/accounts")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Accounts []usecase.AccountStatus `json:"accounts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Accounts) != 1 || resp.Accounts[0].AccountKey != "primary" {
		t.Fatalf("accounts = %+v", resp.Accounts)
	}

	if w := do(r, http.MethodPost, "/accounts/primary/watch"); w.Code != http.StatusOK {
		t.Errorf("start watch status = %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/accounts/primary/watch"); w.Code != http.StatusOK {
		t.Errorf("stop watch status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/accounts/other/watch"); w.Code != http.StatusNotFound {
		t.Errorf("unknown account status = %d", w.Code)
	}
	if len(ctrl.started) != 1 || len(ctrl.stopped) != 1 {
		t.Errorf("started=%v stopped=%v", ctrl.started, ctrl.stopped)
	}

	w = do(r, http.MethodPost, "/accounts/primary/poll")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"listed":3`) {
		t.Errorf("poll = %d %s", w.Code, w.Body.String())
	}
}

func TestAdminHandlerErrorMapping(t *testing.T) {
	ctrl := &fakeController{err: domain.NewProviderError(domain.ErrAuthExpired, "users.watch", nil)}
	r := newAdminRouter(ctrl, nil)
	if w := do(r, http.MethodPost, "/accounts/primary/watch"); w.Code != http.StatusConflict {
		t.Errorf("auth expired status = %d, want 409", w.Code)
	}

	ctrl.err = domain.NewProviderError(domain.ErrTransient, "users.watch", nil)
	if w := do(r, http.MethodPost, "/accounts/primary/watch"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("transient status = %d, want 503", w.Code)
	}
}

func TestAdminHandlerSearch(t *testing.T) {
	if w := do(newAdminRouter(&fakeController{}, nil), http.MethodGet, "/search?q=x"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("search without index status = %d", w.Code)
	}

	s := &fakeSearcher{}
	r := newAdminRouter(&fakeController{}, s)
	if w := do(r, http.MethodGet, "/search"); w.Code != http.StatusBadRequest {
		t.Fatalf("missing q status = %d", w.Code)
	}

	w := do(r, http.MethodGet, "/search?q=wedding+quote&limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if s.owner != "owner-1" || s.query != "wedding quote" || s.limit != 5 {
		t.Errorf("search called with %+v", s)
	}
	var resp struct {
		Results []SearchResult `json:"results"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 2 || resp.Results[0].Distance != 0.1 || resp.Results[1].Distance != 0 {
		t.Errorf("results = %+v", resp.Results)
	}
}
