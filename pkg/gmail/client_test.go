package gmail

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"agency-crm-backend/internal/mailsync/domain"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type fakeGmail struct {
	watches     atomic.Int32
	stops       atomic.Int32
	watchStatus int
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/watch"):
		f.watches.Add(1)
		if f.watchStatus != 0 {
			w.WriteHeader(f.watchStatus)
			w.Write([]byte(`{"error":{"code":503,"message":"backend unavailable"}}`))
			return
		}
		w.Write([]byte(`{"historyId":"4242","expiration":"1900000000000"}`))
	case strings.HasSuffix(r.URL.Path, "/stop"):
		f.stops.Add(1)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, h http.Handler) *AccountClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("gmail.NewService() error = %v", err)
	}
	return newAccountClient(svc, "primary", "projects/p/topics/gmail")
}

func TestWatchRenewsWithoutStopping(t *testing.T) {
	fake := &fakeGmail{}
	c := newTestClient(t, fake)

	res, err := c.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if res.HistoryID != "4242" || res.Expiration.UnixMilli() != 1900000000000 {
		t.Errorf("Watch() = %+v", res)
	}
	if fake.stops.Load() != 0 {
		t.Errorf("stop calls = %d, want 0", fake.stops.Load())
	}
}

func TestWatchFailureKeepsSubscription(t *testing.T) {
	fake := &fakeGmail{watchStatus: http.StatusServiceUnavailable}
	c := newTestClient(t, fake)

	_, err := c.Watch(context.Background())
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("Watch() error = %v, want transient", err)
	}
	if fake.watches.Load() != 1 {
		t.Errorf("watch calls = %d, want 1", fake.watches.Load())
	}
	if fake.stops.Load() != 0 {
		t.Errorf("failed renewal issued %d stop calls", fake.stops.Load())
	}
}

func TestStopWatchIsTheOnlyTeardown(t *testing.T) {
	fake := &fakeGmail{}
	c := newTestClient(t, fake)

	if err := c.StopWatch(context.Background()); err != nil {
		t.Fatalf("StopWatch() error = %v", err)
	}
	if fake.stops.Load() != 1 || fake.watches.Load() != 0 {
		t.Errorf("stops=%d watches=%d", fake.stops.Load(), fake.watches.Load())
	}
}
