package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"agency-crm-backend/internal/mailsync/domain"
)

type fakeTarget struct {
	mu            sync.Mutex
	key           string
	notifications int
	cursors       []string
}

func (f *fakeTarget) AccountKey() string { return f.key }

func (f *fakeTarget) RecordNotification(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications++
}

func (f *fakeTarget) Sync(ctx context.Context, newCursor string) (*SyncReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, newCursor)
	return &SyncReport{Cursor: newCursor}, nil
}

type fakeResolver struct {
	byKey  map[string]*fakeTarget
	byAddr map[string]*fakeTarget
}

func (f *fakeResolver) Resolve(hint, email string) (SyncTarget, bool) {
	if t, ok := f.byKey[hint]; ok {
		return t, true
	}
	if t, ok := f.byAddr[email]; ok {
		return t, true
	}
	return nil, false
}

func newTestReceiver() (*NotificationReceiver, *fakeTarget, *fakeTarget) {
	primary := &fakeTarget{key: "primary"}
	secondary := &fakeTarget{key: "secondary"}
	resolver := &fakeResolver{
		byKey:  map[string]*fakeTarget{"primary": primary, "secondary": secondary},
		byAddr: map[string]*fakeTarget{"hello@example.com": primary, "team@example.com": secondary},
	}
	return NewNotificationReceiver("s3cret", resolver), primary, secondary
}

func envelope(payload string, enc *base64.Encoding) []byte {
	return []byte(fmt.Sprintf(`{"message":{"data":%q,"messageId":"1"},"subscription":"projects/x/subscriptions/y"}`, enc.EncodeToString([]byte(payload))))
}

func TestReceiveRejectsBadToken(t *testing.T) {
	r, primary, _ := newTestReceiver()
	body := envelope(`{"emailAddress":"hello@example.com","historyId":105}`, base64.StdEncoding)

	for _, token := range []string{"", "wrong", "s3cret "} {
		if err := r.Receive(context.Background(), token, "", body); !errors.Is(err, domain.ErrInvalidToken) {
			t.Errorf("Receive(token=%q) error = %v", token, err)
		}
	}
	if primary.notifications != 0 || len(primary.cursors) != 0 {
		t.Error("rejected delivery reached the sync engine")
	}
}

func TestReceiveHandlesPayloadShapes(t *testing.T) {
	tests := []struct {
		name        string
		body        []byte
		hint        string
		wantCursor  string
		wantNotify  bool
		wantAccount string
	}{
		{name: "numeric cursor", body: envelope(`{"emailAddress":"hello@example.com","historyId":105}`, base64.StdEncoding), wantCursor: "105", wantNotify: true, wantAccount: "primary"},
		{name: "string cursor url base64", body: envelope(`{"emailAddress":"Team@Example.com","historyId":"777"}`, base64.URLEncoding), wantCursor: "777", wantNotify: true, wantAccount: "secondary"},
		{name: "hint wins", body: envelope(`{"emailAddress":"hello@example.com","historyId":9}`, base64.StdEncoding), hint: "secondary", wantCursor: "9", wantNotify: true, wantAccount: "secondary"},
		{name: "no cursor", body: envelope(`{"emailAddress":"hello@example.com"}`, base64.StdEncoding), wantNotify: true, wantAccount: "primary"},
		{name: "malformed json", body: []byte(`{"message":`)},
		{name: "bad base64", body: []byte(`{"message":{"data":"!!!"}}`)},
		{name: "malformed payload", body: envelope(`not json`, base64.StdEncoding)},
		{name: "unknown account", body: envelope(`{"emailAddress":"nobody@example.com","historyId":1}`, base64.StdEncoding)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, primary, secondary := newTestReceiver()
			if err := r.Receive(context.Background(), "s3cret", tt.hint, tt.body); err != nil {
				t.Fatalf("Receive() error = %v", err)
			}
			targets := map[string]*fakeTarget{"primary": primary, "secondary": secondary}
			for key, target := range targets {
				if key != tt.wantAccount {
					if target.notifications != 0 || len(target.cursors) != 0 {
						t.Errorf("%s unexpectedly touched", key)
					}
					continue
				}
				if tt.wantNotify && target.notifications != 1 {
					t.Errorf("%s notifications = %d", key, target.notifications)
				}
				if tt.wantCursor == "" && len(target.cursors) != 0 {
					t.Errorf("%s synced without cursor: %v", key, target.cursors)
				}
				if tt.wantCursor != "" && (len(target.cursors) != 1 || target.cursors[0] != tt.wantCursor) {
					t.Errorf("%s cursors = %v, want [%s]", key, target.cursors, tt.wantCursor)
				}
			}
		})
	}
}

func TestDispatchRunsInBackground(t *testing.T) {
	r, primary, _ := newTestReceiver()
	body := envelope(`{"emailAddress":"hello@example.com","historyId":42}`, base64.StdEncoding)

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Dispatch(ctx, "s3cret", "", body); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	// The request context ending must not cancel the sync.
	cancel()
	r.Wait()

	primary.mu.Lock()
	defer primary.mu.Unlock()
	if len(primary.cursors) != 1 || primary.cursors[0] != "42" {
		t.Fatalf("cursors = %v", primary.cursors)
	}
}

func TestHandlePayload(t *testing.T) {
	r, primary, _ := newTestReceiver()
	r.HandlePayload(context.Background(), []byte(`{"emailAddress":"hello@example.com","historyId":12}`))
	if len(primary.cursors) != 1 || primary.cursors[0] != "12" {
		t.Fatalf("cursors = %v", primary.cursors)
	}
}
