package notification

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	authdomain "agency-crm-backend/internal/auth/domain"
	authrepo "agency-crm-backend/internal/auth/repository"
	"agency-crm-backend/pkg/database"
	"agency-crm-backend/pkg/fcm"
)

type fakeSender struct {
	sent  [][]string
	last  fcm.NotificationData
	stale []string
	err   error
}

func (f *fakeSender) SendToDevices(ctx context.Context, tokens []string, n fcm.NotificationData) ([]string, error) {
	f.sent = append(f.sent, tokens)
	f.last = n
	return f.stale, f.err
}

func newTokenRepo(t *testing.T) authrepo.FCMTokenRepository {
	t.Helper()
	db, err := database.NewSQLiteConnection(filepath.Join(t.TempDir(), "push.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&authdomain.FCMToken{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return authrepo.NewFCMTokenRepository(db)
}

func TestNotifyUserRemovesStaleTokens(t *testing.T) {
	tokens := newTokenRepo(t)
	_ = tokens.SaveToken("agent-1", "live", "chrome")
	_ = tokens.SaveToken("agent-1", "dead", "safari")

	sender := &fakeSender{stale: []string{"dead"}}
	svc := NewPushService(sender, tokens)
	svc.NotifyUser(context.Background(), "agent-1", "Reply from Jane", "Re: Booking", map[string]string{"click_action": "/leads/lead-1"})

	if len(sender.sent) != 1 || len(sender.sent[0]) != 2 {
		t.Fatalf("sent = %v", sender.sent)
	}
	if sender.last.ClickAction != "/leads/lead-1" {
		t.Errorf("ClickAction = %q", sender.last.ClickAction)
	}
	left, _ := tokens.GetTokensByUserID("agent-1")
	if len(left) != 1 || left[0].Token != "live" {
		t.Errorf("remaining tokens = %+v", left)
	}
}

func TestNotifyUserWithoutDevices(t *testing.T) {
	sender := &fakeSender{}
	NewPushService(sender, newTokenRepo(t)).NotifyUser(context.Background(), "agent-2", "t", "b", nil)
	if len(sender.sent) != 0 {
		t.Fatalf("sent to %v without registered devices", sender.sent)
	}
}

func TestNotifyUserSendFailure(t *testing.T) {
	tokens := newTokenRepo(t)
	_ = tokens.SaveToken("agent-1", "live", "chrome")
	sender := &fakeSender{stale: []string{"live"}, err: errors.New("quota")}
	NewPushService(sender, tokens).NotifyUser(context.Background(), "agent-1", "t", "b", nil)

	if left, _ := tokens.GetTokensByUserID("agent-1"); len(left) != 1 {
		t.Fatalf("tokens deleted after a failed send: %+v", left)
	}
}
