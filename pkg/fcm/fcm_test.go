package fcm

import "testing"

func TestMulticastMessage(t *testing.T) {
	msg := NotificationData{
		Title:       "Reply from Jane",
		Body:        "Re: Booking",
		Data:        map[string]string{"lead_id": "lead-1"},
		ClickAction: "/leads/lead-1",
	}.multicast([]string{"a", "b"})

	if len(msg.Tokens) != 2 || msg.Notification.Title != "Reply from Jane" || msg.Data["lead_id"] != "lead-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Webpush.FCMOptions == nil || msg.Webpush.FCMOptions.Link != "/leads/lead-1" {
		t.Errorf("click action not set: %+v", msg.Webpush.FCMOptions)
	}
}

func TestShortToken(t *testing.T) {
	if got := shortToken("abc"); got != "abc" {
		t.Errorf("shortToken(abc) = %q", got)
	}
	if got := shortToken("0123456789012345678901234"); got != "01234567890123456789..." {
		t.Errorf("shortToken() = %q", got)
	}
}
