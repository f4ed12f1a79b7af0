package domain

// Real-time event topics.
const (
	EventMessageReceived = "message_received"
	EventLeadUpdated     = "lead_updated"
	EventReplyReceived   = "reply_received"
)

// EventPublisher fans events out to a user's channel and to global observers.
type EventPublisher interface {
	SendToUser(userID string, eventType string, data interface{})
	Broadcast(eventType string, data interface{})
}
