package notification

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// PayloadHandler consumes a decoded mailbox notification payload.
type PayloadHandler interface {
	HandlePayload(ctx context.Context, data []byte)
}

// Subscriber pulls mailbox notifications from Pub/Sub. It is the second
// intake path next to the push webhook; both end in the same receiver.
type Subscriber struct {
	client    *pubsub.Client
	handler   PayloadHandler
	topicName string
	subName   string
}

func NewSubscriber(ctx context.Context, projectID, topicName, subName string, handler PayloadHandler, opts ...option.ClientOption) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	if subName == "" {
		subName = topicName + "-sub"
	}
	return &Subscriber{
		client:    client,
		handler:   handler,
		topicName: topicName,
		subName:   subName,
	}, nil
}

// ensureSubscription returns the subscription, creating it on the topic if needed.
func (s *Subscriber) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.client.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking subscription %s: %w", s.subName, err)
	}
	if exists {
		return sub, nil
	}

	topic := s.client.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking topic %s: %w", s.topicName, err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}

	sub, err = s.client.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("creating subscription %s: %w", s.subName, err)
	}
	log.Info().Str("subscription", s.subName).Msg("[PubSub] created subscription")
	return sub, nil
}

// Start blocks receiving messages until ctx is cancelled. Every message is
// acked once handed off; redelivery safety lives in the sync cursor and ledger.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		return err
	}

	log.Info().Str("topic", s.topicName).Str("subscription", s.subName).Msg("[PubSub] listening")
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		log.Debug().Str("id", msg.ID).Msg("[PubSub] received message")
		s.handler.HandlePayload(ctx, msg.Data)
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receiving messages: %w", err)
	}
	return nil
}

func (s *Subscriber) Close() error {
	return s.client.Close()
}
