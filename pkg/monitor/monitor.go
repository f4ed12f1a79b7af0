// Package monitor reports pipeline outcomes to product analytics.
package monitor

import (
	"time"

	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog/log"
)

// PipelineEvent describes one finished pipeline step.
type PipelineEvent struct {
	AccountKey string
	Stage      string
	Outcome    string
	Reason     string
	Latency    time.Duration
	Failed     bool
}

type Monitor interface {
	Track(ev PipelineEvent)
	Close() error
}

type PosthogMonitor struct {
	client posthog.Client
}

// New returns a PostHog backed monitor, or a no-op one when apiKey is empty.
func New(apiKey, endpoint string) (Monitor, error) {
	if apiKey == "" {
		return Noop{}, nil
	}
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	return &PosthogMonitor{client: client}, nil
}

func (p *PosthogMonitor) Track(ev PipelineEvent) {
	err := p.client.Enqueue(posthog.Capture{
		DistinctId: "mailsync:" + ev.AccountKey,
		Event:      "mailsync_" + ev.Stage,
		Properties: posthog.NewProperties().
			Set("account", ev.AccountKey).
			Set("outcome", ev.Outcome).
			Set("reason", ev.Reason).
			Set("latency_ms", ev.Latency.Milliseconds()).
			Set("isError", ev.Failed),
	})
	if err != nil {
		log.Debug().Err(err).Msg("[Monitor] enqueue failed")
	}
}

func (p *PosthogMonitor) Close() error {
	return p.client.Close()
}

// Noop discards events.
type Noop struct{}

func (Noop) Track(PipelineEvent) {}
func (Noop) Close() error        { return nil }
