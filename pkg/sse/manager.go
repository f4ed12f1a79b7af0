// Package sse pushes real-time events to connected UI clients.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Event is one server-sent event.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

type client struct {
	userID   string
	observer bool
	events   chan Event
}

type delivery struct {
	userID    string
	observers bool
	event     Event
}

// Manager tracks connected clients. Each user may hold several connections;
// observers receive every broadcast regardless of user.
type Manager struct {
	mu        sync.RWMutex
	users     map[string]map[*client]struct{}
	observers map[*client]struct{}
	queue     chan delivery
	done      chan struct{}
	closeOnce sync.Once
}

func NewManager() *Manager {
	return &Manager{
		users:     make(map[string]map[*client]struct{}),
		observers: make(map[*client]struct{}),
		queue:     make(chan delivery, 256),
		done:      make(chan struct{}),
	}
}

// Run dispatches queued events until Stop is called.
func (m *Manager) Run() {
	for {
		select {
		case d := <-m.queue:
			m.dispatch(d)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) Stop() {
	m.closeOnce.Do(func() { close(m.done) })
}

// SendToUser queues an event for all connections of userID.
func (m *Manager) SendToUser(userID string, eventType string, data interface{}) {
	if userID == "" {
		return
	}
	m.enqueue(delivery{userID: userID, event: Event{Type: eventType, Data: data, At: time.Now()}})
}

// Broadcast queues an event for the global observer channel.
func (m *Manager) Broadcast(eventType string, data interface{}) {
	m.enqueue(delivery{observers: true, event: Event{Type: eventType, Data: data, At: time.Now()}})
}

func (m *Manager) enqueue(d delivery) {
	select {
	case m.queue <- d:
	default:
		log.Warn().Str("event", d.event.Type).Msg("[SSE] queue full, dropping event")
	}
}

func (m *Manager) dispatch(d delivery) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var targets map[*client]struct{}
	if d.observers {
		targets = m.observers
	} else {
		targets = m.users[d.userID]
	}
	for c := range targets {
		select {
		case c.events <- d.event:
		default:
			// slow client; it will catch up on the next event
		}
	}
}

func (m *Manager) register(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.observer {
		m.observers[c] = struct{}{}
		return
	}
	if m.users[c.userID] == nil {
		m.users[c.userID] = make(map[*client]struct{})
	}
	m.users[c.userID][c] = struct{}{}
}

func (m *Manager) unregister(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.observer {
		delete(m.observers, c)
		return
	}
	delete(m.users[c.userID], c)
	if len(m.users[c.userID]) == 0 {
		delete(m.users, c.userID)
	}
}

// ConnectedUsers returns the number of users with at least one open stream.
func (m *Manager) ConnectedUsers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// ServeHTTP streams the user's events until the request is cancelled.
func (m *Manager) ServeHTTP(c *gin.Context, userID string) {
	m.serve(c, &client{userID: userID, events: make(chan Event, 32)})
}

// ServeObserver streams the global observer channel.
func (m *Manager) ServeObserver(c *gin.Context) {
	m.serve(c, &client{observer: true, events: make(chan Event, 64)})
}

func (m *Manager) serve(c *gin.Context, cl *client) {
	m.register(cl)
	defer m.unregister(cl)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-m.done:
			return false
		case <-heartbeat.C:
			_, err := fmt.Fprint(w, ": ping\n\n")
			return err == nil
		case ev := <-cl.events:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("event", ev.Type).Msg("[SSE] marshal failed")
				return true
			}
			_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			return err == nil
		}
	})
}
