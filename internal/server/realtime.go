package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// ChangeEventType is the SSE event name of content change notifications.
	ChangeEventType      = "content-change"
	changeEventHeartbeat = "heartbeat"
	changeScopeAll       = "*"

	heartbeatInterval = 25 * time.Second
)

// ChangeEvent tells open admin editors that an entity or document was written.
type ChangeEvent struct {
	Entity    string    `json:"entity"`
	Key       string    `json:"key"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ChangeEvent) scope() string {
	return e.Entity + "/" + e.Key
}

// ChangeDispatcher fans change events out to subscribers of one scope
// ("<entity>/<key>") or of every scope. Slow subscribers miss events rather
// than block publishers.
type ChangeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*changeSubscriber
	nextID      int64
	bufferSize  int
}

type changeSubscriber struct {
	id     int64
	stream chan ChangeEvent
}

func NewChangeDispatcher() *ChangeDispatcher {
	return &ChangeDispatcher{
		subscribers: make(map[string]map[int64]*changeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a subscriber until ctx ends or the returned cleanup runs.
// An empty scope receives every event.
func (d *ChangeDispatcher) Subscribe(ctx context.Context, scope string) (<-chan ChangeEvent, func()) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = changeScopeAll
	}
	subscriber := &changeSubscriber{stream: make(chan ChangeEvent, d.bufferSize)}
	d.register(scope, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(scope, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *ChangeDispatcher) Publish(event ChangeEvent) {
	if d == nil || event.Entity == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	targets := make([]*changeSubscriber, 0)
	for _, scope := range []string{event.scope(), changeScopeAll} {
		for _, subscriber := range d.subscribers[scope] {
			targets = append(targets, subscriber)
		}
	}
	d.mu.RUnlock()
	for _, subscriber := range targets {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *ChangeDispatcher) register(scope string, subscriber *changeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	if _, ok := d.subscribers[scope]; !ok {
		d.subscribers[scope] = make(map[int64]*changeSubscriber)
	}
	d.subscribers[scope][subscriber.id] = subscriber
}

func (d *ChangeDispatcher) unregister(scope string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[scope]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, scope)
	}
}

// handleChangeStream streams change events as server-sent events with a
// periodic heartbeat.
func (h *httpHandler) handleChangeStream(c *gin.Context) {
	ctx := c.Request.Context()
	events, cleanup := h.changes.Subscribe(ctx, c.Query("scope"))
	defer cleanup()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(changeEventHeartbeat, gin.H{"at": time.Now().UTC()})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event := <-events:
			c.SSEvent(ChangeEventType, event)
			return true
		case at := <-heartbeat.C:
			c.SSEvent(changeEventHeartbeat, gin.H{"at": at.UTC()})
			return true
		}
	})
}

func (h *httpHandler) publishChange(entity, key, action string) {
	h.changes.Publish(ChangeEvent{Entity: entity, Key: key, Action: action})
}
