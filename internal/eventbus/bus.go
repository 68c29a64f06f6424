// Package eventbus fans out per-tenant lifecycle and execution events to
// subscribers such as the HTTP event stream.
package eventbus

import (
	"context"
	"sync"
	"time"

	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventProgress carries a server cold-start progress update.
	EventProgress EventType = "progress"
	// EventExecution carries an execution completion summary.
	EventExecution EventType = "execution"
)

// ExecutionEvent summarizes one completed execution.
type ExecutionEvent struct {
	Conversation   schema.ConversationID `json:"conversation"`
	ExecutionCount int                   `json:"execution_count"`
	Outputs        int                   `json:"outputs"`
	Failed         bool                  `json:"failed"`
}

// Event is one bus message for a tenant.
type Event struct {
	Type      EventType            `json:"type"`
	Progress  schema.ProgressEvent `json:"progress,omitempty"`
	Execution ExecutionEvent       `json:"execution,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Bus fans events out to per-tenant subscribers. Publishing never blocks;
// slow subscribers drop events.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.TenantID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.TenantID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the tenant and returns a channel
// plus cancel func.
func (b *Bus) Subscribe(tenant schema.TenantID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	tenantSubs := b.subs[tenant]
	if tenantSubs == nil {
		tenantSubs = make(map[chan Event]struct{})
		b.subs[tenant] = tenantSubs
	}
	tenantSubs[ch] = struct{}{}
	count := len(tenantSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("tenant", tenant).Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		if subs := b.subs[tenant]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, tenant)
			}
		}
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.With("tenant", tenant).Debug("eventbus unsubscribe")
		}
	}
}

// PublishProgress publishes a cold-start progress event.
func (b *Bus) PublishProgress(tenant schema.TenantID, event schema.ProgressEvent) {
	b.publish(tenant, Event{Type: EventProgress, Progress: event, Timestamp: time.Now()})
}

// PublishExecution publishes an execution completion event.
func (b *Bus) PublishExecution(tenant schema.TenantID, event ExecutionEvent) {
	b.publish(tenant, Event{Type: EventExecution, Execution: event, Timestamp: time.Now()})
}

func (b *Bus) publish(tenant schema.TenantID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs[tenant]
	targets := make([]chan Event, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			if b.log != nil {
				b.log.With("tenant", tenant).Warn("eventbus subscriber full, dropping event", "type", event.Type)
			}
		}
	}
}
