// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package events is the persistent event log with in-process pub/sub.
//
// Emit persists first and then dispatches synchronously, type handlers
// before wildcard handlers. A handler that fails or panics is logged and
// never affects the emitter or the other handlers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tombee/opencorp/internal/log"
	"github.com/tombee/opencorp/internal/metrics"
	"github.com/tombee/opencorp/internal/store"
)

// Collection holds persisted events.
const Collection = "events"

// Wildcard subscribes to every event type.
const Wildcard = "*"

// DefaultQueryLimit applies when Filter.Limit is zero.
const DefaultQueryLimit = 50

// Well-known event types.
const (
	WorkflowStarted       = "workflow.started"
	WorkflowNodeCompleted = "workflow.node_completed"
	WorkflowCompleted     = "workflow.completed"
	WorkflowFailed        = "workflow.failed"
	TaskStarted           = "task.started"
	TaskCompleted         = "task.completed"
	TaskFailed            = "task.failed"
)

// Event is one record in the log.
type Event struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// Time parses the timestamp. The zero time is returned when it is malformed.
func (e Event) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Emitter is the sink the core components publish to. Emit never reports
// failure to the caller.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Handler receives dispatched events.
type Handler func(ctx context.Context, ev Event) error

// SubscriptionID identifies a handler registration for Off.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Filter narrows Query. Empty fields match everything.
type Filter struct {
	Type   string
	Source string
	Limit  int
}

// Log persists events and fans them out to subscribers.
type Log struct {
	coll   *store.Collection
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   SubscriptionID
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used for persistence and handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog creates an event log backed by st.
func NewLog(st *store.Store, opts ...Option) *Log {
	l := &Log{
		coll:     st.Collection(Collection),
		logger:   slog.Default(),
		now:      time.Now,
		handlers: make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = log.WithComponent(l.logger, "events")
	return l
}

// Emit stamps, persists and dispatches ev. A persistence failure is logged
// and dispatch still happens.
func (l *Log) Emit(ctx context.Context, ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}

	if err := l.coll.Insert(ctx, ev); err != nil {
		l.logger.Error("failed to persist event", log.EventKey, ev.Type, "source", ev.Source, log.Error(err))
	} else {
		metrics.EventsEmitted.WithLabelValues(ev.Type).Inc()
	}

	l.mu.RLock()
	typed := append([]subscription(nil), l.handlers[ev.Type]...)
	var wild []subscription
	if ev.Type != Wildcard {
		wild = append(wild, l.handlers[Wildcard]...)
	}
	l.mu.RUnlock()

	for _, sub := range typed {
		l.dispatch(ctx, sub, ev)
	}
	for _, sub := range wild {
		l.dispatch(ctx, sub, ev)
	}
}

func (l *Log) dispatch(ctx context.Context, sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("event handler panicked", log.EventKey, ev.Type, "subscription", sub.id, "panic", fmt.Sprint(r))
		}
	}()
	if err := sub.handler(ctx, ev); err != nil {
		l.logger.Warn("event handler failed", log.EventKey, ev.Type, "subscription", sub.id, log.Error(err))
	}
}

// On registers handler for eventType, or every type when eventType is "*".
func (l *Log) On(eventType string, handler Handler) SubscriptionID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.handlers[eventType] = append(l.handlers[eventType], subscription{id: id, handler: handler})
	return id
}

// Off removes a registration. Unknown ids are ignored.
func (l *Log) Off(id SubscriptionID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for eventType, subs := range l.handlers {
		for i, sub := range subs {
			if sub.id == id {
				l.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Query returns matching events, newest first.
func (l *Log) Query(ctx context.Context, f Filter) ([]Event, error) {
	var all []Event
	var err error
	if f.Type != "" {
		err = l.coll.Search(ctx, "type", f.Type, &all)
	} else {
		err = l.coll.All(ctx, &all)
	}
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}

	out := all[:0]
	for _, ev := range all {
		if f.Source != "" && ev.Source != f.Source {
			continue
		}
		out = append(out, ev)
	}
	// RFC 3339 with trimmed nanoseconds does not sort as text.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time().After(out[j].Time()) })

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Clear removes every persisted event.
func (l *Log) Clear(ctx context.Context) error {
	return l.coll.Truncate(ctx)
}

// Discard is an Emitter that drops everything.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(context.Context, Event) {}
