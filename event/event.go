// Copyright 2026 Blink Labs Software
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

package event

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventQueueSize = 20
)

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

type eventMetrics struct {
	published   *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
}

// EventBus is a simple in-process pub/sub bus used to broadcast
// loader lifecycle and status events to interested components.
type EventBus struct {
	subscribers map[EventType]map[EventSubscriberId]chan Event
	metrics     *eventMetrics
	lastSubId   EventSubscriberId
	mu          sync.RWMutex
}

// NewEventBus creates a new EventBus. The prometheus registry may be
// nil to disable metrics.
func NewEventBus(promRegistry prometheus.Registerer) *EventBus {
	e := &EventBus{
		subscribers: make(map[EventType]map[EventSubscriberId]chan Event),
	}
	if promRegistry != nil {
		e.initMetrics(promRegistry)
	}
	return e
}

func (e *EventBus) initMetrics(promRegistry prometheus.Registerer) {
	e.metrics = &eventMetrics{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_published_total",
				Help: "Total events published per event type",
			},
			[]string{"type"},
		),
		subscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventbus_subscribers",
				Help: "Current subscriber count per event type",
			},
			[]string{"type"},
		),
	}
	promRegistry.MustRegister(e.metrics.published)
	promRegistry.MustRegister(e.metrics.subscribers)
}

// Subscribe allows a consumer to receive events of a particular type
// via a channel.
func (e *EventBus) Subscribe(
	eventType EventType,
) (EventSubscriberId, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subId := e.lastSubId + 1
	e.lastSubId = subId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[EventSubscriberId]chan Event)
	}
	ch := make(chan Event, EventQueueSize)
	e.subscribers[eventType][subId] = ch
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subId, ch
}

// SubscribeFunc allows a consumer to receive events of a particular
// type via a callback function.
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handlerFunc EventHandlerFunc,
) EventSubscriberId {
	subId, ch := e.Subscribe(eventType)
	go func() {
		for evt := range ch {
			handlerFunc(evt)
		}
	}()
	return subId
}

// Unsubscribe stops delivery to an existing subscriber and closes its
// channel.
func (e *EventBus) Unsubscribe(
	eventType EventType,
	subId EventSubscriberId,
) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs, ok := e.subscribers[eventType]
	if !ok {
		return
	}
	ch, ok := subs[subId]
	if !ok {
		return
	}
	delete(subs, subId)
	close(ch)
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
	}
}

// Publish allows a producer to send an event of a particular type to
// all subscribers. Delivery blocks per subscriber, preserving event
// order.
func (e *EventBus) Publish(eventType EventType, evt Event) {
	e.mu.RLock()
	subs := make([]chan Event, 0, len(e.subscribers[eventType]))
	for _, ch := range e.subscribers[eventType] {
		subs = append(subs, ch)
	}
	e.mu.RUnlock()
	for _, ch := range subs {
		ch <- evt
	}
	if e.metrics != nil {
		e.metrics.published.WithLabelValues(string(eventType)).Inc()
	}
}

// Stop closes all subscriber channels and clears the subscriber map.
func (e *EventBus) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for eventType, subs := range e.subscribers {
		for subId, ch := range subs {
			delete(subs, subId)
			close(ch)
		}
		delete(e.subscribers, eventType)
	}
}
