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

package event_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/guildstash/guildstash/event"
)

func TestEventBusSingleSubscriber(t *testing.T) {
	var testEvtData int = 999
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus(nil)
	_, subCh := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, testEvtData))
	select {
	case evt, ok := <-subCh:
		if !ok {
			t.Fatalf("event channel closed unexpectedly")
		}
		switch v := evt.Data.(type) {
		case int:
			if v != testEvtData {
				t.Fatalf("did not get expected event")
			}
		default:
			t.Fatalf(
				"event data was not of expected type, expected int, got %T",
				evt.Data,
			)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	var testEvtData int = 999
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus(nil)
	_, sub1Ch := eb.Subscribe(testEvtType)
	_, sub2Ch := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, testEvtData))
	var gotVal1, gotVal2 bool
	for {
		if gotVal1 && gotVal2 {
			break
		}
		select {
		case evt, ok := <-sub1Ch:
			if !ok {
				t.Fatalf("event channel closed unexpectedly")
			}
			if gotVal1 {
				t.Fatalf("received unexpected event")
			}
			if evt.Data.(int) != testEvtData {
				t.Fatalf("did not get expected event")
			}
			gotVal1 = true
		case evt, ok := <-sub2Ch:
			if !ok {
				t.Fatalf("event channel closed unexpectedly")
			}
			if gotVal2 {
				t.Fatalf("received unexpected event")
			}
			if evt.Data.(int) != testEvtData {
				t.Fatalf("did not get expected event")
			}
			gotVal2 = true
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for event")
		}
	}
}

func TestEventBusSubscribeFunc(t *testing.T) {
	var testEvtType event.EventType = "test.event"
	var callCount atomic.Int64
	eb := event.NewEventBus(nil)
	eb.SubscribeFunc(testEvtType, func(evt event.Event) {
		callCount.Add(1)
	})
	for range 3 {
		eb.Publish(testEvtType, event.NewEvent(testEvtType, nil))
	}
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if callCount.Load() == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 3 handler calls, got %d", callCount.Load())
}

func TestEventBusUnsubscribe(t *testing.T) {
	var testEvtType event.EventType = "test.event"
	eb := event.NewEventBus(nil)
	subId, subCh := eb.Subscribe(testEvtType)
	eb.Unsubscribe(testEvtType, subId)
	if _, ok := <-subCh; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
	// Publishing after unsubscribe should not block or panic
	eb.Publish(testEvtType, event.NewEvent(testEvtType, nil))
}

func TestEventBusLoaderEvents(t *testing.T) {
	eb := event.NewEventBus(nil)
	_, subCh := eb.Subscribe(event.LoaderStatusEventType)
	payload := event.LoaderStatusEvent{
		ID:     "123456789",
		Status: "roles",
	}
	eb.Publish(
		event.LoaderStatusEventType,
		event.NewEvent(event.LoaderStatusEventType, payload),
	)
	select {
	case evt := <-subCh:
		got, ok := evt.Data.(event.LoaderStatusEvent)
		if !ok {
			t.Fatalf("unexpected event data type: %T", evt.Data)
		}
		if got != payload {
			t.Fatalf("got %+v, wanted %+v", got, payload)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
}
