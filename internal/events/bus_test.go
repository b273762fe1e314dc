package events

import (
	"testing"
	"time"

	"chartvision/internal/signal"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicSignal, 1)
	defer unsub()

	bus.Publish(TopicSignal, SignalEvent{SessionID: "s1", Signal: signal.TradeSignal{Decision: signal.DecisionLong}})

	select {
	case ev := <-ch:
		sig, ok := ev.(SignalEvent)
		if !ok {
			t.Fatalf("payload type %T", ev)
		}
		if sig.SessionID != "s1" {
			t.Errorf("session = %s, want s1", sig.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicOrderPlaced, 1)
	defer unsub()

	// Second publish must not block even though nobody drains.
	done := make(chan struct{})
	go func() {
		bus.Publish(TopicOrderPlaced, OrderEvent{SessionID: "a"})
		bus.Publish(TopicOrderPlaced, OrderEvent{SessionID: "b"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	ev := <-ch
	if ord := ev.(OrderEvent); ord.SessionID != "a" {
		t.Errorf("kept event = %s, want a", ord.SessionID)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicRiskAlert, 1)
	unsub()

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(TopicRiskAlert, RiskEvent{Reason: "closed"})
}
