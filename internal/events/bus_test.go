package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTradeRelayed, 4)
	defer unsub()

	bus.Publish(EventTradeRelayed, TradeRelayed{Ticket: 42, Symbol: "EURUSD"})

	select {
	case got := <-ch:
		ev, ok := got.(TradeRelayed)
		if !ok {
			t.Fatalf("unexpected payload type %T", got)
		}
		if ev.Ticket != 42 {
			t.Errorf("ticket = %d, want 42", ev.Ticket)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventActivity, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(EventActivity, Activity{Message: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventStatusChange, 1)
	unsub()

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	bus.Publish(EventStatusChange, StatusChange{})
}

func TestCloseShutsAllSubscribers(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe(EventConnectionChange, 1)
	bus.Close()

	if _, open := <-ch; open {
		t.Fatal("channel still open after bus close")
	}
	bus.Publish(EventConnectionChange, ConnectionChange{})

	late, _ := bus.Subscribe(EventConnectionChange, 1)
	if _, open := <-late; open {
		t.Fatal("subscribe after close returned an open channel")
	}
}
