package bus

import (
	"testing"

	"github.com/mbranton/hive/pkg/models"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := New()
	sub1 := b.Subscribe(4)
	sub2 := b.Subscribe(4)

	b.Publish(StoryStarted{Stamp: Now(), StoryID: "s-1", AgentID: "coder-1"})

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case e := <-sub.Events():
			if e.Kind() != KindStoryStarted {
				t.Errorf("sub %d: expected %s, got %s", i+1, KindStoryStarted, e.Kind())
			}
		default:
			t.Errorf("sub %d: expected a buffered event", i+1)
		}
	}
}

func TestBusKindFilter(t *testing.T) {
	b := New()
	sub := b.Subscribe(4, KindStoryCompleted, KindStoryFailed)

	b.Publish(ToolUse{Stamp: Now(), Tool: "Write"})
	b.Publish(StoryCompleted{Stamp: Now(), StoryID: "s-1", Success: true})

	select {
	case e := <-sub.Events():
		if e.Kind() != KindStoryCompleted {
			t.Errorf("expected story:completed, got %s", e.Kind())
		}
	default:
		t.Fatal("expected one event")
	}

	select {
	case e := <-sub.Events():
		t.Errorf("unexpected second event: %s", e.Kind())
	default:
	}
}

func TestBusSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)

	// Second publish overflows the buffer; Publish must not block.
	b.Publish(CommandStart{Stamp: Now(), Command: "npm test"})
	b.Publish(CommandComplete{Stamp: Now(), ExitCode: 0})

	if got := sub.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped event, got %d", got)
	}
}

func TestBusFIFOOrderPerSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(8)

	ids := []string{"s-1", "s-2", "s-3"}
	for _, id := range ids {
		b.Publish(TaskCreated{Stamp: Now(), ID: id, Status: models.StoryStatusBacklog})
	}

	for _, want := range ids {
		e := <-sub.Events()
		created, ok := e.(TaskCreated)
		if !ok {
			t.Fatalf("expected TaskCreated, got %T", e)
		}
		if created.ID != want {
			t.Errorf("expected %s, got %s", want, created.ID)
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)
	b.Unsubscribe(sub)

	if _, open := <-sub.Events(); open {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", b.SubscriberCount())
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(FoundationComplete{Stamp: Now()})
}

func TestBusCloseIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)
	b.Close()
	b.Close()

	if _, open := <-sub.Events(); open {
		t.Error("expected channel to be closed after bus close")
	}
	b.Publish(FoundationComplete{Stamp: Now()}) // no-op, must not panic
}
