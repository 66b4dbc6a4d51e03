package events

import (
	"context"
	"testing"
	"time"

	"github.com/concretepros/directory-api/internal/model"
)

func receive(t *testing.T, sub *Subscription) model.JobEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.JobEvent{}
}

func TestHub_DeliversToJobAndGlobalSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	jobSub := hub.Subscribe("job-1")
	otherSub := hub.Subscribe("job-2")
	allSub := hub.Subscribe("")

	hub.Publish(model.JobEvent{Type: model.EventProgress, JobID: "job-1", ProcessedItems: 3})

	if ev := receive(t, jobSub); ev.ProcessedItems != 3 {
		t.Errorf("expected processed 3, got %d", ev.ProcessedItems)
	}
	if ev := receive(t, allSub); ev.JobID != "job-1" {
		t.Errorf("expected job-1 on global subscription, got %s", ev.JobID)
	}

	select {
	case ev := <-otherSub.C:
		t.Errorf("unexpected event for other job: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("job-1")
	if hub.SubscriberCount("job-1") != 1 {
		t.Fatalf("expected 1 subscriber")
	}

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel")
	}
	if hub.SubscriberCount("job-1") != 0 {
		t.Error("expected no subscribers")
	}
}

func TestHub_RunClosesSubscribersOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	sub := hub.Subscribe("")
	cancel()
	<-done

	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after shutdown")
	}
}
