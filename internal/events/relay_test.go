package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/concretepros/directory-api/internal/model"
)

func TestRedisRelay_ForwardsIntoHub(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)
	relay := NewRedisRelay(rdb)
	go relay.Forward(ctx, hub)

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub(RelayChannel)[RelayChannel] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("relay never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	sub := hub.Subscribe("job-1")
	defer hub.Unsubscribe(sub)

	// malformed messages are skipped
	if err := rdb.Publish(ctx, RelayChannel, "not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	relay.Publish(model.JobEvent{Type: model.EventProgress, JobID: "job-1", Status: model.JobStatusProcessing, TotalItems: 4, ProcessedItems: 1})
	relay.Publish(model.JobEvent{Type: model.EventComplete, JobID: "job-1", Status: model.JobStatusCompleted, TotalItems: 4, ProcessedItems: 4})

	first := receive(t, sub)
	if first.Type != model.EventProgress || first.ProcessedItems != 1 {
		t.Errorf("unexpected first event %+v", first)
	}
	second := receive(t, sub)
	if second.Type != model.EventComplete || second.Status != model.JobStatusCompleted {
		t.Errorf("unexpected second event %+v", second)
	}
}

func TestRedisRelay_ForwardStopsWithContext(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRedisRelay(rdb).Forward(ctx, NewHub())
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not return after cancel")
	}
}
