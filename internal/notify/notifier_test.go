package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisNotifierPublish(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	sub := client.Subscribe(ctx, "dispatch:events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	n := NewRedisNotifier(client, "dispatch:events")
	want := Event{
		Kind:      KindJobUpdated,
		JobID:     "job-1",
		JobNumber: "JOB-1042",
		Field:     "price",
		Actor:     "admin",
	}
	if err := n.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if got.Kind != want.Kind || got.JobID != want.JobID || got.Field != want.Field {
			t.Fatalf("event = %+v, want %+v", got, want)
		}
		if got.At.IsZero() {
			t.Fatalf("publish did not stamp the event time")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
}
