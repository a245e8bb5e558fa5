package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testStream = "tp-stream"
	testGroup  = "tp-subscriber"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := NewClient(s.Addr())
	t.Cleanup(func() {
		client.Close()
		s.Close()
	})
	return s, client
}

func fetchRequest() FetchRequest {
	return FetchRequest{
		Stream:   testStream,
		Group:    testGroup,
		Consumer: "c1",
		Count:    10,
		MaxWait:  10 * time.Millisecond,
	}
}

func pendingCount(t *testing.T, s *miniredis.Miniredis) int64 {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	p, err := rdb.XPending(context.Background(), testStream, testGroup).Result()
	if err != nil {
		t.Fatalf("XPending: %v", err)
	}
	return p.Count
}

func TestPublishAndFetch(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()

	if err := client.EnsureGroup(ctx, testStream, testGroup); err != nil {
		t.Fatalf("EnsureGroup failed: %v", err)
	}
	// Creating the same group twice is not an error.
	if err := client.EnsureGroup(ctx, testStream, testGroup); err != nil {
		t.Fatalf("second EnsureGroup failed: %v", err)
	}

	if _, err := client.Publish(ctx, testStream, "transfers.consumer.transfer.prepare", []byte(`{"id":"1"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msgs, err := client.Fetch(ctx, fetchRequest())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Subject != "transfers.consumer.transfer.prepare" || string(m.Data) != `{"id":"1"}` {
		t.Errorf("Unexpected message %+v", m)
	}
	if m.Deliveries != 1 {
		t.Errorf("Expected first delivery, got %d", m.Deliveries)
	}
	if pendingCount(t, s) != 1 {
		t.Errorf("Expected message pending until acked")
	}

	if err := client.Ack(ctx, testGroup, m); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if pendingCount(t, s) != 0 {
		t.Errorf("Expected no pending messages after ack")
	}
}

func TestFetchEmptyReturnsNoError(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	client.EnsureGroup(ctx, testStream, testGroup)

	msgs, err := client.Fetch(ctx, fetchRequest())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Expected empty batch, got %d", len(msgs))
	}
}

func TestTermMovesToDeadStream(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()
	client.EnsureGroup(ctx, testStream, testGroup)
	client.Publish(ctx, testStream, "transfers.consumer.transfer.start", []byte("bad"))

	msgs, _ := client.Fetch(ctx, fetchRequest())
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if err := client.Term(ctx, testGroup, msgs[0], "decode failed"); err != nil {
		t.Fatalf("Term failed: %v", err)
	}

	if pendingCount(t, s) != 0 {
		t.Errorf("Expected terminated message acked")
	}
	dead, err := client.Inspect(ctx, testStream+DeadSuffix, 10)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if len(dead) != 1 || string(dead[0].Data) != "bad" || dead[0].Subject != "transfers.consumer.transfer.start" {
		t.Errorf("Expected dead-lettered copy, got %+v", dead)
	}

	depths := client.StreamDepths(ctx)
	if depths[testStream] != 1 || depths[testStream+DeadSuffix] != 1 {
		t.Errorf("Unexpected depths %v", depths)
	}
}

func TestNakRedeliversAfterDelay(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	client.EnsureGroup(ctx, testStream, testGroup)
	client.Publish(ctx, testStream, "transfers.consumer.transfer.prepare", []byte("x"))

	req := fetchRequest()
	req.ReclaimAfter = 5 * time.Millisecond

	first, _ := client.Fetch(ctx, req)
	if len(first) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(first))
	}
	client.Nak(ctx, testGroup, first[0])

	time.Sleep(30 * time.Millisecond)
	again, err := client.Fetch(ctx, req)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(again) != 1 || again[0].ID != first[0].ID {
		t.Fatalf("Expected redelivery of %s, got %+v", first[0].ID, again)
	}
	if again[0].Deliveries != 2 {
		t.Errorf("Expected second delivery, got %d", again[0].Deliveries)
	}
}

func TestWatchReportsStreamsPublishedElsewhere(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()
	client.Publish(ctx, testStream, "transfers.provider.transfer.start", []byte("{}"))
	client.Publish(ctx, testStream, "transfers.provider.transfer.start", []byte("{}"))

	monitor := NewClient(s.Addr())
	defer monitor.Close()
	if depths := monitor.StreamDepths(ctx); len(depths) != 0 {
		t.Errorf("Expected no watched streams, got %v", depths)
	}
	monitor.Watch(testStream, testStream+DeadSuffix)
	depths := monitor.StreamDepths(ctx)
	if depths[testStream] != 2 || depths[testStream+DeadSuffix] != 0 {
		t.Errorf("Unexpected depths %v", depths)
	}
}
