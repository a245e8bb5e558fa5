// Package broker provides a Redis Streams message broker for task and change
// delivery. It supports at-least-once delivery with features including:
//   - Durable consumer groups with batched, bounded-wait fetches
//   - Negative acknowledgement by leaving entries pending and reclaiming them
//     once they have been idle for the redelivery delay
//   - Termination into a dead-letter stream ({stream}:dead)
//   - Subject routing on a single stream with wildcard filters
//
// The Client type is the main entry point for interacting with the broker.
package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry field names.
const (
	fieldSubject = "subject"
	fieldData    = "data"
	fieldReason  = "reason"
	fieldOrigin  = "origin"
)

// DeadSuffix is appended to a stream name to form its dead-letter stream.
const DeadSuffix = ":dead"

// Message is one stream entry delivered to a consumer.
type Message struct {
	// ID is the stream entry id.
	ID string
	// Stream is the stream the entry was read from.
	Stream string
	// Subject is the routing subject the entry was published with.
	Subject string
	// Data is the message body.
	Data []byte
	// Deliveries counts how often the entry has been handed to the group.
	Deliveries int64
}

// FetchRequest describes one pull from a consumer group.
type FetchRequest struct {
	Stream   string
	Group    string
	Consumer string
	// Count caps the batch size.
	Count int64
	// MaxWait bounds how long Fetch blocks when nothing is available.
	MaxWait time.Duration
	// ReclaimAfter redelivers pending entries idle for at least this long.
	// Zero disables reclaiming.
	ReclaimAfter time.Duration
}

// Client manages the connection to Redis and provides the stream operations
// used by publishers and subscribers. A Client is owned by one publisher or
// subscriber and closed with it.
type Client struct {
	rdb *redis.Client

	mu      sync.Mutex
	streams map[string]struct{}
}

// NewClient creates a broker client for the Redis server at addr ("host:port").
// The connection is established on first use.
//
// Example:
//
//	client := broker.NewClient("localhost:6379")
func NewClient(addr string) *Client {
	return &Client{
		rdb:     redis.NewClient(&redis.Options{Addr: addr}),
		streams: make(map[string]struct{}),
	}
}

func (c *Client) track(stream string) {
	c.mu.Lock()
	c.streams[stream] = struct{}{}
	c.mu.Unlock()
}

// Watch adds streams to the set reported by StreamDepths.
func (c *Client) Watch(streams ...string) {
	for _, s := range streams {
		c.track(s)
	}
}

// Publish appends a message to the stream and returns its entry id.
func (c *Client) Publish(ctx context.Context, stream, subject string, data []byte) (string, error) {
	c.track(stream)
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: []any{fieldSubject, subject, fieldData, data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish %s to %s: %w", subject, stream, err)
	}
	return id, nil
}

// EnsureGroup creates the stream and the consumer group if they are missing.
// A new group starts at the beginning of the stream.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	c.track(stream)
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Fetch returns up to req.Count messages. Pending entries idle longer than
// req.ReclaimAfter are redelivered before new entries are read. When nothing
// arrives within req.MaxWait it returns an empty batch and no error.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) ([]Message, error) {
	c.track(req.Stream)
	if req.Count < 1 {
		req.Count = 1
	}

	if req.ReclaimAfter > 0 {
		msgs, err := c.reclaim(ctx, req)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
	}

	// BLOCK 0 would wait forever.
	block := req.MaxWait
	if block < time.Millisecond {
		block = time.Millisecond
	}
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    req.Group,
		Consumer: req.Consumer,
		Streams:  []string{req.Stream, ">"},
		Count:    req.Count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group %s on %s: %w", req.Group, req.Stream, err)
	}

	var msgs []Message
	for _, s := range res {
		for _, xm := range s.Messages {
			msgs = append(msgs, toMessage(s.Stream, xm, 1))
		}
	}
	return msgs, nil
}

func (c *Client) reclaim(ctx context.Context, req FetchRequest) ([]Message, error) {
	claimed, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   req.Stream,
		Group:    req.Group,
		Consumer: req.Consumer,
		MinIdle:  req.ReclaimAfter,
		Start:    "0-0",
		Count:    req.Count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reclaim pending on %s: %w", req.Stream, err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	msgs := make([]Message, 0, len(claimed))
	for _, xm := range claimed {
		deliveries := int64(1)
		pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: req.Stream,
			Group:  req.Group,
			Start:  xm.ID,
			End:    xm.ID,
			Count:  1,
		}).Result()
		if err == nil && len(pending) == 1 {
			deliveries = pending[0].RetryCount
		}
		msgs = append(msgs, toMessage(req.Stream, xm, deliveries))
	}
	return msgs, nil
}

func toMessage(stream string, xm redis.XMessage, deliveries int64) Message {
	m := Message{ID: xm.ID, Stream: stream, Deliveries: deliveries}
	if v, ok := xm.Values[fieldSubject].(string); ok {
		m.Subject = v
	}
	if v, ok := xm.Values[fieldData].(string); ok {
		m.Data = []byte(v)
	}
	return m
}

// Ack marks the message as consumed by the group.
func (c *Client) Ack(ctx context.Context, group string, m Message) error {
	return c.rdb.XAck(ctx, m.Stream, group, m.ID).Err()
}

// Nak leaves the message pending so a later Fetch with ReclaimAfter
// redelivers it. Nothing is written.
func (c *Client) Nak(context.Context, string, Message) error {
	return nil
}

// Term acknowledges the message and copies it to the dead-letter stream so it
// is never redelivered but can still be inspected.
func (c *Client) Term(ctx context.Context, group string, m Message, reason string) error {
	dead := m.Stream + DeadSuffix
	c.track(dead)

	pipe := c.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: dead,
		Values: []any{fieldSubject, m.Subject, fieldData, m.Data, fieldReason, reason, fieldOrigin, m.ID},
	})
	pipe.XAck(ctx, m.Stream, group, m.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// Inspect returns the first limit entries of a stream without consuming them.
func (c *Client) Inspect(ctx context.Context, stream string, limit int64) ([]Message, error) {
	entries, err := c.rdb.XRangeN(ctx, stream, "-", "+", limit).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(entries))
	for _, xm := range entries {
		msgs = append(msgs, toMessage(stream, xm, 0))
	}
	return msgs, nil
}

// StreamDepths returns the length of every stream this client has used.
func (c *Client) StreamDepths(ctx context.Context) map[string]int64 {
	c.mu.Lock()
	streams := make([]string, 0, len(c.streams))
	for s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()
	sort.Strings(streams)

	depths := make(map[string]int64, len(streams))
	for _, s := range streams {
		if n, err := c.rdb.XLen(ctx, s).Result(); err == nil {
			depths[s] = n
		}
	}
	return depths
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
