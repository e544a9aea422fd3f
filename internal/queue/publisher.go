// Package queue hands analyzed conversations to downstream consumers over a
// Redis stream.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxLen caps the stream length; older entries are trimmed
// approximately.
const DefaultMaxLen = 10000

// Publisher appends detection events to a Redis stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewPublisher creates a Publisher writing to stream.
func NewPublisher(client *redis.Client, stream string) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: DefaultMaxLen}
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (p *Publisher) Stream() string { return p.stream }

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish adds ev to the stream and returns the entry id.
func (p *Publisher) Publish(ctx context.Context, ev domain.DetectionEvent) (string, error) {
	values, err := eventValues(ev)
	if err != nil {
		return "", err
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish detections: %w", err)
	}
	return id, nil
}

// eventValues flattens the fields consumers filter on next to the full JSON
// payload.
func eventValues(ev domain.DetectionEvent) (map[string]any, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode detection event: %w", err)
	}
	return map[string]any{
		"analysis_id":     ev.AnalysisID.String(),
		"request_id":      ev.RequestID,
		"message_count":   strconv.Itoa(len(ev.Messages)),
		"detection_count": strconv.Itoa(len(ev.Detections)),
		"payload":         string(payload),
	}, nil
}

// DecodeEvent parses the payload field of a stream entry.
func DecodeEvent(msg redis.XMessage) (*domain.DetectionEvent, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, fmt.Errorf("stream entry %s has no payload", msg.ID)
	}
	var ev domain.DetectionEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, fmt.Errorf("decode stream entry %s: %w", msg.ID, err)
	}
	return &ev, nil
}
