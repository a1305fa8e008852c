package alerting

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// alertChannel is the pub/sub channel notification consumers subscribe to,
// mirroring the teacher's "nightowl:alert:escalated" channel naming.
const alertChannel = "scimgateway:ops:alert"

// RedisPublisher publishes alerts on a Redis pub/sub channel, grounded on
// the teacher's escalation.Engine.processAlert / PublishAck pattern of
// json.Marshal-then-rdb.Publish.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a RedisPublisher over client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(map[string]any{
		"severity":          a.Severity,
		"tenantId":          a.TenantID,
		"providerId":        a.ProviderID,
		"errorKind":         a.ErrorKind,
		"message":           a.Message,
		"retryCount":        a.RetryCount,
		"recommendedAction": a.RecommendedAction,
		"occurredAt":        a.OccurredAt,
	})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, alertChannel, payload).Err()
}
