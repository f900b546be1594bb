package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DLQStream receives payloads that could not be published.
const DLQStream = "collision_dlq"

// EmitToDLQ emits a failed payload to the dead-letter queue (DLQ) Redis stream.
func EmitToDLQ(ctx context.Context, client StreamWriter, log *zap.Logger, eventType string, payload string, err error) error {
	values := map[string]interface{}{
		"event_type": eventType,
		"payload":    payload,
		"error":      fmt.Sprintf("%v", err),
	}
	_, dlqErr := client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQStream,
		Values: values,
	}).Result()
	if dlqErr != nil && log != nil {
		log.Error("Failed to emit to DLQ", zap.Error(dlqErr), zap.String("event_type", eventType))
	}
	return dlqErr
}
