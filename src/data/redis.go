package data

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

const streamNotifications = "govdash.notifications"

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// PublishNotificationEvent appends a dispatch summary to the notification
// stream so external consumers (dashboards, audit tooling) can follow sends.
func PublishNotificationEvent(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamNotifications,
		Values: payload,
	}).Result()
	return err
}
