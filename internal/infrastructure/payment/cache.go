package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient parses redisURL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type cachedGateway struct {
	Gateway
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedGateway caches live status views in Redis for ttl. Degraded views
// are never cached, and create calls pass straight through.
func NewCachedGateway(inner Gateway, client *redis.Client, ttl time.Duration, logger *zap.Logger) Gateway {
	return &cachedGateway{Gateway: inner, client: client, ttl: ttl, logger: logger}
}

func statusKey(schoolID, collectRequestID string) string {
	return "gateway:status:" + schoolID + ":" + collectRequestID
}

func (g *cachedGateway) CheckStatus(ctx context.Context, schoolID, collectRequestID string) StatusView {
	key := statusKey(schoolID, collectRequestID)

	data, err := g.client.Get(ctx, key).Bytes()
	if err == nil {
		var view StatusView
		if err := json.Unmarshal(data, &view); err == nil {
			return view
		}
	} else if !errors.Is(err, redis.Nil) {
		g.logger.Debug("status cache read failed", zap.String("key", key), zap.Error(err))
	}

	view := g.Gateway.CheckStatus(ctx, schoolID, collectRequestID)
	if view.Degraded() {
		return view
	}

	data, err = json.Marshal(view)
	if err != nil {
		return view
	}
	if err := g.client.Set(ctx, key, data, g.ttl).Err(); err != nil {
		g.logger.Debug("status cache write failed", zap.String("key", key), zap.Error(err))
	}
	return view
}
