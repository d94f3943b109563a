package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

// DefaultChannel is the pub/sub channel events are published on.
const DefaultChannel = "sealed-scores:events"

// Publisher is the subset of *redis.Client used for fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// NewRedisClient dials Redis and checks the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisPublisher publishes each event as JSON on one channel.
type RedisPublisher struct {
	client  Publisher
	channel string
	log     *logger.Logger
}

var _ Notifier = (*RedisPublisher)(nil)

// NewRedisPublisher wraps a Redis client.
func NewRedisPublisher(client Publisher, channel string, log *logger.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.NewDefault("notify-redis")
	}
	return &RedisPublisher{client: client, channel: channel, log: log}
}

// Envelope is the wire form shared by Redis and WebSocket subscribers.
type Envelope struct {
	Type  string      `json:"type"`
	Event score.Event `json:"event"`
}

func (p *RedisPublisher) Notify(ctx context.Context, evt score.Event) error {
	payload, err := json.Marshal(Envelope{Type: score.EventName, Event: evt})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish event %d: %w", evt.Sequence, err)
	}
	p.log.WithField("sequence", evt.Sequence).
		WithField("receivers", receivers).
		Debug("event published to redis")
	return nil
}
