package kv

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const changeChannel = "queueboard:changes"

// Redis backs the shared store with a Redis instance so every replica
// of the application converges on the same collections. Each write
// publishes the changed key on a pub/sub channel, which is what Watch
// subscribes to.
type Redis struct {
	client *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return err
	}
	if err := r.client.Publish(ctx, changeChannel, key).Err(); err != nil {
		log.Printf("kv publish key=%s error: %v", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return err
	}
	if err := r.client.Publish(ctx, changeChannel, key).Err(); err != nil {
		log.Printf("kv publish key=%s error: %v", key, err)
	}
	return nil
}

func (r *Redis) Watch(ctx context.Context) (<-chan Event, error) {
	sub := r.client.Subscribe(ctx, changeChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case events <- Event{Key: msg.Payload}:
				default:
				}
			}
		}
	}()
	return events, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
