// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jeranaias/rigchat/internal/logging"
)

// DefaultRedisPrefix namespaces rigchat channels in Redis.
const DefaultRedisPrefix = "rigchat:"

// publishTimeout bounds a single PUBLISH.
const publishTimeout = 2 * time.Second

// publisher is the part of *redis.Client used for sending.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events as JSON to Redis pub/sub so that every
// rigchat instance can forward them to its own subscribers. Publish
// failures are logged and otherwise ignored.
type RedisNotifier struct {
	client publisher
	prefix string
	log    *logging.Logger
	now    func() time.Time
}

// NewRedisClient creates a client from a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisNotifier wraps a Redis client. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisNotifier(client publisher, prefix string, log *logging.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if log == nil {
		log = logging.Nop()
	}
	return &RedisNotifier{
		client: client,
		prefix: prefix,
		log:    log.Component("notify.redis"),
		now:    time.Now,
	}
}

// Notify implements Notifier.
func (r *RedisNotifier) Notify(ctx context.Context, key ChannelKey, kind EventKind, payload any) {
	data, err := json.Marshal(Event{Key: key, Kind: kind, Payload: payload, At: r.now()})
	if err != nil {
		r.log.Error().Err(err).Str("key", string(key)).Msg("encode_event_failed")
		return
	}

	// Publishing outlives a canceled request so the final events still go out
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := r.client.Publish(pubCtx, r.prefix+string(key), data).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", string(key)).Str("kind", string(kind)).Msg("publish_failed")
	}
}

// =============================================================================
// RELAY
// =============================================================================

// relayEvent is the wire form read back from Redis; the payload stays raw
// so it is re-encoded unchanged.
type relayEvent struct {
	Key     ChannelKey      `json:"key"`
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// decodeRelayEvent parses a published message.
func decodeRelayEvent(prefix, channel, data string) (relayEvent, error) {
	var ev relayEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	if ev.Kind == "" {
		return ev, fmt.Errorf("decode event: missing kind")
	}
	if ev.Key == "" {
		ev.Key = ChannelKey(strings.TrimPrefix(channel, prefix))
	}
	return ev, nil
}

// Relay delivery retry delays.
const (
	relayBaseDelay = 250 * time.Millisecond
	relayMaxDelay  = 10 * time.Second
)

// RelaySubscription is an open pattern subscription.
type RelaySubscription interface {
	Messages() <-chan *redis.Message
	Close() error
}

// Subscriber opens pattern subscriptions. Subscribe returns only once the
// subscription is confirmed by the server.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string) (RelaySubscription, error)
}

// redisSubscriber adapts *redis.Client to Subscriber.
type redisSubscriber struct {
	client *redis.Client
}

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s redisSubscription) Messages() <-chan *redis.Message { return s.pubsub.Channel() }
func (s redisSubscription) Close() error                    { return s.pubsub.Close() }

func (r redisSubscriber) Subscribe(ctx context.Context, pattern string) (RelaySubscription, error) {
	pubsub := r.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	return redisSubscription{pubsub: pubsub}, nil
}

// Relay forwards every rigchat event published to Redis to a local
// Notifier. It resubscribes with exponential backoff whenever the
// subscription cannot be opened or is lost.
type Relay struct {
	sub    Subscriber
	prefix string
	local  Notifier
	log    *logging.Logger

	ready     chan struct{}
	readyOnce sync.Once

	// delay returns the wait before attempt n (0-based)
	delay func(attempt int) time.Duration
}

// NewRelay creates a relay reading from client. An empty prefix uses
// DefaultRedisPrefix.
func NewRelay(client *redis.Client, prefix string, local Notifier, log *logging.Logger) *Relay {
	return newRelay(redisSubscriber{client: client}, prefix, local, log)
}

func newRelay(sub Subscriber, prefix string, local Notifier, log *logging.Logger) *Relay {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Relay{
		sub:    sub,
		prefix: prefix,
		local:  local,
		log:    log.Component("notify.relay"),
		ready:  make(chan struct{}),
		delay:  relayBackoff,
	}
}

// relayBackoff doubles from relayBaseDelay up to relayMaxDelay.
func relayBackoff(attempt int) time.Duration {
	if attempt > 10 {
		return relayMaxDelay
	}
	delay := relayBaseDelay * time.Duration(1<<uint(attempt))
	if delay > relayMaxDelay {
		delay = relayMaxDelay
	}
	return delay
}

// Ready is closed after the first subscription is confirmed.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run relays until ctx is done. It always returns nil once ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	pattern := r.prefix + "*"
	attempt := 0
	for {
		sub, err := r.sub.Subscribe(ctx, pattern)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := r.delay(attempt)
			attempt++
			r.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("relay_subscribe_failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}

		attempt = 0
		r.log.Info().Str("pattern", pattern).Msg("relay_started")
		r.readyOnce.Do(func() { close(r.ready) })

		done := r.pump(ctx, sub.Messages())
		sub.Close()
		if done {
			return nil
		}
		r.log.Warn().Msg("relay_subscription_lost")
	}
}

// pump forwards messages until ctx is done (true) or ch closes (false).
func (r *Relay) pump(ctx context.Context, ch <-chan *redis.Message) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			ev, err := decodeRelayEvent(r.prefix, msg.Channel, msg.Payload)
			if err != nil {
				r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("relay_decode_failed")
				continue
			}
			r.local.Notify(ctx, ev.Key, ev.Kind, ev.Payload)
		}
	}
}
