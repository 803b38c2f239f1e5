// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
)

func TestChannelKeys(t *testing.T) {
	assert.Equal(t, ChannelKey("chat:7:ai_messages"), ChatMessages(7))
	assert.Equal(t, ChannelKey("message:42"), MessageChannel(42))
	assert.Equal(t, ChannelKey("user:3:notifications"), UserNotifications(3))
}

func TestNewMessagePayload(t *testing.T) {
	msg := &model.Message{ID: 9, ChatID: 1}
	assert.Empty(t, NewMessagePayload(msg).ImageURL)

	msg.Image = &model.Attachment{MessageID: 9, Filename: "generated_image.png"}
	assert.Equal(t, "/messages/9/image", NewMessagePayload(msg).ImageURL)
}

// =============================================================================
// HUB TESTS
// =============================================================================

func TestHub_DeliversToMatchingKeys(t *testing.T) {
	hub := NewHub(4)
	chatSub := hub.Subscribe(ChatMessages(1))
	defer chatSub.Close()
	otherSub := hub.Subscribe(ChatMessages(2))
	defer otherSub.Close()

	hub.Notify(context.Background(), ChatMessages(1), KindSpinnerStart, SpinnerPayload{ChatID: 1})

	select {
	case ev := <-chatSub.Events():
		assert.Equal(t, KindSpinnerStart, ev.Kind)
		assert.Equal(t, SpinnerPayload{ChatID: 1}, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Len(t, otherSub.Events(), 0)
}

func TestHub_MultipleKeysPreserveOrder(t *testing.T) {
	hub := NewHub(8)
	sub := hub.Subscribe(ChatMessages(1), MessageChannel(5))
	defer sub.Close()

	ctx := context.Background()
	hub.Notify(ctx, ChatMessages(1), KindMessageCreated, nil)
	hub.Notify(ctx, MessageChannel(5), KindChunkAppended, ChunkPayload{MessageID: 5, Text: "a"})
	hub.Notify(ctx, ChatMessages(1), KindMessageReplaced, nil)

	var kinds []EventKind
	for i := 0; i < 3; i++ {
		kinds = append(kinds, (<-sub.Events()).Kind)
	}
	assert.Equal(t, []EventKind{KindMessageCreated, KindChunkAppended, KindMessageReplaced}, kinds)
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub(1)
	var dropped []ChannelKey
	hub.OnDrop = func(key ChannelKey) { dropped = append(dropped, key) }

	sub := hub.Subscribe(MessageChannel(1))
	defer sub.Close()

	for i := 0; i < 3; i++ {
		hub.Notify(context.Background(), MessageChannel(1), KindChunkAppended, nil)
	}

	stats := hub.Stats()
	assert.EqualValues(t, 1, stats.Delivered)
	assert.EqualValues(t, 2, stats.Dropped)
	assert.Len(t, dropped, 2)
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	hub := NewHub(0)
	sub := hub.Subscribe(UserNotifications(1))
	assert.Equal(t, 1, hub.Subscribers(UserNotifications(1)))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers(UserNotifications(1)))

	_, open := <-sub.Events()
	assert.False(t, open)

	// Sending after close must not panic
	hub.Notify(context.Background(), UserNotifications(1), KindError, nil)
}

func TestHub_ConcurrentNotifyAndClose(t *testing.T) {
	hub := NewHub(2)
	key := ChatMessages(1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Notify(context.Background(), key, KindChunkAppended, j)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				hub.Subscribe(key).Close()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers(key))
}

// =============================================================================
// RECORDER TESTS
// =============================================================================

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()
	rec.Notify(ctx, MessageChannel(1), KindChunkAppended, ChunkPayload{Text: "a"})
	rec.Notify(ctx, MessageChannel(1), KindChunkAppended, ChunkPayload{Text: "b"})
	rec.Notify(ctx, ChatMessages(1), KindMessageReplaced, nil)

	assert.Equal(t, 2, rec.Count(KindChunkAppended))
	assert.Len(t, rec.Filter(KindMessageReplaced), 1)
	assert.Len(t, rec.Events(), 3)

	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Notify(context.Background(), ChatMessages(1), KindError, nil)
	})
}

// =============================================================================
// REDIS TESTS
// =============================================================================

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message.([]byte))
	return redis.NewIntResult(1, f.err)
}

func TestRedisNotifier_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	n := NewRedisNotifier(pub, "", nil)

	n.Notify(context.Background(), MessageChannel(3), KindChunkAppended, ChunkPayload{MessageID: 3, Text: "hi"})

	require.Len(t, pub.channels, 1)
	assert.Equal(t, "rigchat:message:3", pub.channels[0])

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.messages[0], &got))
	assert.Equal(t, "message-chunk-appended", got["kind"])
	assert.Equal(t, "message:3", got["key"])
	assert.Equal(t, "hi", got["payload"].(map[string]any)["text"])
}

func TestRedisNotifier_ErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	n := NewRedisNotifier(pub, "test:", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() {
		n.Notify(ctx, ChatMessages(1), KindError, ErrorPayload{Message: "boom"})
	})
	assert.Equal(t, []string{"test:chat:1:ai_messages"}, pub.channels)
}

func TestDecodeRelayEvent(t *testing.T) {
	ev, err := decodeRelayEvent("rigchat:", "rigchat:message:3",
		`{"key":"message:3","kind":"message-chunk-appended","payload":{"text":"x"}}`)
	require.NoError(t, err)
	assert.Equal(t, MessageChannel(3), ev.Key)
	assert.Equal(t, KindChunkAppended, ev.Kind)
	assert.JSONEq(t, `{"text":"x"}`, string(ev.Payload))

	ev, err = decodeRelayEvent("rigchat:", "rigchat:chat:2:ai_messages", `{"kind":"spinner-start"}`)
	require.NoError(t, err)
	assert.Equal(t, ChatMessages(2), ev.Key)

	_, err = decodeRelayEvent("rigchat:", "rigchat:x", `{"key":"x"}`)
	assert.Error(t, err)

	_, err = decodeRelayEvent("rigchat:", "rigchat:x", `nope`)
	assert.Error(t, err)
}

// =============================================================================
// RELAY TESTS
// =============================================================================

type fakeSubscription struct {
	ch     chan *redis.Message
	closed chan struct{}
	once   sync.Once
}

func (s *fakeSubscription) Messages() <-chan *redis.Message { return s.ch }

func (s *fakeSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeSubscriber fails the first failures calls, then hands out a new
// subscription per call on subs.
type fakeSubscriber struct {
	mu       sync.Mutex
	failures int
	calls    int
	patterns []string
	subs     chan *fakeSubscription
}

func newFakeSubscriber(failures int) *fakeSubscriber {
	return &fakeSubscriber{failures: failures, subs: make(chan *fakeSubscription, 4)}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, pattern string) (RelaySubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.patterns = append(f.patterns, pattern)
	if f.calls <= f.failures {
		return nil, errors.New("dial tcp: connection refused")
	}
	sub := &fakeSubscription{ch: make(chan *redis.Message, 4), closed: make(chan struct{})}
	f.subs <- sub
	return sub, nil
}

func (f *fakeSubscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func chunkMessage(id int64, text string) *redis.Message {
	data, _ := json.Marshal(Event{Key: MessageChannel(id), Kind: KindChunkAppended, Payload: ChunkPayload{MessageID: id, Text: text}})
	return &redis.Message{Channel: "rigchat:" + string(MessageChannel(id)), Payload: string(data)}
}

func startRelay(t *testing.T, sub Subscriber, local Notifier) (*Relay, context.CancelFunc, chan error) {
	t.Helper()
	relay := newRelay(sub, "", local, nil)
	relay.delay = func(int) time.Duration { return time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	t.Cleanup(cancel)
	return relay, cancel, done
}

func TestRelay_RetriesUntilSubscribed(t *testing.T) {
	sub := newFakeSubscriber(1)
	rec := &Recorder{}
	relay, cancel, done := startRelay(t, sub, rec)

	select {
	case <-relay.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("relay never became ready")
	}
	assert.Equal(t, 2, sub.callCount())
	assert.Equal(t, []string{"rigchat:*", "rigchat:*"}, sub.patterns)

	first := <-sub.subs
	first.ch <- chunkMessage(4, "hi")
	require.Eventually(t, func() bool { return rec.Count(KindChunkAppended) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, MessageChannel(4), rec.Events()[0].Key)

	cancel()
	assert.NoError(t, <-done)
	<-first.closed
}

func TestRelay_ResubscribesWhenLost(t *testing.T) {
	sub := newFakeSubscriber(0)
	rec := &Recorder{}
	_, cancel, done := startRelay(t, sub, rec)

	first := <-sub.subs
	close(first.ch)

	second := <-sub.subs
	second.ch <- chunkMessage(9, "again")
	require.Eventually(t, func() bool { return rec.Count(KindChunkAppended) == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	<-first.closed
}

func TestRelay_StopsWhileRetrying(t *testing.T) {
	sub := newFakeSubscriber(1 << 30)
	relay, cancel, done := startRelay(t, sub, &Recorder{})

	require.Eventually(t, func() bool { return sub.callCount() >= 3 }, 5*time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	select {
	case <-relay.Ready():
		t.Fatal("relay reported ready without a subscription")
	default:
	}
}

func TestRelayBackoff(t *testing.T) {
	assert.Equal(t, relayBaseDelay, relayBackoff(0))
	assert.Equal(t, 2*relayBaseDelay, relayBackoff(1))
	assert.Equal(t, relayMaxDelay, relayBackoff(8))
	assert.Equal(t, relayMaxDelay, relayBackoff(60))
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 2, client.Options().DB)

	_, err = NewRedisClient("http://nope")
	assert.Error(t, err)
}
