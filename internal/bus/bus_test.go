package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		err = bus.Publish(ctx, "test.topic", []byte("hello"))
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.Topic != "test.topic" || msg.ID == "" {
				t.Errorf("unexpected envelope: %+v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var other atomic.Int32
		got := make(chan struct{}, 1)

		bus.Subscribe(ctx, "isolation.a", func(ctx context.Context, msg *domain.Message) error {
			got <- struct{}{}
			return nil
		})
		bus.Subscribe(ctx, "isolation.b", func(ctx context.Context, msg *domain.Message) error {
			other.Add(1)
			return nil
		})

		bus.Publish(ctx, "isolation.a", []byte("msg1"))

		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
		if other.Load() != 0 {
			t.Errorf("isolation.b should receive 0 messages, got %d", other.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.Publish(ctx, "unsub.topic", []byte("msg"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no messages after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)

		for i := 0; i < 2; i++ {
			bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
				wg.Done()
				return nil
			})
		}

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("expected both subscribers to receive")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestChannelBusCloseDrains(t *testing.T) {
	bus := NewChannelBus(1000)
	ctx := context.Background()

	var received atomic.Int32
	bus.Subscribe(ctx, "drain.topic", func(ctx context.Context, msg *domain.Message) error {
		time.Sleep(time.Millisecond)
		received.Add(1)
		return nil
	})

	const messageCount = 50
	for i := 0; i < messageCount; i++ {
		if err := bus.Publish(ctx, "drain.topic", []byte("msg")); err != nil {
			t.Fatal(err)
		}
	}

	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if received.Load() != messageCount {
		t.Errorf("expected %d messages handled before Close returned, got %d", messageCount, received.Load())
	}
}

func TestChannelBusBlocksWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	var received atomic.Int32

	bus.Subscribe(ctx, "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		first.Do(func() { close(started) })
		<-release
		received.Add(1)
		return nil
	})

	bus.Publish(ctx, "slow.topic", []byte("1"))
	<-started

	bus.Publish(ctx, "slow.topic", []byte("2")) // queued

	done := make(chan error, 1)
	go func() {
		done <- bus.Publish(ctx, "slow.topic", []byte("3"))
	}()

	select {
	case err := <-done:
		t.Fatalf("Publish returned %v before the queue had room", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := bus.Blocked(); got != 1 {
		t.Errorf("Blocked() = %d, want 1", got)
	}

	bus.Close()
	if got := received.Load(); got != 3 {
		t.Errorf("received %d messages, want 3", got)
	}
}

func TestChannelBusPublishHonoursContext(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	var first sync.Once

	bus.Subscribe(context.Background(), "stuck.topic", func(ctx context.Context, msg *domain.Message) error {
		first.Do(func() { close(started) })
		<-release
		return nil
	})

	bus.Publish(context.Background(), "stuck.topic", []byte("1"))
	<-started
	bus.Publish(context.Background(), "stuck.topic", []byte("2"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bus.Publish(ctx, "stuck.topic", []byte("3")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish() error = %v, want DeadlineExceeded", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		_, ok := bus.(*ChannelBus)
		if !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("NoneType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "none"})
		if err != nil || bus != nil {
			t.Errorf("expected nil bus, got %v, %v", bus, err)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if !errors.Is(err, domain.ErrConfig) {
			t.Errorf("expected ErrConfig for unsupported type, got %v", err)
		}
	})

	t.Run("NATSUnavailable", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{
			Type:              "nats",
			NATSUrl:           "nats://127.0.0.1:1",
			NATSMaxReconnects: 1,
			NATSReconnectWait: 1,
		})
		if err == nil {
			t.Error("expected error when NATS is unreachable")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
