package channel

import (
	"context"
	"sync"
	"testing"

	"github.com/taskhive/messaging/internal/config"
	"github.com/taskhive/messaging/internal/domain"
)

func TestSendEventAfterShutdown(t *testing.T) {
	c := NewClient("alice", nil, nil, config.WebSocketConfig{})

	c.shutdown()
	// A superseded client's pumps may still race an event in; it must be
	// dropped, not panic the process.
	c.SendEvent(map[string]string{"type": domain.MsgTypePong})
	c.shutdown()

	if _, ok := <-c.Send; ok {
		t.Fatal("send queue should be closed and empty")
	}
}

func TestConcurrentSendEventAndShutdown(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := NewClient("alice", nil, nil, config.WebSocketConfig{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.SendEvent(domain.NewErrorEvent("BAD_REQUEST", "x"))
			}
		}()
		go func() {
			defer wg.Done()
			c.shutdown()
		}()
		wg.Wait()
	}
}

func TestShutdownReleasesBrokerHandle(t *testing.T) {
	b := NewLocalBroker(4)
	defer b.Close()

	handle, err := b.Connect(context.Background(), "alice")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	c := NewClient("alice", nil, nil, config.WebSocketConfig{})
	c.handle = handle
	c.shutdown()

	if _, ok := <-handle.Events(); ok {
		t.Fatal("broker handle should be detached by client shutdown")
	}
}
