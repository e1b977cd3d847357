package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindmeld/application/ports"
)

// Broker delivery runs on publisher goroutines, so a broadcast can land on a
// session that is tearing down concurrently. Enqueue must stay safe after
// teardown instead of panicking on a dead channel.
func TestWSSession_EnqueueAfterTeardown(t *testing.T) {
	sess := &wsSession{
		server:   NewServer(NewBroker(nil, nil), zap.NewNop()),
		clientID: "conn-1",
		send:     make(chan []byte, 1),
		done:     make(chan struct{}),
		subs:     map[string]uint64{},
	}

	sess.enqueue(frame{Type: frameBroadcast, Channel: "room", Event: "test-event"})
	sess.teardown()
	sess.teardown() // idempotent

	assert.NotPanics(t, func() {
		sess.enqueue(frame{Type: frameBroadcast, Channel: "room", Event: "test-event"})
		sess.enqueue(frame{Type: frameBroadcast, Channel: "room", Event: "test-event"})
	})
	select {
	case <-sess.done:
	default:
		t.Fatal("teardown did not signal the write pump")
	}
}

// Connection churn under sustained broadcast load: a disconnecting session
// racing a publish must never take the server down.
func TestServer_BroadcastDuringDisconnectChurn(t *testing.T) {
	url := startWSServer(t)
	ctx := context.Background()

	publisher := openChannel(t, dialWS(t, url), "room", &recorder{})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				publisher.Broadcast(ctx, "test-event", "ping")
			}
		}
	}()

	for i := 0; i < 40; i++ {
		transport, err := Dial(ctx, url, nil, zap.NewNop())
		require.NoError(t, err)
		ch := transport.Channel("room", ports.ChannelConfig{})
		ch.OnBroadcast("test-event", func([]byte) {})
		require.NoError(t, ch.Subscribe(ctx))
		require.NoError(t, transport.Close())
	}

	close(stop)
	wg.Wait()
}
