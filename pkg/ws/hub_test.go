package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func TestBroadcastDelivers(t *testing.T) {
	h := NewHub(zap.NewNop())
	go h.Run()

	c := &Client{hub: h, send: make(chan []byte, 8)}
	h.register <- c
	require.Eventually(t, func() bool { return h.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.Broadcast([]byte(`{"type":"position_update"}`))

	select {
	case msg := <-c.send:
		assert.Equal(t, `{"type":"position_update"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("client did not receive broadcast")
	}
}

func TestBroadcastEvictsSlowConsumer(t *testing.T) {
	h := NewHub(zap.NewNop())
	go h.Run()

	fast := &Client{hub: h, send: make(chan []byte, 8)}
	// 无缓冲且没人读，广播时必然走 default 分支被剔除
	slow := &Client{hub: h, send: make(chan []byte)}
	h.register <- fast
	h.register <- slow
	require.Eventually(t, func() bool { return h.clientCount() == 2 }, time.Second, 10*time.Millisecond)

	h.Broadcast([]byte(`{"type":"position_update"}`))

	assert.Eventually(t, func() bool { return h.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	select {
	case msg := <-fast.send:
		assert.Equal(t, `{"type":"position_update"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("fast client did not receive broadcast")
	}

	// 被剔除的客户端 send 通道应已关闭
	_, ok := <-slow.send
	assert.False(t, ok)
}

func TestUnregisterRemovesClient(t *testing.T) {
	h := NewHub(zap.NewNop())
	go h.Run()

	c := &Client{hub: h, send: make(chan []byte, 8)}
	h.register <- c
	require.Eventually(t, func() bool { return h.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.unregister <- c
	assert.Eventually(t, func() bool { return h.clientCount() == 0 }, time.Second, 10*time.Millisecond)

	_, ok := <-c.send
	assert.False(t, ok)
}
