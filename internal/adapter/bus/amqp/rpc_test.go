package amqp

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestRPCClient_ReaperDropsStaleSlots(t *testing.T) {
	r := &rpcClient{slots: map[string]*rpcSlot{}}
	r.slots["stale"] = &rpcSlot{ch: make(chan amqp.Delivery, 1), enqueuedAt: time.Now().Add(-time.Hour)}
	r.slots["fresh"] = &rpcSlot{ch: make(chan amqp.Delivery, 1), enqueuedAt: time.Now()}

	go r.reaper(10*time.Millisecond, 5*time.Minute)
	time.Sleep(50 * time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, staleExists := r.slots["stale"]
	_, freshExists := r.slots["fresh"]
	assert.False(t, staleExists)
	assert.True(t, freshExists)
}
