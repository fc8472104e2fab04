package amqp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/config"
	"github.com/creditdispatch/inference-broker/internal/domain"
)

// rpcSlot is one in-flight RPC request awaiting a correlated reply.
type rpcSlot struct {
	ch         chan amqp.Delivery
	enqueuedAt time.Time
}

// rpcClient implements the synchronous request/reply sub-protocol: a lazy
// exclusive auto-delete reply queue, a no-ack consumer copying deliveries
// into the slot keyed by correlation id, and a periodic reaper dropping
// slots whose reply never arrived.
type rpcClient struct {
	client *Client

	mu        sync.Mutex
	replyConn *amqp.Connection
	replyCh   *amqp.Channel
	replyQ    string
	slots     map[string]*rpcSlot
}

func newRPCClient(c *Client, _ config.Config) *rpcClient {
	return &rpcClient{client: c, slots: map[string]*rpcSlot{}}
}

func (r *rpcClient) ensureReplyQueue() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replyCh != nil && !r.replyCh.IsClosed() {
		return nil
	}

	conn, err := amqp.Dial(r.client.cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("op=rpc.dial: %w: %v", domain.ErrBusUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("op=rpc.channel: %w: %v", domain.ErrBusUnavailable, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("op=rpc.reply_queue_declare: %w: %v", domain.ErrBusUnavailable, err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("op=rpc.reply_consume: %w: %v", domain.ErrBusUnavailable, err)
	}

	r.replyConn = conn
	r.replyCh = ch
	r.replyQ = q.Name
	go r.dispatchReplies(deliveries)
	return nil
}

func (r *rpcClient) dispatchReplies(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		r.mu.Lock()
		slot, ok := r.slots[d.CorrelationId]
		if ok {
			delete(r.slots, d.CorrelationId)
		}
		r.mu.Unlock()
		if !ok {
			continue
		}
		slot.ch <- d
	}
}

// reaper periodically drops slots older than maxAge, so a caller whose
// context was cancelled (or who crashed) doesn't leak a slot forever.
func (r *rpcClient) reaper(tick, maxAge time.Duration) {
	if tick <= 0 {
		tick = 60 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-maxAge)
		r.mu.Lock()
		for id, slot := range r.slots {
			if slot.enqueuedAt.Before(cutoff) {
				close(slot.ch)
				delete(r.slots, id)
				observability.RPCInFlight.Dec()
				observability.RecordRPCTimeout()
				slog.Warn("rpc slot reaped", slog.String("correlation_id", id))
			}
		}
		r.mu.Unlock()
	}
}

// CallRPC publishes task to the rpc exchange with a fresh correlation id
// and reply-to set to the private reply queue, then waits for the
// correlated reply or ErrTimeout.
func (c *Client) CallRPC(ctx domain.Context, task domain.TaskEnvelope, timeout time.Duration) (domain.ResultEnvelope, error) {
	tracer := otel.Tracer("bus.rpc_call")
	ctx, span := tracer.Start(ctx, "bus.rpc_call")
	defer span.End()

	if err := c.rpc.ensureReplyQueue(); err != nil {
		span.RecordError(err)
		return domain.ResultEnvelope{}, err
	}

	body, err := json.Marshal(task)
	if err != nil {
		return domain.ResultEnvelope{}, fmt.Errorf("op=bus.rpc_marshal: %w", err)
	}

	corrID := uuid.New().String()
	slot := &rpcSlot{ch: make(chan amqp.Delivery, 1), enqueuedAt: time.Now()}
	c.rpc.mu.Lock()
	c.rpc.slots[corrID] = slot
	c.rpc.mu.Unlock()
	observability.RPCInFlight.Inc()
	span.SetAttributes(attribute.String("messaging.message.conversation_id", corrID))

	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		c.rpc.mu.Lock()
		delete(c.rpc.slots, corrID)
		c.rpc.mu.Unlock()
		observability.RPCInFlight.Dec()
		return domain.ResultEnvelope{}, domain.ErrBusUnavailable
	}

	err = ch.PublishWithContext(ctx, c.cfg.RPCExchange, c.cfg.RPCRoutingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     task.JobID,
		CorrelationId: corrID,
		ReplyTo:       c.rpc.replyQ,
		Timestamp:     time.Now(),
		Headers:       amqp.Table{"user_id": task.UserID},
		Body:          body,
	})
	if err != nil {
		c.rpc.mu.Lock()
		delete(c.rpc.slots, corrID)
		c.rpc.mu.Unlock()
		observability.RPCInFlight.Dec()
		span.RecordError(err)
		return domain.ResultEnvelope{}, fmt.Errorf("op=bus.rpc_publish: %w: %v", domain.ErrBusUnavailable, err)
	}

	if timeout <= 0 {
		timeout = c.cfg.RPCDefaultWait
	}
	select {
	case d, ok := <-slot.ch:
		if !ok {
			// reaper already decremented RPCInFlight and recorded the timeout
			// when it closed this slot's channel.
			return domain.ResultEnvelope{}, domain.ErrTimeout
		}
		observability.RPCInFlight.Dec()
		var result domain.ResultEnvelope
		if err := json.Unmarshal(d.Body, &result); err != nil {
			return domain.ResultEnvelope{}, fmt.Errorf("op=bus.rpc_unmarshal: %w", err)
		}
		return result, nil
	case <-time.After(timeout):
		c.rpc.mu.Lock()
		delete(c.rpc.slots, corrID)
		c.rpc.mu.Unlock()
		observability.RPCInFlight.Dec()
		observability.RecordRPCTimeout()
		return domain.ResultEnvelope{}, domain.ErrTimeout
	case <-ctx.Done():
		c.rpc.mu.Lock()
		delete(c.rpc.slots, corrID)
		c.rpc.mu.Unlock()
		observability.RPCInFlight.Dec()
		return domain.ResultEnvelope{}, ctx.Err()
	}
}
