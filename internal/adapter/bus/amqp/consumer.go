package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/creditdispatch/inference-broker/internal/domain"
)

// ConsumeResults runs one long-lived consumer on the results queue. Its own
// connection/channel are independent of the publish-side Client so a slow
// handler never blocks outgoing publishes. On broker disconnect it
// reconnects after BusReconnectDelay until ctx is cancelled, at which point
// the channel then the connection are closed, in that order.
func (c *Client) ConsumeResults(ctx domain.Context, handle func(domain.Context, domain.ResultEnvelope) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, ch, deliveries, err := c.dialConsumer()
		if err != nil {
			slog.Error("results consumer connect failed, retrying", slog.Any("error", err))
			if !sleepOrDone(ctx, c.cfg.BusReconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		slog.Info("results consumer connected")
		err = c.consumeLoop(ctx, deliveries, handle)
		ch.Close()
		conn.Close()
		if err != nil && ctx.Err() == nil {
			slog.Warn("results consumer stopped unexpectedly, reconnecting", slog.Any("error", err))
			if !sleepOrDone(ctx, c.cfg.BusReconnectDelay) {
				return ctx.Err()
			}
			continue
		}
		return ctx.Err()
	}
}

func (c *Client) dialConsumer() (*amqp.Connection, *amqp.Channel, <-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(c.cfg.AMQPURL)
	if err != nil {
		return nil, nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	if err := ch.Qos(c.cfg.BusPrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, err
	}
	// Defensive topology declaration: a fresh consumer process may start
	// before any publisher has declared the queue.
	if err := declareTopology(ch, c.cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, err
	}
	deliveries, err := ch.Consume(c.cfg.ResultsQueue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, err
	}
	return conn, ch, deliveries, nil
}

func (c *Client) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handle func(domain.Context, domain.ResultEnvelope) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("results delivery channel closed")
			}
			c.handleDelivery(ctx, d, handle)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, d amqp.Delivery, handle func(domain.Context, domain.ResultEnvelope) error) {
	tracer := otel.Tracer("bus.consumer")
	spanCtx, span := tracer.Start(ctx, "bus.consume_result")
	defer span.End()

	var result domain.ResultEnvelope
	if err := json.Unmarshal(d.Body, &result); err != nil {
		span.RecordError(err)
		slog.Error("results consumer: malformed delivery, discarding", slog.Any("error", err))
		_ = d.Nack(false, false)
		return
	}

	if err := handle(spanCtx, result); err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			// At-least-once delivery means the same result can arrive twice;
			// the second delivery is a no-op, not a failure, so ack it and
			// drop it instead of requeueing it forever.
			slog.Info("results consumer: already settled, dropping duplicate delivery", slog.String("job_id", result.JobID))
			_ = d.Ack(false)
			return
		}
		span.RecordError(err)
		slog.Error("results consumer: handler failed, requeueing", slog.String("job_id", result.JobID), slog.Any("error", err))
		_ = d.Nack(false, true)
		return
	}

	_ = d.Ack(false)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
