package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/domain"
)

// PublishTask publishes a TaskEnvelope to the tasks exchange (async "send"
// mode). Confirm+retry is grounded on the other_examples outbox worker's
// ch.Confirm(false)+NotifyPublish handling, adapted from its batch-polling
// loop to a direct synchronous publish call. message_id is set to the job
// id (not a fresh random id) so the same task republished by the outbox
// carries a stable identity, and a user_id header rides along with it.
func (c *Client) PublishTask(ctx domain.Context, task domain.TaskEnvelope) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("op=bus.publish_task_marshal: %w", err)
	}
	return c.publishWithRetry(ctx, c.cfg.TasksExchange, c.cfg.TasksRoutingKey, task.JobID, body, amqp.Table{"user_id": task.UserID})
}

// PublishRaw publishes an already-serialized payload, used by the
// OutboxPublisher when redelivering a claimed outbox row.
func (c *Client) PublishRaw(ctx domain.Context, exchange, routingKey, messageID string, payload []byte, headers map[string]string) error {
	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	return c.publishWithRetry(ctx, exchange, routingKey, messageID, payload, table)
}

func (c *Client) publishWithRetry(ctx domain.Context, exchange, routingKey, messageID string, body []byte, headers amqp.Table) error {
	tracer := otel.Tracer("bus.publish")
	ctx, span := tracer.Start(ctx, "bus.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination", exchange),
		attribute.String("messaging.rabbitmq.routing_key", routingKey),
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BusRetryBaseDelay
	bo.MaxInterval = c.cfg.BusRetryMaxDelay
	bo.MaxElapsedTime = 0
	// BusRetryAttempts counts total attempts; WithMaxRetries counts retries
	// after the first one.
	retries := c.cfg.BusRetryAttempts - 1
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithMaxRetries(bo, uint64(retries))

	start := time.Now()
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			observability.RecordPublishRetry(exchange)
		}
		c.mu.Lock()
		ch := c.ch
		confirms := c.confirms
		c.mu.Unlock()
		if ch == nil {
			return domain.ErrBusUnavailable
		}

		err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         body,
		})
		if err != nil {
			span.RecordError(err)
			return err
		}

		select {
		case conf := <-confirms:
			if !conf.Ack {
				return fmt.Errorf("broker nacked publish")
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.BusConnectTimeout):
			return fmt.Errorf("publish confirm timed out")
		}
	}

	if err := backoff.Retry(op, policy); err != nil {
		span.RecordError(err)
		observability.RecordPublish("failed", time.Since(start).Seconds())
		return fmt.Errorf("op=bus.publish: %w: %v", domain.ErrBusUnavailable, err)
	}
	observability.RecordPublish("confirmed", time.Since(start).Seconds())
	return nil
}
