package amqp

import (
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/creditdispatch/inference-broker/internal/config"
	"github.com/creditdispatch/inference-broker/internal/domain"
)

// declareTopology declares the three exchanges and queues this service
// uses and binds each queue to its exchange, the same idempotent
// ExchangeDeclare/QueueDeclare/QueueBind shape as Tim275-oms's
// createExchanges, renamed from order-lifecycle exchanges to this spec's
// tasks/rpc/results topology.
func declareTopology(ch *amqp.Channel, cfg config.Config) error {
	declarations := []struct {
		exchange   string
		queue      string
		routingKey string
	}{
		{cfg.TasksExchange, cfg.TasksQueue, cfg.TasksRoutingKey},
		{cfg.RPCExchange, cfg.RPCQueue, cfg.RPCRoutingKey},
		{cfg.ResultsExchange, cfg.ResultsQueue, cfg.ResultsQueue},
	}

	for _, d := range declarations {
		if err := ch.ExchangeDeclare(d.exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return wrapBusErr("exchange_declare", err)
		}
		if _, err := ch.QueueDeclare(d.queue, true, false, false, false, nil); err != nil {
			return wrapBusErr("queue_declare", err)
		}
		if err := ch.QueueBind(d.queue, d.routingKey, d.exchange, false, nil); err != nil {
			return wrapBusErr("queue_bind", err)
		}
	}
	return nil
}

func wrapBusErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &busError{op: op, err: err}
}

type busError struct {
	op  string
	err error
}

func (e *busError) Error() string { return "op=bus." + e.op + ": " + domain.ErrBusUnavailable.Error() + ": " + e.err.Error() }
func (e *busError) Unwrap() error { return domain.ErrBusUnavailable }
