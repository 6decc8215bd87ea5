package progress

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events to a fanout exchange.
type AMQPSink struct {
	conn       *amqp.Connection
	channel    amqpPublisher
	exchange   string
	routingKey string
	log        logrus.FieldLogger
}

// DialAMQP connects and declares the exchange events are published to.
func DialAMQP(url, exchange, routingKey string, log logrus.FieldLogger) (*AMQPSink, error) {
	if exchange == "" {
		exchange = "blockctl.progress"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	s := NewAMQPSink(ch, exchange, routingKey, log)
	s.conn = conn
	return s, nil
}

func NewAMQPSink(ch amqpPublisher, exchange, routingKey string, log logrus.FieldLogger) *AMQPSink {
	return &AMQPSink{channel: ch, exchange: exchange, routingKey: routingKey, log: log}
}

func (s *AMQPSink) Run(ctx context.Context, b *Broker) {
	relay(ctx, b, s)
}

func (s *AMQPSink) Forward(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.log.WithError(err).Warn("encode progress event")
		return
	}
	err = s.channel.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        string(e.Action),
		Body:        payload,
	})
	if err != nil {
		s.log.WithError(err).WithField("exchange", s.exchange).Debug("progress event not delivered")
	}
}

func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
