package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/unclebandit/zapdispatch/internal/model"
)

const (
	EventType  = "dispatch.result.v1"
	RoutingKey = "dispatch.result"
)

type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Producer string    `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
}

type Envelope struct {
	Meta Meta                  `json:"meta"`
	Data *model.DispatchResult `json:"data"`
}

// AMQPSink publishes each DispatchResult to a topic exchange.
type AMQPSink struct {
	conn     *amqp.Connection
	exchange string
	producer string
}

func DialAMQPSink(url, exchange, producer string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{conn: conn, exchange: exchange, producer: producer}, nil
}

func NewEnvelope(res *model.DispatchResult, producer string, now time.Time) Envelope {
	return Envelope{
		Meta: Meta{ID: uuid.NewString(), Type: EventType, Producer: producer, Time: now},
		Data: res,
	}
}

func (s *AMQPSink) Record(ctx context.Context, res *model.DispatchResult) error {
	env := NewEnvelope(res, s.producer, time.Now())
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.Publish(s.exchange, RoutingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: res.JobID,
		Type:          EventType,
		Timestamp:     env.Meta.Time,
		Body:          body,
	})
}

func (s *AMQPSink) Close() error {
	return s.conn.Close()
}

var _ Sink = (*AMQPSink)(nil)
