package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
)

// JobPublisher hands a SendJob to an asynchronous consumer.
type JobPublisher interface {
	PublishJob(ctx context.Context, job *model.SendJob) error
}

// JobHandler processes one consumed SendJob.
type JobHandler func(ctx context.Context, job *model.SendJob) error

// AMQPJobQueue carries SendJobs over a durable RabbitMQ queue.
type AMQPJobQueue struct {
	conn *amqp.Connection
	name string
	log  zerolog.Logger
}

func DialJobQueue(url, name string, log zerolog.Logger) (*AMQPJobQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return &AMQPJobQueue{conn: conn, name: name, log: log}, nil
}

func (q *AMQPJobQueue) PublishJob(ctx context.Context, job *model.SendJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	err = ch.Publish("", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	q.log.Debug().Str("job", job.ID).Str("queue", q.name).Msg("job published")
	return nil
}

// Consume delivers jobs one at a time until ctx is done or the channel closes.
func (q *AMQPJobQueue) Consume(ctx context.Context, handle JobHandler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		q.name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			q.deliver(ctx, d, handle)
		}
	}
}

func (q *AMQPJobQueue) deliver(ctx context.Context, d amqp.Delivery, handle JobHandler) {
	var job model.SendJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.log.Warn().Err(err).Str("message_id", d.MessageId).Msg("invalid job payload, dropping")
		d.Ack(false)
		return
	}

	err := handle(ctx, &job)
	switch Disposition(err, d.Redelivered) {
	case Ack:
		if err != nil {
			q.log.Warn().Err(err).Str("job", job.ID).Msg("job rejected, not retrying")
		}
		d.Ack(false)
	case Requeue:
		q.log.Warn().Err(err).Str("job", job.ID).Msg("job failed, requeueing")
		d.Nack(false, true)
	}
}

type Outcome int

const (
	Ack Outcome = iota
	Requeue
)

// Disposition decides what happens to a consumed job. Caller-input and
// precondition errors are final; other errors get one redelivery. A job
// another loop is running is acked: its owner finishes it, or the recovery
// sweep does once the lease expires.
func Disposition(err error, redelivered bool) Outcome {
	if err == nil {
		return Ack
	}
	if appErrors.IsValidation(err) || appErrors.IsAvailability(err) || errors.Is(err, appErrors.ErrJobRunning) {
		return Ack
	}
	if redelivered {
		return Ack
	}
	return Requeue
}

func (q *AMQPJobQueue) Close() error {
	return q.conn.Close()
}

var _ JobPublisher = (*AMQPJobQueue)(nil)
