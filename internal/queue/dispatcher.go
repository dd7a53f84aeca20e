package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message headers carried on every job delivery.
const (
	HeaderMessageID  = "x-message-id"
	HeaderJobID      = "x-job-id"
	HeaderAttempt    = "x-attempt"
	HeaderMaxRetries = "x-max-retries"
	HeaderTargetURL  = "x-target-url"
)

type JobMessage struct {
	JobID string `json:"job_id"`
}

// Dispatcher publishes job messages over RabbitMQ. The topology is a
// main/retry/dlq triple: the retry queue has no consumer and dead-letters
// back into the main queue when a message's TTL expires, which is how both
// continuation delays and retry backoff are implemented; the main queue
// dead-letters rejected messages into the DLQ.
type Dispatcher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func MainQueue(queue string) string  { return queue }
func RetryQueue(queue string) string { return queue + ".retry" }
func DeadQueue(queue string) string  { return queue + ".dlq" }

func NewDispatcher(url, queue string) (*Dispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Dispatcher{conn: conn, ch: ch, queue: queue}, nil
}

// DeclareTopology declares the main/retry/dlq triple. Safe to call from both
// the dispatcher and the relay; declarations are idempotent.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(
		DeadQueue(queue),
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		RetryQueue(queue),
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": MainQueue(queue),
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		MainQueue(queue),
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DeadQueue(queue),
		},
	); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) Close() error {
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// Enqueue publishes a "process this job" message. A non-zero delay routes the
// message through the retry queue with a per-message TTL so it lands on the
// main queue at the due time. Returns the message id.
func (d *Dispatcher) Enqueue(ctx context.Context, jobID string, delay time.Duration, maxRetries int) (string, error) {
	msgID := uuid.NewString()
	pub, err := buildPublishing(msgID, jobID, 0, maxRetries, delay)
	if err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	target := MainQueue(d.queue)
	if delay > 0 {
		target = RetryQueue(d.queue)
	}
	if err := d.ch.PublishWithContext(cctx,
		"",     // default exchange
		target, // routing key = queue
		false,
		false,
		pub,
	); err != nil {
		return "", err
	}
	return msgID, nil
}

// Requeue re-publishes a delivery on the retry queue with a backoff TTL and a
// bumped attempt counter. Used by the relay when a webhook delivery fails but
// the retry budget is not yet spent.
func (d *Dispatcher) Requeue(ctx context.Context, msgID, jobID string, attempt, maxRetries int, backoff time.Duration) error {
	pub, err := buildPublishing(msgID, jobID, attempt, maxRetries, backoff)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.ch.PublishWithContext(cctx, "", RetryQueue(d.queue), false, false, pub)
}

func buildPublishing(msgID, jobID string, attempt, maxRetries int, ttl time.Duration) (amqp.Publishing, error) {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return amqp.Publishing{}, err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msgID,
		Body:         body,
		Timestamp:    time.Now(),
		Headers: amqp.Table{
			HeaderMessageID:  msgID,
			HeaderJobID:      jobID,
			HeaderAttempt:    int32(attempt),
			HeaderMaxRetries: int32(maxRetries),
		},
	}
	if ttl > 0 {
		pub.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}
	return pub, nil
}

// Attempt reads the attempt counter from a delivery, defaulting to zero.
func Attempt(d amqp.Delivery) int {
	if v, ok := d.Headers[HeaderAttempt]; ok {
		switch n := v.(type) {
		case int32:
			return int(n)
		case int64:
			return int(n)
		}
	}
	return 0
}

// MaxRetries reads the retry budget from a delivery.
func MaxRetries(d amqp.Delivery) int {
	if v, ok := d.Headers[HeaderMaxRetries]; ok {
		switch n := v.(type) {
		case int32:
			return int(n)
		case int64:
			return int(n)
		}
	}
	return 3
}
