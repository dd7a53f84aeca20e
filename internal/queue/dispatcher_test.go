package queue

import (
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestBuildPublishing(t *testing.T) {
	pub, err := buildPublishing("msg-1", "job-1", 2, 3, 5*time.Second)
	if err != nil {
		t.Fatalf("build publishing: %v", err)
	}

	var m JobMessage
	if err := json.Unmarshal(pub.Body, &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if m.JobID != "job-1" {
		t.Fatalf("wrong job id: %q", m.JobID)
	}
	if pub.MessageId != "msg-1" {
		t.Fatalf("wrong message id: %q", pub.MessageId)
	}
	if pub.Expiration != "5000" {
		t.Fatalf("wrong ttl: %q", pub.Expiration)
	}
	if pub.DeliveryMode != amqp.Persistent {
		t.Fatalf("message not persistent")
	}
	if got := pub.Headers[HeaderAttempt]; got != int32(2) {
		t.Fatalf("wrong attempt header: %v", got)
	}
}

func TestBuildPublishing_NoTTLWhenImmediate(t *testing.T) {
	pub, err := buildPublishing("msg-1", "job-1", 0, 3, 0)
	if err != nil {
		t.Fatalf("build publishing: %v", err)
	}
	if pub.Expiration != "" {
		t.Fatalf("immediate message carries ttl %q", pub.Expiration)
	}
}

func TestDeliveryHeaderHelpers(t *testing.T) {
	d := amqp.Delivery{Headers: amqp.Table{
		HeaderAttempt:    int32(2),
		HeaderMaxRetries: int64(5),
	}}
	if got := Attempt(d); got != 2 {
		t.Fatalf("attempt = %d", got)
	}
	if got := MaxRetries(d); got != 5 {
		t.Fatalf("max retries = %d", got)
	}

	// Missing headers fall back to defaults.
	empty := amqp.Delivery{}
	if got := Attempt(empty); got != 0 {
		t.Fatalf("default attempt = %d", got)
	}
	if got := MaxRetries(empty); got != 3 {
		t.Fatalf("default max retries = %d", got)
	}
}

func TestQueueNames(t *testing.T) {
	if MainQueue("jobs") != "jobs" || RetryQueue("jobs") != "jobs.retry" || DeadQueue("jobs") != "jobs.dlq" {
		t.Fatalf("unexpected queue names: %s %s %s", MainQueue("jobs"), RetryQueue("jobs"), DeadQueue("jobs"))
	}
}
