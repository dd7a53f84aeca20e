// The relay drives the engine: it consumes job messages from RabbitMQ and
// delivers each one as a signed webhook call to the process endpoint. Failed
// deliveries are re-published with backoff until the retry budget is spent,
// then dead-lettered; a second consumer drains the DLQ into the dead-letter
// webhook.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/scoutline/discovery/internal/config"
	"github.com/scoutline/discovery/internal/queue"
	"github.com/scoutline/discovery/internal/signing"
	"github.com/scoutline/discovery/internal/store/redisstore"
)

const retryBackoffBase = 5 * time.Second

func relayConcurrency() int {
	v := os.Getenv("RELAY_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := queue.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	dispatcher, err := queue.NewDispatcher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	concurrency := relayConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(queue.MainQueue(cfg.RabbitQueue), "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	dlqCh, err := conn.Channel()
	if err != nil {
		log.Fatalf("dlq channel: %v", err)
	}
	defer dlqCh.Close()
	dlqMsgs, err := dlqCh.Consume(queue.DeadQueue(cfg.RabbitQueue), "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("dlq consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &relay{
		cfg:        cfg,
		rds:        rds,
		dispatcher: dispatcher,
		client:     &http.Client{Timeout: 60 * time.Second},
	}

	log.Printf("relay started queue=%s concurrency=%d target=%s", cfg.RabbitQueue, concurrency, cfg.ProcessWebhookURL)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				r.deliver(ctx, workerID, d)
			}
		}(i)
	}

	go func() {
		for d := range dlqMsgs {
			r.deliverDeadLetter(ctx, d)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Printf("relay shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

type relay struct {
	cfg        config.Config
	rds        *redisstore.Store
	dispatcher *queue.Dispatcher
	client     *http.Client
}

// deliver makes one signed webhook call for a queue message, re-publishing
// with backoff on failure until the retry budget is spent.
func (r *relay) deliver(ctx context.Context, workerID int, d amqp.Delivery) {
	var m queue.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		log.Printf("relay=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	msgID := d.MessageId
	if msgID == "" {
		msgID = m.JobID
	}
	attempt := queue.Attempt(d)
	maxRetries := queue.MaxRetries(d)

	// Duplicate deliveries of the same message id inside the lock window
	// are dropped here; the job-level lease in the engine is the real
	// guard, this just saves a webhook call.
	if got, err := r.rds.AcquireDeliveryLock(ctx, msgID, 30*time.Second); err == nil && !got {
		log.Printf("relay=%d msg=%s duplicate delivery, acking", workerID, msgID)
		_ = d.Ack(false)
		return
	}

	start := time.Now()
	status, err := r.post(ctx, r.cfg.ProcessWebhookURL, d.Body, msgID, m.JobID, attempt)
	cost := time.Since(start)

	switch {
	case err == nil && status >= 200 && status < 300:
		if err := d.Ack(false); err != nil {
			log.Printf("relay=%d ack failed msg=%s err=%v", workerID, msgID, err)
		}

	case attempt < maxRetries:
		backoff := retryBackoffBase * time.Duration(1<<attempt)
		log.Printf("relay=%d msg=%s job=%s attempt=%d status=%d cost=%s err=%v retrying in %s",
			workerID, msgID, m.JobID, attempt, status, cost, err, backoff)
		_ = r.rds.ReleaseDeliveryLock(ctx, msgID)
		if qErr := r.dispatcher.Requeue(ctx, msgID, m.JobID, attempt+1, maxRetries, backoff); qErr != nil {
			log.Printf("relay=%d requeue failed msg=%s err=%v", workerID, msgID, qErr)
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)

	default:
		// Budget spent: nack routes the message to the DLQ.
		log.Printf("relay=%d msg=%s job=%s retries exhausted, dead-lettering", workerID, msgID, m.JobID)
		_ = d.Nack(false, false)
	}
}

// deliverDeadLetter forwards a dead-lettered message to the dead-letter
// webhook. The delivery is always acked: the dead-letter sink must not grow
// its own retry loop.
func (r *relay) deliverDeadLetter(ctx context.Context, d amqp.Delivery) {
	var m queue.JobMessage
	_ = json.Unmarshal(d.Body, &m)

	msgID := d.MessageId
	attempt := queue.Attempt(d)

	if _, err := r.post(ctx, r.cfg.DeadLetterWebhookURL, d.Body, msgID, m.JobID, attempt); err != nil {
		log.Printf("dead letter delivery failed msg=%s job=%s err=%v", msgID, m.JobID, err)
	}
	_ = d.Ack(false)
}

func (r *relay) post(ctx context.Context, url string, body []byte, msgID, jobID string, attempt int) (int, error) {
	token, err := signing.Sign(body, r.cfg.SigningKeyCurrent)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Discovery-Signature", token)
	req.Header.Set("X-Message-ID", msgID)
	req.Header.Set("X-Job-ID", jobID)
	req.Header.Set("X-Retry-Count", strconv.Itoa(attempt))
	req.Header.Set("X-Original-URL", r.cfg.ProcessWebhookURL)

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
