package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/clipshelf/clipshelf/pkg/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

const retryCountHeader = "x-retry-count"

// Relay consumes queue deliveries and performs the signed HTTP callback to
// the worker ingress. Delivery is at-least-once: a callback that fails with
// a server error is republished up to the retry limit, then dead-lettered.
// Business rejections (422) are acknowledged without retry — a missing job
// is a hard rejection.
type Relay struct {
	channel     *amqp.Channel
	queueName   string
	callbackURL string
	maxRetries  int
	httpClient  *http.Client
}

func NewRelay(transport *AMQPTransport, callbackURL string, maxRetries int) (*Relay, error) {
	if callbackURL == "" {
		return nil, fmt.Errorf("callback URL is required")
	}
	channel := transport.Channel()
	if err := channel.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	return &Relay{
		channel:     channel,
		queueName:   transport.QueueName(),
		callbackURL: callbackURL,
		maxRetries:  maxRetries,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
	}, nil
}

// Run consumes until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	deliveries, err := r.channel.Consume(r.queueName, "clipshelf-relay", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", r.queueName, err)
	}

	log.Info("Queue relay consuming from %s, delivering to %s", r.queueName, r.callbackURL)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			r.handle(ctx, delivery)
		}
	}
}

func (r *Relay) handle(ctx context.Context, delivery amqp.Delivery) {
	status, err := r.deliverCallback(ctx, delivery)
	if err == nil && (status < 500) {
		// 2xx success and 4xx business rejections both consume the message.
		if status >= 400 && status != http.StatusUnprocessableEntity {
			log.Warn("Callback rejected delivery with status %d", status)
		}
		_ = delivery.Ack(false)
		return
	}

	attempts := retryCount(delivery)
	if attempts >= r.maxRetries {
		log.Error("Delivery exhausted %d retries, dead-lettering (last status %d, err %v)", attempts, status, err)
		_ = delivery.Nack(false, false)
		return
	}

	if rerr := r.republish(ctx, delivery, attempts+1); rerr != nil {
		log.Error("Failed to republish delivery for retry: %v", rerr)
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

func (r *Relay) deliverCallback(ctx context.Context, delivery amqp.Delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.callbackURL, bytes.NewReader(delivery.Body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token, ok := delivery.Headers[signatureHeader].(string); ok {
		req.Header.Set(signatureHeader, token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (r *Relay) republish(ctx context.Context, delivery amqp.Delivery, attempts int) error {
	headers := amqp.Table{retryCountHeader: int32(attempts)}
	if token, ok := delivery.Headers[signatureHeader]; ok {
		headers[signatureHeader] = token
	}
	return r.channel.PublishWithContext(ctx, "", r.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         delivery.Body,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
	})
}

func retryCount(delivery amqp.Delivery) int {
	switch v := delivery.Headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
