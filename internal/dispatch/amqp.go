package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/internal/signature"
	amqp "github.com/rabbitmq/amqp091-go"
)

const signatureHeader = "signature"

// AMQPConfig configures the distributed transport.
type AMQPConfig struct {
	URL        string
	QueueName  string
	MaxRetries int
}

// AMQPTransport publishes dispatch payloads to a durable queue with a
// dead-letter companion. Delivery to the worker ingress is at-least-once;
// the relay consumer performs the signed callback.
type AMQPTransport struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	keys      signature.Keys
}

func NewAMQPTransport(config AMQPConfig, keys signature.Keys) (*AMQPTransport, error) {
	if !keys.Configured() {
		return nil, fmt.Errorf("distributed transport requires a signing key")
	}
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a broker channel: %w", err)
	}

	transport := &AMQPTransport{
		conn:      conn,
		channel:   channel,
		queueName: config.QueueName,
		keys:      keys,
	}
	if err := transport.declareQueues(); err != nil {
		_ = transport.Close()
		return nil, err
	}
	return transport, nil
}

func (t *AMQPTransport) declareQueues() error {
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.dlqName(),
	}
	if _, err := t.channel.QueueDeclare(t.queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.queueName, err)
	}
	if _, err := t.channel.QueueDeclare(t.dlqName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", t.dlqName(), err)
	}
	return nil
}

func (t *AMQPTransport) dlqName() string {
	return t.queueName + "_dlq"
}

func (t *AMQPTransport) Mode() string {
	return ModeDistributed
}

// Publish signs the payload body and publishes it persistently.
func (t *AMQPTransport) Publish(ctx context.Context, payload jobs.DispatchPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	token, err := signature.Sign(t.keys, body)
	if err != nil {
		return fmt.Errorf("failed to sign payload: %w", err)
	}

	err = t.channel.PublishWithContext(ctx, "", t.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{signatureHeader: token},
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Channel exposes the broker channel for the relay consumer.
func (t *AMQPTransport) Channel() *amqp.Channel {
	return t.channel
}

// QueueName returns the work queue name.
func (t *AMQPTransport) QueueName() string {
	return t.queueName
}

func (t *AMQPTransport) Close() error {
	if t.channel != nil {
		if err := t.channel.Close(); err != nil {
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}
