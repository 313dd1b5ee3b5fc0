package kamo

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes the summary to a durable queue. Failure alerts are
// rare, so a connection per alert is acceptable and keeps no broker state
// between cycles.
type AMQPNotifier struct {
	url     string
	queue   string
	timeout time.Duration
}

func NewAMQPNotifier(url, queue string, timeout time.Duration) *AMQPNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AMQPNotifier{url: url, queue: queue, timeout: timeout}
}

func (n *AMQPNotifier) NotifyImportFailure(run *ImportRun, areas []AreaResult) error {
	body, err := json.Marshal(buildImportAlert(run, areas))
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(n.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	return ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}
