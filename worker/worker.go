// Package worker feeds a board from an Ably queue instead of a realtime subscription. Ably
// forwards room channel traffic to the queue, which is consumed over AMQP.
package worker

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"hxann.com/shared-clock/shared"
)

// Handler receives every decoded message along with the room it was published in.
type Handler func(roomCode string, msg shared.Message)

type Worker struct {
	url     string
	queue   string
	handler Handler
	log     zerolog.Logger
}

// QueueURL builds the AMQP URL of an Ably queue endpoint. The API key doubles as credentials.
func QueueURL(apiKey, host string) string {
	return fmt.Sprintf("amqps://%s@%s/shared", apiKey, host)
}

func New(url, queue string, h Handler, logger zerolog.Logger) *Worker {
	return &Worker{
		url:     url,
		queue:   queue,
		handler: h,
		log:     logger.With().Str("queue", queue).Logger(),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	conn, err := amqp.Dial(w.url)
	if err != nil {
		return fmt.Errorf("error connecting to queue: %w", err)
	}
	defer conn.Close()
	w.log.Info().Msg("Connected to Ably queue")

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	msgs, err := ch.Consume(
		w.queue, // queue
		"",      // consumer
		true,    // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume messages: %w", err)
	}
	w.log.Info().Msg("Listening for messages on queue")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping queue worker")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("queue delivery channel closed")
			}
			w.handle(d.Body)
		}
	}
}
