package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facegroups/internal/models"
)

type (
	IngestHandler func(ctx context.Context, task models.IngestTask) error
	EventHandler  func(ctx context.Context, ev models.FaceEvent) error
)

// errMalformed marks payloads that will never decode; they are terminated
// instead of redelivered.
var errMalformed = errors.New("malformed message")

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return v, nil
}

func settle(msg jetstream.Msg, err error) {
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, errMalformed):
		_ = msg.Term()
	default:
		_ = msg.Nak()
	}
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeIngest starts consuming ingest tasks from the IMAGES stream.
// workerCount determines how many goroutines process messages concurrently.
func (c *Consumer) ConsumeIngest(ctx context.Context, consumerName string, handler IngestHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, ImagesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ImagesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    5,
		FilterSubject: ImagesSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for ctx.Err() == nil {
			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch ingest tasks error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				task, err := decode[models.IngestTask](msg.Data())
				if err == nil {
					err = handler(ctx, task)
				}
				if err != nil {
					slog.Error("process ingest task error", "worker", workerID, "error", err, "subject", msg.Subject())
				}
				settle(msg, err)
			}
		}(i)
	}

	slog.Info("ingest consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeEvents starts consuming face events (for the API to broadcast via WebSocket).
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: EventsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for ctx.Err() == nil {
			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				ev, err := decode[models.FaceEvent](msg.Data())
				if err == nil {
					err = handler(ctx, ev)
				}
				if err != nil {
					slog.Error("process event error", "error", err)
				}
				settle(msg, err)
			}
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
