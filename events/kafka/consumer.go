package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/vdjjd/faninteract/pkg/spin"
)

// EventHandler receives spin events published by other instances
type EventHandler func(ev spin.Event)

// Consumer bridges the shared topic into this instance: spin events
// resolved elsewhere are handed to the coordinator so local walls and
// dashboards animate them too.
type Consumer struct {
	reader     *kafka.Reader
	handler    EventHandler
	instanceID string
	logger     zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// InstanceID must match the producer's so self-published events are
	// skipped instead of delivered twice
	InstanceID string
	Logger     zerolog.Logger
}

// NewConsumer creates the bridge consumer. Returns nil when no brokers are
// configured.
func NewConsumer(config ConsumerConfig, handler EventHandler) *Consumer {
	if len(config.Brokers) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	return &Consumer{
		reader:     reader,
		handler:    handler,
		instanceID: config.InstanceID,
		logger:     config.Logger.With().Str("component", "kafka-consumer").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins consuming messages
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	c.logger.Info().Msg("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info().Msg("Stopping Kafka consumer...")
	c.cancel()
	c.wg.Wait()

	if err := c.reader.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Error closing Kafka reader")
		return err
	}

	c.logger.Info().Msg("Kafka consumer stopped")
	return nil
}

func (c *Consumer) consume() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			msg, err := c.reader.FetchMessage(c.ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				c.logger.Error().Err(err).Msg("Error fetching message from Kafka")
				time.Sleep(time.Second)
				continue
			}

			if err := c.handleMessage(msg); err != nil {
				c.logger.Error().
					Err(err).
					Str("topic", msg.Topic).
					Int("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("Error handling message")
			}

			if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
				c.logger.Error().Err(err).Msg("Error committing message")
			}
		}
	}
}

func (c *Consumer) handleMessage(msg kafka.Message) error {
	// The producing instance already fanned this event out locally.
	for _, h := range msg.Headers {
		if h.Key == originHeader && string(h.Value) == c.instanceID {
			return nil
		}
	}

	var ev spin.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return err
	}

	c.logger.Debug().
		Str("wheel_id", ev.WheelID).
		Str("attempt_id", ev.AttemptID).
		Str("type", string(ev.Type)).
		Msg("Remote spin event received")

	c.handler(ev)
	return nil
}
