package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/vdjjd/faninteract/pkg/spin"
)

const defaultWorkerNum = 4

// originHeader carries the producing instance's id so consumers can skip
// events their own process already fanned out locally.
const originHeader = "origin-instance"

// Producer publishes spin events to the shared topic so observers attached
// to other instances see attempts resolved here. It implements
// spin.Publisher.
type Producer struct {
	writer     *kafka.Writer
	topic      string
	instanceID string
	logger     zerolog.Logger
	jobs       chan kafka.Message
	wg         sync.WaitGroup
}

// ProducerConfig holds configuration for the Kafka producer
type ProducerConfig struct {
	Brokers []string
	Topic   string
	// InstanceID identifies this process; must match the consumer's
	InstanceID string
	Logger     zerolog.Logger
	WorkerNum  int
}

// NewProducer creates a producer and starts its send workers. Returns nil
// when no brokers are configured; the coordinator treats a nil publisher
// as local-only fan-out.
func NewProducer(config ProducerConfig) *Producer {
	if len(config.Brokers) == 0 {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		Async:        false,
	}

	workerNum := config.WorkerNum
	if workerNum <= 0 {
		workerNum = defaultWorkerNum
	}

	p := &Producer{
		writer:     writer,
		topic:      config.Topic,
		instanceID: config.InstanceID,
		logger:     config.Logger.With().Str("component", "kafka-producer").Logger(),
		jobs:       make(chan kafka.Message, 100),
	}

	for i := 0; i < workerNum; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Publish enqueues a spin event for asynchronous delivery. Messages are
// keyed by wheel id so every event of one wheel lands on one partition and
// stays ordered for its consumers.
func (p *Producer) Publish(_ context.Context, ev spin.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal spin event: %w", err)
	}

	p.jobs <- kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.WheelID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: originHeader, Value: []byte(p.instanceID)},
		},
	}
	return nil
}

func (p *Producer) worker() {
	defer p.wg.Done()
	for msg := range p.jobs {
		func() {
			defer p.recover()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := p.writer.WriteMessages(ctx, msg); err != nil {
				p.logger.Error().
					Err(err).
					Str("topic", msg.Topic).
					Str("key", string(msg.Key)).
					Msg("Failed to send spin event to Kafka")
			} else {
				p.logger.Debug().
					Str("topic", msg.Topic).
					Str("key", string(msg.Key)).
					Msg("Spin event sent to Kafka")
			}
		}()
	}
}

// Close drains the job queue and closes the underlying writer
func (p *Producer) Close() error {
	close(p.jobs)
	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka producer")
		return err
	}
	return nil
}

func (p *Producer) recover() {
	if r := recover(); r != nil {
		stack := debug.Stack()
		p.logger.Error().
			Str("operation", "publish_spin_event").
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack_trace", string(stack)).
			Msg("Panic recovered")
	}
}
