package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/daily-engagement/internal/application"
)

// KafkaConfig configures the Kafka notifier.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	QueueSize    int
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaWriteCloser interface {
	Close() error
}

var (
	// ErrQueueFull is returned when the delivery queue cannot accept an event.
	ErrQueueFull = errors.New("notify: kafka queue full")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("notify: kafka notifier stopped")
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// KafkaNotifier publishes events as JSON messages. Delivery happens on a
// background loop started by Start.
type KafkaNotifier struct {
	cfg    KafkaConfig
	log    *slog.Logger
	writer kafkaMessageWriter
	closer kafkaWriteCloser

	queue    chan kafka.Message
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewKafkaNotifier builds a notifier backed by a kafka.Writer.
func NewKafkaNotifier(cfg KafkaConfig, logger *slog.Logger) (*KafkaNotifier, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("notify: kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("notify: at least one kafka broker is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	return newKafkaNotifierWithWriter(cfg, logger, writer, writer), nil
}

func newKafkaNotifierWithWriter(cfg KafkaConfig, logger *slog.Logger, writer kafkaMessageWriter, closer kafkaWriteCloser) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &KafkaNotifier{
		cfg:    cfg,
		log:    logger.With(slog.String("component", "kafka_notifier")),
		writer: writer,
		closer: closer,
		queue:  make(chan kafka.Message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery loop.
func (n *KafkaNotifier) Start() {
	n.wg.Add(1)
	go n.run()
	n.log.Info("kafka_notifier_started", slog.String("topic", n.cfg.Topic))
}

// Stop drains queued messages, waits for the loop and closes the writer.
func (n *KafkaNotifier) Stop(ctx context.Context) error {
	var stopErr error
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.stopped = true
		close(n.done)
		n.mu.Unlock()

		finished := make(chan struct{})
		go func() {
			n.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if n.closer != nil {
			if err := n.closer.Close(); err != nil {
				n.log.Error("kafka_notifier_close_err", slog.Any("err", err))
			}
		}
		n.log.Info("kafka_notifier_stopped")
	})
	return stopErr
}

// Notify encodes event and queues it for delivery. It never blocks.
func (n *KafkaNotifier) Notify(_ context.Context, event application.Event) error {
	value, err := json.Marshal(NewMessage(event))
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	msg := kafka.Message{Key: messageKey(event), Value: value}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return ErrStopped
	}
	select {
	case n.queue <- msg:
		return nil
	default:
		n.log.Warn("kafka_notify_dropped", slog.String("type", string(event.Type)), slog.String("session_id", event.SessionID))
		return ErrQueueFull
	}
}

func (n *KafkaNotifier) run() {
	defer n.wg.Done()
	for {
		select {
		case msg := <-n.queue:
			n.deliver(msg)
		case <-n.done:
			for {
				select {
				case msg := <-n.queue:
					n.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (n *KafkaNotifier) deliver(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.WriteTimeout)
	defer cancel()
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.log.Error("kafka_notify_err", slog.Any("err", err), slog.String("key", string(msg.Key)))
		return
	}
	n.log.Debug("kafka_notify_success", slog.String("key", string(msg.Key)))
}

// messageKey keeps a user's events on one partition and otherwise groups by session.
func messageKey(event application.Event) []byte {
	switch {
	case event.UserID != "":
		return []byte(event.UserID)
	case event.SessionID != "":
		return []byte(event.SessionID)
	case event.ScheduleID != "":
		return []byte(event.ScheduleID)
	default:
		return nil
	}
}
