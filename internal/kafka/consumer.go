package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cleanquest/progression/internal/config"
	"github.com/cleanquest/progression/internal/domain"
)

// Event types carried on the actions topic
const (
	EventUserRegistered  = "user_registered"
	EventReportSubmitted = "report_submitted"
	EventCleanupVerified = "cleanup_verified"
)

// ActionEvent is one upstream user action to score
type ActionEvent struct {
	EventID    string                 `json:"event_id,omitempty"`
	Type       string                 `json:"type"`
	UserID     string                 `json:"user_id"`
	Username   string                 `json:"username,omitempty"`
	Report     *domain.ReportContext  `json:"report,omitempty"`
	Cleanup    *domain.CleanupContext `json:"cleanup,omitempty"`
	OccurredAt time.Time              `json:"occurred_at,omitempty"`
}

// Validate checks that the event carries what its type needs
func (e ActionEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("missing user_id: %w", domain.ErrInvalidRequest)
	}
	switch e.Type {
	case EventUserRegistered:
		return nil
	case EventReportSubmitted:
		if e.Report == nil {
			return fmt.Errorf("report event without report: %w", domain.ErrInvalidRequest)
		}
		return nil
	case EventCleanupVerified:
		if e.Cleanup == nil {
			return fmt.Errorf("cleanup event without cleanup: %w", domain.ErrInvalidRequest)
		}
		return nil
	}
	return fmt.Errorf("event type %q: %w", e.Type, domain.ErrInvalidAction)
}

// Awarder is the slice of the engine the consumer drives
type Awarder interface {
	RegisterUser(ctx context.Context, userID, username string) (*domain.User, error)
	AwardReportPoints(ctx context.Context, userID string, rc domain.ReportContext) (*domain.AwardResult, error)
	AwardCleanupPoints(ctx context.Context, userID string, cc domain.CleanupContext) (*domain.AwardResult, error)
}

// Dispatch applies one event. An award for an unknown user that carries a
// username registers the user first.
func Dispatch(ctx context.Context, a Awarder, ev ActionEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.Type == EventUserRegistered {
		_, err := a.RegisterUser(ctx, ev.UserID, ev.Username)
		return err
	}

	err := award(ctx, a, ev)
	if errors.Is(err, domain.ErrUserNotFound) && ev.Username != "" {
		if _, regErr := a.RegisterUser(ctx, ev.UserID, ev.Username); regErr != nil {
			return regErr
		}
		err = award(ctx, a, ev)
	}
	return err
}

func award(ctx context.Context, a Awarder, ev ActionEvent) error {
	var err error
	switch ev.Type {
	case EventReportSubmitted:
		_, err = a.AwardReportPoints(ctx, ev.UserID, *ev.Report)
	case EventCleanupVerified:
		_, err = a.AwardCleanupPoints(ctx, ev.UserID, *ev.Cleanup)
	}
	return err
}

// Consumer consumes action events from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	awarder       Awarder
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, awarder Awarder, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		awarder:       awarder,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming and returns once the first session is set up
func (c *Consumer) Start() error {
	c.logger.Info("starting kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// process applies one event, retrying failures that are not caller errors
func (c *Consumer) process(ctx context.Context, ev ActionEvent) {
	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := Dispatch(opCtx, c.awarder, ev)
		cancel()

		if err == nil {
			c.logger.Debug("processed action event", "event_id", ev.EventID, "type", ev.Type, "user_id", ev.UserID)
			return
		}
		if domain.IsInvalid(err) || domain.IsNotFoundError(err) || attempt >= attempts {
			c.logger.Error("dropping action event",
				"event_id", ev.EventID,
				"type", ev.Type,
				"user_id", ev.UserID,
				"attempts", attempt,
				"error", err,
			)
			return
		}

		c.logger.Warn("action event failed, retrying", "event_id", ev.EventID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.RetryDelay):
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim buffers events and applies them in order, marking offsets
// only after the buffered batch has been applied
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger

	batch := make([]ActionEvent, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		for _, ev := range batch {
			h.consumer.process(h.consumer.ctx, ev)
		}
		if len(batch) > 0 {
			logger.Debug("processed batch", "batch_size", len(batch))
		}
		batch = batch[:0]
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
	}

	for {
		select {
		case <-session.Context().Done():
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			last = message

			var ev ActionEvent
			if err := json.Unmarshal(message.Value, &ev); err != nil {
				logger.Warn("failed to unmarshal action event",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}
			if err := ev.Validate(); err != nil {
				logger.Warn("invalid action event",
					"error", err,
					"type", ev.Type,
					"user_id", ev.UserID,
					"offset", message.Offset,
				)
				continue
			}

			batch = append(batch, ev)
			if len(batch) >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
