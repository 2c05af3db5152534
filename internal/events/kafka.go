package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-funding/internal/breakdown"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes funding-succeeded events keyed by campaign, so all
// events of one campaign land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, topic), nil
}

func newKafkaPublisher(writer messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic, now: time.Now}
}

func (p *KafkaPublisher) FundingSucceeded(ctx context.Context, campaignID, transactionID string) error {
	payload, err := json.Marshal(FundingEvent{
		EventID:       uuid.New().String(),
		EventType:     EventFundingSucceeded,
		CampaignID:    campaignID,
		TransactionID: transactionID,
		OccurredAt:    p.now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(campaignID),
		Value: payload,
		Time:  p.now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer delivers funding-succeeded events to the orchestrator at least
// once. An offset is committed only after its event was handled.
type Consumer struct {
	reader  messageReader
	trigger SettlementTrigger
}

func NewConsumer(brokers []string, groupID, topic string, trigger SettlementTrigger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return newConsumer(reader, trigger), nil
}

func newConsumer(reader messageReader, trigger SettlementTrigger) *Consumer {
	return &Consumer{reader: reader, trigger: trigger}
}

// Run consumes until ctx is cancelled or an event fails for a reason that may
// pass on redelivery. That event stays uncommitted and Run returns its error.
func (c *Consumer) Run(ctx context.Context) error {
	logger := log.With().Str("component", "funding_consumer").Logger()
	logger.Info().Msg("starting funding event consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("shutting down funding event consumer")
				return nil
			}
			return fmt.Errorf("fetch funding event: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if !isPermanent(err) {
				logger.Error().
					Err(err).
					Int64("offset", msg.Offset).
					Int("partition", msg.Partition).
					Msg("funding event failed, leaving uncommitted")
				return err
			}
			logger.Warn().
				Err(err).
				Int64("offset", msg.Offset).
				Int("partition", msg.Partition).
				Msg("dropping funding event that cannot be settled")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit funding event: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	event, err := Decode(msg.Value)
	if err != nil {
		return err
	}

	s, err := c.trigger.CreateSettlementIfTargetReached(ctx, event.CampaignID)
	if err != nil {
		return err
	}
	if s != nil {
		log.Info().
			Str("campaign_id", event.CampaignID).
			Str("transaction_id", event.TransactionID).
			Str("settlement_id", s.SettlementID).
			Msg("funding event settled campaign")
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// isPermanent reports errors that redelivery cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, types.ErrCampaignNotFound) ||
		errors.Is(err, types.ErrInvalidShareConfiguration) ||
		errors.Is(err, types.ErrNegativeNetAmount) ||
		errors.Is(err, breakdown.ErrInvalidInput)
}
