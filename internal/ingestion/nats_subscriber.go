package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// events into the ingestion shell via eventChan. JetStream is the
// primary high-throughput ingestion surface; each event type gets its
// own subject and durable consumer.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is the received-but-untyped message from NATS, ready for the
// shell to parse into a typed event.Event before handing to the core.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the core has accepted the event
	NakFunc   func() // NAK on failure, message will be redelivered
}

// SubjectConfig maps a NATS subject to an event type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Event
// type names match event.EventType.String().
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		// External feeds
		{Subject: "cred.feeds.price.>", EventType: "PriceFeedUpdated", ConsumerName: "ledger-feed-price", StreamName: "CRED_FEEDS"},
		{Subject: "cred.feeds.rate.>", EventType: "ExchangeRateUpdated", ConsumerName: "ledger-feed-rate", StreamName: "CRED_FEEDS"},

		// Savings custody
		{Subject: "cred.savings.deposit", EventType: "SavingsDeposited", ConsumerName: "ledger-savings-deposit", StreamName: "CRED_SAVINGS"},
		{Subject: "cred.savings.withdraw", EventType: "SavingsWithdrawn", ConsumerName: "ledger-savings-withdraw", StreamName: "CRED_SAVINGS"},

		// Credit lines
		{Subject: "cred.line.request", EventType: "CreditLineRequested", ConsumerName: "ledger-line-request", StreamName: "CRED_LINE"},
		{Subject: "cred.line.accept", EventType: "CreditLineAccepted", ConsumerName: "ledger-line-accept", StreamName: "CRED_LINE"},
		{Subject: "cred.line.collateral.deposit", EventType: "CollateralDeposited", ConsumerName: "ledger-line-coll-deposit", StreamName: "CRED_LINE"},
		{Subject: "cred.line.borrow", EventType: "CreditLineBorrowed", ConsumerName: "ledger-line-borrow", StreamName: "CRED_LINE"},
		{Subject: "cred.line.repay", EventType: "CreditLineRepaid", ConsumerName: "ledger-line-repay", StreamName: "CRED_LINE"},
		{Subject: "cred.line.collateral.withdraw", EventType: "CollateralWithdrawn", ConsumerName: "ledger-line-coll-withdraw", StreamName: "CRED_LINE"},
		{Subject: "cred.line.close", EventType: "CreditLineClosed", ConsumerName: "ledger-line-close", StreamName: "CRED_LINE"},
		{Subject: "cred.line.liquidate", EventType: "CreditLineLiquidated", ConsumerName: "ledger-line-liquidate", StreamName: "CRED_LINE"},

		// Borrow pools
		{Subject: "cred.pool.create", EventType: "PoolCreated", ConsumerName: "ledger-pool-create", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.lend", EventType: "LiquiditySupplied", ConsumerName: "ledger-pool-lend", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.withdraw.borrowed", EventType: "BorrowedAmountWithdrawn", ConsumerName: "ledger-pool-wd-borrowed", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.withdraw.liquidity", EventType: "LiquidityWithdrawn", ConsumerName: "ledger-pool-wd-liquidity", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.cancel", EventType: "PoolCancelled", ConsumerName: "ledger-pool-cancel", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.terminate", EventType: "PoolTerminated", ConsumerName: "ledger-pool-terminate", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.repay", EventType: "PoolRepaid", ConsumerName: "ledger-pool-repay", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.margincall.request", EventType: "MarginCallRequested", ConsumerName: "ledger-pool-mc-request", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.margincall.answer", EventType: "MarginCallAnswered", ConsumerName: "ledger-pool-mc-answer", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.extension.request", EventType: "ExtensionRequested", ConsumerName: "ledger-pool-ext-request", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.extension.vote", EventType: "ExtensionVoted", ConsumerName: "ledger-pool-ext-vote", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.liquidate.lender", EventType: "LenderLiquidated", ConsumerName: "ledger-pool-liq-lender", StreamName: "CRED_POOL"},
		{Subject: "cred.pool.liquidate.pool", EventType: "PoolLiquidated", ConsumerName: "ledger-pool-liq-pool", StreamName: "CRED_POOL"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "CRED_FEEDS",
			Subjects:  []string{"cred.feeds.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "CRED_SAVINGS",
			Subjects:  []string{"cred.savings.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "CRED_LINE",
			Subjects:  []string{"cred.line.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "CRED_POOL",
			Subjects:  []string{"cred.pool.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
