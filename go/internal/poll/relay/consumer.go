package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classpoll/go/internal/poll/events"
)

// LocalBroadcaster delivers a relayed event to this instance's own rooms.
type LocalBroadcaster interface {
	BroadcastToPoll(pollID string, e *events.Event)
}

type ConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "POLL_EVENTS",
		ConsumerName:  "poll-gateway",
		SubjectFilter: "poll.events.>",
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Consumer reads relayed events from the stream and hands them to the local
// broadcaster. Events this instance published are skipped by origin, so a
// broadcast never echoes back into the room it came from.
type Consumer struct {
	local    LocalBroadcaster
	origin   string
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   ConsumerConfig
}

func NewConsumer(local LocalBroadcaster, origin string, cfg ConsumerConfig) (*Consumer, error) {
	nc, err := nats.Connect(cfg.URL, natsOptions(cfg.MaxReconnects, cfg.ReconnectWait)...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Consumer{
		local:  local,
		origin: origin,
		nc:     nc,
		js:     js,
		config: cfg,
	}

	if err := c.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return c, nil
}

func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	// Each instance gets its own ephemeral view of the stream; a durable
	// shared consumer would split events between instances instead of
	// delivering to all of them.
	name := fmt.Sprintf("%s-%s", c.config.ConsumerName, c.origin)
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		FilterSubject: c.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.config.MaxDeliver,
		AckWait:       c.config.AckWait,
		MaxAckPending: c.config.MaxAckPending,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	c.consumer = consumer
	return nil
}

// Start consumes relayed events until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().
		Str("stream", c.config.StreamName).
		Str("origin", c.origin).
		Msg("starting relay consumer")

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		if err := c.processMessage(msg); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process relayed event")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error().Err(nakErr).Msg("failed to NAK message")
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Msg("relay consumer shutting down")
	return nil
}

func (c *Consumer) processMessage(msg jetstream.Msg) error {
	var e events.Event
	if err := json.Unmarshal(msg.Data(), &e); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	if e.Origin == c.origin {
		return nil
	}

	c.local.BroadcastToPoll(e.PollID, &e)

	log.Debug().
		Str("event_id", e.ID).
		Str("poll_id", e.PollID).
		Str("event_type", string(e.Type)).
		Str("from_origin", e.Origin).
		Msg("relayed event delivered locally")
	return nil
}

func (c *Consumer) Stop() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}
