package events

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// Bus bundles a publisher and a subscriber sharing one transport
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close shuts down both sides of the bus
func (b *Bus) Close() error {
	pubErr := b.Publisher.Close()
	subErr := b.Subscriber.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

// NewInMemoryBus returns a process-local bus
func NewInMemoryBus(logger *slog.Logger) *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewSlogLogger(logger))
	return &Bus{Publisher: ch, Subscriber: ch}
}

// NewRedisBus returns a bus backed by Redis streams. Subscribers use no
// consumer group, so every instance receives every event.
func NewRedisBus(client redis.UniversalClient, logger *slog.Logger) (*Bus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client:        client,
			DefaultMaxlen: 10_000,
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client: client,
		},
		wmLogger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}

	return &Bus{Publisher: publisher, Subscriber: subscriber}, nil
}
