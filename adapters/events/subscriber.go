package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"
)

// Handlers are invoked for each received event. Nil handlers are skipped.
type Handlers struct {
	CardsChanged func(ctx context.Context, event CardsChangedEvent)
	Logout       func(ctx context.Context, event LogoutEvent)
}

// Listen consumes both topics until ctx is done or the subscriber is closed.
// Every message is acked, including ones that fail to decode, since
// redelivering a malformed event cannot succeed.
func Listen(ctx context.Context, sub message.Subscriber, h Handlers, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	g, ctx := errgroup.WithContext(ctx)
	if h.CardsChanged != nil {
		msgs, err := sub.Subscribe(ctx, TopicCardsChanged)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", TopicCardsChanged, err)
		}
		g.Go(func() error {
			consume(ctx, msgs, logger, h.CardsChanged)
			return nil
		})
	}
	if h.Logout != nil {
		msgs, err := sub.Subscribe(ctx, TopicLogout)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", TopicLogout, err)
		}
		g.Go(func() error {
			consume(ctx, msgs, logger, h.Logout)
			return nil
		})
	}

	return g.Wait()
}

func consume[E any](ctx context.Context, msgs <-chan *message.Message, logger *slog.Logger, fn func(context.Context, E)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event E
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logger.Warn("dropping malformed event", "uuid", msg.UUID, "error", err)
			} else {
				fn(ctx, event)
			}
			msg.Ack()
		}
	}
}
