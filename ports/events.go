package ports

import "context"

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogout(ctx context.Context, address string, tokenID string) error
	PublishCardsChanged(ctx context.Context, cardID string, reason string) error
}
