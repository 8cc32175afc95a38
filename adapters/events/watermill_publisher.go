package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/layer-3/bnbvote/ports"
)

const (
	TopicLogout       = "bnbvote.auth.logout"
	TopicCardsChanged = "bnbvote.cards.changed"
)

// LogoutEvent is published when a session is revoked
type LogoutEvent struct {
	Address string `json:"address"`
	TokenID string `json:"token_id"`
}

// CardsChangedEvent is published after a card is created or voted on, so
// every instance drops its cached listings
type CardsChangedEvent struct {
	CardID string `json:"card_id"`
	Reason string `json:"reason"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, tokenID string) error {
	return p.publish(ctx, TopicLogout, tokenID, LogoutEvent{
		Address: address,
		TokenID: tokenID,
	})
}

// PublishCardsChanged publishes a cards-changed event
func (p *WatermillPublisher) PublishCardsChanged(ctx context.Context, cardID string, reason string) error {
	return p.publish(ctx, TopicCardsChanged, uuid.New().String(), CardsChangedEvent{
		CardID: cardID,
		Reason: reason,
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}

	return nil
}
