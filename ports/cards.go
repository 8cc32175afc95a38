package ports

import (
	"context"

	"github.com/layer-3/bnbvote/core"
)

// CardRepository is the backing store for cards and their votes
type CardRepository interface {
	List(ctx context.Context, query core.ListQuery) (*core.CardPage, error)
	Get(ctx context.Context, id string) (*core.Card, error)
	Create(ctx context.Context, card *core.Card) error

	// Vote records voter's vote on the card and returns the new total.
	// It fails with core.ErrAlreadyVoted, core.ErrOwnCard or
	// core.ErrCardNotFound without changing the count.
	Vote(ctx context.Context, cardID, voter string) (int64, error)
}
