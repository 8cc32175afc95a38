package cards

import (
	"context"
	"slices"
	"sync"

	"github.com/layer-3/bnbvote/connection"
	"github.com/layer-3/bnbvote/core"
)

// MemoryRepository keeps cards in process memory. It has no connection to
// lose, so it always reports itself as connected.
type MemoryRepository struct {
	mu    sync.RWMutex
	cards map[string]*core.Card
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{cards: make(map[string]*core.Card)}
}

func (r *MemoryRepository) List(ctx context.Context, q core.ListQuery) (*core.CardPage, error) {
	r.mu.RLock()
	all := make([]core.Card, 0, len(r.cards))
	for _, c := range r.cards {
		all = append(all, cloneCard(c))
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b core.Card) int {
		return compareCards(&a, &b, q.Sort, q.Order)
	})

	total := int64(len(all))
	start := q.Offset()
	if start < 0 || start > len(all) {
		start = len(all)
	}
	end := min(start+q.Limit, len(all))

	return &core.CardPage{
		Cards:      all[start:end],
		Pagination: core.NewPagination(total, q.Page, q.Limit),
	}, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*core.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cards[id]
	if !ok {
		return nil, core.ErrCardNotFound
	}
	card := cloneCard(c)
	return &card, nil
}

func (r *MemoryRepository) Create(ctx context.Context, card *core.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := cloneCard(card)
	r.cards[card.ID] = &c
	return nil
}

func (r *MemoryRepository) Vote(ctx context.Context, cardID, voter string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cards[cardID]
	if !ok {
		return 0, core.ErrCardNotFound
	}
	if core.NormalizeAddress(c.Creator) == core.NormalizeAddress(voter) {
		return 0, core.ErrOwnCard
	}
	if c.HasVoted(voter) {
		return 0, core.ErrAlreadyVoted
	}
	c.Voters = append(c.Voters, core.NormalizeAddress(voter))
	c.Votes++
	return c.Votes, nil
}

func (r *MemoryRepository) State() connection.State {
	return connection.State{Phase: connection.Connected}
}

// Watch, Reconnect and OnDisconnect are no-ops: there is no connection to lose

func (r *MemoryRepository) Watch(ctx context.Context) {}

func (r *MemoryRepository) Reconnect(cause error) {}

func (r *MemoryRepository) OnDisconnect(fn func(cause error)) {}

func (r *MemoryRepository) Close() error {
	return nil
}

func cloneCard(c *core.Card) core.Card {
	out := *c
	out.Voters = slices.Clone(c.Voters)
	if out.Voters == nil {
		out.Voters = []string{}
	}
	return out
}

// compareCards orders cards by the requested field, newest first on ties
// and finally by ID so pages are stable.
func compareCards(a, b *core.Card, sort core.SortField, order core.SortOrder) int {
	var c int
	switch sort {
	case core.SortByCreatedAt:
		c = a.CreatedAt.Compare(b.CreatedAt)
	default:
		switch {
		case a.Votes < b.Votes:
			c = -1
		case a.Votes > b.Votes:
			c = 1
		}
	}
	if order == core.OrderDesc {
		c = -c
	}
	if c != 0 {
		return c
	}
	if c = b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
