package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/layer-3/bnbvote/cache"
	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/ports"
)

const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultCacheTTL     = 60 * time.Second
)

// CardConfig tunes card reads and the listing cache
type CardConfig struct {
	QueryTimeout  time.Duration
	CacheTTL      time.Duration
	CacheCapacity int
}

// CardService serves card listings through a response cache and records
// votes and new cards
type CardService struct {
	repo     ports.CardRepository
	eventPub ports.EventPublisher
	logger   *slog.Logger
	cfg      CardConfig
	now      func() time.Time

	pages *cache.Cache[*core.CardPage]
	group singleflight.Group
}

// NewCardService creates a card service. now may be nil.
func NewCardService(
	repo ports.CardRepository,
	eventPub ports.EventPublisher,
	cfg CardConfig,
	logger *slog.Logger,
	now func() time.Time,
) *CardService {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &CardService{
		repo:     repo,
		eventPub: eventPub,
		logger:   logger,
		cfg:      cfg,
		now:      now,
		pages:    cache.New[*core.CardPage](cfg.CacheCapacity, cache.WithName("cards"), cache.WithClock(now)),
	}
}

// List returns a page of cards. Pages are cached per canonical query for
// CacheTTL, and concurrent misses on the same query share one store read.
// Returned pages are shared and must not be modified.
func (s *CardService) List(ctx context.Context, q core.ListQuery) (*core.CardPage, error) {
	key := q.Fingerprint()
	if page, ok := s.pages.Get(key); ok {
		return page, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		if page, ok := s.pages.Get(key); ok {
			return page, nil
		}
		// Other callers may be waiting on this read, so it must outlive ctx
		var page *core.CardPage
		err := s.withTimeout(context.WithoutCancel(ctx), "list cards", func(ctx context.Context) error {
			var err error
			page, err = s.repo.List(ctx, q)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.pages.Set(key, page, s.cfg.CacheTTL)
		return page, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.CardPage), nil
	case <-ctx.Done():
		return nil, core.ErrCancelled
	}
}

// Get returns a single card, bypassing the cache
func (s *CardService) Get(ctx context.Context, id string) (*core.Card, error) {
	var card *core.Card
	err := s.withTimeout(ctx, "get card", func(ctx context.Context) error {
		var err error
		card, err = s.repo.Get(ctx, id)
		return err
	})
	return card, err
}

// Vote records voter's vote on cardID
func (s *CardService) Vote(ctx context.Context, cardID, voter string) (*core.VoteResult, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return nil, &core.ValidationError{Field: "cardId", Reason: "is required"}
	}

	var votes int64
	err := s.withTimeout(ctx, "vote", func(ctx context.Context) error {
		var err error
		votes, err = s.repo.Vote(ctx, cardID, core.NormalizeAddress(voter))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.changed(ctx, cardID, "vote")
	return &core.VoteResult{Success: true, CardID: cardID, Votes: votes}, nil
}

// Create validates and stores a new card owned by creator
func (s *CardService) Create(ctx context.Context, creator string, in core.NewCard) (*core.Card, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	card := &core.Card{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		ImageURL:    strings.TrimSpace(in.ImageURL),
		Creator:     core.NormalizeAddress(creator),
		Voters:      []string{},
		Attributes:  in.Attributes,
		CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
	}

	err := s.withTimeout(ctx, "create card", func(ctx context.Context) error {
		return s.repo.Create(ctx, card)
	})
	if err != nil {
		return nil, err
	}

	s.changed(ctx, card.ID, "create")
	return card, nil
}

// InvalidateCache drops every cached listing
func (s *CardService) InvalidateCache() {
	s.pages.Purge()
}

func (s *CardService) changed(ctx context.Context, cardID, reason string) {
	s.pages.Purge()
	if err := s.eventPub.PublishCardsChanged(ctx, cardID, reason); err != nil {
		s.logger.Warn("failed to publish cards changed event", "card", cardID, "error", err)
	}
}

// withTimeout runs fn under QueryTimeout and reports an expired deadline
// as a *core.TimeoutError
func (s *CardService) withTimeout(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	err := fn(qctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		s.logger.Warn("store query timed out", "op", op, "after", s.cfg.QueryTimeout)
		return &core.TimeoutError{Op: op, After: s.cfg.QueryTimeout}
	}
	if err != nil && !isDomainError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}

func isDomainError(err error) bool {
	return errors.Is(err, core.ErrCardNotFound) ||
		errors.Is(err, core.ErrAlreadyVoted) ||
		errors.Is(err, core.ErrOwnCard)
}
