package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/bnbvote/connection"
	"github.com/layer-3/bnbvote/core"
)

// voteScript records a vote atomically.
// KEYS: card hash, voters set, votes index. ARGV: voter, card id.
// Returns the new vote count, or 0 already voted, -1 unknown card, -2 own card.
var voteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'creator') == ARGV[1] then
  return -2
end
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
local votes = redis.call('HINCRBY', KEYS[1], 'votes', 1)
redis.call('ZADD', KEYS[3], votes, ARGV[2])
return votes
`)

// RedisRepository stores each card as a hash, its voters as a set and keeps
// two sorted indexes, one per sortable field
type RedisRepository struct {
	m      *connection.Manager[*redis.Client]
	prefix string
}

// NewRedisRepository creates a repository whose keys start with prefix
func NewRedisRepository(m *connection.Manager[*redis.Client], prefix string) *RedisRepository {
	return &RedisRepository{m: m, prefix: prefix}
}

func (r *RedisRepository) cardKey(id string) string {
	return r.prefix + "card:" + id
}

func (r *RedisRepository) votersKey(id string) string {
	return r.prefix + "card:" + id + ":voters"
}

func (r *RedisRepository) indexKey(field core.SortField) string {
	return r.prefix + "cards:by:" + string(field)
}

func (r *RedisRepository) List(ctx context.Context, q core.ListQuery) (*core.CardPage, error) {
	client, err := r.m.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	index := r.indexKey(q.Sort)
	total, err := client.ZCard(ctx, index).Result()
	if err != nil {
		return nil, classify(r.m, client, "count cards", err)
	}

	start := int64(q.Offset())
	stop := start + int64(q.Limit) - 1
	var ids []string
	if q.Order == core.OrderAsc {
		ids, err = client.ZRange(ctx, index, start, stop).Result()
	} else {
		ids, err = client.ZRevRange(ctx, index, start, stop).Result()
	}
	if err != nil {
		return nil, classify(r.m, client, "list cards", err)
	}

	cards, err := r.load(ctx, client, ids)
	if err != nil {
		return nil, err
	}

	return &core.CardPage{
		Cards:      cards,
		Pagination: core.NewPagination(total, q.Page, q.Limit),
	}, nil
}

// load fetches the cards with the given ids in one round trip. Ids whose
// hash has disappeared are skipped.
func (r *RedisRepository) load(ctx context.Context, client *redis.Client, ids []string) ([]core.Card, error) {
	if len(ids) == 0 {
		return []core.Card{}, nil
	}

	hashes := make([]*redis.MapStringStringCmd, len(ids))
	voters := make([]*redis.StringSliceCmd, len(ids))
	_, err := client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			hashes[i] = p.HGetAll(ctx, r.cardKey(id))
			voters[i] = p.SMembers(ctx, r.votersKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, classify(r.m, client, "load cards", err)
	}

	cards := make([]core.Card, 0, len(ids))
	for i := range ids {
		fields := hashes[i].Val()
		if len(fields) == 0 {
			continue
		}
		card, err := decodeCard(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrStoreOperation, err)
		}
		card.Voters = voters[i].Val()
		if card.Voters == nil {
			card.Voters = []string{}
		}
		cards = append(cards, *card)
	}
	return cards, nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*core.Card, error) {
	client, err := r.m.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	cards, err := r.load(ctx, client, []string{id})
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, core.ErrCardNotFound
	}
	return &cards[0], nil
}

func (r *RedisRepository) Create(ctx context.Context, card *core.Card) error {
	client, err := r.m.Acquire(ctx)
	if err != nil {
		return err
	}

	fields, err := encodeCard(card)
	if err != nil {
		return err
	}

	_, err = client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.cardKey(card.ID), fields)
		if len(card.Voters) > 0 {
			members := make([]any, len(card.Voters))
			for i, v := range card.Voters {
				members[i] = core.NormalizeAddress(v)
			}
			p.SAdd(ctx, r.votersKey(card.ID), members...)
		}
		p.ZAdd(ctx, r.indexKey(core.SortByVotes), redis.Z{Score: float64(card.Votes), Member: card.ID})
		p.ZAdd(ctx, r.indexKey(core.SortByCreatedAt), redis.Z{Score: float64(card.CreatedAt.UnixMilli()), Member: card.ID})
		return nil
	})
	return classify(r.m, client, "create card", err)
}

func (r *RedisRepository) Vote(ctx context.Context, cardID, voter string) (int64, error) {
	client, err := r.m.Acquire(ctx)
	if err != nil {
		return 0, err
	}

	keys := []string{r.cardKey(cardID), r.votersKey(cardID), r.indexKey(core.SortByVotes)}
	res, err := voteScript.Run(ctx, client, keys, core.NormalizeAddress(voter), cardID).Int64()
	if err != nil {
		return 0, classify(r.m, client, "vote", err)
	}

	switch {
	case res == -1:
		return 0, core.ErrCardNotFound
	case res == -2:
		return 0, core.ErrOwnCard
	case res == 0:
		return 0, core.ErrAlreadyVoted
	}
	return res, nil
}

func (r *RedisRepository) State() connection.State {
	return r.m.State()
}

func (r *RedisRepository) Watch(ctx context.Context) {
	r.m.Watch(ctx, func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	})
}

func (r *RedisRepository) Reconnect(cause error) {
	r.m.Invalidate(cause)
}

func (r *RedisRepository) OnDisconnect(fn func(cause error)) {
	r.m.OnInvalidate(fn)
}

func (r *RedisRepository) Close() error {
	return r.m.Close()
}

func encodeCard(card *core.Card) (map[string]any, error) {
	attrs, err := json.Marshal(card.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal card attributes: %w", err)
	}
	return map[string]any{
		"id":          card.ID,
		"title":       card.Title,
		"description": card.Description,
		"imageUrl":    card.ImageURL,
		"creator":     core.NormalizeAddress(card.Creator),
		"votes":       card.Votes,
		"isTokenized": strconv.FormatBool(card.IsTokenized),
		"attributes":  string(attrs),
		"createdAt":   card.CreatedAt.UTC().UnixMilli(),
	}, nil
}

func decodeCard(fields map[string]string) (*core.Card, error) {
	card := &core.Card{
		ID:          fields["id"],
		Title:       fields["title"],
		Description: fields["description"],
		ImageURL:    fields["imageUrl"],
		Creator:     fields["creator"],
	}

	var err error
	if card.Votes, err = strconv.ParseInt(fields["votes"], 10, 64); err != nil {
		return nil, fmt.Errorf("card %s: votes: %w", card.ID, err)
	}
	if card.IsTokenized, err = strconv.ParseBool(fields["isTokenized"]); err != nil {
		return nil, fmt.Errorf("card %s: isTokenized: %w", card.ID, err)
	}
	createdAt, err := strconv.ParseInt(fields["createdAt"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("card %s: createdAt: %w", card.ID, err)
	}
	card.CreatedAt = time.UnixMilli(createdAt).UTC()
	if raw := fields["attributes"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &card.Attributes); err != nil {
			return nil, fmt.Errorf("card %s: attributes: %w", card.ID, err)
		}
	}
	if card.ID == "" {
		return nil, errors.New("card hash has no id")
	}
	return card, nil
}
