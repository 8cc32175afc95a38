package cards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/layer-3/bnbvote/connection"
	"github.com/layer-3/bnbvote/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    creator TEXT NOT NULL,
    votes INTEGER NOT NULL DEFAULT 0,
    is_tokenized INTEGER NOT NULL DEFAULT 0,
    ticker TEXT NOT NULL DEFAULT '',
    dev_fee_percentage TEXT NOT NULL DEFAULT '0',
    max_tickets_per_user INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cards_votes ON cards(votes);
CREATE INDEX IF NOT EXISTS idx_cards_created_at ON cards(created_at);

CREATE TABLE IF NOT EXISTS card_votes (
    card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
    voter TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (card_id, voter)
);
`

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const cardColumns = `id, title, description, image_url, creator, votes, is_tokenized, ticker, dev_fee_percentage, max_tickets_per_user, created_at`

// SQLiteRepository stores cards in a SQLite database
type SQLiteRepository struct {
	m *connection.Manager[*sql.DB]
}

// NewSQLiteRepository creates a repository on top of a managed database
func NewSQLiteRepository(m *connection.Manager[*sql.DB]) *SQLiteRepository {
	return &SQLiteRepository{m: m}
}

func (r *SQLiteRepository) List(ctx context.Context, q core.ListQuery) (*core.CardPage, error) {
	db, err := r.m.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&total); err != nil {
		return nil, classify(r.m, db, "count cards", err)
	}

	column := "votes"
	if q.Sort == core.SortByCreatedAt {
		column = "created_at"
	}
	direction := "DESC"
	if q.Order == core.OrderAsc {
		direction = "ASC"
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards ORDER BY `+column+` `+direction+`, created_at DESC, id ASC LIMIT ? OFFSET ?`,
		q.Limit, q.Offset(),
	)
	if err != nil {
		return nil, classify(r.m, db, "list cards", err)
	}
	cards := make([]core.Card, 0, q.Limit)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			rows.Close()
			return nil, classify(r.m, db, "scan card", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, classify(r.m, db, "list cards", err)
	}
	rows.Close()

	if err := r.loadVoters(ctx, db, cards); err != nil {
		return nil, err
	}

	return &core.CardPage{
		Cards:      cards,
		Pagination: core.NewPagination(total, q.Page, q.Limit),
	}, nil
}

func (r *SQLiteRepository) loadVoters(ctx context.Context, db *sql.DB, cards []core.Card) error {
	if len(cards) == 0 {
		return nil
	}

	index := make(map[string]int, len(cards))
	args := make([]any, len(cards))
	for i := range cards {
		index[cards[i].ID] = i
		args[i] = cards[i].ID
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cards)), ",")

	rows, err := db.QueryContext(ctx,
		`SELECT card_id, voter FROM card_votes WHERE card_id IN (`+placeholders+`) ORDER BY created_at, voter`,
		args...,
	)
	if err != nil {
		return classify(r.m, db, "list voters", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cardID, voter string
		if err := rows.Scan(&cardID, &voter); err != nil {
			return classify(r.m, db, "scan voter", err)
		}
		if i, ok := index[cardID]; ok {
			cards[i].Voters = append(cards[i].Voters, voter)
		}
	}
	return classify(r.m, db, "list voters", rows.Err())
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*core.Card, error) {
	db, err := r.m.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	card, err := scanCard(db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrCardNotFound
	}
	if err != nil {
		return nil, classify(r.m, db, "get card", err)
	}

	cards := []core.Card{*card}
	if err := r.loadVoters(ctx, db, cards); err != nil {
		return nil, err
	}
	return &cards[0], nil
}

func (r *SQLiteRepository) Create(ctx context.Context, card *core.Card) error {
	db, err := r.m.Acquire(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.Title, card.Description, card.ImageURL, card.Creator, card.Votes,
		card.IsTokenized, card.Attributes.Ticker, card.Attributes.DevFeePercentage.String(),
		card.Attributes.MaxTicketsPerUser, card.CreatedAt.UTC().UnixMilli(),
	)
	return classify(r.m, db, "create card", err)
}

func (r *SQLiteRepository) Vote(ctx context.Context, cardID, voter string) (int64, error) {
	db, err := r.m.Acquire(ctx)
	if err != nil {
		return 0, err
	}

	votes, err := r.vote(ctx, db, cardID, core.NormalizeAddress(voter))
	switch {
	case err == nil:
		return votes, nil
	case errors.Is(err, core.ErrCardNotFound), errors.Is(err, core.ErrOwnCard), errors.Is(err, core.ErrAlreadyVoted):
		return 0, err
	default:
		return 0, classify(r.m, db, "vote", err)
	}
}

func (r *SQLiteRepository) vote(ctx context.Context, db *sql.DB, cardID, voter string) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var creator string
	err = tx.QueryRowContext(ctx, `SELECT creator FROM cards WHERE id = ?`, cardID).Scan(&creator)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrCardNotFound
	}
	if err != nil {
		return 0, err
	}
	if core.NormalizeAddress(creator) == voter {
		return 0, core.ErrOwnCard
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO card_votes (card_id, voter, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		cardID, voter, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, core.ErrAlreadyVoted
	}

	var votes int64
	if err := tx.QueryRowContext(ctx, `UPDATE cards SET votes = votes + 1 WHERE id = ? RETURNING votes`, cardID).Scan(&votes); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return votes, nil
}

func (r *SQLiteRepository) State() connection.State {
	return r.m.State()
}

func (r *SQLiteRepository) Watch(ctx context.Context) {
	r.m.Watch(ctx, func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	})
}

func (r *SQLiteRepository) Reconnect(cause error) {
	r.m.Invalidate(cause)
}

func (r *SQLiteRepository) OnDisconnect(fn func(cause error)) {
	r.m.OnInvalidate(fn)
}

func (r *SQLiteRepository) Close() error {
	return r.m.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*core.Card, error) {
	var (
		card      core.Card
		fee       string
		createdAt int64
	)
	err := row.Scan(
		&card.ID, &card.Title, &card.Description, &card.ImageURL, &card.Creator, &card.Votes,
		&card.IsTokenized, &card.Attributes.Ticker, &fee, &card.Attributes.MaxTicketsPerUser, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	card.Attributes.DevFeePercentage, err = decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("card %s has malformed dev fee %q: %w", card.ID, fee, err)
	}
	card.CreatedAt = time.UnixMilli(createdAt).UTC()
	card.Voters = []string{}
	return &card, nil
}
