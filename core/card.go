package core

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// DefaultPageLimit is used when a listing does not specify a limit
	DefaultPageLimit = 10

	// MaxPageLimit caps the page size a caller may request
	MaxPageLimit = 100

	// CardsPath is the path card listings are served and cached under
	CardsPath = "/api/cards"

	// MaxPage keeps the page offset within int range for any limit
	MaxPage = math.MaxInt / MaxPageLimit
)

// SortField names a sortable card attribute
type SortField string

const (
	SortByVotes     SortField = "votes"
	SortByCreatedAt SortField = "createdAt"
)

// SortOrder is the direction of a listing
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// CardAttributes are the launch parameters attached to a card. They are
// stored and returned as-is; nothing here acts on them.
type CardAttributes struct {
	Ticker            string          `json:"ticker"`
	DevFeePercentage  decimal.Decimal `json:"devFeePercentage"`
	MaxTicketsPerUser int             `json:"maxTicketsPerUser"`
}

// Card is a community submission that wallets vote on
type Card struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	Creator     string         `json:"creator"`
	Votes       int64          `json:"votes"`
	Voters      []string       `json:"voters"`
	IsTokenized bool           `json:"isTokenized"`
	Attributes  CardAttributes `json:"attributes"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// HasVoted reports whether address already voted for the card.
func (c *Card) HasVoted(address string) bool {
	address = NormalizeAddress(address)
	for _, v := range c.Voters {
		if NormalizeAddress(v) == address {
			return true
		}
	}
	return false
}

// Pagination describes the page returned by a listing
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int64 `json:"pages"`
}

// CardPage is the result of a card listing
type CardPage struct {
	Cards      []Card     `json:"cards"`
	Pagination Pagination `json:"pagination"`
}

// NewPagination computes the page count for total items.
func NewPagination(total int64, page, limit int) Pagination {
	pages := int64(0)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	return Pagination{Total: total, Page: page, Limit: limit, Pages: pages}
}

// ListQuery selects a page of cards
type ListQuery struct {
	Limit int
	Page  int
	Sort  SortField
	Order SortOrder
}

// ParseListQuery reads a listing query from URL values, applying defaults
// and rejecting values outside the supported range.
func ParseListQuery(values url.Values) (ListQuery, error) {
	q := ListQuery{
		Limit: DefaultPageLimit,
		Page:  1,
		Sort:  SortByVotes,
		Order: OrderDesc,
	}

	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > MaxPageLimit {
			return ListQuery{}, &ValidationError{Field: "limit", Reason: "must be between 1 and " + strconv.Itoa(MaxPageLimit)}
		}
		q.Limit = limit
	}
	if v := values.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 || page > MaxPage {
			return ListQuery{}, &ValidationError{Field: "page", Reason: "must be between 1 and " + strconv.Itoa(MaxPage)}
		}
		q.Page = page
	}
	if v := values.Get("sort"); v != "" {
		switch SortField(v) {
		case SortByVotes, SortByCreatedAt:
			q.Sort = SortField(v)
		default:
			return ListQuery{}, &ValidationError{Field: "sort", Reason: "must be votes or createdAt"}
		}
	}
	if v := values.Get("order"); v != "" {
		switch SortOrder(v) {
		case OrderAsc, OrderDesc:
			q.Order = SortOrder(v)
		default:
			return ListQuery{}, &ValidationError{Field: "order", Reason: "must be asc or desc"}
		}
	}
	return q, nil
}

// Offset returns the number of cards skipped before this page.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Values encodes the query back into URL values.
func (q ListQuery) Values() url.Values {
	return url.Values{
		"limit": {strconv.Itoa(q.Limit)},
		"page":  {strconv.Itoa(q.Page)},
		"sort":  {string(q.Sort)},
		"order": {string(q.Order)},
	}
}

// Fingerprint is the cache key of the listing: the path followed by the
// canonical query. Parameters the listing ignores are not part of it.
func (q ListQuery) Fingerprint() string {
	return CardsPath + "?" + q.Values().Encode()
}

// NewCard is the input for creating a card
type NewCard struct {
	Title       string         `json:"title" binding:"required"`
	Description string         `json:"description"`
	ImageURL    string         `json:"imageUrl" binding:"required"`
	Attributes  CardAttributes `json:"attributes"`
}

// VoteResult is returned after a vote has been recorded
type VoteResult struct {
	Success bool   `json:"success"`
	CardID  string `json:"cardId"`
	Votes   int64  `json:"votes"`
}

var tickerPattern = regexp.MustCompile(`^[a-zA-Z0-9]{1,8}$`)

// MaxTitleLength is the longest card title accepted
const MaxTitleLength = 18

// Validate checks a card submission before it is stored.
func (n *NewCard) Validate() error {
	title := strings.TrimSpace(n.Title)
	if title == "" || utf8.RuneCountInString(n.Title) > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: "is required and must be 18 characters or less"}
	}
	if strings.TrimSpace(n.ImageURL) == "" {
		return &ValidationError{Field: "imageUrl", Reason: "is required"}
	}
	if !tickerPattern.MatchString(n.Attributes.Ticker) {
		return &ValidationError{Field: "ticker", Reason: "must be 1-8 letters or numbers"}
	}
	fee := n.Attributes.DevFeePercentage
	if fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
		return &ValidationError{Field: "devFeePercentage", Reason: "must be between 0 and 100"}
	}
	if n.Attributes.MaxTicketsPerUser < 0 {
		return &ValidationError{Field: "maxTicketsPerUser", Reason: "must not be negative"}
	}
	return nil
}
