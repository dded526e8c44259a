package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store persists trades and webhook subscriptions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a pool for the given DSN and wraps it in a Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal store: ping: %w", err)
	}
	return NewStore(pool), nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const (
	tradeInsertSQL = `
INSERT INTO trades (
    id,
    account,
    symbol,
    opened_at,
    open_price,
    closed_at,
    close_price,
    quantity,
    created_at
)
VALUES (
    @id,
    @account,
    @symbol,
    @opened_at,
    @open_price,
    @closed_at,
    @close_price,
    @quantity,
    NOW()
)
ON CONFLICT (id) DO NOTHING;
`

	tradeSelectSQL = `
SELECT
    id::text,
    account,
    symbol,
    opened_at,
    open_price::text,
    closed_at,
    close_price::text,
    quantity::text
FROM trades
WHERE account = @account
ORDER BY closed_at DESC
LIMIT @limit;
`

	tradeLastCloseSQL = `
SELECT MAX(closed_at)
FROM trades
WHERE account = @account AND symbol = @symbol;
`

	webhookInsertSQL = `
INSERT INTO webhooks (id, url, expires_at, created_at)
VALUES (@id, @url, @expires_at, NOW());
`

	webhookSelectActiveSQL = `
SELECT id::text, url, expires_at
FROM webhooks
WHERE expires_at > NOW()
ORDER BY created_at;
`

	webhookDeleteExpiredSQL = `
DELETE FROM webhooks WHERE expires_at <= NOW();
`

	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

// InsertTrades stores the given trades, ignoring duplicates by id.
func (s *Store) InsertTrades(ctx context.Context, trades []Trade) error {
	if s.pool == nil {
		return fmt.Errorf("journal store: nil pool")
	}
	for _, trade := range trades {
		id := strings.TrimSpace(trade.ID)
		if id == "" {
			id = uuid.NewString()
		}
		args := pgx.NamedArgs{
			"id":          id,
			"account":     strings.TrimSpace(trade.Account),
			"symbol":      strings.TrimSpace(trade.Symbol),
			"opened_at":   trade.OpenedAt,
			"open_price":  trade.OpenPrice.String(),
			"closed_at":   trade.ClosedAt,
			"close_price": trade.ClosePrice.String(),
			"quantity":    trade.Quantity.String(),
		}
		if _, err := s.pool.Exec(ctx, tradeInsertSQL, args); err != nil {
			return fmt.Errorf("journal store: insert trade: %w", err)
		}
	}
	return nil
}

// ListTrades returns the most recently closed trades for the account.
func (s *Store) ListTrades(ctx context.Context, account string, limit int) ([]Trade, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("journal store: nil pool")
	}
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	if limit > maxTradeLimit {
		limit = maxTradeLimit
	}
	rows, err := s.pool.Query(ctx, tradeSelectSQL, pgx.NamedArgs{
		"account": strings.TrimSpace(account),
		"limit":   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("journal store: list trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var (
			trade      Trade
			openPrice  string
			closePrice string
			quantity   string
		)
		if err := rows.Scan(
			&trade.ID,
			&trade.Account,
			&trade.Symbol,
			&trade.OpenedAt,
			&openPrice,
			&trade.ClosedAt,
			&closePrice,
			&quantity,
		); err != nil {
			return nil, fmt.Errorf("journal store: scan trade: %w", err)
		}
		if trade.OpenPrice, err = decimal.NewFromString(openPrice); err != nil {
			return nil, fmt.Errorf("journal store: parse open price: %w", err)
		}
		if trade.ClosePrice, err = decimal.NewFromString(closePrice); err != nil {
			return nil, fmt.Errorf("journal store: parse close price: %w", err)
		}
		if trade.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("journal store: parse quantity: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal store: iterate trades: %w", err)
	}
	return trades, nil
}

// LastCloseTime returns when the account's newest recorded trade on the symbol
// closed, or the zero time when none exists.
func (s *Store) LastCloseTime(ctx context.Context, account, symbol string) (time.Time, error) {
	if s.pool == nil {
		return time.Time{}, fmt.Errorf("journal store: nil pool")
	}
	var closedAt pgtype.Timestamptz
	err := s.pool.QueryRow(ctx, tradeLastCloseSQL, pgx.NamedArgs{
		"account": strings.TrimSpace(account),
		"symbol":  strings.TrimSpace(symbol),
	}).Scan(&closedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("journal store: last close time: %w", err)
	}
	if !closedAt.Valid {
		return time.Time{}, nil
	}
	return closedAt.Time, nil
}

// AddWebhook registers a subscriber URL with an expiry.
func (s *Store) AddWebhook(ctx context.Context, url string, expiresAt time.Time) (Webhook, error) {
	if s.pool == nil {
		return Webhook{}, fmt.Errorf("journal store: nil pool")
	}
	hook := Webhook{ID: uuid.NewString(), URL: strings.TrimSpace(url), ExpiresAt: expiresAt}
	args := pgx.NamedArgs{
		"id":         hook.ID,
		"url":        hook.URL,
		"expires_at": hook.ExpiresAt,
	}
	if _, err := s.pool.Exec(ctx, webhookInsertSQL, args); err != nil {
		return Webhook{}, fmt.Errorf("journal store: insert webhook: %w", err)
	}
	return hook, nil
}

// ActiveWebhooks returns subscriptions that have not yet expired.
func (s *Store) ActiveWebhooks(ctx context.Context) ([]Webhook, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("journal store: nil pool")
	}
	rows, err := s.pool.Query(ctx, webhookSelectActiveSQL)
	if err != nil {
		return nil, fmt.Errorf("journal store: list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []Webhook
	for rows.Next() {
		var hook Webhook
		if err := rows.Scan(&hook.ID, &hook.URL, &hook.ExpiresAt); err != nil {
			return nil, fmt.Errorf("journal store: scan webhook: %w", err)
		}
		hooks = append(hooks, hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal store: iterate webhooks: %w", err)
	}
	return hooks, nil
}

// PruneExpiredWebhooks deletes lapsed subscriptions and reports how many went.
func (s *Store) PruneExpiredWebhooks(ctx context.Context) (int64, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("journal store: nil pool")
	}
	tag, err := s.pool.Exec(ctx, webhookDeleteExpiredSQL)
	if err != nil {
		return 0, fmt.Errorf("journal store: prune webhooks: %w", err)
	}
	return tag.RowsAffected(), nil
}
