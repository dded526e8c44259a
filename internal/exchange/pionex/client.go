// Package pionex implements the exchange adapter for the Pionex spot API.
package pionex

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/tradeflow/errs"
	"github.com/coachpo/tradeflow/internal/exchange"
	"github.com/coachpo/tradeflow/internal/schema"
)

const (
	// VenueName identifies this adapter in configuration and error envelopes.
	VenueName = "pionex"

	defaultBaseURL   = "https://api.pionex.com"
	defaultStreamURL = "wss://ws.pionex.com/wsPub"
	defaultTimeout   = 10 * time.Second

	// Pionex allows 10 REST requests per second per IP on public endpoints;
	// trading endpoints are stricter, so the shared limiter stays conservative.
	defaultRequestsPerSecond = 8
)

// Config carries the adapter's credentials and transport settings.
type Config struct {
	APIKey    string
	APISecret string

	// BaseURL overrides the production REST endpoint. Used by tests.
	BaseURL string
	// StreamURL overrides the production websocket endpoint.
	StreamURL string
	// Timeout bounds each REST request. Defaults to 10s.
	Timeout time.Duration
	// RequestsPerSecond tunes the client-side rate limiter.
	RequestsPerSecond float64

	HTTPClient *http.Client
}

// Client talks to the Pionex REST API. Precision metadata is served from the
// injected cache so accounts sharing the venue load it once.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	streamURL string

	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *exchange.MetadataCache
	clock      func() time.Time

	meta map[string]exchange.MarketMeta
}

// New constructs a Pionex client backed by the shared metadata cache.
func New(cfg Config, cache *exchange.MetadataCache) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	streamURL := cfg.StreamURL
	if streamURL == "" {
		streamURL = defaultStreamURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	if cache == nil {
		cache = exchange.NewMetadataCache()
	}
	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		baseURL:    baseURL,
		streamURL:  streamURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		cache:      cache,
		clock:      time.Now,
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return VenueName }

// HasCredentials reports whether an API key is configured.
func (c *Client) HasCredentials() bool { return c.apiKey != "" }

// LoadMarkets fetches symbol precision metadata through the shared cache.
func (c *Client) LoadMarkets(ctx context.Context) error {
	meta, err := c.cache.Load(ctx, VenueName, c.fetchSymbols)
	if err != nil {
		return err
	}
	c.meta = meta
	return nil
}

// FetchTickers returns the last trade price for each requested symbol.
// Symbols absent from the venue response are omitted from the result.
func (c *Client) FetchTickers(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	var payload tickersResponse
	if err := c.get(ctx, "/api/v1/market/tickers", nil, &payload); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		wanted[symbol] = struct{}{}
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, ticker := range payload.Data.Tickers {
		symbol := symbolFromVenue(ticker.Symbol)
		if _, ok := wanted[symbol]; !ok {
			continue
		}
		price, err := decimal.NewFromString(ticker.Close)
		if err != nil {
			return nil, errs.New(VenueName, errs.CodeExchange,
				errs.WithMessage("bad ticker price for "+ticker.Symbol), errs.WithCause(err))
		}
		out[symbol] = price
	}
	return out, nil
}

// FetchTicker returns the last trade price for a single symbol.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := c.FetchTickers(ctx, []string{symbol})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[symbol]
	if !ok {
		return decimal.Zero, errs.New(VenueName, errs.CodeNotFound,
			errs.WithMessage("no ticker for "+symbol))
	}
	return price, nil
}

// FetchBalance returns total per-asset quantities, free plus frozen.
func (c *Client) FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	var payload balancesResponse
	if err := c.getSigned(ctx, "/api/v1/account/balances", nil, &payload); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(payload.Data.Balances))
	for _, entry := range payload.Data.Balances {
		asset := strings.ToUpper(strings.TrimSpace(entry.Coin))
		if asset == "" {
			continue
		}
		free, err := decimal.NewFromString(entry.Free)
		if err != nil {
			return nil, errs.New(VenueName, errs.CodeExchange,
				errs.WithMessage("bad balance for "+asset), errs.WithCause(err))
		}
		frozen := decimal.Zero
		if strings.TrimSpace(entry.Frozen) != "" {
			if frozen, err = decimal.NewFromString(entry.Frozen); err != nil {
				return nil, errs.New(VenueName, errs.CodeExchange,
					errs.WithMessage("bad frozen balance for "+asset), errs.WithCause(err))
			}
		}
		out[asset] = free.Add(frozen)
	}
	return out, nil
}

// CreateMarketBuyOrderWithCost submits a market buy sized by quote amount.
func (c *Client) CreateMarketBuyOrderWithCost(ctx context.Context, symbol string, cost decimal.Decimal) (*schema.Order, error) {
	if !cost.IsPositive() {
		return nil, errs.New(VenueName, errs.CodeInvalid,
			errs.WithMessage("buy cost must be positive for "+symbol))
	}
	req := orderRequest{
		Symbol: symbolToVenue(symbol),
		Side:   "BUY",
		Type:   "MARKET",
		Amount: c.PriceToPrecision(symbol, cost).String(),
	}
	return c.submitOrder(ctx, symbol, schema.SideBuy, req)
}

// CreateMarketSellOrder submits a market sell sized by base quantity.
func (c *Client) CreateMarketSellOrder(ctx context.Context, symbol string, qty decimal.Decimal) (*schema.Order, error) {
	if !qty.IsPositive() {
		return nil, errs.New(VenueName, errs.CodeInvalid,
			errs.WithMessage("sell qty must be positive for "+symbol))
	}
	req := orderRequest{
		Symbol: symbolToVenue(symbol),
		Side:   "SELL",
		Type:   "MARKET",
		Size:   c.AmountToPrecision(symbol, qty).String(),
	}
	return c.submitOrder(ctx, symbol, schema.SideSell, req)
}

func (c *Client) submitOrder(ctx context.Context, symbol string, side schema.OrderSide, req orderRequest) (*schema.Order, error) {
	var payload orderResponse
	if err := c.postSigned(ctx, "/api/v1/trade/order", req, &payload); err != nil {
		return nil, err
	}
	return &schema.Order{
		ID:        strconv.FormatInt(payload.Data.OrderID, 10),
		ClientID:  payload.Data.ClientOrderID,
		Symbol:    symbol,
		Side:      side,
		Status:    "open",
		Timestamp: c.clock().UTC(),
	}, nil
}

// FetchClosedOrders lists filled orders for the symbol, oldest first.
func (c *Client) FetchClosedOrders(ctx context.Context, symbol string, since time.Time, limit int) ([]schema.ClosedOrder, error) {
	params := map[string]string{"symbol": symbolToVenue(symbol)}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if !since.IsZero() {
		params["startTime"] = strconv.FormatInt(since.UnixMilli(), 10)
	}
	var payload allOrdersResponse
	if err := c.getSigned(ctx, "/api/v1/trade/allOrders", params, &payload); err != nil {
		return nil, err
	}
	out := make([]schema.ClosedOrder, 0, len(payload.Data.Orders))
	for _, entry := range payload.Data.Orders {
		if !strings.EqualFold(entry.Status, "CLOSED") {
			continue
		}
		order, err := entry.toClosedOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	// Pionex returns newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AmountToPrecision truncates a base quantity to the symbol's lot precision.
// Unknown symbols pass through unchanged.
func (c *Client) AmountToPrecision(symbol string, qty decimal.Decimal) decimal.Decimal {
	if meta, ok := c.meta[symbol]; ok {
		return qty.Truncate(meta.BasePrecision)
	}
	return qty
}

// PriceToPrecision truncates a price or quote amount to the symbol's tick precision.
func (c *Client) PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal {
	if meta, ok := c.meta[symbol]; ok {
		return price.Truncate(meta.QuotePrecision)
	}
	return price
}

func (c *Client) fetchSymbols(ctx context.Context) (map[string]exchange.MarketMeta, error) {
	var payload symbolsResponse
	if err := c.get(ctx, "/api/v1/common/symbols", nil, &payload); err != nil {
		return nil, err
	}
	meta := make(map[string]exchange.MarketMeta, len(payload.Data.Symbols))
	for _, entry := range payload.Data.Symbols {
		symbol := symbolFromVenue(entry.Symbol)
		meta[symbol] = exchange.MarketMeta{
			Symbol:         symbol,
			BasePrecision:  entry.BasePrecision,
			QuotePrecision: entry.QuotePrecision,
		}
	}
	return meta, nil
}

// symbolToVenue converts the canonical "BASE/QUOTE" form to Pionex's
// underscore form.
func symbolToVenue(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

// symbolFromVenue converts Pionex's "BASE_QUOTE" form to the canonical form.
func symbolFromVenue(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), "_", "/")
}
