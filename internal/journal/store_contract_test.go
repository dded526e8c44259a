package journal_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coachpo/tradeflow/internal/exchange"
	"github.com/coachpo/tradeflow/internal/exchange/fake"
	"github.com/coachpo/tradeflow/internal/journal"
	"github.com/coachpo/tradeflow/internal/schema"
)

// setupStore boots a throwaway Postgres, applies the migrations, and returns
// a connected store. Environments without a container runtime skip.
func setupStore(t *testing.T) *journal.Store {
	t.Helper()
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "tradeflow"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	// testcontainers panics (rather than returning an error) when no Docker
	// host can be discovered at all; fold that into the skip path below.
	container, err := func() (c testcontainers.Container, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("container runtime unavailable: %v", r)
			}
		}()
		return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if err != nil {
		t.Skipf("postgres contract setup unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/tradeflow?sslmode=disable", host, port.Port())

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime caller lookup failed")
	}
	migrationsDir := filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", "db", "migrations"))
	if err := journal.Migrate(ctx, dsn, migrationsDir, nil); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store, err := journal.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStoreTradeRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	closed := opened.Add(48 * time.Hour)
	trades := []journal.Trade{
		{
			Account:    "main",
			Symbol:     "ETH/USDT",
			OpenedAt:   opened,
			OpenPrice:  decimal.RequireFromString("1000"),
			ClosedAt:   closed,
			ClosePrice: decimal.RequireFromString("1500.25"),
			Quantity:   decimal.RequireFromString("0.4"),
		},
	}
	if err := store.InsertTrades(ctx, trades); err != nil {
		t.Fatalf("insert trades: %v", err)
	}

	listed, err := store.ListTrades(ctx, "main", 10)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("trades = %d, want 1", len(listed))
	}
	got := listed[0]
	if got.Symbol != "ETH/USDT" ||
		!got.OpenPrice.Equal(decimal.RequireFromString("1000")) ||
		!got.ClosePrice.Equal(decimal.RequireFromString("1500.25")) ||
		!got.Quantity.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("trade = %+v", got)
	}
	if !got.ClosedAt.Equal(closed) {
		t.Fatalf("closed at = %s, want %s", got.ClosedAt, closed)
	}

	last, err := store.LastCloseTime(ctx, "main", "ETH/USDT")
	if err != nil {
		t.Fatalf("last close time: %v", err)
	}
	if !last.Equal(closed) {
		t.Fatalf("last close = %s, want %s", last, closed)
	}
	none, err := store.LastCloseTime(ctx, "main", "BTC/USDT")
	if err != nil {
		t.Fatalf("last close time: %v", err)
	}
	if !none.IsZero() {
		t.Fatalf("last close for unknown symbol = %s, want zero", none)
	}
}

func TestStoreWebhookExpiry(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, err := store.AddWebhook(ctx, "https://example.com/live", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("add webhook: %v", err)
	}
	if _, err := store.AddWebhook(ctx, "https://example.com/lapsed", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("add webhook: %v", err)
	}

	active, err := store.ActiveWebhooks(ctx)
	if err != nil {
		t.Fatalf("active webhooks: %v", err)
	}
	if len(active) != 1 || active[0].URL != "https://example.com/live" {
		t.Fatalf("active = %+v, want the unexpired hook only", active)
	}

	pruned, err := store.PruneExpiredWebhooks(ctx)
	if err != nil {
		t.Fatalf("prune webhooks: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
}

type journaledSource struct {
	name    string
	markets []*schema.Market
	venue   exchange.Exchange
}

func (s *journaledSource) Name() string                { return s.name }
func (s *journaledSource) UsesJournal() bool           { return true }
func (s *journaledSource) Markets() []*schema.Market   { return s.markets }
func (s *journaledSource) Exchange() exchange.Exchange { return s.venue }

func TestSyncerRecordsPairedTrades(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	venue := fake.New("testex")
	venue.AddClosedOrder(schema.ClosedOrder{
		ID: "1", Symbol: "ETH/USDT", Side: schema.SideBuy,
		Filled:    decimal.RequireFromString("1"),
		Average:   decimal.RequireFromString("1000"),
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	venue.AddClosedOrder(schema.ClosedOrder{
		ID: "2", Symbol: "ETH/USDT", Side: schema.SideSell,
		Filled:    decimal.RequireFromString("1"),
		Average:   decimal.RequireFromString("1400"),
		Timestamp: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})

	source := &journaledSource{
		name: "main",
		markets: []*schema.Market{
			schema.NewMarket("ETH", "USDT",
				decimal.RequireFromString("0.5"), decimal.RequireFromString("1000")),
		},
		venue: venue,
	}

	syncer := journal.NewSyncer(store, []journal.TradeSource{source}, time.Hour)
	syncer.SyncOnce(ctx)

	trades, err := store.ListTrades(ctx, "main", 10)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if !trades[0].OpenPrice.Equal(decimal.RequireFromString("1000")) ||
		!trades[0].ClosePrice.Equal(decimal.RequireFromString("1400")) {
		t.Fatalf("trade = %+v", trades[0])
	}

	// A second cycle starts from the last close time and records nothing new.
	syncer.SyncOnce(ctx)
	trades, err = store.ListTrades(ctx, "main", 10)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades after resync = %d, want still 1", len(trades))
	}
}
