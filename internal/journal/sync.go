package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/tradeflow/internal/exchange"
	"github.com/coachpo/tradeflow/internal/observability"
	"github.com/coachpo/tradeflow/internal/schema"
)

// TradeSource is the slice of an account the syncer reads.
type TradeSource interface {
	Name() string
	UsesJournal() bool
	Markets() []*schema.Market
	Exchange() exchange.Exchange
}

const defaultFetchLimit = 200

// Syncer periodically pulls closed orders for journaled accounts, pairs them
// into round-trip trades, and stores the result.
type Syncer struct {
	store      *Store
	accounts   []TradeSource
	interval   time.Duration
	fetchLimit int
}

// NewSyncer constructs a syncer over the journaled accounts.
func NewSyncer(store *Store, accounts []TradeSource, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Syncer{
		store:      store,
		accounts:   accounts,
		interval:   interval,
		fetchLimit: defaultFetchLimit,
	}
}

// Run syncs immediately and then on every interval tick until ctx is done.
func (s *Syncer) Run(ctx context.Context) {
	s.SyncOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce runs one sync cycle across all journaled accounts. Account failures
// are logged and do not block sibling accounts.
func (s *Syncer) SyncOnce(ctx context.Context) {
	var tasks conc.WaitGroup
	for _, account := range s.accounts {
		if !account.UsesJournal() {
			continue
		}
		tasks.Go(func() {
			if err := s.syncAccount(ctx, account); err != nil {
				observability.Log().Error("journal sync failed",
					observability.F("account", account.Name()), observability.F("error", err))
			}
		})
	}
	tasks.Wait()
}

func (s *Syncer) syncAccount(ctx context.Context, account TradeSource) error {
	log := observability.Log()
	for _, market := range account.Markets() {
		since, err := s.store.LastCloseTime(ctx, account.Name(), market.Symbol)
		if err != nil {
			return err
		}
		orders, err := account.Exchange().FetchClosedOrders(ctx, market.Symbol, since, s.fetchLimit)
		if err != nil {
			return fmt.Errorf("fetch closed orders for %s: %w", market.Symbol, err)
		}
		trades := PairTrades(account.Name(), orders)
		if len(trades) == 0 {
			continue
		}
		if err := s.store.InsertTrades(ctx, trades); err != nil {
			return err
		}
		log.Info("journal recorded trades",
			observability.F("account", account.Name()),
			observability.F("symbol", market.Symbol),
			observability.F("trades", len(trades)))
	}
	return nil
}
