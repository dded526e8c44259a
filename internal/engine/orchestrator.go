package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/coachpo/tradeflow/errs"
	"github.com/coachpo/tradeflow/internal/observability"
	"github.com/coachpo/tradeflow/internal/risk"
	"github.com/coachpo/tradeflow/internal/schema"
	"github.com/coachpo/tradeflow/internal/telemetry"
)

// Forwarder relays accepted signals to downstream subscribers.
type Forwarder interface {
	Forward(ctx context.Context, signal *schema.Signal)
}

// Options configures optional orchestrator collaborators.
type Options struct {
	Risk      *risk.Manager
	Metrics   *telemetry.EngineMetrics
	Forwarder Forwarder
}

// Orchestrator routes validated signals to accounts and supervises per-market
// order dispatch. Markets fan out as independent tasks whose results are all
// collected; one market's failure never blocks or rolls back its siblings.
type Orchestrator struct {
	accounts  []*Account
	risk      *risk.Manager
	metrics   *telemetry.EngineMetrics
	forwarder Forwarder

	background conc.WaitGroup
}

// marketResult captures the outcome of routing one market of a signal.
type marketResult struct {
	DispatchID string
	Symbol     string
	Order      *schema.Order
	Skipped    bool
	Err        error
}

// NewOrchestrator constructs the orchestrator over the configured accounts.
func NewOrchestrator(accounts []*Account, opts Options) *Orchestrator {
	return &Orchestrator{
		accounts:  accounts,
		risk:      opts.Risk,
		metrics:   opts.Metrics,
		forwarder: opts.Forwarder,
	}
}

// Accounts returns the configured accounts.
func (o *Orchestrator) Accounts() []*Account { return o.accounts }

// ActiveAccounts returns the accounts participating in signal processing.
func (o *Orchestrator) ActiveAccounts() []*Account {
	var active []*Account
	for _, account := range o.accounts {
		if account.Active() {
			active = append(active, account)
		}
	}
	return active
}

// Bootstrap performs the startup sequence for every active account: market
// metadata, balance snapshot, then prices. Failures are reported and the
// remaining steps still run, matching the fail-soft refresh policy.
func (o *Orchestrator) Bootstrap(ctx context.Context) {
	log := observability.Log()
	for _, account := range o.ActiveAccounts() {
		if err := account.LoadMarkets(ctx); err != nil {
			log.Error("bootstrap load markets failed",
				observability.F("account", account.Name()), observability.F("error", err))
		}
		if err := account.LoadBalance(ctx); err != nil {
			log.Error("bootstrap load balance failed",
				observability.F("account", account.Name()), observability.F("error", err))
		}
		if err := account.LoadMarketPrices(ctx); err != nil {
			log.Error("bootstrap load prices failed",
				observability.F("account", account.Name()), observability.F("error", err))
		}
	}
}

// ProcessSignalAsync schedules signal processing on the orchestrator's
// supervised background group, letting the HTTP layer acknowledge first.
func (o *Orchestrator) ProcessSignalAsync(ctx context.Context, signal *schema.Signal) {
	o.background.Go(func() {
		if err := o.ProcessSignal(ctx, signal); err != nil {
			observability.Log().Error("signal processing failed", observability.F("error", err))
		}
	})
}

// Wait blocks until all background signal processing has finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// ProcessSignal validates the signal and routes it to every eligible account.
// Validation failures are terminal and produce no side effects. Repeated
// identical signals re-evaluate exposure fresh each time; there is no dedup.
func (o *Orchestrator) ProcessSignal(ctx context.Context, signal *schema.Signal) error {
	if err := signal.Validate(); err != nil {
		return err
	}
	o.metrics.SignalReceived(ctx, string(signal.Side))
	if o.forwarder != nil {
		o.forwarder.Forward(ctx, signal)
	}

	var accountTasks conc.WaitGroup
	for _, account := range o.ActiveAccounts() {
		accountTasks.Go(func() {
			o.processSignalForAccount(ctx, account, signal)
		})
	}
	accountTasks.Wait()
	return nil
}

func (o *Orchestrator) processSignalForAccount(ctx context.Context, account *Account, signal *schema.Signal) {
	log := observability.Log()
	if signal.Account != "" && signal.Account != account.Name() {
		log.Debug("signal targets another account",
			observability.F("account", account.Name()), observability.F("target", signal.Account))
		return
	}
	if account.ShouldIgnoreSignal(signal.Reason) {
		log.Info("signal ignored by account policy",
			observability.F("account", account.Name()), observability.F("reason", signal.Reason))
		return
	}
	markets := account.FindMarkets(signal.Asset)
	if len(markets) == 0 {
		log.Debug("no market for asset",
			observability.F("account", account.Name()), observability.F("asset", signal.Asset))
		return
	}

	account.procMu.Lock()
	defer account.procMu.Unlock()

	results := o.routeMarkets(ctx, account, signal, markets)
	for _, res := range results {
		switch {
		case res.Err != nil:
			log.Error("market routing failed",
				observability.F("account", account.Name()),
				observability.F("symbol", res.Symbol),
				observability.F("dispatch", res.DispatchID),
				observability.F("error", res.Err))
			o.metrics.OrderFailed(ctx, account.Name(), res.Symbol, string(signal.Side))
		case res.Skipped:
			log.Info("market skipped",
				observability.F("account", account.Name()),
				observability.F("symbol", res.Symbol),
				observability.F("dispatch", res.DispatchID))
		default:
			log.Info("order sent",
				observability.F("account", account.Name()),
				observability.F("symbol", res.Symbol),
				observability.F("dispatch", res.DispatchID),
				observability.F("order", res.Order.ID),
				observability.F("status", res.Order.Status),
				observability.F("filled", res.Order.Filled),
				observability.F("average", res.Order.Average))
			o.metrics.OrderPlaced(ctx, account.Name(), res.Symbol, string(signal.Side))
		}
	}

	account.SettleAndReload(ctx)
	if signal.Side == schema.SideSell {
		topped, err := account.RefillGas(ctx)
		if err != nil {
			log.Error("gas refill failed",
				observability.F("account", account.Name()), observability.F("error", err))
		} else if topped {
			o.metrics.GasTopUp(ctx, account.Name())
		}
	}
}

// routeMarkets dispatches the signal to each market as an independent task and
// joins all results.
func (o *Orchestrator) routeMarkets(ctx context.Context, account *Account, signal *schema.Signal, markets []*schema.Market) []marketResult {
	results := make([]marketResult, len(markets))
	var mu sync.Mutex
	tasks := concpool.New().WithMaxGoroutines(len(markets))
	for idx, market := range markets {
		tasks.Go(func() {
			res := o.routeMarket(ctx, account, signal, market)
			mu.Lock()
			results[idx] = res
			mu.Unlock()
		})
	}
	tasks.Wait()
	return results
}

func (o *Orchestrator) routeMarket(ctx context.Context, account *Account, signal *schema.Signal, market *schema.Market) marketResult {
	res := marketResult{DispatchID: uuid.NewString(), Symbol: market.Symbol}
	if signal.Side == schema.SideBuy {
		res.Order, res.Skipped, res.Err = o.routeBuy(ctx, account, signal, market)
		return res
	}
	res.Order, res.Err = o.routeSell(ctx, account, market)
	return res
}

func (o *Orchestrator) routeBuy(ctx context.Context, account *Account, signal *schema.Signal, market *schema.Market) (*schema.Order, bool, error) {
	log := observability.Log()
	if account.HasOpenPosition(market) {
		log.Info("buy signal ignored, already in position",
			observability.F("account", account.Name()), observability.F("symbol", market.Symbol))
		return nil, true, nil
	}
	cost := account.OrderCost(market)
	if cost.IsZero() {
		o.metrics.AllocationSkipped(ctx, account.Name(), market.Symbol)
		log.Info("buy skipped, allocation is zero",
			observability.F("account", account.Name()), observability.F("symbol", market.Symbol))
		return nil, true, nil
	}
	cost = signal.SizeMultiplier(account.RiskProfile()).Mul(cost)
	if err := o.risk.CheckOrder(ctx, market.Symbol, cost); err != nil {
		return nil, false, err
	}
	order, err := account.Buy(ctx, market, cost)
	if errors.Is(err, ErrAllocationZero) {
		return nil, true, nil
	}
	return order, false, err
}

func (o *Orchestrator) routeSell(ctx context.Context, account *Account, market *schema.Market) (*schema.Order, error) {
	qty := account.AvailableBase(market)
	if err := o.risk.CheckOrder(ctx, market.Symbol, account.QuoteValue(market)); err != nil {
		return nil, err
	}
	return account.Sell(ctx, market, qty)
}

// ReleaseQuote refreshes the account, computes the per-market release plan for
// the quote currency, sells every leg with a positive quantity, and returns
// the plan together with the post-liquidation balance.
func (o *Orchestrator) ReleaseQuote(ctx context.Context, accountName, quote string, totalQuote decimal.Decimal) (schema.ReleasePlan, schema.AccountBalance, error) {
	log := observability.Log()
	account := o.findActiveAccount(accountName)
	if account == nil {
		return nil, nil, errs.New("", errs.CodeNotFound,
			errs.WithMessage("unknown account "+accountName))
	}

	account.procMu.Lock()
	defer account.procMu.Unlock()

	if err := account.LoadBalance(ctx); err != nil {
		log.Error("release quote balance refresh failed",
			observability.F("account", account.Name()), observability.F("error", err))
	}
	if err := account.LoadMarketPrices(ctx); err != nil {
		log.Error("release quote price refresh failed",
			observability.F("account", account.Name()), observability.F("error", err))
	}

	plan := account.ReleasePlanForQuote(quote, totalQuote)
	for _, market := range account.Markets() {
		leg, ok := plan[market.Symbol]
		if !ok || !leg.Qty.IsPositive() {
			continue
		}
		log.Info("selling to release quote",
			observability.F("account", account.Name()),
			observability.F("symbol", market.Symbol),
			observability.F("qty", leg.Qty),
			observability.F("value", leg.Value))
		if _, err := account.Sell(ctx, market, leg.Qty); err != nil {
			log.Error("release sell failed",
				observability.F("account", account.Name()),
				observability.F("symbol", market.Symbol),
				observability.F("error", err))
			o.metrics.OrderFailed(ctx, account.Name(), market.Symbol, string(schema.SideSell))
			continue
		}
		o.metrics.OrderPlaced(ctx, account.Name(), market.Symbol, string(schema.SideSell))
	}
	account.SettleAndReload(ctx)
	return plan, account.Balance(), nil
}

// Balances refreshes and returns every active account's balance snapshot.
func (o *Orchestrator) Balances(ctx context.Context) []AccountBalanceView {
	views := make([]AccountBalanceView, 0, len(o.accounts))
	for _, account := range o.ActiveAccounts() {
		if err := account.LoadBalance(ctx); err != nil {
			observability.Log().Error("balance refresh failed",
				observability.F("account", account.Name()), observability.F("error", err))
		}
		views = append(views, AccountBalanceView{
			Account: account.Name(),
			Balance: account.Balance(),
		})
	}
	return views
}

// AccountBalanceView pairs an account name with its balance snapshot.
type AccountBalanceView struct {
	Account string                `json:"account"`
	Balance schema.AccountBalance `json:"balance"`
}

func (o *Orchestrator) findActiveAccount(name string) *Account {
	for _, account := range o.ActiveAccounts() {
		if account.Name() == name {
			return account
		}
	}
	return nil
}
