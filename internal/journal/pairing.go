package journal

import (
	"sort"

	"github.com/google/uuid"

	"github.com/coachpo/tradeflow/internal/schema"
)

// PairTrades walks a symbol's closed orders in time order and pairs each sell
// with the oldest buy still open, producing one round-trip trade per sell.
// Sells with no prior buy are dropped; buys never closed remain open and
// produce nothing.
func PairTrades(account string, orders []schema.ClosedOrder) []Trade {
	sorted := make([]schema.ClosedOrder, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var trades []Trade
	openBuys := make(map[string][]schema.ClosedOrder)
	for _, order := range sorted {
		switch order.Side {
		case schema.SideBuy:
			openBuys[order.Symbol] = append(openBuys[order.Symbol], order)
		case schema.SideSell:
			queue := openBuys[order.Symbol]
			if len(queue) == 0 {
				continue
			}
			buy := queue[0]
			openBuys[order.Symbol] = queue[1:]
			trades = append(trades, Trade{
				ID:         uuid.NewString(),
				Account:    account,
				Symbol:     order.Symbol,
				OpenedAt:   buy.Timestamp,
				OpenPrice:  buy.FillPrice(),
				ClosedAt:   order.Timestamp,
				ClosePrice: order.FillPrice(),
				Quantity:   order.Filled,
			})
		}
	}
	return trades
}
