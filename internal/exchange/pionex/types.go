package pionex

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeflow/errs"
	"github.com/coachpo/tradeflow/internal/schema"
)

type tickersResponse struct {
	envelope
	Data struct {
		Tickers []tickerEntry `json:"tickers"`
	} `json:"data"`
}

type tickerEntry struct {
	Symbol string `json:"symbol"`
	Close  string `json:"close"`
}

type symbolsResponse struct {
	envelope
	Data struct {
		Symbols []symbolEntry `json:"symbols"`
	} `json:"data"`
}

type symbolEntry struct {
	Symbol         string `json:"symbol"`
	BaseCurrency   string `json:"baseCurrency"`
	QuoteCurrency  string `json:"quoteCurrency"`
	BasePrecision  int32  `json:"basePrecision"`
	QuotePrecision int32  `json:"quotePrecision"`
	MinAmount      string `json:"minAmount"`
}

type balancesResponse struct {
	envelope
	Data struct {
		Balances []balanceEntry `json:"balances"`
	} `json:"data"`
}

type balanceEntry struct {
	Coin   string `json:"coin"`
	Free   string `json:"free"`
	Frozen string `json:"frozen"`
}

type orderRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Type   string `json:"type"`
	Amount string `json:"amount,omitempty"`
	Size   string `json:"size,omitempty"`
}

type orderResponse struct {
	envelope
	Data struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
	} `json:"data"`
}

type allOrdersResponse struct {
	envelope
	Data struct {
		Orders []historicalOrder `json:"orders"`
	} `json:"data"`
}

type historicalOrder struct {
	OrderID      int64  `json:"orderId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Status       string `json:"status"`
	FilledSize   string `json:"filledSize"`
	FilledAmount string `json:"filledAmount"`
	UpdateTime   int64  `json:"updateTime"`
	CreateTime   int64  `json:"createTime"`
}

func (h historicalOrder) toClosedOrder() (schema.ClosedOrder, error) {
	filled, err := decimal.NewFromString(h.FilledSize)
	if err != nil {
		return schema.ClosedOrder{}, errs.New(VenueName, errs.CodeExchange,
			errs.WithMessage("bad filled size for "+h.Symbol), errs.WithCause(err))
	}
	amount := decimal.Zero
	if h.FilledAmount != "" {
		if amount, err = decimal.NewFromString(h.FilledAmount); err != nil {
			return schema.ClosedOrder{}, errs.New(VenueName, errs.CodeExchange,
				errs.WithMessage("bad filled amount for "+h.Symbol), errs.WithCause(err))
		}
	}
	average := decimal.Zero
	if filled.IsPositive() {
		average = amount.Div(filled)
	}
	ts := h.UpdateTime
	if ts == 0 {
		ts = h.CreateTime
	}
	side := schema.SideBuy
	if h.Side == "SELL" {
		side = schema.SideSell
	}
	return schema.ClosedOrder{
		ID:        strconv.FormatInt(h.OrderID, 10),
		Symbol:    symbolFromVenue(h.Symbol),
		Side:      side,
		Filled:    filled,
		Average:   average,
		Timestamp: time.UnixMilli(ts).UTC(),
	}, nil
}
