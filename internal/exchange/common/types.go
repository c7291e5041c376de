// Package common defines the exchange-adapter taxonomy shared by every
// concrete venue (binance, bybit, okx, paper): order shapes, sides, and
// the uniform Gateway interface the Trade Router submits against.
// Generalized from a pkg/exchanges/common package, which
// covered only Binance spot/futures variants.
package common

import "context"

// Platform is the closed set of venues the Trade Router may submit to.
type Platform string

const (
	PlatformBinance Platform = "binance"
	PlatformBybit   Platform = "bybit"
	PlatformOKX     Platform = "okx"
	PlatformPaper   Platform = "paper"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types the Trade Router can place.
type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStopLoss     OrderType = "STOP_LOSS"
	OrderTypeTakeProfit   OrderType = "TAKE_PROFIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
)

// OrderRequest captures an order intent to be sent to a venue. Quantity
// and price fields are decimal strings (see pkg/money) rather than
// float64 — the adapter is responsible for converting to whatever the
// wire protocol of its venue requires.
type OrderRequest struct {
	Symbol       string
	Side         Side
	Type         OrderType
	Qty          string
	Price        string // required for LIMIT
	StopPrice    string // required for STOP_LOSS/TAKE_PROFIT
	TimeInForce  TimeInForce
	ClientID     string
	ReduceOnly   bool
	Leverage     int
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
	FilledQty       string
	AvgPrice        string
}

// Fill represents a trade fill update pushed by the venue (or synthesized
// immediately by the paper adapter).
type Fill struct {
	ExchangeOrderID string
	TradeID         string
	Symbol          string
	Side            Side
	Qty             string
	Price           string
}

// Balance is a venue-reported account balance snapshot, used by the
// Portfolio Accounting reconciliation loop.
type Balance struct {
	Asset     string
	Total     string
	Available string
	Locked    string
}

// Gateway abstracts a trading venue. Every concrete adapter (binance,
// bybit, okx, paper) implements this uniformly so the Trade Router never
// branches on venue type.
type Gateway interface {
	Platform() Platform
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetBalances(ctx context.Context) ([]Balance, error)
}
