// Package ctp declares the vendor SDK boundary: the typed request surface
// the core calls into, and the closed callback message set the vendor
// delivers back. The wire protocol behind this boundary is opaque.
package ctp

import "github.com/shopspring/decimal"

// Channel names an independent connection to one of the gateway fronts.
type Channel string

const (
	// ChannelMarketData is the streaming quote connection.
	ChannelMarketData Channel = "market-data"
	// ChannelTrader is the order-routing connection.
	ChannelTrader Channel = "trader"
)

// RspInfo carries the vendor's per-response error report. ErrorID zero
// means success.
type RspInfo struct {
	ErrorID  int
	ErrorMsg string
}

// OK reports whether the response carries no error.
func (r RspInfo) OK() bool { return r.ErrorID == 0 }

// Credentials identify the session owner during the login handshake.
type Credentials struct {
	BrokerID string
	UserID   string
	Password string
	AppID    string
	AuthCode string
}

// LoginField is the vendor's successful-login payload.
type LoginField struct {
	TradingDay  string
	FrontID     int
	SessionID   int
	MaxOrderRef string
}

// Direction is the order side.
type Direction byte

const (
	// DirectionBuy opens or increases a long exposure.
	DirectionBuy Direction = '0'
	// DirectionSell opens or increases a short exposure.
	DirectionSell Direction = '1'
)

// Offset distinguishes opening new positions from closing existing ones.
type Offset byte

const (
	// OffsetOpen opens a new position.
	OffsetOpen Offset = '0'
	// OffsetClose closes an existing position.
	OffsetClose Offset = '1'
	// OffsetCloseToday closes today's position specifically.
	OffsetCloseToday Offset = '3'
	// OffsetCloseYesterday closes carried-over position specifically.
	OffsetCloseYesterday Offset = '4'
)

// PriceType selects limit versus market pricing.
type PriceType byte

const (
	// PriceLimit executes at the stated price or better.
	PriceLimit PriceType = '2'
	// PriceMarket executes at prevailing market price.
	PriceMarket PriceType = '1'
)

// OrderStatus is the vendor's order state character.
type OrderStatus byte

const (
	// OrderStatusAllTraded marks a completely filled order.
	OrderStatusAllTraded OrderStatus = '0'
	// OrderStatusPartTradedQueueing marks a partial fill still working.
	OrderStatusPartTradedQueueing OrderStatus = '1'
	// OrderStatusNoTradeQueueing marks an accepted, unfilled order.
	OrderStatusNoTradeQueueing OrderStatus = '3'
	// OrderStatusCanceled marks a cancelled order.
	OrderStatusCanceled OrderStatus = '5'
	// OrderStatusUnknown marks an order acknowledged but not yet placed.
	OrderStatusUnknown OrderStatus = 'a'
)

// OrderInsert is the outbound new-order request.
type OrderInsert struct {
	OrderRef     string
	InstrumentID string
	Direction    Direction
	Offset       Offset
	PriceType    PriceType
	Price        decimal.Decimal
	Volume       int
}

// OrderAction is the outbound cancel request. FrontID and SessionID must
// match the handshake that produced the original order reference.
type OrderAction struct {
	OrderRef     string
	InstrumentID string
	FrontID      int
	SessionID    int
}

// Order is the vendor's order-status payload.
type Order struct {
	OrderRef     string
	InstrumentID string
	FrontID      int
	SessionID    int
	Direction    Direction
	Offset       Offset
	Price        decimal.Decimal
	VolumeTotal  int
	VolumeTraded int
	Status       OrderStatus
	StatusMsg    string
	UpdateTime   string
}

// Trade is the vendor's fill payload.
type Trade struct {
	TradeID      string
	OrderRef     string
	InstrumentID string
	Direction    Direction
	Price        decimal.Decimal
	Volume       int
	TradeTime    string
}

// Tick is the vendor's depth-market-data payload.
type Tick struct {
	InstrumentID string
	TradingDay   string
	UpdateTime   string
	LastPrice    decimal.Decimal
	BidPrice     decimal.Decimal
	BidVolume    int
	AskPrice     decimal.Decimal
	AskVolume    int
	Volume       int64
	OpenInterest decimal.Decimal
}

// QueryKind enumerates the request/response query surfaces.
type QueryKind string

const (
	// QueryAccount requests the trading account funds snapshot.
	QueryAccount QueryKind = "account"
	// QueryPositions requests the investor position list.
	QueryPositions QueryKind = "positions"
	// QueryOrders requests the current-day order list.
	QueryOrders QueryKind = "orders"
	// QueryTrades requests the current-day trade list.
	QueryTrades QueryKind = "trades"
	// QuerySettlement requests the settlement statement content.
	QuerySettlement QueryKind = "settlement"
)
