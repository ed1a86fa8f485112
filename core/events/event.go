// Package events defines the typed domain events republished on the bus.
package events

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewell/ctpgate/errs"
	"github.com/tradewell/ctpgate/internal/ctp"
)

// Kind classifies a domain event.
type Kind string

const (
	// KindConnected marks a channel transport reaching its front.
	KindConnected Kind = "connected"
	// KindDisconnected marks a channel transport drop.
	KindDisconnected Kind = "disconnected"
	// KindLoginSucceeded marks a completed login handshake.
	KindLoginSucceeded Kind = "login_succeeded"
	// KindLoginFailed marks an abandoned login handshake.
	KindLoginFailed Kind = "login_failed"
	// KindSettlementConfirmed marks the settlement statement acknowledgment.
	KindSettlementConfirmed Kind = "settlement_confirmed"
	// KindMarketTick carries one market-data update.
	KindMarketTick Kind = "market_tick"
	// KindSubscriptionAck marks a (un)subscribe acknowledged by the vendor.
	KindSubscriptionAck Kind = "subscription_ack"
	// KindOrderChanged carries an order-record status change.
	KindOrderChanged Kind = "order_changed"
	// KindTradeOccurred carries one fill.
	KindTradeOccurred Kind = "trade_occurred"
	// KindQueryResolved marks a query response delivered to its callers.
	KindQueryResolved Kind = "query_resolved"
	// KindFault carries an asynchronous failure with its classification.
	KindFault Kind = "fault"
)

// Event is one immutable domain event. Payload holds the kind-specific
// struct below; events are never mutated after publication.
type Event struct {
	TraceID string
	Kind    Kind
	Channel ctp.Channel
	At      time.Time
	Payload any
}

// New stamps a fresh event with a trace ID and timestamp.
func New(kind Kind, channel ctp.Channel, payload any) Event {
	return Event{
		TraceID: uuid.NewString(),
		Kind:    kind,
		Channel: channel,
		At:      time.Now(),
		Payload: payload,
	}
}

// MarshalJSON renders the event for logs and external sinks.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		TraceID string      `json:"trace_id"`
		Kind    Kind        `json:"kind"`
		Channel ctp.Channel `json:"channel"`
		At      time.Time   `json:"at"`
		Payload any         `json:"payload,omitempty"`
	}
	return json.Marshal(wire{
		TraceID: e.TraceID,
		Kind:    e.Kind,
		Channel: e.Channel,
		At:      e.At,
		Payload: e.Payload,
	})
}

// SessionInfo is the LoginSucceeded payload: the immutable identity of the
// session the handshake produced.
type SessionInfo struct {
	FrontID    int    `json:"front_id"`
	SessionID  int    `json:"session_id"`
	TradingDay string `json:"trading_day"`
	UserID     string `json:"user_id"`
}

// Disconnect is the Disconnected payload.
type Disconnect struct {
	Reason int `json:"reason"`
}

// LoginFailure is the LoginFailed payload.
type LoginFailure struct {
	Err *errs.E `json:"-"`
}

// SubscriptionAck reports the vendor's answer to one (un)subscribe request.
type SubscriptionAck struct {
	InstrumentID string `json:"instrument_id"`
	Subscribed   bool   `json:"subscribed"`
}

// OrderUpdate is the OrderChanged payload, a snapshot of the local record.
type OrderUpdate struct {
	OrderRef     string          `json:"order_ref"`
	InstrumentID string          `json:"instrument_id"`
	Status       string          `json:"status"`
	Price        decimal.Decimal `json:"price"`
	Volume       int             `json:"volume"`
	TradedVolume int             `json:"traded_volume"`
	StatusMsg    string          `json:"status_msg,omitempty"`
}

// TradeFill is the TradeOccurred payload.
type TradeFill struct {
	TradeID      string          `json:"trade_id"`
	OrderRef     string          `json:"order_ref"`
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	Volume       int             `json:"volume"`
}

// QueryResult is the QueryResolved payload.
type QueryResult struct {
	RequestID int           `json:"request_id"`
	Kind      ctp.QueryKind `json:"query_kind"`
	Result    any           `json:"result,omitempty"`
}

// Fault reports an asynchronous failure with its classification.
type Fault struct {
	Err     *errs.E `json:"-"`
	Context string  `json:"context"`
}
