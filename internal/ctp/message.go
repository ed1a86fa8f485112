package ctp

// Message is the closed union of vendor callbacks after translation.
// Channel run loops consume these via exhaustive type switches.
type Message interface {
	isMessage()
}

// FrontConnected signals the transport reached the front.
type FrontConnected struct{}

// FrontDisconnected signals the transport dropped. Reason is the vendor's
// numeric disconnect reason.
type FrontDisconnected struct {
	Reason int
}

// RspAuthenticate answers a trading-channel authenticate request.
type RspAuthenticate struct {
	Rsp RspInfo
}

// RspLogin answers a login request on either channel.
type RspLogin struct {
	Login LoginField
	Rsp   RspInfo
}

// RspSettlementConfirm answers the settlement confirmation request.
type RspSettlementConfirm struct {
	Rsp RspInfo
}

// RspSubscribe acknowledges a market-data subscribe request for one instrument.
type RspSubscribe struct {
	InstrumentID string
	Rsp          RspInfo
}

// RspUnsubscribe acknowledges a market-data unsubscribe request for one instrument.
type RspUnsubscribe struct {
	InstrumentID string
	Rsp          RspInfo
}

// TickData delivers one market-data update.
type TickData struct {
	Tick Tick
}

// OrderUpdate delivers an order-status change.
type OrderUpdate struct {
	Order Order
}

// TradeUpdate delivers a fill.
type TradeUpdate struct {
	Trade Trade
}

// RspOrderInsert reports a rejected order-insert request.
type RspOrderInsert struct {
	OrderRef string
	Rsp      RspInfo
}

// RspOrderAction reports a rejected cancel request.
type RspOrderAction struct {
	OrderRef string
	Rsp      RspInfo
}

// RspQuery answers a query request. Payload holds the kind-specific result.
type RspQuery struct {
	RequestID int
	Kind      QueryKind
	Payload   any
	Rsp       RspInfo
}

func (FrontConnected) isMessage()       {}
func (FrontDisconnected) isMessage()    {}
func (RspAuthenticate) isMessage()      {}
func (RspLogin) isMessage()             {}
func (RspSettlementConfirm) isMessage() {}
func (RspSubscribe) isMessage()         {}
func (RspUnsubscribe) isMessage()       {}
func (TickData) isMessage()             {}
func (OrderUpdate) isMessage()          {}
func (TradeUpdate) isMessage()          {}
func (RspOrderInsert) isMessage()       {}
func (RspOrderAction) isMessage()       {}
func (RspQuery) isMessage()             {}
