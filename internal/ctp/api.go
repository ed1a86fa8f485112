package ctp

// MarketDataAPI is the request capability set of the market-data channel.
// SetReceiver must be called before Connect.
type MarketDataAPI interface {
	SetReceiver(r Receiver)
	Connect(fronts []string) error
	Login(credentials Credentials, requestID int) error
	Subscribe(instruments []string) error
	Unsubscribe(instruments []string) error
	Release()
}

// TraderAPI is the request capability set of the trading channel.
// SetReceiver must be called before Connect.
type TraderAPI interface {
	SetReceiver(r Receiver)
	Connect(fronts []string) error
	Authenticate(credentials Credentials, requestID int) error
	Login(credentials Credentials, requestID int) error
	ConfirmSettlement(requestID int) error
	SubmitOrder(order OrderInsert, requestID int) error
	CancelOrder(action OrderAction, requestID int) error
	Query(kind QueryKind, key string, requestID int) error
	Release()
}

// Receiver consumes translated vendor callbacks. Implementations must not
// block: callbacks arrive on threads owned by the vendor SDK.
type Receiver interface {
	OnMessage(msg Message)
}
