// Package ctpsim provides a scripted in-memory vendor implementation of
// the gateway API boundary, used by tests and the demo binary. Callbacks
// are delivered from a dedicated goroutine, mirroring the vendor SDK's
// thread ownership.
package ctpsim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/tradewell/ctpgate/internal/ctp"
)

// Options scripts the simulator's responses.
type Options struct {
	Login         ctp.LoginField
	LoginRsp      ctp.RspInfo
	AuthRsp       ctp.RspInfo
	SettlementRsp ctp.RspInfo

	// SubscribeRsp scripts per-instrument subscription answers; nil acks everything.
	SubscribeRsp func(instrumentID string) ctp.RspInfo

	// ConnectErr makes every Connect call fail, as an unreachable front would.
	ConnectErr error

	// AutoAccept posts an accepted order update for every insert.
	AutoAccept bool
	// AutoFill posts a full fill immediately after acceptance.
	AutoFill bool

	// QueryPayload scripts query answers; nil serves built-in defaults.
	QueryPayload func(kind ctp.QueryKind, key string) (any, ctp.RspInfo)
	// MuteQueries suppresses query responses entirely (timeout testing).
	MuteQueries bool
}

// Sim implements both ctp.MarketDataAPI and ctp.TraderAPI.
type Sim struct {
	opts Options

	mu       sync.Mutex
	receiver ctp.Receiver
	orders   map[string]ctp.OrderInsert

	deliveries chan func()
	done       chan struct{}
	closed     atomic.Bool
	tradeSeq   atomic.Int64
	connects   atomic.Int64
}

// New constructs a running simulator.
func New(opts Options) *Sim {
	if opts.Login.MaxOrderRef == "" {
		opts.Login.MaxOrderRef = "1"
	}
	s := &Sim{
		opts:       opts,
		orders:     make(map[string]ctp.OrderInsert),
		deliveries: make(chan func(), 1024),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sim) run() {
	defer close(s.done)
	for fn := range s.deliveries {
		fn()
	}
}

// SetReceiver binds the callback consumer. Must be called before Connect.
func (s *Sim) SetReceiver(r ctp.Receiver) {
	s.mu.Lock()
	s.receiver = r
	s.mu.Unlock()
}

// post enqueues a callback delivery. The send happens under the mutex
// so it cannot cross a concurrent Release closing the channel.
func (s *Sim) post(msg ctp.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || s.receiver == nil {
		return
	}
	r := s.receiver
	s.deliveries <- func() { r.OnMessage(msg) }
}

// Connect simulates reaching the front.
func (s *Sim) Connect(fronts []string) error {
	if len(fronts) == 0 {
		return fmt.Errorf("ctpsim: no front addresses")
	}
	s.connects.Add(1)
	if s.opts.ConnectErr != nil {
		return s.opts.ConnectErr
	}
	s.post(ctp.FrontConnected{})
	return nil
}

// Authenticate answers with the scripted authenticate response.
func (s *Sim) Authenticate(_ ctp.Credentials, _ int) error {
	s.post(ctp.RspAuthenticate{Rsp: s.opts.AuthRsp})
	return nil
}

// Login answers with the scripted login response.
func (s *Sim) Login(_ ctp.Credentials, _ int) error {
	s.post(ctp.RspLogin{Login: s.opts.Login, Rsp: s.opts.LoginRsp})
	return nil
}

// ConfirmSettlement answers with the scripted settlement response.
func (s *Sim) ConfirmSettlement(_ int) error {
	s.post(ctp.RspSettlementConfirm{Rsp: s.opts.SettlementRsp})
	return nil
}

// Subscribe acknowledges each instrument.
func (s *Sim) Subscribe(instruments []string) error {
	for _, instrument := range instruments {
		rsp := ctp.RspInfo{}
		if s.opts.SubscribeRsp != nil {
			rsp = s.opts.SubscribeRsp(instrument)
		}
		s.post(ctp.RspSubscribe{InstrumentID: instrument, Rsp: rsp})
	}
	return nil
}

// Unsubscribe acknowledges each instrument.
func (s *Sim) Unsubscribe(instruments []string) error {
	for _, instrument := range instruments {
		s.post(ctp.RspUnsubscribe{InstrumentID: instrument})
	}
	return nil
}

// SubmitOrder records the order and, when scripted, walks it through
// acceptance and a full fill.
func (s *Sim) SubmitOrder(order ctp.OrderInsert, _ int) error {
	s.mu.Lock()
	s.orders[order.OrderRef] = order
	s.mu.Unlock()

	if !s.opts.AutoAccept {
		return nil
	}
	s.post(ctp.OrderUpdate{Order: ctp.Order{
		OrderRef:     order.OrderRef,
		InstrumentID: order.InstrumentID,
		Direction:    order.Direction,
		Offset:       order.Offset,
		Price:        order.Price,
		VolumeTotal:  order.Volume,
		Status:       ctp.OrderStatusNoTradeQueueing,
	}})
	if s.opts.AutoFill {
		s.post(ctp.TradeUpdate{Trade: ctp.Trade{
			TradeID:      fmt.Sprintf("sim-%d", s.tradeSeq.Add(1)),
			OrderRef:     order.OrderRef,
			InstrumentID: order.InstrumentID,
			Direction:    order.Direction,
			Price:        order.Price,
			Volume:       order.Volume,
		}})
		s.post(ctp.OrderUpdate{Order: ctp.Order{
			OrderRef:     order.OrderRef,
			InstrumentID: order.InstrumentID,
			Price:        order.Price,
			VolumeTotal:  order.Volume,
			VolumeTraded: order.Volume,
			Status:       ctp.OrderStatusAllTraded,
		}})
	}
	return nil
}

// CancelOrder confirms the cancel for any known, unfilled order.
func (s *Sim) CancelOrder(action ctp.OrderAction, _ int) error {
	s.mu.Lock()
	order, ok := s.orders[action.OrderRef]
	s.mu.Unlock()
	if !ok {
		s.post(ctp.RspOrderAction{OrderRef: action.OrderRef, Rsp: ctp.RspInfo{ErrorID: 25, ErrorMsg: "order not found"}})
		return nil
	}
	s.post(ctp.OrderUpdate{Order: ctp.Order{
		OrderRef:     action.OrderRef,
		InstrumentID: order.InstrumentID,
		Price:        order.Price,
		VolumeTotal:  order.Volume,
		Status:       ctp.OrderStatusCanceled,
	}})
	return nil
}

// Query serves the scripted or default payload for the kind.
func (s *Sim) Query(kind ctp.QueryKind, key string, requestID int) error {
	if s.opts.MuteQueries {
		return nil
	}
	var payload any
	rsp := ctp.RspInfo{}
	if s.opts.QueryPayload != nil {
		payload, rsp = s.opts.QueryPayload(kind, key)
	} else {
		payload = defaultPayload(kind, key)
	}
	s.post(ctp.RspQuery{RequestID: requestID, Kind: kind, Payload: payload, Rsp: rsp})
	return nil
}

func defaultPayload(kind ctp.QueryKind, key string) any {
	switch kind {
	case ctp.QueryAccount:
		return ctp.Account{
			AccountID: key,
			Balance:   decimal.NewFromInt(1_000_000),
			Available: decimal.NewFromInt(950_000),
		}
	case ctp.QueryPositions:
		return []ctp.Position{}
	case ctp.QueryOrders:
		return []ctp.Order{}
	case ctp.QueryTrades:
		return []ctp.Trade{}
	case ctp.QuerySettlement:
		return ctp.Settlement{TradingDay: key, Content: "settlement statement"}
	default:
		return nil
	}
}

// Release stops the delivery goroutine.
func (s *Sim) Release() {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	close(s.deliveries)
	s.mu.Unlock()
	<-s.done
}

// Drop simulates a transport failure observed by the vendor SDK.
func (s *Sim) Drop(reason int) {
	s.post(ctp.FrontDisconnected{Reason: reason})
}

// Connects reports how many Connect calls the front has seen.
func (s *Sim) Connects() int {
	return int(s.connects.Load())
}

// EmitTick pushes one market-data update to the receiver.
func (s *Sim) EmitTick(tick ctp.Tick) {
	s.post(ctp.TickData{Tick: tick})
}

// EmitOrder pushes one order-status update to the receiver.
func (s *Sim) EmitOrder(order ctp.Order) {
	s.post(ctp.OrderUpdate{Order: order})
}

// EmitTrade pushes one fill to the receiver.
func (s *Sim) EmitTrade(trade ctp.Trade) {
	s.post(ctp.TradeUpdate{Trade: trade})
}
