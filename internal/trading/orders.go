// Package trading owns the local order table: reference allocation,
// submit/cancel serialization, and reconciliation of vendor callbacks.
package trading

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewell/ctpgate/core/events"
	"github.com/tradewell/ctpgate/errs"
	"github.com/tradewell/ctpgate/internal/ctp"
	"github.com/tradewell/ctpgate/internal/observability"
	"github.com/tradewell/ctpgate/internal/session"
)

// Status is the local order lifecycle state.
type Status string

const (
	// StatusPending means locally accepted, awaiting the front's acknowledgment.
	StatusPending Status = "pending"
	// StatusAccepted means the exchange queued the order.
	StatusAccepted Status = "accepted"
	// StatusPartiallyFilled means some volume traded, the rest is working.
	StatusPartiallyFilled Status = "partially_filled"
	// StatusFilled means all volume traded.
	StatusFilled Status = "filled"
	// StatusCancelling means a cancel was issued and is not yet confirmed.
	StatusCancelling Status = "cancelling"
	// StatusCancelled means the exchange confirmed the cancel.
	StatusCancelled Status = "cancelled"
	// StatusRejected means the front or exchange refused the order.
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// allowedTransitions encodes the lifecycle table. A fill beating a cancel
// is resolved in favor of the fill: exchanges do not cancel already
// executed quantity.
var allowedTransitions = map[Status][]Status{
	StatusPending:         {StatusAccepted, StatusPartiallyFilled, StatusFilled, StatusRejected, StatusCancelling, StatusCancelled},
	StatusAccepted:        {StatusPartiallyFilled, StatusFilled, StatusCancelling, StatusCancelled},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelling, StatusCancelled},
	StatusCancelling:      {StatusCancelled, StatusPartiallyFilled, StatusFilled},
}

func transitionAllowed(from, to Status) bool {
	if from == to {
		return from == StatusPartiallyFilled
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Spec is the application's new-order request.
type Spec struct {
	InstrumentID string
	Direction    ctp.Direction
	Offset       ctp.Offset
	PriceType    ctp.PriceType
	Price        decimal.Decimal
	Volume       int
}

// Record is one local order. Records are never deleted during a session;
// terminal records stay around for idempotent-cancel checks.
type Record struct {
	OrderRef     string
	InstrumentID string
	Direction    ctp.Direction
	Offset       ctp.Offset
	Price        decimal.Decimal
	Volume       int
	TradedVolume int
	Status       Status
	StatusMsg    string
	FrontID      int
	SessionID    int
	InsertTime   time.Time
	LastUpdate   time.Time
}

// API is the vendor capability the manager drives.
type API interface {
	SubmitOrder(order ctp.OrderInsert, requestID int) error
	CancelOrder(action ctp.OrderAction, requestID int) error
}

// Manager owns the order table for the trading channel. It is owned by
// the trading run loop and is not safe for concurrent use; external reads
// go through the snapshot accessors.
type Manager struct {
	api     API
	publish func(events.Event)
	nextID  func() int
	clock   func() time.Time

	handle  session.Handle
	nextRef int64
	orders  map[string]*Record
	trades  []events.TradeFill
	waiters map[string][]chan Record
}

// NewManager builds an order manager over the vendor API.
func NewManager(api API, nextID func() int, publish func(events.Event)) *Manager {
	return &Manager{
		api:     api,
		publish: publish,
		nextID:  nextID,
		clock:   time.Now,
		orders:  make(map[string]*Record),
		waiters: make(map[string][]chan Record),
	}
}

// SetClock injects a deterministic clock for tests.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// SetSession installs the handle of a fresh login and seeds the order
// reference counter from the session's MaxOrderRef.
func (m *Manager) SetSession(handle session.Handle) {
	m.handle = handle
	seed, err := strconv.ParseInt(strings.TrimSpace(handle.MaxOrderRef), 10, 64)
	if err != nil {
		seed = 0
	}
	if seed > m.nextRef {
		m.nextRef = seed
	}
}

// Submit validates the spec, allocates the next order reference, records
// the order as pending and issues the vendor insert call. The returned
// reference is local: the exchange's acknowledgment arrives later as an
// OrderChanged event.
func (m *Manager) Submit(spec Spec) (string, error) {
	if err := validate(spec); err != nil {
		return "", err
	}
	if m.handle.Zero() {
		return "", errs.New(string(ctp.ChannelTrader), errs.KindState,
			errs.WithMessage("no active session"))
	}

	m.nextRef++
	ref := fmt.Sprintf("%012d", m.nextRef)
	now := m.clock()
	record := &Record{
		OrderRef:     ref,
		InstrumentID: spec.InstrumentID,
		Direction:    spec.Direction,
		Offset:       spec.Offset,
		Price:        spec.Price,
		Volume:       spec.Volume,
		Status:       StatusPending,
		FrontID:      m.handle.FrontID,
		SessionID:    m.handle.SessionID,
		InsertTime:   now,
		LastUpdate:   now,
	}
	m.orders[ref] = record
	m.publishChange(record)

	insert := ctp.OrderInsert{
		OrderRef:     ref,
		InstrumentID: spec.InstrumentID,
		Direction:    spec.Direction,
		Offset:       spec.Offset,
		PriceType:    spec.PriceType,
		Price:        spec.Price,
		Volume:       spec.Volume,
	}
	if err := m.api.SubmitOrder(insert, m.nextID()); err != nil {
		m.transition(record, StatusRejected, "insert request send failed")
		return ref, errs.New(string(ctp.ChannelTrader), errs.KindNetwork,
			errs.WithMessage("order insert send failed"), errs.WithCause(err))
	}
	return ref, nil
}

func validate(spec Spec) error {
	if strings.TrimSpace(spec.InstrumentID) == "" {
		return errs.New(string(ctp.ChannelTrader), errs.KindValidation,
			errs.WithMessage("instrument required"))
	}
	if spec.Volume <= 0 {
		return errs.New(string(ctp.ChannelTrader), errs.KindValidation,
			errs.WithMessage("volume must be positive"))
	}
	if spec.PriceType == ctp.PriceLimit && !spec.Price.IsPositive() {
		return errs.New(string(ctp.ChannelTrader), errs.KindValidation,
			errs.WithMessage("limit price must be positive"))
	}
	return nil
}

// Cancel issues a cancel for the referenced order. Orders already
// terminal or unknown are rejected locally without a vendor call.
func (m *Manager) Cancel(orderRef string) error {
	record, ok := m.orders[orderRef]
	if !ok {
		return errs.New(string(ctp.ChannelTrader), errs.KindState,
			errs.WithMessage("unknown order "+orderRef))
	}
	if record.Status.Terminal() {
		return errs.New(string(ctp.ChannelTrader), errs.KindState,
			errs.WithMessage("order "+orderRef+" already "+string(record.Status)))
	}
	if record.Status == StatusCancelling {
		// Cancel is idempotent while the first cancel is outstanding.
		return nil
	}

	action := ctp.OrderAction{
		OrderRef:     record.OrderRef,
		InstrumentID: record.InstrumentID,
		FrontID:      record.FrontID,
		SessionID:    record.SessionID,
	}
	if err := m.api.CancelOrder(action, m.nextID()); err != nil {
		return errs.New(string(ctp.ChannelTrader), errs.KindNetwork,
			errs.WithMessage("cancel send failed"), errs.WithCause(err))
	}
	m.transition(record, StatusCancelling, "")
	return nil
}

// OnOrder reconciles a vendor order-status callback into the local table.
func (m *Manager) OnOrder(order ctp.Order) {
	record, ok := m.orders[order.OrderRef]
	if !ok {
		// An order from a previous session of the same day; track it so
		// cancels and queries stay consistent.
		record = &Record{
			OrderRef:     order.OrderRef,
			InstrumentID: order.InstrumentID,
			Direction:    order.Direction,
			Offset:       order.Offset,
			Price:        order.Price,
			Volume:       order.VolumeTotal,
			Status:       StatusPending,
			FrontID:      order.FrontID,
			SessionID:    order.SessionID,
			InsertTime:   m.clock(),
		}
		m.orders[order.OrderRef] = record
	}

	next := statusFromVendor(order)
	record.TradedVolume = order.VolumeTraded
	if !transitionAllowed(record.Status, next) {
		observability.Log().Debug("order status callback ignored by transition table",
			observability.String("order_ref", order.OrderRef),
			observability.String("from", string(record.Status)),
			observability.String("to", string(next)))
		record.LastUpdate = m.clock()
		return
	}
	m.transition(record, next, order.StatusMsg)
}

// OnTrade appends the fill to the trade log and advances the order state.
func (m *Manager) OnTrade(trade ctp.Trade) {
	fill := events.TradeFill{
		TradeID:      trade.TradeID,
		OrderRef:     trade.OrderRef,
		InstrumentID: trade.InstrumentID,
		Price:        trade.Price,
		Volume:       trade.Volume,
	}
	m.trades = append(m.trades, fill)
	m.publish(events.New(events.KindTradeOccurred, ctp.ChannelTrader, fill))

	record, ok := m.orders[trade.OrderRef]
	if !ok {
		return
	}
	record.TradedVolume += trade.Volume
	if record.TradedVolume >= record.Volume {
		m.transition(record, StatusFilled, "")
		return
	}
	m.transition(record, StatusPartiallyFilled, "")
}

// OnInsertReject handles the front's rejection of an insert request.
func (m *Manager) OnInsertReject(orderRef string, rsp ctp.RspInfo) {
	record, ok := m.orders[orderRef]
	if !ok || rsp.OK() {
		return
	}
	m.transition(record, StatusRejected, rsp.ErrorMsg)
}

// OnActionReject handles the front's rejection of a cancel request. A
// rejected cancel for an order the fill already completed is expected and
// leaves the record as the fill left it.
func (m *Manager) OnActionReject(orderRef string, rsp ctp.RspInfo) {
	record, ok := m.orders[orderRef]
	if !ok || rsp.OK() {
		return
	}
	if record.Status != StatusCancelling {
		return
	}
	// The cancel cannot complete; the order keeps working.
	prior := StatusAccepted
	if record.TradedVolume > 0 {
		prior = StatusPartiallyFilled
	}
	record.Status = prior
	record.StatusMsg = rsp.ErrorMsg
	record.LastUpdate = m.clock()
	m.publishChange(record)
}

func statusFromVendor(order ctp.Order) Status {
	switch order.Status {
	case ctp.OrderStatusAllTraded:
		return StatusFilled
	case ctp.OrderStatusPartTradedQueueing:
		return StatusPartiallyFilled
	case ctp.OrderStatusNoTradeQueueing, ctp.OrderStatusUnknown:
		return StatusAccepted
	case ctp.OrderStatusCanceled:
		return StatusCancelled
	default:
		return StatusAccepted
	}
}

func (m *Manager) transition(record *Record, next Status, msg string) {
	record.Status = next
	if msg != "" {
		record.StatusMsg = msg
	}
	record.LastUpdate = m.clock()
	m.publishChange(record)
	if next.Terminal() {
		for _, ch := range m.waiters[record.OrderRef] {
			ch <- *record
			close(ch)
		}
		delete(m.waiters, record.OrderRef)
	}
}

func (m *Manager) publishChange(record *Record) {
	m.publish(events.New(events.KindOrderChanged, ctp.ChannelTrader, events.OrderUpdate{
		OrderRef:     record.OrderRef,
		InstrumentID: record.InstrumentID,
		Status:       string(record.Status),
		Price:        record.Price,
		Volume:       record.Volume,
		TradedVolume: record.TradedVolume,
		StatusMsg:    record.StatusMsg,
	}))
}

// Get returns a snapshot copy of one order.
func (m *Manager) Get(orderRef string) (Record, bool) {
	record, ok := m.orders[orderRef]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// Snapshot returns copies of all orders in the table.
func (m *Manager) Snapshot() []Record {
	out := make([]Record, 0, len(m.orders))
	for _, record := range m.orders {
		out = append(out, *record)
	}
	return out
}

// Trades returns a copy of the session's fill log.
func (m *Manager) Trades() []events.TradeFill {
	out := make([]events.TradeFill, len(m.trades))
	copy(out, m.trades)
	return out
}

// RegisterWait returns a channel that receives the record once the order
// reaches a terminal status. A terminal order resolves immediately.
func (m *Manager) RegisterWait(orderRef string) (<-chan Record, error) {
	record, ok := m.orders[orderRef]
	if !ok {
		return nil, errs.New(string(ctp.ChannelTrader), errs.KindState,
			errs.WithMessage("unknown order "+orderRef))
	}
	ch := make(chan Record, 1)
	if record.Status.Terminal() {
		ch <- *record
		close(ch)
		return ch, nil
	}
	m.waiters[orderRef] = append(m.waiters[orderRef], ch)
	return ch, nil
}
