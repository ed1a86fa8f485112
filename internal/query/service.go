// Package query correlates outbound query requests with asynchronous
// vendor responses, coalescing duplicate callers and caching results.
package query

import (
	"time"

	"github.com/tradewell/ctpgate/config"
	"github.com/tradewell/ctpgate/core/events"
	"github.com/tradewell/ctpgate/errs"
	"github.com/tradewell/ctpgate/internal/ctp"
	"github.com/tradewell/ctpgate/internal/observability"
)

// API is the vendor capability the service drives.
type API interface {
	Query(kind ctp.QueryKind, key string, requestID int) error
}

// Result is delivered to every caller attached to one request slot.
type Result struct {
	Payload any
	Err     *errs.E
}

type slotKey struct {
	kind ctp.QueryKind
	key  string
}

type slot struct {
	requestID int
	waiters   []chan Result
}

type cached struct {
	payload any
	at      time.Time
}

// Service owns query correlation state for the trading channel. It is
// owned by the trading run loop and is not safe for concurrent use.
type Service struct {
	api      API
	publish  func(events.Event)
	nextID   func() int
	schedule func(time.Duration, func())
	clock    func() time.Time

	timeout time.Duration
	ttl     map[ctp.QueryKind]time.Duration

	slots     map[slotKey]*slot
	byRequest map[int]slotKey
	cache     map[slotKey]cached
}

// NewService builds a query service over the vendor API. schedule arms
// the per-request timeout; it must run the callback on the owning loop.
func NewService(api API, policy config.QueryPolicy, nextID func() int, publish func(events.Event), schedule func(time.Duration, func())) *Service {
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		api:      api,
		publish:  publish,
		nextID:   nextID,
		schedule: schedule,
		clock:    time.Now,
		timeout:  timeout,
		ttl: map[ctp.QueryKind]time.Duration{
			ctp.QueryAccount:    policy.AccountTTL,
			ctp.QueryPositions:  policy.PositionsTTL,
			ctp.QueryOrders:     policy.OrdersTTL,
			ctp.QueryTrades:     policy.TradesTTL,
			ctp.QuerySettlement: policy.SettlementTTL,
		},
		slots:     make(map[slotKey]*slot),
		byRequest: make(map[int]slotKey),
		cache:     make(map[slotKey]cached),
	}
}

// SetClock injects a deterministic clock for tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// Begin starts or joins a query. A fresh-enough cached result is
// returned directly with hit=true and no vendor call. Otherwise the
// returned channel resolves when the matching response arrives or the
// request times out; a caller already waiting for the same (kind, key)
// shares the same vendor request.
func (s *Service) Begin(kind ctp.QueryKind, key string) (payload any, hit bool, ch <-chan Result, err error) {
	k := slotKey{kind: kind, key: key}

	if c, ok := s.cache[k]; ok {
		if ttl := s.ttl[kind]; ttl > 0 && s.clock().Sub(c.at) < ttl {
			return c.payload, true, nil, nil
		}
	}

	waiter := make(chan Result, 1)
	if existing, ok := s.slots[k]; ok {
		existing.waiters = append(existing.waiters, waiter)
		return nil, false, waiter, nil
	}

	requestID := s.nextID()
	if sendErr := s.api.Query(kind, key, requestID); sendErr != nil {
		return nil, false, nil, errs.New(string(ctp.ChannelTrader), errs.KindNetwork,
			errs.WithMessage("query send failed"), errs.WithCause(sendErr))
	}

	s.slots[k] = &slot{requestID: requestID, waiters: []chan Result{waiter}}
	s.byRequest[requestID] = k
	s.schedule(s.timeout, func() { s.OnTimeout(requestID) })
	return nil, false, waiter, nil
}

// OnTimeout expires the request if it is still outstanding. Every
// attached caller receives a timeout error and the slot is cleared so a
// later call reissues the query. The request-id mapping is kept for one
// more timeout period so a late vendor response can still populate the
// cache, then dropped for good.
func (s *Service) OnTimeout(requestID int) {
	k, ok := s.byRequest[requestID]
	if !ok {
		return
	}
	sl, ok := s.slots[k]
	if !ok || sl.requestID != requestID {
		return
	}
	delete(s.slots, k)
	s.schedule(s.timeout, func() { delete(s.byRequest, requestID) })
	resolve(sl, Result{Err: errs.Timeoutf(string(ctp.ChannelTrader), "query %s/%s request %d", k.kind, k.key, requestID)})
}

// OnResponse consumes a vendor query response matched by request id.
func (s *Service) OnResponse(requestID int, payload any, rsp ctp.RspInfo) {
	k, ok := s.byRequest[requestID]
	if !ok {
		observability.Log().Debug("query response without matching request",
			observability.Int("request_id", requestID))
		return
	}
	delete(s.byRequest, requestID)

	sl := s.slots[k]
	if sl != nil && sl.requestID != requestID {
		sl = nil
	}

	if !rsp.OK() {
		cause := errs.FromVendor(string(ctp.ChannelTrader), rsp.ErrorID, rsp.ErrorMsg)
		if sl != nil {
			delete(s.slots, k)
			resolve(sl, Result{Err: cause})
		}
		return
	}

	s.cache[k] = cached{payload: payload, at: s.clock()}
	if sl != nil {
		delete(s.slots, k)
		resolve(sl, Result{Payload: payload})
	}
	s.publish(events.New(events.KindQueryResolved, ctp.ChannelTrader, events.QueryResult{
		RequestID: requestID,
		Kind:      k.kind,
		Result:    payload,
	}))
}

// OnChannelDown fails every outstanding slot: the responses can no
// longer arrive on the dropped connection.
func (s *Service) OnChannelDown() {
	for k, sl := range s.slots {
		delete(s.slots, k)
		delete(s.byRequest, sl.requestID)
		resolve(sl, Result{Err: errs.New(string(ctp.ChannelTrader), errs.KindNetwork,
			errs.WithMessage("connection lost while query outstanding"))})
	}
}

func resolve(sl *slot, result Result) {
	for _, ch := range sl.waiters {
		ch <- result
		close(ch)
	}
	sl.waiters = nil
}
