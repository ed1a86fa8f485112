// Package marketdata maintains the desired subscription set and the
// priority-ordered queue of pending (un)subscribe operations.
package marketdata

import (
	"container/heap"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/tradewell/ctpgate/config"
	"github.com/tradewell/ctpgate/core/events"
	"github.com/tradewell/ctpgate/errs"
	"github.com/tradewell/ctpgate/internal/ctp"
	"github.com/tradewell/ctpgate/internal/observability"
)

// Priority orders pending subscription requests.
type Priority int

const (
	// PriorityLow is background housekeeping.
	PriorityLow Priority = iota
	// PriorityNormal is the default for application calls.
	PriorityNormal
	// PriorityHigh is used for resubscription after reconnect.
	PriorityHigh
	// PriorityUrgent preempts all queued requests, never in-flight ones.
	PriorityUrgent
)

// Operation distinguishes subscribe from unsubscribe requests.
type Operation int

const (
	// OpSubscribe requests streaming for an instrument.
	OpSubscribe Operation = iota
	// OpUnsubscribe stops streaming for an instrument.
	OpUnsubscribe
)

// API is the vendor capability the manager drives.
type API interface {
	Subscribe(instruments []string) error
	Unsubscribe(instruments []string) error
}

type request struct {
	instrument string
	op         Operation
	priority   Priority
	attempt    int
	seq        uint64
	superseded bool
}

type qkey struct {
	instrument string
	op         Operation
}

// Manager owns the desired subscription set and drains the pending queue
// one request at a time while the channel is ready. It is owned by the
// market-data run loop and is not safe for concurrent use.
type Manager struct {
	api      API
	publish  func(events.Event)
	schedule func(time.Duration, func())
	limiter  *rate.Limiter

	maxAttempts int

	desired  map[string]struct{}
	queue    requestHeap
	queued   map[qkey]*request
	inflight *request

	ready          bool
	everReady      bool
	seq            uint64
	drainScheduled bool
}

// NewManager builds a subscription manager over the vendor API.
// schedule is used to re-enter the drain loop after a pacing delay; it
// must run the callback on the owning loop.
func NewManager(api API, policy config.SubscriptionPolicy, publish func(events.Event), schedule func(time.Duration, func())) *Manager {
	perSecond := policy.RatePerSecond
	if perSecond <= 0 {
		perSecond = 50
	}
	burst := policy.Burst
	if burst <= 0 {
		burst = 1
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Manager{
		api:         api,
		publish:     publish,
		schedule:    schedule,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		maxAttempts: maxAttempts,
		desired:     make(map[string]struct{}),
		queued:      make(map[qkey]*request),
	}
}

// Subscribe adds the instruments to the desired set and queues subscribe
// requests at the given priority.
func (m *Manager) Subscribe(instruments []string, priority Priority) {
	for _, instrument := range instruments {
		if instrument == "" {
			continue
		}
		m.desired[instrument] = struct{}{}
		m.enqueue(instrument, OpSubscribe, priority, 0)
	}
	m.drain()
}

// Unsubscribe removes the instruments from the desired set and queues
// unsubscribe requests.
func (m *Manager) Unsubscribe(instruments []string) {
	for _, instrument := range instruments {
		if instrument == "" {
			continue
		}
		delete(m.desired, instrument)
		m.enqueue(instrument, OpUnsubscribe, PriorityNormal, 0)
	}
	m.drain()
}

// Desired returns a sorted snapshot of the desired subscription set.
func (m *Manager) Desired() []string {
	out := make([]string, 0, len(m.desired))
	for instrument := range m.desired {
		out = append(out, instrument)
	}
	sort.Strings(out)
	return out
}

// OnChannelReady reacts to the market-data channel entering Ready. A
// second Ready within the session is a reconnect: every desired
// instrument is re-enqueued at high priority because the exchange does
// not retain subscriptions across a dropped connection.
func (m *Manager) OnChannelReady() {
	m.ready = true
	if m.everReady {
		for instrument := range m.desired {
			m.enqueue(instrument, OpSubscribe, PriorityHigh, 0)
		}
	}
	m.everReady = true
	m.drain()
}

// OnChannelDown reacts to the channel leaving Ready. The in-flight
// request died with the connection; the queue is kept for the next Ready.
func (m *Manager) OnChannelDown() {
	m.ready = false
	m.inflight = nil
}

// OnAck consumes the vendor's answer to one (un)subscribe request.
func (m *Manager) OnAck(instrumentID string, op Operation, rsp ctp.RspInfo) {
	req := m.inflight
	if req == nil || req.instrument != instrumentID || req.op != op {
		observability.Log().Debug("subscription ack without matching in-flight request",
			observability.String("instrument", instrumentID))
	} else {
		m.inflight = nil
	}

	if rsp.OK() {
		m.publish(events.New(events.KindSubscriptionAck, ctp.ChannelMarketData, events.SubscriptionAck{
			InstrumentID: instrumentID,
			Subscribed:   op == OpSubscribe,
		}))
		m.drain()
		return
	}

	cause := errs.FromVendor(string(ctp.ChannelMarketData), rsp.ErrorID, rsp.ErrorMsg)
	if req != nil {
		m.retryOrFail(req, cause)
	}
	m.drain()
}

func (m *Manager) retryOrFail(req *request, cause *errs.E) {
	req.attempt++
	if cause.Retryable && req.attempt < m.maxAttempts {
		m.enqueue(req.instrument, req.op, req.priority, req.attempt)
		return
	}
	// Attempt cap exceeded or fatal: the instrument is evicted so that
	// resubscription does not resurrect a permanently failing request.
	delete(m.desired, req.instrument)
	m.publish(events.New(events.KindFault, ctp.ChannelMarketData, events.Fault{
		Err:     cause,
		Context: "subscription abandoned for " + req.instrument,
	}))
}

func (m *Manager) enqueue(instrument string, op Operation, priority Priority, attempt int) {
	key := qkey{instrument: instrument, op: op}
	if existing, ok := m.queued[key]; ok {
		// Newer request for the same instrument and operation supersedes
		// the queued one.
		existing.superseded = true
	}
	m.seq++
	req := &request{
		instrument: instrument,
		op:         op,
		priority:   priority,
		attempt:    attempt,
		seq:        m.seq,
	}
	m.queued[key] = req
	heap.Push(&m.queue, req)
}

// drain issues the next queued request if the channel is ready and no
// request is in flight. Issuance is paced to stay inside the front's
// control-call flow limits.
func (m *Manager) drain() {
	for {
		if !m.ready || m.inflight != nil || m.queue.Len() == 0 {
			return
		}

		reservation := m.limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			if !m.drainScheduled {
				m.drainScheduled = true
				m.schedule(delay, func() {
					m.drainScheduled = false
					m.drain()
				})
			}
			return
		}

		req := m.pop()
		if req == nil {
			return
		}

		m.inflight = req
		var err error
		if req.op == OpSubscribe {
			err = m.api.Subscribe([]string{req.instrument})
		} else {
			err = m.api.Unsubscribe([]string{req.instrument})
		}
		if err != nil {
			m.inflight = nil
			m.retryOrFail(req, errs.New(string(ctp.ChannelMarketData), errs.KindNetwork,
				errs.WithMessage("subscription request send failed"), errs.WithCause(err)))
			continue
		}
		return
	}
}

func (m *Manager) pop() *request {
	for m.queue.Len() > 0 {
		req := heap.Pop(&m.queue).(*request)
		if req.superseded {
			continue
		}
		key := qkey{instrument: req.instrument, op: req.op}
		if m.queued[key] == req {
			delete(m.queued, key)
		}
		return req
	}
	return nil
}

// requestHeap orders by priority descending, enqueue sequence ascending.
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*request)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
