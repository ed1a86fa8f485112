package marketdata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewell/ctpgate/config"
	"github.com/tradewell/ctpgate/core/events"
	"github.com/tradewell/ctpgate/internal/ctp"
)

type recordingAPI struct {
	calls   []string
	failSub error
}

func (a *recordingAPI) Subscribe(instruments []string) error {
	a.calls = append(a.calls, "sub:"+instruments[0])
	return a.failSub
}

func (a *recordingAPI) Unsubscribe(instruments []string) error {
	a.calls = append(a.calls, "unsub:"+instruments[0])
	return nil
}

type harness struct {
	api    *recordingAPI
	mgr    *Manager
	events []events.Event
	timers []func()
}

func newHarness(t *testing.T, policy config.SubscriptionPolicy) *harness {
	t.Helper()
	h := &harness{api: &recordingAPI{}}
	if policy.RatePerSecond == 0 {
		policy.RatePerSecond = 1000
		policy.Burst = 1000
	}
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 3
	}
	h.mgr = NewManager(h.api,
		policy,
		func(evt events.Event) { h.events = append(h.events, evt) },
		func(_ time.Duration, fn func()) { h.timers = append(h.timers, fn) })
	return h
}

func (h *harness) ackNext(t *testing.T) {
	t.Helper()
	require.NotEmpty(t, h.api.calls)
	last := h.api.calls[len(h.api.calls)-1]
	op := OpSubscribe
	instrument := last[4:]
	if last[0] == 'u' {
		op = OpUnsubscribe
		instrument = last[6:]
	}
	h.mgr.OnAck(instrument, op, ctp.RspInfo{})
}

func TestSubscribeQueuesUntilReady(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{})
	h.mgr.Subscribe([]string{"rb2510"}, PriorityNormal)
	require.Empty(t, h.api.calls)

	h.mgr.OnChannelReady()
	require.Equal(t, []string{"sub:rb2510"}, h.api.calls)
}

func TestPriorityOrderWithFIFOTies(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{})
	h.mgr.Subscribe([]string{"a1"}, PriorityLow)
	h.mgr.Subscribe([]string{"n1"}, PriorityNormal)
	h.mgr.Subscribe([]string{"n2"}, PriorityNormal)
	h.mgr.Subscribe([]string{"u1"}, PriorityUrgent)

	h.mgr.OnChannelReady()
	h.ackNext(t)
	h.ackNext(t)
	h.ackNext(t)
	h.ackNext(t)

	require.Equal(t, []string{"sub:u1", "sub:n1", "sub:n2", "sub:a1"}, h.api.calls)
}

func TestUrgentNeverPreemptsInflight(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{})
	h.mgr.OnChannelReady()
	h.mgr.Subscribe([]string{"n1"}, PriorityNormal) // goes in flight
	h.mgr.Subscribe([]string{"u1"}, PriorityUrgent)

	require.Equal(t, []string{"sub:n1"}, h.api.calls)
	h.mgr.OnAck("n1", OpSubscribe, ctp.RspInfo{})
	require.Equal(t, []string{"sub:n1", "sub:u1"}, h.api.calls)
}

func TestDedupCollapsesSameInstrumentAndOp(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{})
	h.mgr.Subscribe([]string{"rb2510"}, PriorityNormal)
	h.mgr.Subscribe([]string{"rb2510"}, PriorityNormal)
	h.mgr.Subscribe([]string{"rb2510"}, PriorityHigh)

	h.mgr.OnChannelReady()
	h.ackNext(t)
	require.Equal(t, []string{"sub:rb2510"}, h.api.calls)
}

func TestLastWriteWinsOnDesiredSet(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{})
	h.mgr.OnChannelReady()

	h.mgr.Subscribe([]string{"rb2510"}, PriorityNormal)
	h.ackNext(t)
	h.mgr.Unsubscribe([]string{"rb2510"})
	h.ackNext(t)
	h.mgr.Subscribe([]string{"rb2510"}, PriorityNormal)
	h.ackNext(t)
	h.mgr.Unsubscribe([]string{"rb2510"})
	h.ackNext(t)

	require.Equal(t, []string{"sub:rb2510", "unsub:rb2510", "sub:rb2510", "unsub:rb2510"}, h.api.calls)
	require.Empty(t, h.mgr.Desired())
}

func TestResubscribeAfterReconnect(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{})
	h.mgr.OnChannelReady()

	h.mgr.Subscribe([]string{"rb2510", "au2512"}, PriorityNormal)
	h.ackNext(t)
	h.ackNext(t)
	require.Len(t, h.api.calls, 2)

	// one request in flight at the moment of the drop
	h.mgr.Subscribe([]string{"cu2509"}, PriorityNormal)
	require.Len(t, h.api.calls, 3)
	h.mgr.OnChannelDown()

	h.mgr.OnChannelReady()
	h.ackNext(t)
	h.ackNext(t)
	h.ackNext(t)

	fresh := h.api.calls[3:]
	require.Len(t, fresh, 3)
	seen := map[string]int{}
	for _, call := range fresh {
		seen[call]++
	}
	// exactly one fresh subscribe per desired instrument
	require.Equal(t, map[string]int{"sub:rb2510": 1, "sub:au2512": 1, "sub:cu2509": 1}, seen)
}

func TestFirstReadyIsNotAResubscription(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{})
	h.mgr.Subscribe([]string{"rb2510"}, PriorityNormal)
	h.mgr.OnChannelReady()
	h.ackNext(t)
	require.Equal(t, []string{"sub:rb2510"}, h.api.calls)
}

func TestRetryableVendorErrorRequeuesWithAttempt(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{MaxAttempts: 3})
	h.mgr.OnChannelReady()
	h.mgr.Subscribe([]string{"rb2510"}, PriorityNormal)

	h.mgr.OnAck("rb2510", OpSubscribe, ctp.RspInfo{ErrorID: -9, ErrorMsg: "front inactive"})
	h.mgr.OnAck("rb2510", OpSubscribe, ctp.RspInfo{ErrorID: -9, ErrorMsg: "front inactive"})
	require.Equal(t, []string{"sub:rb2510", "sub:rb2510", "sub:rb2510"}, h.api.calls)
	require.Empty(t, h.events)

	// third failure exhausts the attempt budget
	h.mgr.OnAck("rb2510", OpSubscribe, ctp.RspInfo{ErrorID: -9, ErrorMsg: "front inactive"})
	require.Len(t, h.api.calls, 3)
	require.Len(t, h.events, 1)
	require.Equal(t, events.KindFault, h.events[0].Kind)
	require.Empty(t, h.mgr.Desired())
}

func TestFatalVendorErrorFaultsImmediately(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{MaxAttempts: 3})
	h.mgr.OnChannelReady()
	h.mgr.Subscribe([]string{"bad"}, PriorityNormal)

	h.mgr.OnAck("bad", OpSubscribe, ctp.RspInfo{ErrorID: 16, ErrorMsg: "no such instrument"})
	require.Len(t, h.api.calls, 1)
	require.Len(t, h.events, 1)
	require.Equal(t, events.KindFault, h.events[0].Kind)
	require.Empty(t, h.mgr.Desired())
}

func TestSendFailureRetries(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{MaxAttempts: 2})
	h.api.failSub = errors.New("pipe broken")
	h.mgr.OnChannelReady()
	h.mgr.Subscribe([]string{"rb2510"}, PriorityNormal)

	// initial try plus one retry, then fault
	require.Equal(t, []string{"sub:rb2510", "sub:rb2510"}, h.api.calls)
	require.Len(t, h.events, 1)
	require.Equal(t, events.KindFault, h.events[0].Kind)
}

func TestAckPublishesSubscriptionAck(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{})
	h.mgr.OnChannelReady()
	h.mgr.Subscribe([]string{"rb2510"}, PriorityNormal)
	h.mgr.OnAck("rb2510", OpSubscribe, ctp.RspInfo{})

	require.Len(t, h.events, 1)
	require.Equal(t, events.KindSubscriptionAck, h.events[0].Kind)
	ack := h.events[0].Payload.(events.SubscriptionAck)
	require.True(t, ack.Subscribed)
	require.Equal(t, "rb2510", ack.InstrumentID)
}

func TestPacingDefersDrainToScheduledTimer(t *testing.T) {
	h := newHarness(t, config.SubscriptionPolicy{RatePerSecond: 1, Burst: 1, MaxAttempts: 3})
	h.mgr.OnChannelReady()
	h.mgr.Subscribe([]string{"a", "b"}, PriorityNormal)

	// burst of one: the first request goes out, the second waits on a timer
	require.Equal(t, []string{"sub:a"}, h.api.calls)
	h.mgr.OnAck("a", OpSubscribe, ctp.RspInfo{})
	require.Len(t, h.api.calls, 1)
	require.NotEmpty(t, h.timers)
}
