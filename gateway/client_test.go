package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradewell/ctpgate/config"
	"github.com/tradewell/ctpgate/core/events"
	"github.com/tradewell/ctpgate/errs"
	"github.com/tradewell/ctpgate/internal/bus/eventbus"
	"github.com/tradewell/ctpgate/internal/ctp"
	"github.com/tradewell/ctpgate/internal/ctp/ctpsim"
	"github.com/tradewell/ctpgate/internal/marketdata"
	"github.com/tradewell/ctpgate/internal/session"
	"github.com/tradewell/ctpgate/internal/trading"
)

func testConfig() config.Gateway {
	cfg := config.Default()
	cfg.MarketDataFronts = []string{"tcp://md.test:41213"}
	cfg.TraderFronts = []string{"tcp://td.test:41205"}
	cfg.Credentials = config.Credentials{
		BrokerID: "9999",
		UserID:   "100001",
		Password: "secret",
		AppID:    "app",
		AuthCode: "code",
	}
	cfg.ConnectTimeout = 5 * time.Second
	cfg.Reconnect.InitialInterval = 5 * time.Millisecond
	cfg.Reconnect.MaxInterval = 20 * time.Millisecond
	cfg.Reconnect.MaxAttempts = 5
	return cfg
}

func simLogin() ctp.LoginField {
	return ctp.LoginField{TradingDay: "20260829", FrontID: 7, SessionID: 42, MaxOrderRef: "1"}
}

type harness struct {
	t      *testing.T
	client *Client
	md     *ctpsim.Sim
	td     *ctpsim.Sim
	events chan events.Event
}

func newHarness(t *testing.T, mdOpts, tdOpts ctpsim.Options) *harness {
	t.Helper()
	md := ctpsim.New(mdOpts)
	td := ctpsim.New(tdOpts)
	client, err := New(testConfig(), md, td)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ch := make(chan events.Event, 512)
	client.OnEvent("test-collector", eventbus.DropOldest, func(evt events.Event) {
		ch <- evt
	})
	return &harness{t: t, client: client, md: md, td: td, events: ch}
}

func (h *harness) waitEvent(kind events.Kind) events.Event {
	h.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-h.events:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func (h *harness) connect() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.client.Connect(ctx))
}

func TestConnectCompletesBothHandshakes(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{Login: simLogin()})
	h.connect()

	handle, err := h.client.Session()
	require.NoError(t, err)
	require.Equal(t, 7, handle.FrontID)
	require.Equal(t, 42, handle.SessionID)
	require.Equal(t, "20260829", handle.TradingDay)

	for _, channel := range []ctp.Channel{ctp.ChannelMarketData, ctp.ChannelTrader} {
		state, err := h.client.State(channel)
		require.NoError(t, err)
		require.Equal(t, session.Ready, state)
	}
	h.waitEvent(events.KindSettlementConfirmed)
}

func TestConnectFailsOnFatalLoginError(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{
		Login:    simLogin(),
		LoginRsp: ctp.RspInfo{ErrorID: 3, ErrorMsg: "invalid password"},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.client.Connect(ctx)
	require.Error(t, err)
	require.False(t, errs.Retryable(err))
	h.waitEvent(events.KindLoginFailed)
}

func TestReconnectBudgetExhaustionFaults(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{
		Login:      simLogin(),
		ConnectErr: errors.New("front unreachable"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.client.Connect(ctx)
	require.Error(t, err)
	require.Equal(t, errs.KindConnection, errs.KindOf(err))

	fault := h.waitEvent(events.KindFault)
	require.Equal(t, ctp.ChannelTrader, fault.Channel)
	require.Equal(t, "reconnect", fault.Payload.(events.Fault).Context)

	// The budget is spent; the runtime must stop dialing on its own.
	attempts := h.td.Connects()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, attempts, h.td.Connects())

	state, err := h.client.State(ctp.ChannelTrader)
	require.NoError(t, err)
	require.Equal(t, session.Disconnected, state)
}

func TestSubscribeDeliversAckAndTicks(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{Login: simLogin()})
	h.connect()

	require.NoError(t, h.client.Subscribe([]string{"cu2509"}, marketdata.PriorityNormal))
	ack := h.waitEvent(events.KindSubscriptionAck)
	payload := ack.Payload.(events.SubscriptionAck)
	require.Equal(t, "cu2509", payload.InstrumentID)
	require.True(t, payload.Subscribed)

	h.md.EmitTick(ctp.Tick{InstrumentID: "cu2509", LastPrice: decimal.NewFromInt(71230)})
	tick := h.waitEvent(events.KindMarketTick)
	require.Equal(t, "cu2509", tick.Payload.(ctp.Tick).InstrumentID)

	desired, err := h.client.Subscriptions()
	require.NoError(t, err)
	require.Equal(t, []string{"cu2509"}, desired)
}

func TestResubscribeAfterDrop(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{Login: simLogin()})
	h.connect()

	require.NoError(t, h.client.Subscribe([]string{"cu2509"}, marketdata.PriorityNormal))
	h.waitEvent(events.KindSubscriptionAck)

	h.md.Drop(0x1001)
	h.waitEvent(events.KindDisconnected)
	h.waitEvent(events.KindLoginSucceeded)

	// The exchange forgot the subscription with the connection; the
	// desired set is replayed without another Subscribe call.
	ack := h.waitEvent(events.KindSubscriptionAck)
	require.Equal(t, "cu2509", ack.Payload.(events.SubscriptionAck).InstrumentID)
}

func TestOrderFillsThroughLifecycle(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{
		Login:      simLogin(),
		AutoAccept: true,
		AutoFill:   true,
	})
	h.connect()

	ref, err := h.client.SubmitOrder(trading.Spec{
		InstrumentID: "cu2509",
		Direction:    ctp.DirectionBuy,
		Offset:       ctp.OffsetOpen,
		PriceType:    ctp.PriceLimit,
		Price:        decimal.NewFromInt(71230),
		Volume:       2,
	})
	require.NoError(t, err)
	require.Equal(t, "000000000002", ref)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	final, err := h.client.WaitTerminal(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, trading.StatusFilled, final.Status)
	require.Equal(t, 2, final.TradedVolume)

	trades, err := h.client.Trades()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, ref, trades[0].OrderRef)
}

func TestCancelWorkingOrder(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{
		Login:      simLogin(),
		AutoAccept: true,
	})
	h.connect()

	ref, err := h.client.SubmitOrder(trading.Spec{
		InstrumentID: "cu2509",
		Direction:    ctp.DirectionSell,
		Offset:       ctp.OffsetOpen,
		PriceType:    ctp.PriceLimit,
		Price:        decimal.NewFromInt(71500),
		Volume:       1,
	})
	require.NoError(t, err)

	require.NoError(t, h.client.CancelOrder(ref))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	final, err := h.client.WaitTerminal(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, trading.StatusCancelled, final.Status)
}

func TestCancelUnknownOrderFailsLocally(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{Login: simLogin()})
	h.connect()

	err := h.client.CancelOrder("no-such-ref")
	require.Error(t, err)
	require.True(t, errs.IsState(err))
}

func TestQueryServesSecondCallerFromCache(t *testing.T) {
	calls := 0
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{
		Login: simLogin(),
		QueryPayload: func(kind ctp.QueryKind, key string) (any, ctp.RspInfo) {
			calls++
			return ctp.Account{AccountID: key, Balance: decimal.NewFromInt(1_000_000)}, ctp.RspInfo{}
		},
	})
	h.connect()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	first, err := h.client.Query(ctx, ctp.QueryAccount, "100001")
	require.NoError(t, err)
	require.Equal(t, "100001", first.(ctp.Account).AccountID)

	second, err := h.client.Query(ctx, ctp.QueryAccount, "100001")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestQueryBeforeReadyFailsWithStateError(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{Login: simLogin()})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := h.client.Query(ctx, ctp.QueryAccount, "100001")
	require.Error(t, err)
	require.True(t, errs.IsState(err))
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{Login: simLogin()})
	h.connect()

	h.client.Disconnect()
	h.waitEvent(events.KindDisconnected)

	time.Sleep(50 * time.Millisecond)
	state, err := h.client.State(ctp.ChannelTrader)
	require.NoError(t, err)
	require.Equal(t, session.Disconnected, state)
}

func TestDisconnectClearsSessionHandle(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{Login: simLogin()})
	h.connect()

	handle, err := h.client.Session()
	require.NoError(t, err)
	require.False(t, handle.Zero())

	h.client.Disconnect()

	handle, err = h.client.Session()
	require.NoError(t, err)
	require.True(t, handle.Zero())
}

func TestOrderRefsSurviveRelogin(t *testing.T) {
	h := newHarness(t, ctpsim.Options{}, ctpsim.Options{
		Login:      simLogin(),
		AutoAccept: true,
	})
	h.connect()

	first, err := h.client.SubmitOrder(trading.Spec{
		InstrumentID: "cu2509",
		Direction:    ctp.DirectionBuy,
		Offset:       ctp.OffsetOpen,
		PriceType:    ctp.PriceLimit,
		Price:        decimal.NewFromInt(71230),
		Volume:       1,
	})
	require.NoError(t, err)

	h.td.Drop(0x1001)
	h.waitEvent(events.KindDisconnected)
	h.waitEvent(events.KindLoginSucceeded)

	second, err := h.client.SubmitOrder(trading.Spec{
		InstrumentID: "cu2509",
		Direction:    ctp.DirectionBuy,
		Offset:       ctp.OffsetOpen,
		PriceType:    ctp.PriceLimit,
		Price:        decimal.NewFromInt(71230),
		Volume:       1,
	})
	require.NoError(t, err)
	require.Greater(t, second, first)
}
