// Package gateway assembles the channel run loops, the domain managers
// and the event bus into the client facade applications program against.
package gateway

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"github.com/tradewell/ctpgate/config"
	"github.com/tradewell/ctpgate/core/events"
	"github.com/tradewell/ctpgate/errs"
	"github.com/tradewell/ctpgate/internal/bus/eventbus"
	"github.com/tradewell/ctpgate/internal/ctp"
	"github.com/tradewell/ctpgate/internal/marketdata"
	"github.com/tradewell/ctpgate/internal/query"
	"github.com/tradewell/ctpgate/internal/session"
	"github.com/tradewell/ctpgate/internal/trading"
)

// traderTransport binds the configured credentials to the vendor calls
// the login handshake issues.
type traderTransport struct {
	api   ctp.TraderAPI
	creds ctp.Credentials
}

func (t traderTransport) Authenticate(requestID int) error {
	return t.api.Authenticate(t.creds, requestID)
}
func (t traderTransport) Login(requestID int) error { return t.api.Login(t.creds, requestID) }
func (t traderTransport) ConfirmSettlement(requestID int) error {
	return t.api.ConfirmSettlement(requestID)
}

type marketDataTransport struct {
	api   ctp.MarketDataAPI
	creds ctp.Credentials
}

// Authenticate is never reached: the market-data handshake starts at the
// login step.
func (t marketDataTransport) Authenticate(int) error { return nil }
func (t marketDataTransport) Login(requestID int) error {
	return t.api.Login(t.creds, requestID)
}
func (t marketDataTransport) ConfirmSettlement(int) error { return nil }

// Option customizes client construction.
type Option func(*options)

type options struct {
	metrics prometheus.Registerer
}

// WithMetrics registers event-bus delivery metrics with the given
// registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.metrics = reg }
}

// Client is the orchestration facade over both gateway channels.
type Client struct {
	cfg   config.Gateway
	bus   *eventbus.MemoryBus
	mdAPI ctp.MarketDataAPI
	tdAPI ctp.TraderAPI

	md *channelRuntime
	td *channelRuntime

	subs    *marketdata.Manager
	orders  *trading.Manager
	queries *query.Service

	loops     conc.WaitGroup
	closeOnce sync.Once
}

// New wires a client over the two vendor channel APIs and starts the run
// loops. No connection is attempted until Connect.
func New(cfg config.Gateway, mdAPI ctp.MarketDataAPI, tdAPI ctp.TraderAPI, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	busCfg := eventbus.MemoryConfig{QueueSize: cfg.Bus.QueueSize}
	if o.metrics != nil {
		busCfg.Metrics = eventbus.NewDeliveryMetrics(o.metrics)
	}
	bus := eventbus.NewMemoryBus(busCfg)
	publish := bus.Publish
	creds := ctp.Credentials{
		BrokerID: cfg.Credentials.BrokerID,
		UserID:   cfg.Credentials.UserID,
		Password: cfg.Credentials.Password,
		AppID:    cfg.Credentials.AppID,
		AuthCode: cfg.Credentials.AuthCode,
	}

	c := &Client{
		cfg:   cfg,
		bus:   bus,
		mdAPI: mdAPI,
		tdAPI: tdAPI,
	}

	c.md = newRuntime(ctp.ChannelMarketData, cfg.MarketDataFronts, cfg, publish, mdAPI.Connect)
	c.md.seqr = session.NewSequencer(ctp.ChannelMarketData,
		marketDataTransport{api: mdAPI, creds: creds},
		c.md.nextRequestID, cfg.Auth.MaxRetries, creds.BrokerID, creds.UserID)
	c.subs = marketdata.NewManager(mdAPI, cfg.Subscription, publish, c.md.schedule)
	c.md.onReady = func(session.Handle) { c.subs.OnChannelReady() }
	c.md.onDown = c.subs.OnChannelDown
	c.md.dispatch = c.dispatchMarketData

	c.td = newRuntime(ctp.ChannelTrader, cfg.TraderFronts, cfg, publish, tdAPI.Connect)
	c.td.seqr = session.NewSequencer(ctp.ChannelTrader,
		traderTransport{api: tdAPI, creds: creds},
		c.td.nextRequestID, cfg.Auth.MaxRetries, creds.BrokerID, creds.UserID)
	c.orders = trading.NewManager(tdAPI, c.td.nextRequestID, publish)
	c.queries = query.NewService(tdAPI, cfg.Query, c.td.nextRequestID, publish, c.td.schedule)
	c.td.onReady = c.orders.SetSession
	c.td.onDown = c.queries.OnChannelDown
	c.td.dispatch = c.dispatchTrader

	mdAPI.SetReceiver(c.md)
	tdAPI.SetReceiver(c.td)
	c.loops.Go(c.md.run)
	c.loops.Go(c.td.run)
	return c, nil
}

func (c *Client) dispatchMarketData(msg ctp.Message) {
	switch m := msg.(type) {
	case ctp.TickData:
		c.bus.Publish(events.New(events.KindMarketTick, ctp.ChannelMarketData, m.Tick))
	case ctp.RspSubscribe:
		c.subs.OnAck(m.InstrumentID, marketdata.OpSubscribe, m.Rsp)
	case ctp.RspUnsubscribe:
		c.subs.OnAck(m.InstrumentID, marketdata.OpUnsubscribe, m.Rsp)
	}
}

func (c *Client) dispatchTrader(msg ctp.Message) {
	switch m := msg.(type) {
	case ctp.OrderUpdate:
		c.orders.OnOrder(m.Order)
	case ctp.TradeUpdate:
		c.orders.OnTrade(m.Trade)
	case ctp.RspOrderInsert:
		c.orders.OnInsertReject(m.OrderRef, m.Rsp)
	case ctp.RspOrderAction:
		c.orders.OnActionReject(m.OrderRef, m.Rsp)
	case ctp.RspQuery:
		c.queries.OnResponse(m.RequestID, m.Payload, m.Rsp)
	}
}

// Connect brings both channels up and blocks until each finished its
// login handshake, the handshake failed, or the context expired.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	mdReady := make(chan error, 1)
	tdReady := make(chan error, 1)
	if err := c.md.post(func() { c.md.ensureUp(mdReady) }); err != nil {
		return err
	}
	if err := c.td.post(func() { c.td.ensureUp(tdReady) }); err != nil {
		return err
	}
	for _, ready := range []chan error{mdReady, tdReady} {
		select {
		case err := <-ready:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Disconnect tears both channels down without releasing the vendor APIs.
// No reconnect is attempted until the next Connect.
func (c *Client) Disconnect() {
	_ = c.md.exec(c.md.goDown)
	_ = c.td.exec(c.td.goDown)
}

// Close stops the run loops, releases the vendor APIs and shuts the bus.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.md.quit)
		close(c.td.quit)
		c.loops.Wait()
		c.mdAPI.Release()
		c.tdAPI.Release()
		c.bus.Close()
	})
}

// OnEvent registers a listener on the event bus. name labels the
// listener in logs and metrics.
func (c *Client) OnEvent(name string, policy eventbus.Policy, fn eventbus.Listener) eventbus.Subscription {
	return c.bus.Subscribe(name, policy, fn)
}

// Subscribe adds instruments to the desired market-data set. The request
// is queued and survives reconnects; acknowledgment arrives as a
// SubscriptionAck event.
func (c *Client) Subscribe(instruments []string, priority marketdata.Priority) error {
	return c.md.post(func() { c.subs.Subscribe(instruments, priority) })
}

// Unsubscribe removes instruments from the desired market-data set.
func (c *Client) Unsubscribe(instruments []string) error {
	return c.md.post(func() { c.subs.Unsubscribe(instruments) })
}

// Subscriptions returns the desired instrument set, sorted.
func (c *Client) Subscriptions() ([]string, error) {
	var out []string
	if err := c.md.exec(func() { out = c.subs.Desired() }); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitOrder validates and submits one order. The returned reference
// identifies the order in events and later calls; the exchange's
// acknowledgment arrives asynchronously as OrderChanged events.
func (c *Client) SubmitOrder(spec trading.Spec) (string, error) {
	var (
		ref string
		err error
	)
	if execErr := c.td.exec(func() {
		if c.td.state != session.Ready {
			err = errs.New(string(ctp.ChannelTrader), errs.KindState,
				errs.WithMessage("trader channel not ready"))
			return
		}
		ref, err = c.orders.Submit(spec)
	}); execErr != nil {
		return "", execErr
	}
	return ref, err
}

// CancelOrder requests cancellation of a working order. Unknown or
// already-terminal orders fail locally without a vendor call.
func (c *Client) CancelOrder(orderRef string) error {
	var err error
	if execErr := c.td.exec(func() {
		if c.td.state != session.Ready {
			err = errs.New(string(ctp.ChannelTrader), errs.KindState,
				errs.WithMessage("trader channel not ready"))
			return
		}
		err = c.orders.Cancel(orderRef)
	}); execErr != nil {
		return execErr
	}
	return err
}

// WaitTerminal blocks until the order reaches a terminal status and
// returns the final record.
func (c *Client) WaitTerminal(ctx context.Context, orderRef string) (trading.Record, error) {
	var (
		ch  <-chan trading.Record
		err error
	)
	if execErr := c.td.exec(func() { ch, err = c.orders.RegisterWait(orderRef) }); execErr != nil {
		return trading.Record{}, execErr
	}
	if err != nil {
		return trading.Record{}, err
	}
	select {
	case record := <-ch:
		return record, nil
	case <-ctx.Done():
		return trading.Record{}, ctx.Err()
	case <-c.td.done:
		return trading.Record{}, errClosed(ctp.ChannelTrader)
	}
}

// Order returns a snapshot of one order record.
func (c *Client) Order(orderRef string) (trading.Record, bool, error) {
	var (
		record trading.Record
		ok     bool
	)
	if err := c.td.exec(func() { record, ok = c.orders.Get(orderRef) }); err != nil {
		return trading.Record{}, false, err
	}
	return record, ok, nil
}

// Orders returns snapshots of every order tracked this session.
func (c *Client) Orders() ([]trading.Record, error) {
	var out []trading.Record
	if err := c.td.exec(func() { out = c.orders.Snapshot() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Trades returns the session's fill log.
func (c *Client) Trades() ([]events.TradeFill, error) {
	var out []events.TradeFill
	if err := c.td.exec(func() { out = c.orders.Trades() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Query issues (or joins, or serves from cache) one trading-channel
// query and blocks for the result.
func (c *Client) Query(ctx context.Context, kind ctp.QueryKind, key string) (any, error) {
	var (
		payload any
		hit     bool
		ch      <-chan query.Result
		err     error
	)
	begin := func() {
		if c.td.state != session.Ready {
			err = errs.New(string(ctp.ChannelTrader), errs.KindState,
				errs.WithMessage("trader channel not ready"))
			return
		}
		payload, hit, ch, err = c.queries.Begin(kind, key)
	}
	if execErr := c.td.exec(begin); execErr != nil {
		return nil, execErr
	}
	if err != nil {
		return nil, err
	}
	if hit {
		return payload, nil
	}
	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.td.done:
		return nil, errClosed(ctp.ChannelTrader)
	}
}

// State reports the lifecycle position of one channel.
func (c *Client) State(channel ctp.Channel) (session.State, error) {
	r := c.runtime(channel)
	var state session.State
	if err := r.exec(func() { state = r.state }); err != nil {
		return session.Disconnected, err
	}
	return state, nil
}

// Session returns the trading channel's session identity; zero until the
// first successful login.
func (c *Client) Session() (session.Handle, error) {
	var handle session.Handle
	if err := c.td.exec(func() { handle = c.td.seqr.Handle() }); err != nil {
		return session.Handle{}, err
	}
	return handle, nil
}

func (c *Client) runtime(channel ctp.Channel) *channelRuntime {
	if channel == ctp.ChannelMarketData {
		return c.md
	}
	return c.td
}
