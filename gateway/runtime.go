package gateway

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tradewell/ctpgate/config"
	"github.com/tradewell/ctpgate/core/events"
	"github.com/tradewell/ctpgate/errs"
	"github.com/tradewell/ctpgate/internal/ctp"
	"github.com/tradewell/ctpgate/internal/observability"
	"github.com/tradewell/ctpgate/internal/session"
)

// inboxSize bounds the vendor-callback queue. Overflow drops the message
// rather than blocking the vendor thread.
const inboxSize = 4096

// channelRuntime is the single-consumer run loop owning one channel's
// mutable state. Vendor callbacks arrive through the inbox, application
// calls through cmds; only the loop goroutine touches the fields below
// the channel declarations.
type channelRuntime struct {
	channel ctp.Channel
	fronts  []string
	auth    config.AuthPolicy
	publish func(events.Event)
	connect func(fronts []string) error

	inbox chan ctp.Message
	cmds  chan func()
	quit  chan struct{}
	done  chan struct{}

	dropped atomic.Int64

	seqr  *session.Sequencer
	recon *session.Reconnector

	state   session.State
	wantUp  bool
	waiters []chan error
	reqID   int

	// role hooks, run on the loop goroutine
	onReady  func(handle session.Handle)
	onDown   func()
	dispatch func(msg ctp.Message)
}

func newRuntime(channel ctp.Channel, fronts []string, cfg config.Gateway,
	publish func(events.Event), connect func(fronts []string) error) *channelRuntime {
	return &channelRuntime{
		channel: channel,
		fronts:  fronts,
		auth:    cfg.Auth,
		publish: publish,
		connect: connect,
		inbox:   make(chan ctp.Message, inboxSize),
		cmds:    make(chan func(), 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		recon:   session.NewReconnector(cfg.Reconnect),
	}
}

// OnMessage implements ctp.Receiver. It never blocks: the inbox is
// bounded and overflow is dropped and counted, because the calling
// thread belongs to the vendor SDK.
func (r *channelRuntime) OnMessage(msg ctp.Message) {
	select {
	case r.inbox <- msg:
	default:
		dropped := r.dropped.Add(1)
		observability.Log().Warn("vendor inbox overflow, message dropped",
			observability.String("channel", string(r.channel)))
		// The fault is published from the loop; this thread must not block.
		select {
		case r.cmds <- func() {
			r.publish(events.New(events.KindFault, r.channel, events.Fault{
				Err: errs.New(string(r.channel), errs.KindProtocol,
					errs.WithMessage("vendor inbox overflow")),
				Context: fmt.Sprintf("dropped=%d", dropped),
			}))
		}:
		default:
		}
	}
}

// Dropped reports how many vendor callbacks were discarded on overflow.
func (r *channelRuntime) Dropped() int64 { return r.dropped.Load() }

func (r *channelRuntime) run() {
	defer close(r.done)
	for {
		select {
		case msg := <-r.inbox:
			r.handleMessage(msg)
		case cmd := <-r.cmds:
			cmd()
		case <-r.quit:
			r.wantUp = false
			r.failWaiters(errs.New(string(r.channel), errs.KindState,
				errs.WithMessage("gateway closed")))
			return
		}
	}
}

// post hands a command to the loop without waiting for it to run.
func (r *channelRuntime) post(fn func()) error {
	select {
	case r.cmds <- fn:
		return nil
	case <-r.done:
		return errClosed(r.channel)
	}
}

// exec hands a command to the loop and waits until it ran.
func (r *channelRuntime) exec(fn func()) error {
	ran := make(chan struct{})
	err := r.post(func() {
		fn()
		close(ran)
	})
	if err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-r.done:
		return errClosed(r.channel)
	}
}

// schedule arms a timer whose callback runs on the loop goroutine.
func (r *channelRuntime) schedule(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		select {
		case r.cmds <- fn:
		case <-r.done:
		}
	})
}

func (r *channelRuntime) nextRequestID() int {
	r.reqID++
	return r.reqID
}

func errClosed(channel ctp.Channel) *errs.E {
	return errs.New(string(channel), errs.KindState, errs.WithMessage("gateway closed"))
}

func (r *channelRuntime) handleMessage(msg ctp.Message) {
	switch m := msg.(type) {
	case ctp.FrontConnected:
		if !r.wantUp {
			// A connect that raced a deliberate Disconnect.
			return
		}
		r.state = session.Connected
		r.publish(events.New(events.KindConnected, r.channel, nil))
		r.applyAuth(r.seqr.Begin())
	case ctp.FrontDisconnected:
		r.handleDown(m.Reason)
	case ctp.RspAuthenticate:
		r.applyAuth(r.seqr.HandleAuthenticate(m.Rsp))
	case ctp.RspLogin:
		r.applyAuth(r.seqr.HandleLogin(m.Login, m.Rsp))
	case ctp.RspSettlementConfirm:
		if m.Rsp.OK() {
			r.publish(events.New(events.KindSettlementConfirmed, r.channel, nil))
		}
		r.applyAuth(r.seqr.HandleSettlement(m.Rsp))
	default:
		if r.dispatch != nil {
			r.dispatch(msg)
		}
	}
}

// applyAuth reacts to one sequencer verdict.
func (r *channelRuntime) applyAuth(res session.Result) {
	switch res {
	case session.ResultPending:
		r.state = r.seqr.State()
		seq := r.seqr.Seq()
		r.schedule(r.auth.StepTimeout, func() {
			r.applyAuth(r.seqr.HandleTimeout(seq))
		})
	case session.ResultReady:
		handle := r.seqr.Handle()
		r.state = session.Ready
		r.recon.Reset()
		r.publish(events.New(events.KindLoginSucceeded, r.channel, events.SessionInfo{
			FrontID:    handle.FrontID,
			SessionID:  handle.SessionID,
			TradingDay: handle.TradingDay,
			UserID:     handle.UserID,
		}))
		if r.onReady != nil {
			r.onReady(handle)
		}
		r.resolveWaiters()
	case session.ResultFailed:
		failure := r.seqr.Failure()
		r.seqr.Reset()
		r.publish(events.New(events.KindLoginFailed, r.channel, events.LoginFailure{Err: failure}))
		if failure.Retryable && r.wantUp {
			r.state = session.Disconnected
			r.scheduleReconnect()
			return
		}
		r.wantUp = false
		r.state = session.Disconnected
		r.failWaiters(failure)
	case session.ResultIgnored:
	}
}

func (r *channelRuntime) handleDown(reason int) {
	r.state = session.Disconnected
	r.seqr.Reset()
	r.publish(events.New(events.KindDisconnected, r.channel, events.Disconnect{Reason: reason}))
	if r.onDown != nil {
		r.onDown()
	}
	if r.wantUp {
		r.scheduleReconnect()
	}
}

func (r *channelRuntime) scheduleReconnect() {
	delay, ok := r.recon.Next()
	if !ok {
		failure := errs.New(string(r.channel), errs.KindConnection,
			errs.WithMessage("reconnect attempt budget exhausted"))
		r.publish(events.New(events.KindFault, r.channel, events.Fault{
			Err:     failure,
			Context: "reconnect",
		}))
		r.wantUp = false
		r.failWaiters(failure)
		return
	}
	observability.Log().Info("reconnect scheduled",
		observability.String("channel", string(r.channel)),
		observability.Int("attempt", r.recon.Attempt()),
		observability.String("delay", delay.String()))
	r.schedule(delay, r.attemptConnect)
}

func (r *channelRuntime) attemptConnect() {
	if !r.wantUp || r.state != session.Disconnected {
		return
	}
	r.state = session.Connecting
	if err := r.connect(r.fronts); err != nil {
		observability.Log().Warn("connect failed",
			observability.String("channel", string(r.channel)),
			observability.Err(err))
		r.state = session.Disconnected
		r.scheduleReconnect()
	}
}

// ensureUp registers a readiness waiter and starts the channel if it is
// not already coming up.
func (r *channelRuntime) ensureUp(waiter chan error) {
	if r.state == session.Ready {
		waiter <- nil
		return
	}
	r.waiters = append(r.waiters, waiter)
	if !r.wantUp {
		r.wantUp = true
		r.recon.Reset()
		if r.state == session.Disconnected {
			r.attemptConnect()
		}
	}
}

// goDown tears the channel down deliberately; no reconnect follows.
func (r *channelRuntime) goDown() {
	r.wantUp = false
	if r.state == session.Disconnected {
		return
	}
	r.state = session.Disconnected
	r.seqr.Reset()
	if r.onDown != nil {
		r.onDown()
	}
	r.publish(events.New(events.KindDisconnected, r.channel, events.Disconnect{}))
}

func (r *channelRuntime) resolveWaiters() {
	for _, w := range r.waiters {
		w <- nil
	}
	r.waiters = nil
}

func (r *channelRuntime) failWaiters(err *errs.E) {
	for _, w := range r.waiters {
		w <- err
	}
	r.waiters = nil
}
