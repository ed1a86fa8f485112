package session

import (
	"github.com/tradewell/ctpgate/errs"
	"github.com/tradewell/ctpgate/internal/ctp"
)

// AuthTransport is the subset of vendor calls the handshake needs. The
// run loop implements it over the channel's vendor API with the
// configured credentials bound in.
type AuthTransport interface {
	Authenticate(requestID int) error
	Login(requestID int) error
	ConfirmSettlement(requestID int) error
}

// Step is the current handshake position.
type Step int

const (
	// StepIdle means no handshake is running.
	StepIdle Step = iota
	// StepAuthenticate awaits the authenticate response (trading channel only).
	StepAuthenticate
	// StepLogin awaits the login response.
	StepLogin
	// StepSettlement awaits the settlement confirmation (trading channel only).
	StepSettlement
	// StepDone means the handshake completed.
	StepDone
)

// Result is the sequencer's verdict after consuming one input.
type Result int

const (
	// ResultIgnored means the input was stale or out of step.
	ResultIgnored Result = iota
	// ResultPending means a request is outstanding; re-arm the step timeout.
	ResultPending
	// ResultReady means the handshake completed and Handle() is populated.
	ResultReady
	// ResultFailed means the handshake was abandoned; see Failure().
	ResultFailed
)

// Sequencer drives the channel-specific login handshake. Trading channel:
// authenticate, login, settlement confirm. Market-data channel: login only.
// It is owned by the channel run loop and is not safe for concurrent use.
type Sequencer struct {
	channel    ctp.Channel
	transport  AuthTransport
	nextID     func() int
	maxRetries int
	brokerID   string
	userID     string

	step    Step
	attempt int
	seq     uint64
	handle  Handle
	failure *errs.E
}

// NewSequencer builds a handshake sequencer for the channel.
func NewSequencer(channel ctp.Channel, transport AuthTransport, nextID func() int, maxRetries int, brokerID, userID string) *Sequencer {
	return &Sequencer{
		channel:    channel,
		transport:  transport,
		nextID:     nextID,
		maxRetries: maxRetries,
		brokerID:   brokerID,
		userID:     userID,
	}
}

// Step reports the current handshake position.
func (s *Sequencer) Step() Step { return s.step }

// Seq identifies the outstanding request; step timeouts carry it so a
// late timer cannot cancel a later step.
func (s *Sequencer) Seq() uint64 { return s.seq }

// Handle returns the session identity once ResultReady was returned.
func (s *Sequencer) Handle() Handle { return s.handle }

// Failure returns the error that ended the handshake after ResultFailed.
func (s *Sequencer) Failure() *errs.E { return s.failure }

// State maps the handshake position onto the channel state machine.
func (s *Sequencer) State() State {
	switch s.step {
	case StepAuthenticate:
		return Authenticating
	case StepLogin, StepSettlement:
		return LoggingIn
	case StepDone:
		return Ready
	default:
		return Connected
	}
}

// Begin starts the handshake after the transport connected.
func (s *Sequencer) Begin() Result {
	s.failure = nil
	s.attempt = 0
	if s.channel == ctp.ChannelTrader {
		return s.send(StepAuthenticate)
	}
	return s.send(StepLogin)
}

// Reset returns the sequencer to idle, discarding any outstanding step.
// The session handle is cleared with it: a disconnected channel has no
// login identity until the next handshake completes.
func (s *Sequencer) Reset() {
	s.step = StepIdle
	s.attempt = 0
	s.seq++
	s.failure = nil
	s.handle = Handle{}
}

func (s *Sequencer) send(step Step) Result {
	s.step = step
	s.seq++
	var err error
	switch step {
	case StepAuthenticate:
		err = s.transport.Authenticate(s.nextID())
	case StepLogin:
		err = s.transport.Login(s.nextID())
	case StepSettlement:
		err = s.transport.ConfirmSettlement(s.nextID())
	default:
		return ResultIgnored
	}
	if err != nil {
		return s.stepFailed(errs.New(string(s.channel), errs.KindNetwork,
			errs.WithMessage("handshake request send failed"), errs.WithCause(err)))
	}
	return ResultPending
}

func (s *Sequencer) stepFailed(cause *errs.E) Result {
	if cause.Retryable && s.attempt < s.maxRetries {
		s.attempt++
		return s.send(s.step)
	}
	s.failure = cause
	s.step = StepIdle
	s.seq++
	return ResultFailed
}

// HandleAuthenticate consumes the authenticate response.
func (s *Sequencer) HandleAuthenticate(rsp ctp.RspInfo) Result {
	if s.step != StepAuthenticate {
		return ResultIgnored
	}
	if !rsp.OK() {
		return s.stepFailed(errs.FromVendor(string(s.channel), rsp.ErrorID, rsp.ErrorMsg))
	}
	s.attempt = 0
	return s.send(StepLogin)
}

// HandleLogin consumes the login response. On success the trading channel
// proceeds to settlement confirmation; the market-data channel is done.
func (s *Sequencer) HandleLogin(login ctp.LoginField, rsp ctp.RspInfo) Result {
	if s.step != StepLogin {
		return ResultIgnored
	}
	if !rsp.OK() {
		return s.stepFailed(errs.FromVendor(string(s.channel), rsp.ErrorID, rsp.ErrorMsg))
	}
	s.handle = Handle{
		FrontID:     login.FrontID,
		SessionID:   login.SessionID,
		TradingDay:  login.TradingDay,
		BrokerID:    s.brokerID,
		UserID:      s.userID,
		MaxOrderRef: login.MaxOrderRef,
	}
	s.attempt = 0
	if s.channel == ctp.ChannelTrader {
		return s.send(StepSettlement)
	}
	s.step = StepDone
	s.seq++
	return ResultReady
}

// HandleSettlement consumes the settlement confirmation response.
func (s *Sequencer) HandleSettlement(rsp ctp.RspInfo) Result {
	if s.step != StepSettlement {
		return ResultIgnored
	}
	if !rsp.OK() {
		return s.stepFailed(errs.FromVendor(string(s.channel), rsp.ErrorID, rsp.ErrorMsg))
	}
	s.step = StepDone
	s.seq++
	return ResultReady
}

// HandleTimeout consumes an expired step timer. A stale sequence number
// means the step already advanced and the timer is ignored.
func (s *Sequencer) HandleTimeout(seq uint64) Result {
	if seq != s.seq || s.step == StepIdle || s.step == StepDone {
		return ResultIgnored
	}
	return s.stepFailed(errs.Timeoutf(string(s.channel), "no response for handshake step %d", s.step))
}
