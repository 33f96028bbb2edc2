package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"swap-quote/internal/core"
)

const defaultDebounce = 300 * time.Millisecond

// Input is one (from, to, amount) tuple from a UI surface.
type Input struct {
	From   string
	To     string
	Amount decimal.Decimal
}

type StateKind string

const (
	StateIdle    StateKind = "idle"
	StateLoading StateKind = "loading"
	StateReady   StateKind = "ready"
	StateError   StateKind = "error"
)

type ErrorKind string

const (
	ErrorUnsupportedPair ErrorKind = "unsupported_pair"
	ErrorBelowMinimum    ErrorKind = "below_minimum"
	ErrorInvalidAmount   ErrorKind = "invalid_amount"
	ErrorTryAgain        ErrorKind = "try_again"
)

// State is what subscribers render. Exactly one state is current per
// controller; transitions in Run are the only mutation path.
type State struct {
	Kind      StateKind
	Token     uint64
	Quote     *core.Quote
	ErrorKind ErrorKind
	Message   string
	MinAmount *decimal.Decimal
	Stale     bool
}

// Quoter is the engine surface the controller drives.
type Quoter interface {
	Quote(ctx context.Context, from, to string, amount decimal.Decimal) (core.Quote, error)
}

type ControllerOptions struct {
	Debounce time.Duration
	Clock    func() time.Time
}

type result struct {
	token uint64
	quote core.Quote
	err   error
}

// Controller debounces a stream of input changes, keeps at most one
// quote request in flight, and publishes the state stream. Every input
// change issues a monotonically increasing token; a response whose
// token is no longer current is discarded, so the displayed state can
// never belong to superseded input.
type Controller struct {
	quoter   Quoter
	debounce time.Duration
	clock    func() time.Time

	inputs  chan Input
	results chan result

	mu             sync.Mutex
	token          uint64
	cancelInflight context.CancelFunc
	state          State
	subs           map[int]chan State
	nextSubID      int
}

func NewController(quoter Quoter, opts ControllerOptions) *Controller {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		quoter:   quoter,
		debounce: debounce,
		clock:    clock,
		inputs:   make(chan Input, 1),
		results:  make(chan result, 4),
		state:    State{Kind: StateIdle},
		subs:     make(map[int]chan State),
	}
}

// SetInput feeds a new input tuple. Never blocks: when the loop has not
// consumed the previous value yet, the newest input wins.
func (c *Controller) SetInput(in Input) {
	in.From = core.NormalizeTicker(in.From)
	in.To = core.NormalizeTicker(in.To)
	for {
		select {
		case c.inputs <- in:
			return
		default:
			select {
			case <-c.inputs:
			default:
			}
		}
	}
}

// Subscribe registers a state stream consumer. The channel is
// conflated: a slow consumer sees the latest state, not every
// intermediate one. The current state is delivered immediately.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = ch
	ch <- c.state
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// State returns the current state, with the staleness mark computed at
// read time.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	if st.Kind == StateReady && st.Quote != nil && st.Quote.Expired(c.clock()) {
		st.Stale = true
	}
	return st
}

// Run drives the state machine until ctx is done. The controller is
// long-lived for the session; there is no terminal state.
func (c *Controller) Run(ctx context.Context) {
	debounce := newStoppedTimer()
	expiry := newStoppedTimer()
	var pending Input
	havePending := false

	for {
		select {
		case <-ctx.Done():
			c.cancelCurrent()
			return

		case in := <-c.inputs:
			token := c.issueToken()
			stopTimer(debounce)
			stopTimer(expiry)
			if in.Amount.Cmp(decimal.Zero) <= 0 || in.From == "" || in.To == "" {
				havePending = false
				c.publish(State{Kind: StateIdle, Token: token})
				continue
			}
			pending = in
			havePending = true
			c.publish(State{Kind: StateLoading, Token: token})
			debounce.Reset(c.debounce)

		case <-debounce.C:
			if !havePending {
				continue
			}
			havePending = false
			c.dispatch(ctx, pending)

		case res := <-c.results:
			if !c.isCurrent(res.token) {
				// Core race-avoidance guarantee: a resolution for
				// superseded input changes nothing.
				continue
			}
			if res.err != nil {
				c.publish(c.errorState(res.token, res.err))
				continue
			}
			q := res.quote
			c.publish(State{Kind: StateReady, Token: res.token, Quote: &q})
			if wait := q.ValidUntil.Sub(c.clock()); wait > 0 {
				expiry.Reset(wait)
			}

		case <-expiry.C:
			c.markStale()
		}
	}
}

func (c *Controller) issueToken() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelInflight != nil {
		c.cancelInflight()
		c.cancelInflight = nil
	}
	c.token++
	return c.token
}

func (c *Controller) isCurrent(token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return token == c.token
}

func (c *Controller) cancelCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelInflight != nil {
		c.cancelInflight()
		c.cancelInflight = nil
	}
}

func (c *Controller) dispatch(parent context.Context, in Input) {
	c.mu.Lock()
	token := c.token
	reqCtx, cancel := context.WithCancel(parent)
	c.cancelInflight = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		q, err := c.quoter.Quote(reqCtx, in.From, in.To, in.Amount)
		select {
		case c.results <- result{token: token, quote: q, err: err}:
		case <-parent.Done():
		}
	}()
}

func (c *Controller) publish(st State) {
	c.mu.Lock()
	c.state = st
	for _, ch := range c.subs {
		conflate(ch, st)
	}
	c.mu.Unlock()
}

// markStale re-publishes the current Ready state with the stale mark
// once the quote's validity window passes. No auto-refresh: a changing
// displayed amount without new input would surprise the user.
func (c *Controller) markStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Kind != StateReady || c.state.Quote == nil || c.state.Stale {
		return
	}
	c.state.Stale = true
	for _, ch := range c.subs {
		conflate(ch, c.state)
	}
}

// errorState maps an engine failure onto a renderable error: the
// specific reason where one exists, a generic "try again" otherwise.
// Raw protocol errors never reach subscribers.
func (c *Controller) errorState(token uint64, err error) State {
	st := State{Kind: StateError, Token: token, ErrorKind: ErrorTryAgain, Message: "quote unavailable, please try again"}
	switch {
	case errors.Is(err, core.ErrUnsupportedPair):
		st.ErrorKind = ErrorUnsupportedPair
		st.Message = "this pair is not supported"
	case errors.Is(err, core.ErrBelowMinimum):
		st.ErrorKind = ErrorBelowMinimum
		if minErr, ok := core.AsMinAmountError(err); ok {
			min := minErr.MinAmount
			st.MinAmount = &min
			st.Message = fmt.Sprintf("minimum amount is %s %s", min, minErr.From)
		}
	case errors.Is(err, core.ErrInvalidAmount):
		st.ErrorKind = ErrorInvalidAmount
		st.Message = "enter a positive amount"
	}
	return st
}

func conflate(ch chan State, st State) {
	select {
	case ch <- st:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
