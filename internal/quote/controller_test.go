package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swap-quote/internal/core"
)

type quoterCall struct {
	in      Input
	release chan struct{}
	quote   core.Quote
	err     error
}

// blockingQuoter records every request and holds it until released,
// ignoring context cancellation so stale resolutions still arrive.
type blockingQuoter struct {
	mu    sync.Mutex
	calls []*quoterCall
}

func (q *blockingQuoter) Quote(ctx context.Context, from, to string, amount decimal.Decimal) (core.Quote, error) {
	call := &quoterCall{
		in:      Input{From: from, To: to, Amount: amount},
		release: make(chan struct{}),
	}
	q.mu.Lock()
	q.calls = append(q.calls, call)
	q.mu.Unlock()
	<-call.release
	return call.quote, call.err
}

func (q *blockingQuoter) waitForCalls(t *testing.T, n int) []*quoterCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		if len(q.calls) >= n {
			calls := append([]*quoterCall(nil), q.calls...)
			q.mu.Unlock()
			return calls
		}
		q.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d quoter calls", n)
	return nil
}

func (q *blockingQuoter) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

type fixedQuoter struct {
	mu    sync.Mutex
	calls int
	quote core.Quote
	err   error
}

func (q *fixedQuoter) Quote(ctx context.Context, from, to string, amount decimal.Decimal) (core.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return q.quote, q.err
}

func (q *fixedQuoter) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func startController(t *testing.T, quoter Quoter, opts ControllerOptions) (*Controller, <-chan State) {
	t.Helper()
	ctrl := NewController(quoter, opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ctrl.Run(ctx)
	ch, unsubscribe := ctrl.Subscribe()
	t.Cleanup(unsubscribe)
	return ctrl, ch
}

func waitForState(t *testing.T, ch <-chan State, match func(State) bool) State {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-ch:
			if match(st) {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state")
		}
	}
}

func input(from, to, amount string) Input {
	return Input{From: from, To: to, Amount: decimal.RequireFromString(amount)}
}

func TestControllerStartsIdle(t *testing.T) {
	_, ch := startController(t, &fixedQuoter{}, ControllerOptions{})
	st := waitForState(t, ch, func(s State) bool { return true })
	if st.Kind != StateIdle {
		t.Fatalf("initial state = %s, want idle", st.Kind)
	}
}

func TestInvalidAmountGoesIdle(t *testing.T) {
	quoter := &fixedQuoter{}
	ctrl, ch := startController(t, quoter, ControllerOptions{Debounce: time.Millisecond})

	ctrl.SetInput(Input{From: "btc", To: "eth", Amount: decimal.Zero})
	st := waitForState(t, ch, func(s State) bool { return s.Token > 0 })
	if st.Kind != StateIdle {
		t.Fatalf("state = %s, want idle for non-positive amount", st.Kind)
	}
	time.Sleep(20 * time.Millisecond)
	if got := quoter.callCount(); got != 0 {
		t.Fatalf("quoter calls = %d, want 0", got)
	}
}

func TestDebounceCoalescesBurst(t *testing.T) {
	quoter := &fixedQuoter{quote: core.Quote{ToAmount: decimal.NewFromInt(3)}}
	ctrl, ch := startController(t, quoter, ControllerOptions{Debounce: 80 * time.Millisecond})

	ctrl.SetInput(input("btc", "eth", "1"))
	ctrl.SetInput(input("btc", "eth", "2"))
	ctrl.SetInput(input("btc", "eth", "3"))

	st := waitForState(t, ch, func(s State) bool { return s.Kind == StateReady })
	if !st.Quote.ToAmount.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("ToAmount = %s, want 3", st.Quote.ToAmount)
	}
	if got := quoter.callCount(); got != 1 {
		t.Fatalf("quoter calls = %d, want 1 after debounce", got)
	}
}

func TestStaleResponsesDiscarded(t *testing.T) {
	quoter := &blockingQuoter{}
	ctrl, ch := startController(t, quoter, ControllerOptions{Debounce: time.Millisecond})

	// Inputs A, B, C each get far enough apart to dispatch a request.
	ctrl.SetInput(input("btc", "eth", "1"))
	quoter.waitForCalls(t, 1)
	ctrl.SetInput(input("btc", "eth", "2"))
	quoter.waitForCalls(t, 2)
	ctrl.SetInput(input("btc", "eth", "3"))
	calls := quoter.waitForCalls(t, 3)

	// C resolves first; A and B resolve afterwards with stale tokens.
	calls[2].quote = core.Quote{From: "btc", To: "eth", FromAmount: calls[2].in.Amount, ToAmount: decimal.RequireFromString("30")}
	close(calls[2].release)
	st := waitForState(t, ch, func(s State) bool { return s.Kind == StateReady })
	if !st.Quote.ToAmount.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("ToAmount = %s, want 30 (C's outcome)", st.Quote.ToAmount)
	}

	calls[0].quote = core.Quote{ToAmount: decimal.RequireFromString("10")}
	calls[1].err = errors.New("late failure")
	close(calls[0].release)
	close(calls[1].release)

	// Give the stale resolutions time to arrive, then confirm the
	// displayed state still reflects C only.
	time.Sleep(50 * time.Millisecond)
	final := ctrl.State()
	if final.Kind != StateReady {
		t.Fatalf("final state = %s, want ready", final.Kind)
	}
	if !final.Quote.ToAmount.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("final ToAmount = %s, want 30", final.Quote.ToAmount)
	}
}

func TestLoadingPublishedBeforeResult(t *testing.T) {
	quoter := &blockingQuoter{}
	ctrl, ch := startController(t, quoter, ControllerOptions{Debounce: time.Millisecond})

	ctrl.SetInput(input("btc", "eth", "1"))
	st := waitForState(t, ch, func(s State) bool { return s.Kind == StateLoading })
	if st.Token == 0 {
		t.Fatalf("loading state token = 0, want issued token")
	}
	calls := quoter.waitForCalls(t, 1)
	calls[0].quote = core.Quote{ToAmount: decimal.NewFromInt(1)}
	close(calls[0].release)
	waitForState(t, ch, func(s State) bool { return s.Kind == StateReady })
}

func TestErrorStateMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantMsg  string
	}{
		{
			name:     "unsupported pair",
			err:      fmt.Errorf("%w: btc/xyz", core.ErrUnsupportedPair),
			wantKind: ErrorUnsupportedPair,
			wantMsg:  "this pair is not supported",
		},
		{
			name: "below minimum carries figure",
			err: errors.Join(
				core.ErrBelowMinimum,
				core.MinAmountError{From: "btc", To: "eth", MinAmount: decimal.RequireFromString("0.001")},
			),
			wantKind: ErrorBelowMinimum,
			wantMsg:  "minimum amount is 0.001 btc",
		},
		{
			name:     "network failure is generic",
			err:      fmt.Errorf("%w: connection reset by peer", core.ErrNetwork),
			wantKind: ErrorTryAgain,
			wantMsg:  "quote unavailable, please try again",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quoter := &fixedQuoter{err: tc.err}
			ctrl, ch := startController(t, quoter, ControllerOptions{Debounce: time.Millisecond})
			ctrl.SetInput(input("btc", "eth", "1"))
			st := waitForState(t, ch, func(s State) bool { return s.Kind == StateError })
			if st.ErrorKind != tc.wantKind {
				t.Fatalf("ErrorKind = %s, want %s", st.ErrorKind, tc.wantKind)
			}
			if st.Message != tc.wantMsg {
				t.Fatalf("Message = %q, want %q", st.Message, tc.wantMsg)
			}
			if strings.Contains(st.Message, "reset by peer") {
				t.Fatalf("raw protocol error leaked to subscriber: %q", st.Message)
			}
			if tc.wantKind == ErrorBelowMinimum {
				if st.MinAmount == nil || !st.MinAmount.Equal(decimal.RequireFromString("0.001")) {
					t.Fatalf("MinAmount = %v, want 0.001", st.MinAmount)
				}
			}
		})
	}
}

func TestQuoteMarkedStaleAfterExpiry(t *testing.T) {
	quoter := &fixedQuoter{quote: core.Quote{
		ToAmount:   decimal.NewFromInt(2),
		ValidUntil: time.Now().Add(60 * time.Millisecond),
	}}
	ctrl, ch := startController(t, quoter, ControllerOptions{Debounce: time.Millisecond})

	ctrl.SetInput(input("btc", "eth", "1"))
	ready := waitForState(t, ch, func(s State) bool { return s.Kind == StateReady && !s.Stale })
	st := waitForState(t, ch, func(s State) bool { return s.Kind == StateReady && s.Stale })
	if !st.Quote.ToAmount.Equal(ready.Quote.ToAmount) {
		t.Fatalf("stale state changed the displayed quote")
	}
	// No auto-refresh without new input.
	time.Sleep(50 * time.Millisecond)
	if got := quoter.callCount(); got != 1 {
		t.Fatalf("quoter calls = %d, want 1 (no auto-refresh)", got)
	}
}

func TestNewInputSupersedesReadyState(t *testing.T) {
	quoter := &fixedQuoter{quote: core.Quote{ToAmount: decimal.NewFromInt(2)}}
	ctrl, ch := startController(t, quoter, ControllerOptions{Debounce: time.Millisecond})

	ctrl.SetInput(input("btc", "eth", "1"))
	first := waitForState(t, ch, func(s State) bool { return s.Kind == StateReady })

	ctrl.SetInput(input("eth", "btc", "1"))
	second := waitForState(t, ch, func(s State) bool { return s.Kind == StateReady && s.Token > first.Token })
	if second.Token <= first.Token {
		t.Fatalf("token did not increase: %d then %d", first.Token, second.Token)
	}
}
