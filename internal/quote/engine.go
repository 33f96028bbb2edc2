package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"swap-quote/internal/catalog"
	"swap-quote/internal/core"
	"swap-quote/internal/metrics"
	"swap-quote/internal/rpc"
)

const defaultQuoteTTL = 30 * time.Second

type EngineOptions struct {
	QuoteTTL time.Duration
	Clock    func() time.Time
	Metrics  *metrics.Metrics
}

// Engine validates a (from, to, amount) triple against the catalog and
// turns a signed exchange-amount call into a time-bounded Quote.
// Validation failures never reach the network.
type Engine struct {
	catalog  *catalog.Catalog
	rpc      rpc.Caller
	quoteTTL time.Duration
	clock    func() time.Time
	metrics  *metrics.Metrics
}

func NewEngine(cat *catalog.Catalog, caller rpc.Caller, opts EngineOptions) *Engine {
	ttl := opts.QuoteTTL
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		catalog:  cat,
		rpc:      caller,
		quoteTTL: ttl,
		clock:    clock,
		metrics:  opts.Metrics,
	}
}

type exchangeQuery struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// Quote requests how much `to` the given `amount` of `from` yields.
// The engine stamps validUntil but does not itself expire quotes; that
// is a read-time check by the consumer.
func (e *Engine) Quote(ctx context.Context, from, to string, amount decimal.Decimal) (core.Quote, error) {
	from = core.NormalizeTicker(from)
	to = core.NormalizeTicker(to)

	if amount.Cmp(decimal.Zero) <= 0 {
		e.metrics.RecordQuote("invalid_amount")
		return core.Quote{}, core.ErrInvalidAmount
	}
	if !e.catalog.Ready() {
		e.metrics.RecordQuote("no_catalog")
		return core.Quote{}, core.ErrNoCatalog
	}
	// Checked locally even though upstream would also reject: it saves a
	// signed round-trip and gives an attributable error.
	pair, ok := e.catalog.FindPair(from, to)
	if !ok {
		e.metrics.RecordQuote("unsupported_pair")
		return core.Quote{}, fmt.Errorf("%w: %s/%s", core.ErrUnsupportedPair, from, to)
	}
	if amount.Cmp(pair.MinAmount) < 0 {
		e.metrics.RecordQuote("below_minimum")
		return core.Quote{}, errors.Join(
			core.ErrBelowMinimum,
			core.MinAmountError{From: from, To: to, MinAmount: pair.MinAmount},
		)
	}

	result, err := e.rpc.Call(ctx, rpc.MethodGetExchangeAmount, []exchangeQuery{{
		From:   from,
		To:     to,
		Amount: amount.String(),
	}})
	if err != nil {
		e.metrics.RecordQuote(quoteErrOutcome(err))
		return core.Quote{}, err
	}
	var amounts []rpc.ExchangeAmount
	if err := json.Unmarshal(result, &amounts); err != nil {
		e.metrics.RecordQuote("parse")
		return core.Quote{}, fmt.Errorf("%w: exchange amount: %v", core.ErrParse, err)
	}
	if len(amounts) == 0 {
		e.metrics.RecordQuote("parse")
		return core.Quote{}, fmt.Errorf("%w: empty exchange amount result", core.ErrParse)
	}
	toAmount, err := decimal.NewFromString(amounts[0].Amount)
	if err != nil {
		e.metrics.RecordQuote("parse")
		return core.Quote{}, fmt.Errorf("%w: exchange amount %q: %v", core.ErrParse, amounts[0].Amount, err)
	}

	requestedAt := e.clock()
	e.metrics.RecordQuote("ok")
	return core.Quote{
		From:        from,
		To:          to,
		FromAmount:  amount,
		ToAmount:    toAmount,
		RequestedAt: requestedAt,
		ValidUntil:  requestedAt.Add(e.quoteTTL),
	}, nil
}

// ReverseQuote would compute fromAmount for a desired toAmount. The
// upstream only quotes forward and exchange curves are not linear, so
// inverting a forward quote is wrong; callers must re-request a forward
// quote from the other side instead.
func (e *Engine) ReverseQuote(ctx context.Context, from, to string, toAmount decimal.Decimal) (core.Quote, error) {
	return core.Quote{}, core.ErrReverseQuoteUnsupported
}

func quoteErrOutcome(err error) string {
	switch {
	case errors.Is(err, core.ErrNetwork):
		return "network"
	case errors.Is(err, core.ErrParse):
		return "parse"
	default:
		if _, ok := rpc.AsAPIError(err); ok {
			return "upstream"
		}
		return "error"
	}
}
