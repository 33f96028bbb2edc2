package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"swap-quote/internal/core"
	"swap-quote/internal/metrics"
	"swap-quote/internal/rpc"
)

const defaultTTL = time.Hour

// Snapshot is one complete refresh cycle of the exchange listing.
// A snapshot is immutable once installed; a refresh replaces it
// wholesale so readers never observe currencies from two cycles.
type Snapshot struct {
	Currencies  []core.Currency `json:"currencies"`
	Pairs       []core.Pair     `json:"pairs"`
	RefreshedAt time.Time       `json:"refreshed_at"`
}

type indexed struct {
	snap   *Snapshot
	byTick map[string]core.Currency
	byPair map[string]core.Pair
}

func pairKey(from, to string) string { return from + "/" + to }

type Options struct {
	TTL     time.Duration
	Clock   func() time.Time
	Backup  Backup
	Metrics *metrics.Metrics
}

// Catalog caches the tradable currency and pair listing. Readers are
// served from the current snapshot without blocking; a stale snapshot
// keeps being served while a refresh is attempted and is only replaced
// on success.
type Catalog struct {
	rpc     rpc.Caller
	ttl     time.Duration
	clock   func() time.Time
	backup  Backup
	metrics *metrics.Metrics

	group singleflight.Group

	mu      sync.RWMutex
	current *indexed
}

func New(caller rpc.Caller, opts Options) *Catalog {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Catalog{
		rpc:     caller,
		ttl:     ttl,
		clock:   clock,
		backup:  opts.Backup,
		metrics: opts.Metrics,
	}
}

// Refresh fetches the full listing and atomically installs it as the
// new snapshot. Concurrent callers share one in-flight refresh.
func (c *Catalog) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Catalog) refresh(ctx context.Context) error {
	snap, err := c.fetch(ctx)
	if err != nil {
		c.metrics.RecordCatalogRefresh("error")
		return err
	}
	c.install(snap)
	c.metrics.RecordCatalogRefresh("ok")
	if c.backup != nil {
		if err := c.backup.Save(ctx, snap); err != nil {
			log.Printf("level=WARN event=catalog_backup_save_failed err=%q", err.Error())
		}
	}
	return nil
}

func (c *Catalog) fetch(ctx context.Context) (*Snapshot, error) {
	rawCurrencies, err := c.rpc.Call(ctx, rpc.MethodGetCurrenciesFull, []any{})
	if err != nil {
		return nil, fmt.Errorf("fetch currencies: %w", err)
	}
	var listings []rpc.CurrencyListing
	if err := json.Unmarshal(rawCurrencies, &listings); err != nil {
		return nil, fmt.Errorf("%w: currencies: %v", core.ErrParse, err)
	}

	rawPairs, err := c.rpc.Call(ctx, rpc.MethodGetPairsParams, []any{})
	if err != nil {
		return nil, fmt.Errorf("fetch pairs: %w", err)
	}
	var pairListings []rpc.PairListing
	if err := json.Unmarshal(rawPairs, &pairListings); err != nil {
		return nil, fmt.Errorf("%w: pairs: %v", core.ErrParse, err)
	}

	snap := &Snapshot{RefreshedAt: c.clock().UTC()}
	for _, l := range listings {
		ticker := core.NormalizeTicker(l.Ticker)
		if ticker == "" {
			continue
		}
		snap.Currencies = append(snap.Currencies, core.Currency{
			Ticker:           ticker,
			Name:             l.FullName,
			Enabled:          l.Enabled,
			FixedRateEnabled: l.FixRateEnabled,
			IconURL:          l.Image,
		})
	}
	for _, l := range pairListings {
		from := core.NormalizeTicker(l.From)
		to := core.NormalizeTicker(l.To)
		if from == "" || to == "" {
			continue
		}
		minAmount, err := decimal.NewFromString(l.MinAmountFloat)
		if err != nil {
			// A single bad listing entry must not poison the cycle.
			log.Printf("level=WARN event=catalog_bad_pair_min from=%s to=%s value=%q", from, to, l.MinAmountFloat)
			continue
		}
		snap.Pairs = append(snap.Pairs, core.Pair{From: from, To: to, MinAmount: minAmount})
	}
	return snap, nil
}

func (c *Catalog) install(snap *Snapshot) {
	idx := &indexed{
		snap:   snap,
		byTick: make(map[string]core.Currency, len(snap.Currencies)),
		byPair: make(map[string]core.Pair, len(snap.Pairs)),
	}
	for _, cur := range snap.Currencies {
		idx.byTick[cur.Ticker] = cur
	}
	for _, p := range snap.Pairs {
		idx.byPair[pairKey(p.From, p.To)] = p
	}
	c.mu.Lock()
	c.current = idx
	c.mu.Unlock()
	c.metrics.SetCatalogAge(0)
}

func (c *Catalog) snapshot() *indexed {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Ready reports whether any refresh cycle (or backup restore) has
// succeeded. "No catalog" is a distinct condition from a catalog that
// lists zero enabled currencies.
func (c *Catalog) Ready() bool {
	return c.snapshot() != nil
}

// Currencies returns the current cycle's listing. Empty when no
// refresh has succeeded yet.
func (c *Catalog) Currencies() []core.Currency {
	idx := c.snapshot()
	if idx == nil {
		return nil
	}
	out := make([]core.Currency, len(idx.snap.Currencies))
	copy(out, idx.snap.Currencies)
	return out
}

// Enabled returns only the currencies the exchange currently trades.
func (c *Catalog) Enabled() []core.Currency {
	idx := c.snapshot()
	if idx == nil {
		return nil
	}
	out := make([]core.Currency, 0, len(idx.snap.Currencies))
	for _, cur := range idx.snap.Currencies {
		if cur.Enabled {
			out = append(out, cur)
		}
	}
	return out
}

func (c *Catalog) FindCurrency(ticker string) (core.Currency, bool) {
	idx := c.snapshot()
	if idx == nil {
		return core.Currency{}, false
	}
	cur, ok := idx.byTick[core.NormalizeTicker(ticker)]
	return cur, ok
}

// FindPair looks up the ordered (from, to) direction. (A,B) and (B,A)
// are distinct entries.
func (c *Catalog) FindPair(from, to string) (core.Pair, bool) {
	idx := c.snapshot()
	if idx == nil {
		return core.Pair{}, false
	}
	p, ok := idx.byPair[pairKey(core.NormalizeTicker(from), core.NormalizeTicker(to))]
	return p, ok
}

// RefreshedAt returns the current snapshot's refresh time, zero when
// no snapshot is installed.
func (c *Catalog) RefreshedAt() time.Time {
	idx := c.snapshot()
	if idx == nil {
		return time.Time{}
	}
	return idx.snap.RefreshedAt
}

// IsStale reports whether the TTL has elapsed since the last
// successful refresh. A catalog with no snapshot is always stale.
func (c *Catalog) IsStale() bool {
	idx := c.snapshot()
	if idx == nil {
		return true
	}
	return c.clock().Sub(idx.snap.RefreshedAt) >= c.ttl
}

// RestoreFromBackup seeds the snapshot from the backup store when the
// persisted cycle is still within TTL, so a process restart serves
// immediately instead of cold-calling upstream.
func (c *Catalog) RestoreFromBackup(ctx context.Context) (bool, error) {
	if c.backup == nil {
		return false, nil
	}
	snap, err := c.backup.Load(ctx)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	if c.clock().Sub(snap.RefreshedAt) >= c.ttl {
		return false, nil
	}
	c.install(snap)
	return true, nil
}

// AutoRefresh refreshes whenever the snapshot goes stale, checking at
// the given interval. Refresh failures are logged and the stale
// snapshot keeps serving; the loop exits when ctx is done.
func (c *Catalog) AutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if c.IsStale() {
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Printf("level=WARN event=catalog_refresh_failed err=%q", err.Error())
			}
		}
		if at := c.RefreshedAt(); !at.IsZero() {
			c.metrics.SetCatalogAge(c.clock().Sub(at).Seconds())
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
