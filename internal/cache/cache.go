// Package cache keeps fetched results per key with staleness and retention
// windows, at most one in-flight fetch per key, and bounded retries.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"eventscope/internal/log"
	"eventscope/internal/metrics"
)

// ErrCacheMiss is returned when a key has no data yet (or any more).
var ErrCacheMiss = errors.New("cache: no data for key")

// DefaultRetries is the usual Options.Retries. Zero Retries means a single
// attempt, so it is not filled in like the durations below.
const DefaultRetries = 1

// Defaults for zero Options fields.
const (
	DefaultStaleness  = 5 * time.Minute
	DefaultRetention  = 30 * time.Minute
	DefaultBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff = 10 * time.Second
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Key identifies a cached request: an endpoint and its canonical query.
type Key struct {
	Endpoint string
	Query    string
}

func (k Key) String() string {
	if k.Query == "" {
		return k.Endpoint
	}
	return k.Endpoint + "?" + k.Query
}

// Loader fetches the value for key.
type Loader[T any] func(ctx context.Context, key Key) (T, error)

// Options configures an Orchestrator.
type Options struct {
	// Name labels metrics and logs.
	Name       string
	Staleness  time.Duration
	Retention  time.Duration
	Retries    int // extra attempts after the first; negative disables
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Timeout bounds each attempt. Zero means only the base context applies.
	Timeout time.Duration
	// Retryable decides which errors are retried. Defaults to everything
	// except context cancellation.
	Retryable func(error) bool
	Now       func() time.Time
	Metrics   *metrics.Metrics
}

// Snapshot is a point-in-time view of one entry.
type Snapshot[T any] struct {
	Key       Key
	Data      T
	HasData   bool
	Status    Status
	Stale     bool
	FetchedAt time.Time
	// Err is the last fetch error. It may be set while stale data is still
	// being served.
	Err error
}

type entry[T any] struct {
	seq       uint64
	data      T
	hasData   bool
	status    Status
	fetchedAt time.Time
	attemptAt time.Time
	err       error
}

// Orchestrator owns one cache map. Fetches run on the base context so a
// caller switching keys never cancels another caller's fetch.
type Orchestrator[T any] struct {
	opts Options
	load Loader[T]
	base context.Context

	mu      sync.Mutex
	entries map[Key]*entry[T]
	seq     uint64
	// flights maps a key to the generation of its running flight. A key
	// has at most one, and entries created while it runs are fetched by it.
	flights map[Key]uint64
	gen     uint64
	group   singleflight.Group
}

// fetched is what a flight hands its waiters.
type fetched[T any] struct {
	data T
	at   time.Time
}

func New[T any](base context.Context, load Loader[T], opts Options) *Orchestrator[T] {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Staleness <= 0 {
		opts.Staleness = DefaultStaleness
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Retention < opts.Staleness {
		opts.Retention = opts.Staleness
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.Backoff)
	}
	if opts.Retryable == nil {
		opts.Retryable = defaultRetryable
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if base == nil {
		base = context.Background()
	}
	return &Orchestrator[T]{
		opts:    opts,
		load:    load,
		base:    base,
		entries: make(map[Key]*entry[T]),
		flights: make(map[Key]uint64),
	}
}

// Request returns whatever is cached for key without blocking. A fetch is
// started in the background when the key is new, stale, or an earlier
// failure is old enough to retry. Without data the error is ErrCacheMiss.
func (o *Orchestrator[T]) Request(key Key) (Snapshot[T], error) {
	o.mu.Lock()
	now := o.opts.Now()
	e := o.lookupLocked(key, now)
	start := false
	if e == nil {
		e = o.newEntryLocked(key)
		start = true
	} else if o.refreshDueLocked(e, now) {
		e.status = StatusPending
		start = true
	}
	snap := o.snapshotLocked(key, e, now)
	if start {
		o.startLocked(key, e.seq)
	}
	o.mu.Unlock()

	o.countLookup(snap)
	if !snap.HasData {
		return snap, ErrCacheMiss
	}
	return snap, nil
}

// Fetch returns cached data if any (refreshing stale data in the background)
// and otherwise waits for the in-flight or a new fetch. ctx only bounds the
// wait.
func (o *Orchestrator[T]) Fetch(ctx context.Context, key Key) (Snapshot[T], error) {
	o.mu.Lock()
	now := o.opts.Now()
	e := o.lookupLocked(key, now)
	if e != nil && e.hasData {
		start := o.refreshDueLocked(e, now)
		if start {
			e.status = StatusPending
		}
		snap := o.snapshotLocked(key, e, now)
		if start {
			o.startLocked(key, e.seq)
		}
		o.mu.Unlock()
		o.countLookup(snap)
		return snap, nil
	}
	if e == nil {
		e = o.newEntryLocked(key)
	} else {
		e.status = StatusPending
	}
	ch := o.startLocked(key, e.seq)
	o.mu.Unlock()
	o.opts.Metrics.Lookup(o.opts.Name, metrics.LookupMiss)

	select {
	case res := <-ch:
		if res.Err != nil {
			return Snapshot[T]{Key: key, Status: StatusError, Err: res.Err}, res.Err
		}
		f := res.Val.(fetched[T])
		return Snapshot[T]{
			Key:       key,
			Data:      f.data,
			HasData:   true,
			Status:    StatusSuccess,
			FetchedAt: f.at,
		}, nil
	case <-ctx.Done():
		return Snapshot[T]{Key: key, Status: StatusPending}, ctx.Err()
	}
}

// Refetch forces a fetch for key, keeping any data until it succeeds. It
// joins a fetch already in flight.
func (o *Orchestrator[T]) Refetch(key Key) Snapshot[T] {
	o.mu.Lock()
	now := o.opts.Now()
	e := o.lookupLocked(key, now)
	if e == nil {
		e = o.newEntryLocked(key)
	}
	e.status = StatusPending
	snap := o.snapshotLocked(key, e, now)
	o.startLocked(key, e.seq)
	o.mu.Unlock()
	return snap
}

// Peek returns the entry for key without triggering a fetch.
func (o *Orchestrator[T]) Peek(key Key) (Snapshot[T], bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[key]
	if !ok {
		return Snapshot[T]{Key: key, Status: StatusIdle}, false
	}
	return o.snapshotLocked(key, e, o.opts.Now()), true
}

// Invalidate evicts keys. A fetch in flight for an evicted key still
// completes but its result is dropped. A key requested again meanwhile is
// fetched once more by that same flight, never by a second one.
func (o *Orchestrator[T]) Invalidate(keys ...Key) int {
	o.mu.Lock()
	n := 0
	for _, k := range keys {
		if _, ok := o.entries[k]; ok {
			delete(o.entries, k)
			n++
		}
	}
	o.mu.Unlock()
	o.opts.Metrics.Evicted(o.opts.Name, "invalidate", n)
	return n
}

// InvalidateFunc evicts every entry whose key and data satisfy pred. Entries
// without data are passed the zero value.
func (o *Orchestrator[T]) InvalidateFunc(pred func(Key, T) bool) int {
	o.mu.Lock()
	n := 0
	for k, e := range o.entries {
		if pred(k, e.data) {
			delete(o.entries, k)
			n++
		}
	}
	o.mu.Unlock()
	o.opts.Metrics.Evicted(o.opts.Name, "invalidate", n)
	return n
}

// Sweep evicts entries past the retention window. Pending entries stay.
func (o *Orchestrator[T]) Sweep() int {
	o.mu.Lock()
	now := o.opts.Now()
	n := 0
	for k, e := range o.entries {
		if o.expiredLocked(e, now) {
			delete(o.entries, k)
			n++
		}
	}
	o.mu.Unlock()
	o.opts.Metrics.Evicted(o.opts.Name, "retention", n)
	if n > 0 {
		log.Debug("cache sweep", "cache", o.opts.Name, "evicted", n)
	}
	return n
}

// Keys lists the cached keys in no particular order.
func (o *Orchestrator[T]) Keys() []Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Key, 0, len(o.entries))
	for k := range o.entries {
		out = append(out, k)
	}
	return out
}

func (o *Orchestrator[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

func (o *Orchestrator[T]) newEntryLocked(key Key) *entry[T] {
	o.seq++
	e := &entry[T]{seq: o.seq, status: StatusPending}
	o.entries[key] = e
	return e
}

// lookupLocked returns the live entry for key, evicting it first if it is
// past retention.
func (o *Orchestrator[T]) lookupLocked(key Key, now time.Time) *entry[T] {
	e, ok := o.entries[key]
	if !ok {
		return nil
	}
	if o.expiredLocked(e, now) {
		delete(o.entries, key)
		o.opts.Metrics.Evicted(o.opts.Name, "retention", 1)
		return nil
	}
	return e
}

func (o *Orchestrator[T]) expiredLocked(e *entry[T], now time.Time) bool {
	switch {
	case e.status == StatusPending:
		return false
	case e.hasData:
		return now.Sub(e.fetchedAt) > o.opts.Retention
	default:
		return now.Sub(e.attemptAt) > o.opts.Retention
	}
}

func (o *Orchestrator[T]) refreshDueLocked(e *entry[T], now time.Time) bool {
	switch e.status {
	case StatusPending:
		return false
	case StatusError:
		return now.Sub(e.attemptAt) >= o.opts.Staleness
	case StatusIdle:
		return true
	}
	return e.hasData && now.Sub(e.fetchedAt) >= o.opts.Staleness
}

func (o *Orchestrator[T]) snapshotLocked(key Key, e *entry[T], now time.Time) Snapshot[T] {
	return Snapshot[T]{
		Key:       key,
		Data:      e.data,
		HasData:   e.hasData,
		Status:    e.status,
		Stale:     e.hasData && now.Sub(e.fetchedAt) >= o.opts.Staleness,
		FetchedAt: e.fetchedAt,
		Err:       e.err,
	}
}

func (o *Orchestrator[T]) countLookup(s Snapshot[T]) {
	result := metrics.LookupHit
	switch {
	case !s.HasData:
		result = metrics.LookupMiss
	case s.Stale:
		result = metrics.LookupStale
	}
	o.opts.Metrics.Lookup(o.opts.Name, result)
}

// startLocked joins the flight running for key or launches one for entry
// generation seq. It must be called with o.mu held so a flight cannot finish
// between the check and the join.
func (o *Orchestrator[T]) startLocked(key Key, seq uint64) <-chan singleflight.Result {
	gen, ok := o.flights[key]
	if !ok {
		o.gen++
		gen = o.gen
		o.flights[key] = gen
	}
	flight := fmt.Sprintf("%s#%d", key, gen)
	return o.group.DoChan(flight, func() (any, error) {
		return o.run(key, seq)
	})
}

// run fetches key until no newer generation of the entry is waiting for
// data, then releases the key.
func (o *Orchestrator[T]) run(key Key, seq uint64) (any, error) {
	o.opts.Metrics.InFlight(o.opts.Name, 1)
	defer o.opts.Metrics.InFlight(o.opts.Name, -1)

	for {
		val, err := o.attempt(key)
		at, next, again := o.commit(key, seq, val, err)
		if !again {
			return fetched[T]{data: val, at: at}, err
		}
		log.Debug("refetching invalidated key", "cache", o.opts.Name, "key", key.String())
		seq = next
	}
}

func (o *Orchestrator[T]) attempt(key Key) (T, error) {
	var val T
	attempts := 1 + o.opts.Retries
	err := retry(o.base, attempts, o.opts.Backoff, o.opts.MaxBackoff, o.opts.Retryable, func(i int) error {
		ctx, cancel := o.attemptContext()
		defer cancel()
		began := time.Now()
		v, err := o.load(ctx, key)
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeError
			if i < attempts-1 && o.opts.Retryable(err) {
				outcome = metrics.OutcomeRetry
				log.Debug("fetch failed, retrying", "cache", o.opts.Name, "key", key.String(), "attempt", i+1, "err", err)
			}
		}
		o.opts.Metrics.Fetch(o.opts.Name, outcome, time.Since(began).Seconds())
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

func (o *Orchestrator[T]) attemptContext() (context.Context, context.CancelFunc) {
	if o.opts.Timeout > 0 {
		return context.WithTimeout(o.base, o.opts.Timeout)
	}
	return context.WithCancel(o.base)
}

// commit stores the result for generation seq and reports when it happened.
// again is set when the key was invalidated and requested anew meanwhile; the
// caller then fetches for generation next instead of releasing the key.
func (o *Orchestrator[T]) commit(key Key, seq uint64, val T, err error) (at time.Time, next uint64, again bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	at = o.opts.Now()
	e, ok := o.entries[key]
	switch {
	case ok && e.seq == seq:
		e.attemptAt = at
		if err != nil {
			e.status = StatusError
			e.err = err
			log.Error("fetch failed", err, "cache", o.opts.Name, "key", key.String(), "stale_data", e.hasData)
			break
		}
		e.data = val
		e.hasData = true
		e.status = StatusSuccess
		e.fetchedAt = at
		e.err = nil
	case ok && e.status == StatusPending:
		log.Debug("dropping result for evicted entry", "cache", o.opts.Name, "key", key.String())
		return at, e.seq, true
	default:
		log.Debug("dropping result for evicted entry", "cache", o.opts.Name, "key", key.String())
	}
	delete(o.flights, key)
	return at, 0, false
}
