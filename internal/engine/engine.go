// Package engine ties the filter model, the caches and the two filtering
// paths together. Remote mode asks the events API with the translated
// query; local mode filters a cached catalog with the predicate engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"eventscope/internal/cache"
	"eventscope/internal/client"
	"eventscope/internal/feed"
	"eventscope/internal/filter"
	appLog "eventscope/internal/log"
	"eventscope/internal/metrics"
	"eventscope/internal/model"
	"eventscope/internal/predicate"
	"eventscope/internal/query"
)

// Mode selects a filtering path.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// ParseMode maps "" onto def.
func ParseMode(s string, def Mode) (Mode, error) {
	switch Mode(s) {
	case "":
		return def, nil
	case ModeRemote, ModeLocal:
		return Mode(s), nil
	}
	return "", fmt.Errorf("engine: unknown mode %q", s)
}

// catalogKey caches the unfiltered API list merged with every feed.
var catalogKey = cache.Key{Endpoint: "catalog"}

// Options wires an Engine.
type Options struct {
	Client *client.Client
	// Feeds is optional; without it the catalog is the API list alone.
	Feeds    *feed.Loader
	Cache    cache.Options
	Location *time.Location
	Now      func() time.Time
	Metrics  *metrics.Metrics
	// Base context for background fetches; cancel it on shutdown.
	Context context.Context
}

// Engine is safe for concurrent use.
type Engine struct {
	client  *client.Client
	feeds   *feed.Loader
	loc     *time.Location
	now     func() time.Time
	metrics *metrics.Metrics

	lists   *cache.Orchestrator[[]model.Event]
	catalog *cache.Orchestrator[[]model.Event]
	details *cache.Orchestrator[model.Event]
	recs    *cache.Orchestrator[[]model.Event]
}

func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("engine: client is required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	e := &Engine{
		client:  opts.Client,
		feeds:   opts.Feeds,
		loc:     opts.Location,
		now:     opts.Now,
		metrics: opts.Metrics,
	}

	named := func(name string) cache.Options {
		o := opts.Cache
		o.Name = name
		o.Metrics = opts.Metrics
		if o.Now == nil {
			o.Now = opts.Now
		}
		if o.Retryable == nil {
			o.Retryable = client.IsRetryable
		}
		return o
	}
	e.lists = cache.New(opts.Context, e.loadList, named("events"))
	e.catalog = cache.New(opts.Context, e.loadCatalog, named("catalog"))
	e.details = cache.New(opts.Context, e.loadDetail, named("event"))
	e.recs = cache.New(opts.Context, e.loadRecommendations, named("recommendations"))
	return e, nil
}

// Location is the zone relative timeframes are evaluated in.
func (e *Engine) Location() *time.Location { return e.loc }

// View is what a caller renders for one filter: the events plus the cache
// state they came from.
type View struct {
	Filter    filter.Filter
	Mode      Mode
	Key       cache.Key
	Events    []model.Event
	Status    cache.Status
	HasData   bool
	Stale     bool
	FetchedAt time.Time
	// Err is set when the last fetch failed, even if older data is shown.
	Err error
}

// ListKey is the cache key the remote path uses for f.
func ListKey(f filter.Filter) cache.Key {
	return cache.Key{Endpoint: client.PathEvents, Query: query.Encode(f)}
}

// Query evaluates f on the selected path. With wait false it never blocks:
// a missing entry yields a pending view and cache.ErrCacheMiss. With wait
// true it blocks until data arrives or ctx ends.
func (e *Engine) Query(ctx context.Context, f filter.Filter, mode Mode, wait bool) (View, error) {
	switch mode {
	case ModeLocal:
		snap, err := e.lookup(ctx, e.catalog, catalogKey, wait)
		v := viewOf(f, mode, snap)
		if snap.HasData {
			v.Events = predicate.Apply(f, snap.Data, e.now(), e.loc)
		}
		return v, err
	default:
		key := ListKey(f)
		snap, err := e.lookup(ctx, e.lists, key, wait)
		v := viewOf(f, ModeRemote, snap)
		if snap.HasData {
			v.Events = slices.Clone(snap.Data)
		}
		return v, err
	}
}

// Refetch forces the entry backing (f, mode) to be fetched again.
func (e *Engine) Refetch(f filter.Filter, mode Mode) View {
	if mode == ModeLocal {
		return viewOf(f, mode, e.catalog.Refetch(catalogKey))
	}
	return viewOf(f, ModeRemote, e.lists.Refetch(ListKey(f)))
}

// RefreshCatalog refetches the catalog in the background.
func (e *Engine) RefreshCatalog() {
	e.catalog.Refetch(catalogKey)
}

// Event returns one event, from the detail cache or the API.
func (e *Engine) Event(ctx context.Context, id int64) (model.Event, error) {
	snap, err := e.details.Fetch(ctx, cache.Key{Endpoint: client.EventPath(id)})
	if err != nil {
		return model.Event{}, err
	}
	return snap.Data, nil
}

// Interact records an interaction and evicts everything that may now be out
// of date: the event itself and every cached list containing it. Eviction
// happens even when the upstream call fails.
func (e *Engine) Interact(ctx context.Context, id int64, t model.InteractionType) error {
	if !t.Valid() {
		return fmt.Errorf("engine: unknown interaction type %q", t)
	}
	err := e.client.Interact(ctx, id, t)

	n := e.details.Invalidate(cache.Key{Endpoint: client.EventPath(id)})
	contains := func(_ cache.Key, events []model.Event) bool {
		return slices.ContainsFunc(events, func(ev model.Event) bool { return ev.ID == id })
	}
	n += e.lists.InvalidateFunc(contains)
	n += e.catalog.InvalidateFunc(contains)
	n += e.recs.InvalidateFunc(contains)
	appLog.Info("interaction recorded", "event", id, "type", t, "evicted", n, "ok", err == nil)
	return err
}

// Recommendations returns mapped recommendations for q.
func (e *Engine) Recommendations(ctx context.Context, q client.RecommendationQuery, wait bool) (View, error) {
	key := cache.Key{Endpoint: client.PathRecommendations, Query: q.Encode()}
	snap, err := e.lookup(ctx, e.recs, key, wait)
	v := viewOf(filter.Filter{}, ModeRemote, snap)
	if snap.HasData {
		v.Events = slices.Clone(snap.Data)
	}
	return v, err
}

// Highlights are the curated strips shown above the main list.
type Highlights struct {
	Curated []model.Event `json:"curated"`
	Popular []model.Event `json:"popular"`
}

// Highlights computes the top-rated and most-reviewed events from the
// catalog.
func (e *Engine) Highlights(ctx context.Context, limit int) (Highlights, error) {
	snap, err := e.catalog.Fetch(ctx, catalogKey)
	if err != nil {
		return Highlights{}, err
	}
	return Highlights{
		Curated: predicate.Curated(snap.Data, limit),
		Popular: predicate.Popular(snap.Data, limit),
	}, nil
}

// Sweep evicts entries past retention from every cache.
func (e *Engine) Sweep() int {
	return e.lists.Sweep() + e.catalog.Sweep() + e.details.Sweep() + e.recs.Sweep()
}

func (e *Engine) lookup(ctx context.Context, o *cache.Orchestrator[[]model.Event], key cache.Key, wait bool) (cache.Snapshot[[]model.Event], error) {
	if wait {
		return o.Fetch(ctx, key)
	}
	return o.Request(key)
}

func viewOf(f filter.Filter, mode Mode, snap cache.Snapshot[[]model.Event]) View {
	return View{
		Filter:    f,
		Mode:      mode,
		Key:       snap.Key,
		Status:    snap.Status,
		HasData:   snap.HasData,
		Stale:     snap.Stale,
		FetchedAt: snap.FetchedAt,
		Err:       snap.Err,
	}
}

func (e *Engine) loadList(ctx context.Context, key cache.Key) ([]model.Event, error) {
	return e.client.Events(ctx, key.Query)
}

func (e *Engine) loadRecommendations(ctx context.Context, key cache.Key) ([]model.Event, error) {
	return e.client.Recommendations(ctx, key.Query)
}

func (e *Engine) loadDetail(ctx context.Context, key cache.Key) (model.Event, error) {
	var id int64
	if _, err := fmt.Sscanf(key.Endpoint, client.PathEvents+"/%d", &id); err != nil {
		return model.Event{}, fmt.Errorf("engine: bad detail key %q: %w", key, err)
	}
	return e.client.Event(ctx, id)
}

// loadCatalog fetches the unfiltered API list and every feed concurrently.
// API events win over feed events with the same id.
func (e *Engine) loadCatalog(ctx context.Context, _ cache.Key) ([]model.Event, error) {
	var apiEvents, feedEvents []model.Event
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		apiEvents, err = e.client.Events(gctx, "")
		return err
	})
	if e.feeds != nil {
		g.Go(func() error {
			evs, err := e.feeds.Load(gctx, e.now())
			if err != nil {
				// Feeds are best effort; the API list alone is still a catalog.
				appLog.Error("catalog feeds failed", err)
				return nil
			}
			feedEvents = evs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(apiEvents)+len(feedEvents))
	out := make([]model.Event, 0, len(apiEvents)+len(feedEvents))
	for _, list := range [][]model.Event{apiEvents, feedEvents} {
		for _, ev := range list {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	appLog.Info("catalog loaded", "api", len(apiEvents), "feeds", len(feedEvents), "total", len(out))
	return out, nil
}
