// Package feed turns subscribed calendar and Eventbrite feeds into events.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventscope/internal/client"
	appLog "eventscope/internal/log"
	"eventscope/internal/model"
	"eventscope/internal/normalize"
	"eventscope/internal/recommend"
)

// Feed kinds.
const (
	KindICS        = recommend.SourceICS
	KindEventbrite = recommend.SourceEventbrite
)

// Source is one configured feed subscription.
type Source struct {
	ID   string `yaml:"id"`
	URL  string `yaml:"url"`
	Kind string `yaml:"kind"` // "ics" (default) or "eventbrite"
}

// Name is the event source recorded on events from this feed.
func (s Source) Name() string {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if kind == "" {
		kind = KindICS
	}
	return kind + ":" + s.ID
}

// Loader fetches every configured feed and normalizes the result.
type Loader struct {
	fetcher *client.Fetcher
	norm    *normalize.Normalizer
	sources []Source
	loc     *time.Location
}

func NewLoader(fetcher *client.Fetcher, norm *normalize.Normalizer, sources []Source, loc *time.Location) *Loader {
	if loc == nil {
		loc = time.UTC
	}
	return &Loader{fetcher: fetcher, norm: norm, sources: sources, loc: loc}
}

// Sources returns the configured feeds.
func (l *Loader) Sources() []Source { return l.sources }

// Load fetches all feeds concurrently. Feeds that fail are logged and left
// out; the error is non-nil only when every feed failed.
func (l *Loader) Load(ctx context.Context, now time.Time) ([]model.Event, error) {
	if len(l.sources) == 0 {
		return nil, nil
	}
	byID := make(map[string]Source, len(l.sources))
	fs := make([]client.FeedSource, len(l.sources))
	for i, s := range l.sources {
		fs[i] = client.FeedSource{ID: s.ID, URL: s.URL}
		byID[s.ID] = s
	}

	results, errs := l.fetcher.FetchAll(ctx, fs)
	var events []model.Event
	for _, res := range results {
		evs, err := l.Decode(byID[res.Source.ID], res.Body, now)
		if err != nil {
			appLog.Error("feed decode failed", err, "feed", res.Source.ID)
			errs = append(errs, err)
			continue
		}
		events = append(events, evs...)
	}
	if len(errs) > 0 && len(errs) == len(l.sources) {
		return nil, errors.Join(errs...)
	}
	appLog.Info("feeds loaded", "feeds", len(l.sources), "events", len(events), "failed", len(errs))
	return events, nil
}

// Decode converts one feed body into normalized events.
func (l *Loader) Decode(src Source, body []byte, now time.Time) ([]model.Event, error) {
	name := src.Name()
	var records []normalize.Record
	switch normalize.Kind(name) {
	case KindICS:
		entries, err := ParseICS(src.ID, body, l.loc)
		if err != nil {
			return nil, err
		}
		records = Records(src.ID, entries, now)
	case KindEventbrite:
		recs, err := normalize.DecodeList(body)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", src.ID, err)
		}
		records = recs
	default:
		return nil, fmt.Errorf("feed %s: unknown kind %q", src.ID, src.Kind)
	}
	return l.norm.NormalizeBatch(name, records).Events, nil
}
