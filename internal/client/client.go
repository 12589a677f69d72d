// Package client talks to the remote events API and to feed URLs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	appLog "eventscope/internal/log"
	"eventscope/internal/model"
	"eventscope/internal/normalize"
	"eventscope/internal/recommend"
)

// Endpoint paths relative to the API origin.
const (
	PathEvents          = "/events"
	PathRecommendations = "/recommendations"
)

// maxBody caps upstream payloads.
const maxBody = 16 << 20

// NewHTTPClient returns an http.Client with bounded dial and handshake times.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Client is the events API client. Every list it returns has already been
// through the Normalizer.
type Client struct {
	origin *url.URL
	http   *http.Client
	norm   *normalize.Normalizer
}

func New(origin string, httpClient *http.Client, norm *normalize.Normalizer) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(origin), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: origin %q must be http or https", origin)
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(15 * time.Second)
	}
	if norm == nil {
		norm = normalize.New(normalize.Options{})
	}
	return &Client{origin: u, http: httpClient, norm: norm}, nil
}

// Origin returns the configured API origin.
func (c *Client) Origin() string { return c.origin.String() }

// Events fetches GET /events?<rawQuery>. rawQuery is normally
// query.Encode(f) and is sent as is.
func (c *Client) Events(ctx context.Context, rawQuery string) ([]model.Event, error) {
	body, err := c.get(ctx, "events", PathEvents, rawQuery)
	if err != nil {
		return nil, err
	}
	return c.decodeList(model.SourceInternal, "events", PathEvents, body)
}

// Event fetches GET /events/{id}.
func (c *Client) Event(ctx context.Context, id int64) (model.Event, error) {
	path := EventPath(id)
	body, err := c.get(ctx, "event", path, "")
	if err != nil {
		return model.Event{}, err
	}
	rec, err := normalize.DecodeOne(body)
	if err != nil {
		return model.Event{}, &QueryError{Op: "event", URL: c.display(path), Err: err}
	}
	return c.norm.Normalize(model.SourceInternal, rec)
}

// EventPath is the detail path for id.
func EventPath(id int64) string {
	return PathEvents + "/" + strconv.FormatInt(id, 10)
}

// Interact records a user interaction. The response body is ignored.
func (c *Client) Interact(ctx context.Context, id int64, t model.InteractionType) error {
	if !t.Valid() {
		return fmt.Errorf("client: unknown interaction type %q", t)
	}
	path := EventPath(id) + "/interact"
	payload, err := json.Marshal(map[string]string{"type": string(t)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, ""), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, "interact", path)
	return err
}

// Recommendation durations.
const (
	DurationDay   = "day"
	DurationWeek  = "week"
	DurationLocal = "local"
)

// RecommendationQuery holds the /recommendations parameters.
type RecommendationQuery struct {
	UserID    string
	Interests []string
	Duration  string
}

// Encode renders q with a fixed parameter order so it can key a cache.
func (q RecommendationQuery) Encode() string {
	var parts []string
	if q.UserID != "" {
		parts = append(parts, "user_id="+url.QueryEscape(q.UserID))
	}
	var interests []string
	for _, in := range q.Interests {
		if in = strings.TrimSpace(in); in != "" {
			interests = append(interests, in)
		}
	}
	slices.Sort(interests)
	for _, in := range slices.Compact(interests) {
		parts = append(parts, "interests="+url.QueryEscape(in))
	}
	if q.Duration != "" {
		parts = append(parts, "duration="+url.QueryEscape(q.Duration))
	}
	return strings.Join(parts, "&")
}

// ParseRecommendationQuery reads the parameters back from a URL query.
func ParseRecommendationQuery(v url.Values) (RecommendationQuery, error) {
	q := RecommendationQuery{
		UserID:    strings.TrimSpace(v.Get("user_id")),
		Interests: v["interests"],
		Duration:  strings.ToLower(strings.TrimSpace(v.Get("duration"))),
	}
	switch q.Duration {
	case "", DurationDay, DurationWeek, DurationLocal:
	default:
		return RecommendationQuery{}, fmt.Errorf("client: unknown duration %q", q.Duration)
	}
	return q, nil
}

// Recommendations fetches GET /recommendations?<rawQuery>. Records go
// through the recommendation vocabulary mapper.
func (c *Client) Recommendations(ctx context.Context, rawQuery string) ([]model.Event, error) {
	body, err := c.get(ctx, "recommendations", PathRecommendations, rawQuery)
	if err != nil {
		return nil, err
	}
	return c.decodeList(recommend.SourceRecommendations, "recommendations", PathRecommendations, body)
}

func (c *Client) decodeList(source, op, path string, body []byte) ([]model.Event, error) {
	records, err := normalize.DecodeList(body)
	if err != nil {
		return nil, &QueryError{Op: op, URL: c.display(path), Err: err}
	}
	return c.norm.NormalizeBatch(source, records).Events, nil
}

func (c *Client) get(ctx context.Context, op, path, rawQuery string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, rawQuery), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, op, path)
}

func (c *Client) do(req *http.Request, op, path string) ([]byte, error) {
	began := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); errors.Is(ctxErr, context.Canceled) {
			return nil, ctxErr
		}
		return nil, &QueryError{Op: op, URL: c.display(path), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &QueryError{Op: op, URL: c.display(path), Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &QueryError{Op: op, URL: c.display(path), Status: resp.StatusCode, Err: errors.New(statusText(resp, body))}
	}
	appLog.Debug("api call", "op", op, "path", path, "status", resp.StatusCode, "bytes", len(body), "took", time.Since(began))
	return body, nil
}

func (c *Client) endpoint(path, rawQuery string) string {
	u := *c.origin
	u.Path = c.origin.Path + path
	u.RawQuery = rawQuery
	return u.String()
}

// display is the URL used in errors and logs, without the query.
func (c *Client) display(path string) string {
	return c.origin.Scheme + "://" + c.origin.Host + c.origin.Path + path
}

// statusText prefers an {"error": "..."} or {"message": "..."} body.
func statusText(resp *http.Response, body []byte) string {
	var msg struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil {
		if msg.Error != "" {
			return msg.Error
		}
		if msg.Message != "" {
			return msg.Message
		}
	}
	return resp.Status
}

// redactURL keeps scheme and host and hides paths and query strings, which
// may carry tokens.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "feed://...(redacted)"
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return parsed.Scheme + "://" + parsed.Host
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
