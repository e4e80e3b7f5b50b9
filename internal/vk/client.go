// Package vk is a minimal VK API client. Every call is queued on a throttler
// so that no more than a fixed number of requests leave per tick.
package vk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	jsoniter "github.com/json-iterator/go"

	"github.com/ppiankov/feeder/internal/metrics"
	"github.com/ppiankov/feeder/internal/throttle"
)

const (
	DefaultBaseURL = "https://api.vk.com"
	APIVersion     = "5.199"

	defaultMaxTries = 3
	requestTimeout  = 30 * time.Second
	maxBodyBytes    = 8 << 20
)

type request struct {
	method string
	params url.Values
}

type call = *throttle.Job[request, jsoniter.RawMessage]

type Options struct {
	Token           string
	BaseURL         string
	Tick            time.Duration
	RequestsPerTick int
	HTTPClient      *http.Client
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	// RetryDelay is the base delay between attempts on rate limit errors.
	RetryDelay time.Duration
}

type Client struct {
	token      string
	baseURL    string
	perTick    int
	http       *http.Client
	log        *slog.Logger
	metrics    *metrics.Metrics
	retryDelay time.Duration
	maxTries   uint

	throttler *throttle.Throttler[call]
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("vk: token is required")
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.RequestsPerTick <= 0 {
		opts.RequestsPerTick = 3
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = opts.Tick
	}

	c := &Client{
		token:      opts.Token,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		perTick:    opts.RequestsPerTick,
		http:       opts.HTTPClient,
		log:        opts.Logger.With("component", "vk"),
		metrics:    opts.Metrics,
		retryDelay: opts.RetryDelay,
		maxTries:   defaultMaxTries,
	}
	c.throttler = throttle.New[call](opts.Tick, throttle.WorkerFunc[call](c.execute), c.log)
	return c, nil
}

// Run starts releasing queued calls. Calls made before Run wait for it.
func (c *Client) Run(ctx context.Context) {
	c.throttler.Run(ctx, c.perTick)
}

// GetWall returns up to count posts of the wall of ownerID starting at offset.
func (c *Client) GetWall(ctx context.Context, ownerID int64, offset, count int) ([]WallItem, error) {
	raw, err := c.do(ctx, "wall.get", url.Values{
		"owner_id": {itoa(ownerID)},
		"offset":   {strconv.Itoa(offset)},
		"count":    {strconv.Itoa(count)},
	})
	if err != nil {
		return nil, err
	}
	return decodeItems[WallItem](raw)
}

func (c *Client) SearchGroups(ctx context.Context, query string, offset, count int) ([]Group, error) {
	raw, err := c.do(ctx, "groups.search", url.Values{
		"q":      {query},
		"offset": {strconv.Itoa(offset)},
		"count":  {strconv.Itoa(count)},
	})
	if err != nil {
		return nil, err
	}
	return decodeItems[Group](raw)
}

func (c *Client) GetGroupsByIDs(ctx context.Context, ids []string) ([]Group, error) {
	raw, err := c.do(ctx, "groups.getById", url.Values{
		"group_ids": {strings.Join(ids, ",")},
		"fields":    {"photo_200"},
	})
	if err != nil {
		return nil, err
	}
	return decodeGroupsByID(raw)
}

// Pending returns the number of calls waiting for a tick.
func (c *Client) Pending() int {
	return c.throttler.Len()
}

func (c *Client) do(ctx context.Context, method string, params url.Values) (jsoniter.RawMessage, error) {
	job, result := throttle.NewJob[request, jsoniter.RawMessage](request{method: method, params: params}, c.log)
	c.throttler.Push(job)
	c.metrics.SetThrottleBacklog(c.throttler.Len())

	raw, err := throttle.Await(ctx, result)
	c.metrics.RecordVKRequest(method, err)
	if err != nil {
		return nil, fmt.Errorf("vk %s: %w", method, err)
	}
	return raw, nil
}

// execute is the throttler worker. Rate limit errors are retried in place;
// the slot stays taken until the call is resolved.
func (c *Client) execute(ctx context.Context, job call) {
	defer c.metrics.SetThrottleBacklog(c.throttler.Len())

	var raw jsoniter.RawMessage
	err := retry.Do(
		func() error {
			var err error
			raw, err = c.get(ctx, job.Payload)
			return err
		},
		retry.Attempts(c.maxTries),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(isTooManyRequests),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("retrying call", "method", job.Payload.method, "attempt", n+1, "error", err)
		}),
	)
	job.Resolve(raw, err)
}

func (c *Client) get(ctx context.Context, req request) (jsoniter.RawMessage, error) {
	q := url.Values{}
	for k, v := range req.params {
		q[k] = v
	}
	q.Set("access_token", c.token)
	q.Set("v", APIVersion)

	endpoint := c.baseURL + "/method/" + req.method + "?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: unexpected status %d", req.method, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Error != nil {
		return nil, env.Error
	}
	return env.Response, nil
}

func isTooManyRequests(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.TooManyRequests()
}
