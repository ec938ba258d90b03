// Package marketapi is the single point of contact with the metered market
// data API. It authenticates, enforces the per-endpoint daily quota, throttles
// calls to the upstream's request rate, and retries transient failures.
//
// Every call is serialized: at most one request is in flight per Client, and
// the quota check and counter increment happen under the same lock.
package marketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ipocli/internal/config"
	apperrors "ipocli/internal/errors"
	"ipocli/internal/infrastructure"
)

// Endpoint names one upstream resource. A PerEntity endpoint answers for a
// single issue code per call instead of a whole-market snapshot.
type Endpoint struct {
	Name      string
	Path      string
	TrID      string
	PerEntity bool
}

var (
	EndpointStockInfo  = Endpoint{Name: "stock_info", Path: "/ksq_isu_base_info"}
	EndpointDailyTrade = Endpoint{Name: "daily_trade", Path: "/ksq_bydd_trd"}
	EndpointDailyOHLCV = Endpoint{
		Name:      "daily_ohlcv",
		Path:      "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice",
		TrID:      "FHKST03010100",
		PerEntity: true,
	}
)

// DateParam is the request parameter carrying the snapshot date (YYYYMMDD)
const DateParam = "basDd"

// Parameters of the per-issue daily chart
const (
	MarketParam    = "FID_COND_MRKT_DIV_CODE"
	CodeParam      = "FID_INPUT_ISCD"
	FromDateParam  = "FID_INPUT_DATE_1"
	ToDateParam    = "FID_INPUT_DATE_2"
	PeriodParam    = "FID_PERIOD_DIV_CODE"
	AdjustedParam  = "FID_ORG_ADJ_PRC"
	stockMarketDiv = "J"
)

const defaultTokenTTL = 24 * time.Hour

// Response is the record list of one successful bulk snapshot
type Response struct {
	Endpoint string
	Records  []json.RawMessage
}

// EndpointStats reports quota usage for one endpoint
type EndpointStats struct {
	Count     int `json:"count"`
	Quota     int `json:"quota"`
	Remaining int `json:"remaining"`
}

// Client talks to the upstream API
type Client struct {
	cfg     config.APIConfig
	http    *http.Client
	retry   RetryPolicy
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *infrastructure.CollectorMetrics
	now     func() time.Time

	// callMu serializes whole requests
	callMu sync.Mutex

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	counts      map[string]int
	warned      map[string]bool
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy replaces the retry policy, e.g. with a fake sleeper
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithClock overrides the clock used for token expiry
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLimiter replaces the inter-request throttle
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithMetrics records request metrics
func WithMetrics(m *infrastructure.CollectorMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client. MinInterval in cfg sets the mandatory spacing
// between requests; zero disables throttling.
func NewClient(cfg config.APIConfig, retry config.RetryConfig, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		retry:   NewRetryPolicy(retry),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "market_api"),
		now:     time.Now,
		counts:  make(map[string]int),
		warned:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate obtains a fresh bearer token. Without an auth URL the client
// uses its static API key and only checks that one is configured.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.cfg.AppKey == "" {
		return apperrors.NewAuthenticationError("api key not configured", nil)
	}
	if c.cfg.AuthURL == "" {
		return nil
	}

	var (
		token string
		ttl   time.Duration
	)
	err := c.retry.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		token, ttl, err = c.requestToken(ctx)
		return err
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.WarnContext(ctx, "token request failed, retrying",
			"attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.token = token
	c.tokenExpiry = c.now().Add(ttl)
	expiry := c.tokenExpiry
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "authenticated", "expires_at", expiry)
	return nil
}

// EnsureAuthenticated authenticates only when no valid token is held
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	if c.cfg.AuthURL == "" {
		if c.cfg.AppKey == "" {
			return apperrors.NewAuthenticationError("api key not configured", nil)
		}
		return nil
	}

	c.mu.Lock()
	valid := c.token != "" && c.now().Before(c.tokenExpiry)
	c.mu.Unlock()
	if valid {
		return nil
	}
	return c.Authenticate(ctx)
}

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) requestToken(ctx context.Context) (string, time.Duration, error) {
	body, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		AppKey:    c.cfg.AppKey,
		AppSecret: c.cfg.AppSecret,
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(body))
	if err != nil {
		return "", 0, apperrors.NewConfigError("invalid auth url", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", 0, apperrors.NewTransientError(fmt.Sprintf("token endpoint returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, apperrors.NewAuthenticationError(fmt.Sprintf("token request rejected with status %d", resp.StatusCode), nil)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, apperrors.NewAuthenticationError("unreadable token response", err)
	}
	if tr.AccessToken == "" {
		return "", 0, apperrors.NewAuthenticationError("token response carried no access token", nil)
	}

	ttl := defaultTokenTTL
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn) * time.Second
	}
	return tr.AccessToken, ttl, nil
}

// Request calls endpoint with params. A request that would push the
// endpoint's counter past the daily quota fails with a quota error before any
// network I/O. Transient failures are retried; the counter only moves on
// success.
func (c *Client) Request(ctx context.Context, endpoint Endpoint, params url.Values) (*Response, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	count := c.counts[endpoint.Name]
	c.mu.Unlock()
	if count >= c.cfg.DailyQuota {
		c.metrics.RecordAPIRequest(ctx, endpoint.Name, "quota_exceeded", 0)
		return nil, apperrors.NewQuotaExceededError(endpoint.Name, count, c.cfg.DailyQuota)
	}

	if err := c.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *Response
	err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		resp, err = c.do(ctx, endpoint, params)
		return err
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.WarnContext(ctx, "request failed, retrying",
			"endpoint", endpoint.Name,
			"attempt", attempt,
			"max_attempts", c.retry.MaxAttempts,
			"delay", delay,
			"error", err)
	})
	if err != nil {
		c.metrics.RecordAPIRequest(ctx, endpoint.Name, outcome(err), time.Since(start))
		return nil, err
	}

	c.metrics.RecordAPIRequest(ctx, endpoint.Name, "success", time.Since(start))
	c.increment(ctx, endpoint.Name)
	return resp, nil
}

func (c *Client) increment(ctx context.Context, endpoint string) {
	c.mu.Lock()
	c.counts[endpoint]++
	count := c.counts[endpoint]
	warn := !c.warned[endpoint] && c.cfg.QuotaWarnAt > 0 &&
		float64(count) >= c.cfg.QuotaWarnAt*float64(c.cfg.DailyQuota)
	if warn {
		c.warned[endpoint] = true
	}
	c.mu.Unlock()

	if warn {
		c.logger.WarnContext(ctx, "approaching daily quota",
			"endpoint", endpoint,
			"count", count,
			"quota", c.cfg.DailyQuota)
	}
}

func (c *Client) do(ctx context.Context, endpoint Endpoint, params url.Values) (*Response, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + endpoint.Path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid request url", err)
	}
	c.setAuthHeaders(req, endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.invalidateToken()
		return nil, apperrors.NewAuthenticationError(fmt.Sprintf("%s rejected credentials with status %d", endpoint.Name, resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.NewTransientError(fmt.Sprintf("%s returned status %d", endpoint.Name, resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewApplicationError(fmt.Sprintf("HTTP%d", resp.StatusCode), strings.TrimSpace(string(body)))
	}

	records, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}
	return &Response{Endpoint: endpoint.Name, Records: records}, nil
}

func (c *Client) setAuthHeaders(req *http.Request, endpoint Endpoint) {
	req.Header.Set("Accept", "application/json")
	if endpoint.TrID != "" {
		req.Header.Set("tr_id", endpoint.TrID)
	}
	if c.cfg.AuthURL == "" {
		req.Header.Set("AUTH_KEY", c.cfg.AppKey)
		return
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// envelope covers both response families: rt_cd/msg1/output* and
// respCode/respMsg/OutBlock_1.
type envelope struct {
	RtCd      *string           `json:"rt_cd"`
	Msg1      string            `json:"msg1"`
	RespCode  string            `json:"respCode"`
	RespMsg   string            `json:"respMsg"`
	OutBlock1 []json.RawMessage `json:"OutBlock_1"`
	Output    json.RawMessage   `json:"output"`
	Output2   []json.RawMessage `json:"output2"`
}

// parseEnvelope extracts the record list from a 200 body or returns an
// application error carried inside it
func parseEnvelope(body []byte) ([]json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperrors.NewApplicationError("MALFORMED", fmt.Sprintf("response is not valid JSON: %v", err))
	}

	if env.RtCd != nil && *env.RtCd != "0" {
		return nil, apperrors.NewApplicationError(*env.RtCd, env.Msg1)
	}
	if env.RespCode != "" && env.RespCode != "0" && env.RespCode != "200" {
		if env.RespCode == "401" || env.RespCode == "403" {
			return nil, apperrors.NewAuthenticationError(fmt.Sprintf("upstream rejected credentials: %s", env.RespMsg), nil)
		}
		return nil, apperrors.NewApplicationError(env.RespCode, env.RespMsg)
	}

	var records []json.RawMessage
	switch {
	case env.OutBlock1 != nil:
		records = env.OutBlock1
	case env.Output2 != nil:
		records = env.Output2
	case len(env.Output) > 0 && env.Output[0] == '[':
		if err := json.Unmarshal(env.Output, &records); err != nil {
			return nil, apperrors.NewApplicationError("MALFORMED", "output is not a record list")
		}
	case len(env.Output) > 0 && env.Output[0] == '{':
		records = []json.RawMessage{env.Output}
	}

	compacted := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		var buf bytes.Buffer
		if err := json.Compact(&buf, r); err != nil {
			return nil, apperrors.NewApplicationError("MALFORMED", "record is not valid JSON")
		}
		compacted = append(compacted, buf.Bytes())
	}
	return compacted, nil
}

// classifyTransportError maps a failed round trip onto the error taxonomy.
// Cancellation of the caller's context is returned as-is.
func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewTransientError("request timed out", err)
	}
	return apperrors.NewTransientError("request failed", err)
}

func outcome(err error) string {
	if t := apperrors.TypeOf(err); t != "" {
		return strings.ToLower(string(t))
	}
	return "error"
}

// Stats returns quota usage for every endpoint that has been called
func (c *Client) Stats() map[string]EndpointStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make(map[string]EndpointStats, len(c.counts))
	for name, count := range c.counts {
		stats[name] = EndpointStats{
			Count:     count,
			Quota:     c.cfg.DailyQuota,
			Remaining: c.cfg.DailyQuota - count,
		}
	}
	return stats
}

// QuotaUsage returns the raw counters, for metrics callbacks
func (c *Client) QuotaUsage() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	usage := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		usage[k] = v
	}
	return usage
}

// Count returns the counter for one endpoint
func (c *Client) Count(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[endpoint]
}

// ResetCounters is the explicit daily reset of every endpoint counter
func (c *Client) ResetCounters() {
	c.mu.Lock()
	names := make([]string, 0, len(c.counts))
	for name := range c.counts {
		names = append(names, name)
	}
	c.counts = make(map[string]int)
	c.warned = make(map[string]bool)
	c.mu.Unlock()

	sort.Strings(names)
	c.logger.Info("request counters reset", "endpoints", names)
}

// SnapshotParams returns the parameters selecting the bulk snapshot for date
// (YYYYMMDD)
func SnapshotParams(date string) url.Values {
	return url.Values{DateParam: []string{date}}
}

// EntityDayParams returns the parameters selecting one issue's daily bar for
// date (YYYYMMDD)
func EntityDayParams(code, date string) url.Values {
	return url.Values{
		MarketParam:   []string{stockMarketDiv},
		CodeParam:     []string{code},
		FromDateParam: []string{date},
		ToDateParam:   []string{date},
		PeriodParam:   []string{"D"},
		AdjustedParam: []string{"1"},
	}
}

// Clients reports and resets quota usage across several clients as one
type Clients []*Client

// Stats merges the per-endpoint usage of every client
func (cs Clients) Stats() map[string]EndpointStats {
	stats := make(map[string]EndpointStats)
	for _, c := range cs {
		for name, s := range c.Stats() {
			merged := stats[name]
			merged.Count += s.Count
			merged.Quota += s.Quota
			merged.Remaining += s.Remaining
			stats[name] = merged
		}
	}
	return stats
}

// QuotaUsage merges the raw counters of every client
func (cs Clients) QuotaUsage() map[string]int {
	usage := make(map[string]int)
	for _, c := range cs {
		for name, n := range c.QuotaUsage() {
			usage[name] += n
		}
	}
	return usage
}

// ResetCounters resets every client
func (cs Clients) ResetCounters() {
	for _, c := range cs {
		c.ResetCounters()
	}
}
