// Package binance implements the REST client for Binance-compatible kline
// endpoints: chunked pagination through a shared rate limiter, the
// provider's retry policy, and decoding of the fixed-position kline arrays.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"callisto/internal/domain"
	"callisto/internal/ratelimit"
	"callisto/internal/util"
)

// usedWeightHeader reports the weight the provider has accounted against
// this IP in the current minute.
const usedWeightHeader = "X-MBX-USED-WEIGHT-1M"

// Config holds client settings. Zero fields are filled by withDefaults.
type Config struct {
	BaseURL         string
	KlinesEndpoint  string
	TimeEndpoint    string
	RequestTimeout  time.Duration
	MaxRetries      int           // attempts for transient transport errors
	BackoffBase     time.Duration // first retry delay, doubled per attempt
	MaxLimit        int           // provider's hard page-size cap
	DefaultLimit    int           // rows requested per page
	MaxBarsPerChunk int           // pagination chunk size in bars
	UserAgent       string
}

// DefaultConfig returns the provider's production endpoints and limits.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.binance.com",
		KlinesEndpoint:  "/api/v3/klines",
		TimeEndpoint:    "/api/v3/time",
		RequestTimeout:  30 * time.Second,
		MaxRetries:      3,
		BackoffBase:     time.Second,
		MaxLimit:        1500,
		DefaultLimit:    1000,
		MaxBarsPerChunk: 1000,
		UserAgent:       "callisto/0.1",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.KlinesEndpoint == "" {
		c.KlinesEndpoint = def.KlinesEndpoint
	}
	if c.TimeEndpoint == "" {
		c.TimeEndpoint = def.TimeEndpoint
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = def.MaxLimit
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = def.DefaultLimit
	}
	if c.MaxBarsPerChunk <= 0 {
		c.MaxBarsPerChunk = def.MaxBarsPerChunk
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	return c
}

// Client fetches historical klines. All requests pass through one shared
// rate limiter; retry behaviour follows the provider's policy (429 waits
// the advertised interval, 418 is fatal, transport errors back off
// exponentially).
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewClient creates a Client. The limiter must be shared by every client
// talking to the same provider account.
func NewClient(cfg Config, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("User-Agent", cfg.UserAgent)

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  logger.With("component", "binance"),
	}
}

// ---------------------------------------------------------------------------
// Fetching
// ---------------------------------------------------------------------------

// FetchKlines retrieves all klines for [start, end), splitting the range
// into page-sized chunks, deduplicating across chunk edges, and returning a
// time-ordered series.
func (c *Client) FetchKlines(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) (*domain.Series, error) {
	symbol = strings.ToUpper(symbol)
	if !interval.Valid() {
		return nil, fmt.Errorf("invalid interval %q", interval)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	chunks := util.ChunkRange(start.UnixMilli(), end.UnixMilli(), interval.Millis(), c.cfg.MaxBarsPerChunk)
	c.logger.Info("fetching klines",
		"symbol", symbol, "interval", interval,
		"start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339),
		"chunks", len(chunks))

	var all []domain.Bar
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		bars, err := c.fetchChunk(ctx, symbol, interval, chunk[0], chunk[1])
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		all = append(all, bars...)
	}

	series := &domain.Series{
		Symbol:   symbol,
		Interval: interval,
		Bars:     domain.MergeBars(nil, all),
	}
	c.logger.Info("fetched klines", "symbol", symbol, "interval", interval, "bars", series.Len())
	return series, nil
}

// StreamKlines fetches the same range as FetchKlines but hands each chunk to
// fn as it arrives instead of materializing the whole series. Bars passed to
// fn are deduplicated against the previous chunk's edge and sorted. A non-nil
// error from fn stops the stream.
func (c *Client) StreamKlines(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time, fn func([]domain.Bar) error) error {
	symbol = strings.ToUpper(symbol)
	if !interval.Valid() {
		return fmt.Errorf("invalid interval %q", interval)
	}
	if !start.Before(end) {
		return fmt.Errorf("start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	chunks := util.ChunkRange(start.UnixMilli(), end.UnixMilli(), interval.Millis(), c.cfg.MaxBarsPerChunk)

	var lastOpen int64 = -1
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		bars, err := c.fetchChunk(ctx, symbol, interval, chunk[0], chunk[1])
		if err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}

		sorted := domain.MergeBars(nil, bars)
		fresh := sorted[:0:0]
		for _, b := range sorted {
			if b.OpenTime > lastOpen {
				fresh = append(fresh, b)
			}
		}
		if len(fresh) == 0 {
			continue
		}
		lastOpen = fresh[len(fresh)-1].OpenTime

		if err := fn(fresh); err != nil {
			return err
		}
	}
	return nil
}

// fetchChunk requests one page of klines for [startMs, endMs).
func (c *Client) fetchChunk(ctx context.Context, symbol string, interval domain.Interval, startMs, endMs int64) ([]domain.Bar, error) {
	limit := c.pageLimit()
	params := map[string]string{
		"symbol":    symbol,
		"interval":  string(interval),
		"startTime": strconv.FormatInt(startMs, 10),
		"endTime":   strconv.FormatInt(endMs, 10),
		"limit":     strconv.Itoa(limit),
	}

	body, err := c.request(ctx, c.cfg.KlinesEndpoint, params, WeightForLimit(limit))
	if err != nil {
		return nil, err
	}
	return c.parseKlines(body), nil
}

func (c *Client) pageLimit() int {
	if c.cfg.DefaultLimit > c.cfg.MaxLimit {
		return c.cfg.MaxLimit
	}
	return c.cfg.DefaultLimit
}

// ---------------------------------------------------------------------------
// Transport and retry policy
// ---------------------------------------------------------------------------

// request performs one rate-limited GET with the provider's retry policy:
// 429 sleeps the advertised Retry-After and retries without consuming an
// attempt, 418 fails immediately as ErrBanned, other non-2xx statuses fail
// immediately with the provider's code and message, and transport errors
// back off exponentially up to MaxRetries attempts.
func (c *Client) request(ctx context.Context, endpoint string, params map[string]string, weight int) ([]byte, error) {
	attempt := 0
	for {
		if err := c.limiter.Wait(ctx, weight); err != nil {
			return nil, err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get(endpoint)
		if err != nil {
			attempt++
			if attempt >= c.cfg.MaxRetries {
				return nil, fmt.Errorf("request failed after %d attempts: %w", attempt, err)
			}
			backoff := c.cfg.BackoffBase << (attempt - 1)
			c.logger.Warn("transport error, backing off",
				"endpoint", endpoint, "attempt", attempt, "backoff", backoff, "err", err)
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status == 429:
			retryAfter := retryAfterSeconds(resp.Header().Get("Retry-After"))
			c.logger.Warn("rate limited by provider", "endpoint", endpoint, "retry_after", retryAfter)
			if err := sleepCtx(ctx, retryAfter); err != nil {
				return nil, err
			}
			continue

		case status == 418:
			retryAfter := retryAfterSeconds(resp.Header().Get("Retry-After"))
			return nil, fmt.Errorf("%w: banned for %s (http 418)", ErrBanned, retryAfter)

		case resp.IsSuccess():
			if used := resp.Header().Get(usedWeightHeader); used != "" {
				c.logger.Debug("provider weight usage", "used_weight_1m", used)
			}
			return resp.Body(), nil

		default:
			apiErr := &APIError{StatusCode: status}
			var body struct {
				Code int    `json:"code"`
				Msg  string `json:"msg"`
			}
			if err := json.Unmarshal(resp.Body(), &body); err == nil {
				apiErr.Code = body.Code
				apiErr.Message = body.Msg
			} else {
				apiErr.Message = strings.TrimSpace(string(resp.Body()))
			}
			return nil, apiErr
		}
	}
}

// retryAfterSeconds parses a Retry-After header value in seconds, defaulting
// to one minute when absent or malformed.
func retryAfterSeconds(header string) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ---------------------------------------------------------------------------
// Response decoding
// ---------------------------------------------------------------------------

// parseKlines decodes the provider's array-of-arrays kline payload. Rows
// with unexpected shape or unparsable numeric fields are skipped with a
// warning rather than failing the whole page.
func (c *Client) parseKlines(data []byte) []domain.Bar {
	var rows [][]any
	if err := json.Unmarshal(data, &rows); err != nil {
		c.logger.Warn("undecodable klines payload", "err", err)
		return nil
	}

	bars := make([]domain.Bar, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		bar, err := parseKlineRow(row)
		if err != nil {
			skipped++
			c.logger.Warn("skipping malformed kline row", "err", err)
			continue
		}
		bars = append(bars, bar)
	}
	if skipped > 0 {
		c.logger.Warn("skipped malformed kline rows", "skipped", skipped, "kept", len(bars))
	}
	return bars
}

// parseKlineRow maps one fixed-position kline array to a Bar:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume,
// trades, takerBuyBase, takerBuyQuote, ...].
func parseKlineRow(row []any) (domain.Bar, error) {
	if len(row) < 11 {
		return domain.Bar{}, fmt.Errorf("kline row has %d fields, want at least 11", len(row))
	}

	var bar domain.Bar
	var err error
	if bar.OpenTime, err = asInt64(row[0]); err != nil {
		return domain.Bar{}, fmt.Errorf("open time: %w", err)
	}
	if bar.Open, err = asFloat(row[1]); err != nil {
		return domain.Bar{}, fmt.Errorf("open: %w", err)
	}
	if bar.High, err = asFloat(row[2]); err != nil {
		return domain.Bar{}, fmt.Errorf("high: %w", err)
	}
	if bar.Low, err = asFloat(row[3]); err != nil {
		return domain.Bar{}, fmt.Errorf("low: %w", err)
	}
	if bar.Close, err = asFloat(row[4]); err != nil {
		return domain.Bar{}, fmt.Errorf("close: %w", err)
	}
	if bar.Volume, err = asFloat(row[5]); err != nil {
		return domain.Bar{}, fmt.Errorf("volume: %w", err)
	}
	if bar.CloseTime, err = asInt64(row[6]); err != nil {
		return domain.Bar{}, fmt.Errorf("close time: %w", err)
	}
	if bar.QuoteVolume, err = asFloat(row[7]); err != nil {
		return domain.Bar{}, fmt.Errorf("quote volume: %w", err)
	}
	if bar.Trades, err = asInt64(row[8]); err != nil {
		return domain.Bar{}, fmt.Errorf("trades: %w", err)
	}
	if bar.TakerBuyBase, err = asFloat(row[9]); err != nil {
		return domain.Bar{}, fmt.Errorf("taker buy base: %w", err)
	}
	if bar.TakerBuyQuote, err = asFloat(row[10]); err != nil {
		return domain.Bar{}, fmt.Errorf("taker buy quote: %w", err)
	}
	return bar, nil
}

// asFloat accepts the JSON number and numeric-string encodings the provider
// mixes freely.
func asFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func asInt64(v any) (int64, error) {
	f, err := asFloat(v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// ---------------------------------------------------------------------------
// Operational endpoints
// ---------------------------------------------------------------------------

// ServerTime returns the provider's clock, for connectivity checks.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.request(ctx, c.cfg.TimeEndpoint, nil, 1)
	if err != nil {
		return time.Time{}, err
	}

	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return time.Time{}, fmt.Errorf("decoding server time: %w", err)
	}
	return time.UnixMilli(payload.ServerTime).UTC(), nil
}

// ValidateSymbol reports whether the provider recognises the symbol, by
// requesting a single daily bar. The provider's invalid-symbol code maps to
// (false, nil); other errors are returned as-is.
func (c *Client) ValidateSymbol(ctx context.Context, symbol string) (bool, error) {
	params := map[string]string{
		"symbol":   strings.ToUpper(symbol),
		"interval": string(domain.Interval1d),
		"limit":    "1",
	}

	if _, err := c.request(ctx, c.cfg.KlinesEndpoint, params, WeightForLimit(1)); err != nil {
		if IsInvalidSymbol(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
