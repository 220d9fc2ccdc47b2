package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"structure-engine/internal/market"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("bar source unavailable")

// RESTConfig configures the Binance REST client.
type RESTConfig struct {
	BaseURL           string        `json:"base_url" yaml:"base_url"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
}

// RESTClient fetches klines from the public Binance market data API.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
	now        func() time.Time
}

// NewRESTClient creates a client. Requests are paced by a token bucket and
// guarded by a breaker that opens after three consecutive failures.
func NewRESTClient(cfg RESTConfig, logger zerolog.Logger) *RESTClient {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger = logger.With().Str("component", "BinanceREST").Logger()

	st := gobreaker.Settings{
		Name:     "binance-klines",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Breaker state changed")
		},
	}
	return &RESTClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:    gobreaker.NewCircuitBreaker(st),
		logger:     logger,
		now:        time.Now,
	}
}

// Bars fetches klines. A kline whose close time is still ahead of now is
// reported as the forming bar.
func (c *RESTClient) Bars(ctx context.Context, symbol string, tf market.Timeframe, limit int) (market.Series, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return market.Series{}, fmt.Errorf("rate limiter: %w", err)
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, symbol, tf, limit)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return market.Series{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return market.Series{}, err
	}
	return res.(market.Series), nil
}

func (c *RESTClient) fetch(ctx context.Context, symbol string, tf market.Timeframe, limit int) (market.Series, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	params.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.Series{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return market.Series{}, fmt.Errorf("error fetching klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.Series{}, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return market.Series{}, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	bars, lastClose, err := parseKlines(body)
	if err != nil {
		return market.Series{}, err
	}
	series := market.Series{
		Symbol:    symbol,
		Timeframe: tf,
		Bars:      bars,
		Forming:   len(bars) > 0 && lastClose >= c.now().UnixMilli(),
	}
	c.logger.Debug().Str("symbol", symbol).Str("interval", string(tf)).Int("bars", len(bars)).Bool("forming", series.Forming).Msg("Klines fetched")
	return series, nil
}

// parseKlines decodes the REST array-of-arrays payload and returns the
// close time of the last kline in milliseconds.
func parseKlines(body []byte) ([]market.Bar, int64, error) {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, fmt.Errorf("error parsing klines: %w", err)
	}
	bars := make([]market.Bar, 0, len(raw))
	var lastClose int64
	for i, row := range raw {
		if len(row) < 7 {
			return nil, 0, fmt.Errorf("kline %d: %d fields", i, len(row))
		}
		var openTime, closeTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, 0, fmt.Errorf("kline %d open time: %w", i, err)
		}
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			return nil, 0, fmt.Errorf("kline %d close time: %w", i, err)
		}
		var ohlcv [5]float64
		for k := range ohlcv {
			var s string
			if err := json.Unmarshal(row[k+1], &s); err != nil {
				return nil, 0, fmt.Errorf("kline %d field %d: %w", i, k+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, 0, fmt.Errorf("kline %d field %d: %w", i, k+1, err)
			}
			ohlcv[k] = v
		}
		bars = append(bars, market.Bar{
			OpenTime: time.UnixMilli(openTime).UTC(),
			Open:     ohlcv[0],
			High:     ohlcv[1],
			Low:      ohlcv[2],
			Close:    ohlcv[3],
			Volume:   ohlcv[4],
		})
		lastClose = closeTime
	}
	return bars, lastClose, nil
}
