package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"structure-engine/internal/market"
)

// klineEvent is the Binance <symbol>@kline_<interval> payload.
type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64   `json:"t"`
		CloseTime int64   `json:"T"`
		Interval  string  `json:"i"`
		Open      float64 `json:"o,string"`
		High      float64 `json:"h,string"`
		Low       float64 `json:"l,string"`
		Close     float64 `json:"c,string"`
		Volume    float64 `json:"v,string"`
		Closed    bool    `json:"x"`
	} `json:"k"`
}

// KlineStream follows one kline stream and reports every bar that closes.
type KlineStream struct {
	baseURL        string
	dialer         *websocket.Dialer
	logger         zerolog.Logger
	ReconnectDelay time.Duration
}

// NewKlineStream creates a stream client for a base such as
// wss://stream.binance.com:9443.
func NewKlineStream(baseURL string, logger zerolog.Logger) *KlineStream {
	return &KlineStream{
		baseURL:        strings.TrimRight(baseURL, "/"),
		dialer:         websocket.DefaultDialer,
		logger:         logger.With().Str("component", "KlineStream").Logger(),
		ReconnectDelay: 3 * time.Second,
	}
}

// Run blocks until ctx is done, reconnecting whenever the connection drops.
// onClosed is called from the read goroutine, in stream order.
func (s *KlineStream) Run(ctx context.Context, symbol string, tf market.Timeframe, onClosed func(market.Bar)) error {
	streamURL := fmt.Sprintf("%s/ws/%s@kline_%s", s.baseURL, strings.ToLower(symbol), tf)
	log := s.logger.With().Str("symbol", symbol).Str("stream", string(tf)).Logger()
	for {
		err := s.consume(ctx, streamURL, log, onClosed)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("retry_in", s.ReconnectDelay).Msg("Kline stream lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.ReconnectDelay):
		}
	}
}

func (s *KlineStream) consume(ctx context.Context, streamURL string, log zerolog.Logger, onClosed func(market.Bar)) error {
	conn, _, err := s.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", streamURL, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Info().Msg("Kline stream connected")
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		bar, closed, err := decodeKline(message)
		if err != nil {
			log.Debug().Err(err).Msg("Skipping stream message")
			continue
		}
		if closed {
			onClosed(bar)
		}
	}
}

func decodeKline(message []byte) (market.Bar, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return market.Bar{}, false, err
	}
	if ev.EventType != "kline" {
		return market.Bar{}, false, fmt.Errorf("unexpected event %q", ev.EventType)
	}
	k := ev.Kline
	return market.Bar{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     k.Open,
		High:     k.High,
		Low:      k.Low,
		Close:    k.Close,
		Volume:   k.Volume,
	}, k.Closed, nil
}
