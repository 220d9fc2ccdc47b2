package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"structure-engine/internal/engine"
	"structure-engine/internal/market"
	"structure-engine/internal/structure"
	"structure-engine/internal/zones"
)

// Signal kinds besides the structure event kinds.
const (
	KindSweep         = "sweep"
	KindReactionSweep = "sweep_reaction"
)

// Signal is one journal row.
type Signal struct {
	ID        uuid.UUID        `json:"id"`
	Symbol    string           `json:"symbol"`
	Timeframe market.Timeframe `json:"timeframe"`
	Kind      string           `json:"kind"`
	Direction market.Direction `json:"direction"`
	Level     float64          `json:"level"`
	BarTime   time.Time        `json:"bar_time"`
	Confirmed bool             `json:"confirmed"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Key identifies a signal independently of its ID; the table is unique on it.
func (s Signal) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%g", s.Symbol, s.Timeframe, s.Kind, s.BarTime.UnixMilli(), s.Level)
}

// FromEvent converts a structure break into a signal stamped at its end bar.
func FromEvent(symbol string, tf market.Timeframe, ev structure.BosEvent) Signal {
	payload, _ := json.Marshal(ev)
	return Signal{
		ID:        uuid.New(),
		Symbol:    symbol,
		Timeframe: tf,
		Kind:      ev.Kind.String(),
		Direction: ev.Direction,
		Level:     ev.Level,
		BarTime:   ev.EndTime,
		Confirmed: ev.Confirmed,
		Payload:   payload,
	}
}

// FromSweep converts a liquidity sweep into a signal.
func FromSweep(symbol string, tf market.Timeframe, sw zones.LiquiditySweep) Signal {
	payload, _ := json.Marshal(sw)
	kind := KindSweep
	if sw.ReactionIndex >= 0 {
		kind = KindReactionSweep
	}
	return Signal{
		ID:        uuid.New(),
		Symbol:    symbol,
		Timeframe: tf,
		Kind:      kind,
		Direction: sw.Anticipated,
		Level:     sw.SweptLevel,
		BarTime:   sw.SweepTime,
		Confirmed: true,
		Payload:   payload,
	}
}

// FromSnapshot lists the confirmed signals a snapshot carries.
func FromSnapshot(snap engine.Snapshot) []Signal {
	var out []Signal
	for _, ev := range snap.ConfirmedEvents() {
		out = append(out, FromEvent(snap.Symbol, snap.Timeframe, ev))
	}
	if snap.Sweep != nil {
		out = append(out, FromSweep(snap.Symbol, snap.Timeframe, *snap.Sweep))
	}
	if snap.ReactionSweep != nil {
		out = append(out, FromSweep(snap.Symbol, snap.Timeframe, *snap.ReactionSweep))
	}
	return out
}

// Store reads and writes signals.
type Store struct {
	db     querier
	logger zerolog.Logger
	closer func()
}

// NewStore wraps an open pool (or anything with the same Exec/Query).
func NewStore(db querier, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "SignalJournal").Logger(),
	}
}

// Close releases the pool opened by Open.
func (s *Store) Close() {
	if s.closer != nil {
		s.closer()
		s.logger.Info().Msg("Journal connection closed")
	}
}

// Record inserts a signal. It reports false when the same signal was
// already journalled.
func (s *Store) Record(ctx context.Context, sig Signal) (bool, error) {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	query := `
		INSERT INTO structure_signals (id, symbol, timeframe, kind, direction, level, bar_time, confirmed, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timeframe, kind, bar_time, level) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query,
		sig.ID, sig.Symbol, string(sig.Timeframe), sig.Kind, sig.Direction.String(),
		sig.Level, sig.BarTime, sig.Confirmed, []byte(sig.Payload),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record signal: %w", err)
	}
	inserted := tag.RowsAffected() > 0
	if inserted {
		s.logger.Info().
			Str("symbol", sig.Symbol).
			Str("timeframe", string(sig.Timeframe)).
			Str("kind", sig.Kind).
			Str("direction", sig.Direction.String()).
			Float64("level", sig.Level).
			Msg("Signal journalled")
	}
	return inserted, nil
}

// Recent returns the newest signals for a symbol.
func (s *Store) Recent(ctx context.Context, symbol string, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, timeframe, kind, direction, level, bar_time, confirmed, payload, created_at
		FROM structure_signals
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		var (
			sig       Signal
			timeframe string
			direction string
			payload   []byte
		)
		if err := rows.Scan(&sig.ID, &sig.Symbol, &timeframe, &sig.Kind, &direction,
			&sig.Level, &sig.BarTime, &sig.Confirmed, &payload, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		sig.Timeframe = market.Timeframe(timeframe)
		if sig.Direction, err = market.ParseDirection(direction); err != nil {
			return nil, err
		}
		sig.Payload = payload
		out = append(out, sig)
	}
	return out, rows.Err()
}
