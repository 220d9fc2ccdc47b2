package journal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"structure-engine/internal/engine"
	"structure-engine/internal/market"
	"structure-engine/internal/structure"
	"structure-engine/internal/zones"
)

// fakeDB records statements and emulates the unique constraint.
type fakeDB struct {
	stmts []string
	seen  map[string]bool
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, sql)
	if !strings.Contains(sql, "INSERT") {
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := args[1].(string) + args[2].(string) + args[3].(string) + args[6].(time.Time).String()
	if f.seen[key] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	f.seen[key] = true
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

var t0 = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

func TestRecordDeduplicates(t *testing.T) {
	db := &fakeDB{}
	s := NewStore(db, zerolog.Nop())
	ev := structure.BosEvent{
		Kind: structure.BOS, Direction: market.Bullish, Level: 110,
		StartIndex: 6, EndIndex: 8, EndTime: t0, Confirmed: true,
	}

	ok, err := s.Record(context.Background(), FromEvent("BTCUSDT", market.TF1h, ev))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Record(context.Background(), FromEvent("BTCUSDT", market.TF1h, ev))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewStore(db, zerolog.Nop()).Migrate(context.Background()))
	require.Len(t, db.stmts, len(migrations))
	assert.Contains(t, db.stmts[0], "structure_signals")
}

func TestRecentPropagatesErrors(t *testing.T) {
	_, err := NewStore(&fakeDB{}, zerolog.Nop()).Recent(context.Background(), "BTCUSDT", 10)
	assert.Error(t, err)
}

func TestFromSnapshot(t *testing.T) {
	snap := engine.Snapshot{
		Symbol:    "ETHUSDT",
		Timeframe: market.TF15m,
		Events: []structure.BosEvent{
			{Kind: structure.BOS, Direction: market.Bullish, Level: 10, EndTime: t0, Confirmed: true},
			{Kind: structure.BOS, Direction: market.Bearish, Level: 9, EndTime: t0.Add(time.Hour), Confirmed: false},
		},
		Sweep: &zones.LiquiditySweep{Anticipated: market.Bearish, SweptLevel: 12, SweepTime: t0, ReactionIndex: -1},
	}
	sigs := FromSnapshot(snap)
	require.Len(t, sigs, 2)
	assert.Equal(t, "BOS", sigs[0].Kind)
	assert.Equal(t, KindSweep, sigs[1].Kind)
	assert.Equal(t, market.Bearish, sigs[1].Direction)
	assert.NotEqual(t, uuid.Nil, sigs[0].ID)
	assert.NotEqual(t, sigs[0].Key(), sigs[1].Key())
	assert.Contains(t, string(sigs[0].Payload), `"level":10`)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
