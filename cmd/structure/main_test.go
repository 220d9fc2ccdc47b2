package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"structure-engine/internal/api"
	"structure-engine/internal/engine"
	"structure-engine/internal/risk"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func zigzagCSV(t *testing.T) string {
	t.Helper()
	turns := []float64{100, 110, 105, 115, 108, 120, 112}
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	var b strings.Builder
	b.WriteString("open_time,open,high,low,close,volume\n")
	n := 0
	for i := 0; i+1 < len(turns); i++ {
		step := (turns[i+1] - turns[i]) / 4
		for k := 0; k < 4; k++ {
			open := turns[i] + step*float64(k)
			closeP := open + step
			fmt.Fprintf(&b, "%d,%g,%g,%g,%g,1000\n",
				start.Add(time.Duration(n)*time.Hour).UnixMilli(),
				open, max(open, closeP)+0.2, min(open, closeP)-0.2, closeP)
			n++
		}
	}
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestAnalyzeCSVJSON(t *testing.T) {
	out, err := run(t, "analyze", "--csv", zigzagCSV(t), "--strength", "2", "--format", "json")
	require.NoError(t, err)

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, 24, snap.ClosedBars)
	assert.NotEmpty(t, snap.Structure)
	assert.NotEmpty(t, snap.ConfirmedEvents())
}

func TestAnalyzeTable(t *testing.T) {
	out, err := run(t, "analyze", "--mock", "150", "--symbol", "ethusdt", "--timeframe", "15m")
	require.NoError(t, err)
	assert.Contains(t, out, "ETHUSDT 15m")
	assert.Contains(t, out, "STRUCTURE")
	assert.Contains(t, out, "EVENT")
}

func TestAnalyzeNeedsOneSource(t *testing.T) {
	_, err := run(t, "analyze")
	assert.Error(t, err)
	_, err = run(t, "analyze", "--csv", "x.csv", "--mock", "10")
	assert.Error(t, err)
	_, err = run(t, "analyze", "--mock", "10", "--timeframe", "3h")
	assert.Error(t, err)
}

func TestSizeJSON(t *testing.T) {
	out, err := run(t, "size",
		"--entry", "100", "--stop", "98", "--equity", "10000", "--risk", "1", "--reward", "2",
		"--tick-size", "0.01", "--tick-value", "0.01", "--digits", "2", "--format", "json")
	require.NoError(t, err)

	var d risk.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.InDelta(t, 50.0, d.Volume, 1e-9)
	assert.InDelta(t, 104.0, d.TakeProfit, 1e-9)
}

func TestSizeTableAndErrors(t *testing.T) {
	out, err := run(t, "size", "--entry", "100", "--stop", "102", "--equity", "1000", "--risk", "1",
		"--tick-size", "0.01", "--tick-value", "0.01")
	require.NoError(t, err)
	assert.Contains(t, out, "bearish")
	assert.Contains(t, out, "5.000")

	_, err = run(t, "size", "--entry", "100", "--stop", "100", "--equity", "1000", "--tick-size", "0.01", "--tick-value", "0.01")
	assert.ErrorIs(t, err, risk.ErrInvalidStop)

	_, err = run(t, "size", "--symbol", "NOPE", "--entry", "100", "--stop", "99", "--equity", "1000")
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	_, err := run(t, "token")
	assert.Error(t, err)

	t.Setenv("AUTH_JWT_SECRET", "cli-secret")
	out, err := run(t, "token", "--subject", "ops", "--ttl", "1m")
	require.NoError(t, err)
	sub, err := api.ValidateToken("cli-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)
}
