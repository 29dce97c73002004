package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-journal-go/internal/analytics"
)

const tradesCSV = `ID,Symbol,Side,Entry Price,Exit Price,Qty,Date,Close Date,PnL,Strategy
t1,ESH4,Buy,5000,5004,2,2024-03-05,2024-03-05,391,ORB
t2,NQH4,Sell,18000,18010,1,2024-03-06,2024-03-06,-205,VWAP
`

func setupWorkspace(t *testing.T) (configDir, dir string) {
	t.Helper()
	dir = t.TempDir()
	configDir = filepath.Join(dir, "configs")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	cfg := `logger:
  level: error
database:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "journal.db") + `
analytics:
  debounce: 0s
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yml"), []byte(cfg), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trades.csv"), []byte(tradesCSV), 0o600))
	return configDir, dir
}

func execute(t *testing.T, configDir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestImportAndStats(t *testing.T) {
	configDir, dir := setupWorkspace(t)

	out, err := execute(t, configDir, "import", filepath.Join(dir, "trades.csv"))
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 trades")

	out, err = execute(t, configDir, "--json", "stats")
	require.NoError(t, err)
	var summary analytics.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.TotalTrades)
	assert.Equal(t, 1, summary.Wins)
	assert.Equal(t, 1, summary.Losses)
	assert.InDelta(t, 186, summary.NetPnL, 1e-9)

	t.Run("Filtered", func(t *testing.T) {
		out, err := execute(t, configDir, "--json", "stats", "--model", "ORB")
		require.NoError(t, err)
		var summary analytics.Summary
		require.NoError(t, json.Unmarshal([]byte(out), &summary))
		assert.Equal(t, 1, summary.TotalTrades)
		assert.InDelta(t, 391, summary.NetPnL, 1e-9)
	})

	filterTests := []struct {
		name   string
		args   []string
		trades int
		net    float64
	}{
		{"Side", []string{"--side", "short"}, 1, -205},
		{"Status", []string{"--status", "win,loss"}, 2, 186},
		{"StatusLoss", []string{"--status", "LOSS"}, 1, -205},
		{"MinContracts", []string{"--min-contracts", "2"}, 1, 391},
		{"MaxContracts", []string{"--max-contracts", "1"}, 1, -205},
		{"OpenOnly", []string{"--status", "open"}, 0, 0},
	}
	for _, tt := range filterTests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, configDir, append([]string{"--json", "stats"}, tt.args...)...)
			require.NoError(t, err)
			var summary analytics.Summary
			require.NoError(t, json.Unmarshal([]byte(out), &summary))
			assert.Equal(t, tt.trades, summary.TotalTrades)
			assert.InDelta(t, tt.net, summary.NetPnL, 1e-9)
		})
	}

	t.Run("InvertedContracts", func(t *testing.T) {
		_, err := execute(t, configDir, "stats", "--min-contracts", "3", "--max-contracts", "1")
		assert.ErrorIs(t, err, analytics.ErrInvalidFilter)
	})

	t.Run("InvalidFilter", func(t *testing.T) {
		_, err := execute(t, configDir, "stats", "--from", "2024-03-06", "--to", "2024-03-01")
		assert.ErrorIs(t, err, analytics.ErrInvalidFilter)
	})

	t.Run("Table", func(t *testing.T) {
		out, err := execute(t, configDir, "stats")
		require.NoError(t, err)
		assert.Contains(t, out, "Net P&L")
		assert.Contains(t, out, "186.00")
	})
}

func TestChartAndExport(t *testing.T) {
	configDir, dir := setupWorkspace(t)
	_, err := execute(t, configDir, "import", filepath.Join(dir, "trades.csv"))
	require.NoError(t, err)

	out, err := execute(t, configDir, "--json", "chart", "daily-pnl")
	require.NoError(t, err)
	var series analytics.ChartSeries
	require.NoError(t, json.Unmarshal([]byte(out), &series))
	assert.Equal(t, []string{"2024-03-05", "2024-03-06"}, series.Labels)
	assert.Equal(t, []float64{391, -205}, series.Values)

	_, err = execute(t, configDir, "chart", "candles")
	assert.ErrorIs(t, err, analytics.ErrUnknownChart)

	_, err = execute(t, configDir, "chart", "daily-pnl", "--period", "year")
	assert.Error(t, err)

	exported := filepath.Join(dir, "export.csv")
	out, err = execute(t, configDir, "export", exported)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 2 trades")
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestImportRejectsEmptyFile(t *testing.T) {
	configDir, dir := setupWorkspace(t)
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, []byte("Symbol,Side,Entry Price,Date\n"), 0o600))

	out, err := execute(t, configDir, "import", empty)
	assert.EqualError(t, err, "no trades imported")
	assert.Contains(t, out, "Imported 0 trades")
}
