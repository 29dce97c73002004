package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trade-journal-go/internal/analytics"
	"trade-journal-go/internal/config"
	"trade-journal-go/internal/database"
	"trade-journal-go/internal/journal"
	"trade-journal-go/internal/models"
)

// MockProvider is a mock implementation of the marketdata.Provider interface.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Intraday(ctx context.Context, symbol string, start, end time.Time, interval string) ([]models.Bar, error) {
	args := m.Called(symbol, interval)
	bars, _ := args.Get(0).([]models.Bar)
	return bars, args.Error(1)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupServer(t *testing.T) (*Server, *journal.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	cfg := &config.Config{
		Analytics:  config.Analytics{Period: "day", CacheMaxEntries: 64},
		Enrichment: config.Enrichment{Timezone: "America/New_York", Concurrency: 1},
		MarketData: config.MarketData{Interval: "1m"},
	}
	engine, err := journal.NewEngine(zap.NewNop(), cfg, db, new(MockProvider))
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)

	return NewServer(config.Server{Port: 0}, engine, zap.NewNop()), engine
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func scenario() []models.Trade {
	return []models.Trade{
		{ID: "1", Symbol: "ESH4", Side: models.SideLong, EntryPrice: 5000, ExitPrice: 5002, Contracts: 1,
			OpenDate: "2024-03-01", CloseDate: "2024-03-01", NetPnL: 100, Model: "ORB"},
		{ID: "2", Symbol: "NQH4", Side: models.SideShort, EntryPrice: 18000, ExitPrice: 18002, Contracts: 1,
			OpenDate: "2024-03-04", CloseDate: "2024-03-04", NetPnL: -40},
	}
}

func TestHealthAndStatus(t *testing.T) {
	s, engine := setupServer(t)

	w, _ := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w, env := do(t, s, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	status := decode[journal.Status](t, env.Data)
	assert.Equal(t, engine.UUID, status.UUID)
	assert.Equal(t, analytics.PhaseReady, status.Phase)
}

func TestTradesEndpoints(t *testing.T) {
	s, _ := setupServer(t)

	w, _ := do(t, s, http.MethodPut, "/api/trades", scenario())
	require.Equal(t, http.StatusOK, w.Code)

	_, env := do(t, s, http.MethodGet, "/api/trades", nil)
	assert.Len(t, decode[[]models.Trade](t, env.Data), 2)

	w, env = do(t, s, http.MethodPatch, "/api/trades", `[{"id":"2","notes":"chased"},{"id":"missing","notes":"x"}]`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[map[string]int](t, env.Data)["updated"])

	_, env = do(t, s, http.MethodGet, "/api/trades/2", nil)
	assert.Equal(t, "chased", decode[models.Trade](t, env.Data).Notes)

	w, env = do(t, s, http.MethodGet, "/api/trades/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, env.Code)

	w, _ = do(t, s, http.MethodPut, "/api/trades", `{"not":"a list"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodDelete, "/api/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, env = do(t, s, http.MethodGet, "/api/trades", nil)
	assert.Empty(t, decode[[]models.Trade](t, env.Data))

	t.Run("ReplaceAssignsMissingIDs", func(t *testing.T) {
		body := `[{"symbol":"AAPL","side":"LONG","entry_price":190,"contracts":10,"open_date":"2024-03-06"},` +
			`{"symbol":"MSFT","side":"SHORT","entry_price":400,"contracts":5,"open_date":"2024-03-06"}]`
		w, env := do(t, s, http.MethodPut, "/api/trades", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, decode[map[string]int](t, env.Data)["count"])

		_, env = do(t, s, http.MethodGet, "/api/trades", nil)
		trades := decode[[]models.Trade](t, env.Data)
		require.Len(t, trades, 2)
		assert.NotEmpty(t, trades[0].ID)
		assert.NotEmpty(t, trades[1].ID)
		assert.NotEqual(t, trades[0].ID, trades[1].ID)
		assert.Equal(t, []string{"AAPL", "MSFT"}, []string{trades[0].Symbol, trades[1].Symbol})
	})
}

func TestImportEndpoint(t *testing.T) {
	s, engine := setupServer(t)
	csvBody := "id,symbol,side,entry_price,exit_price,contracts,open_date,close_date,net_pnl\n" +
		"a,ESH4,LONG,5000,5002,1,2024-03-01,2024-03-01,100\n" +
		"b,ESH4,SHORT,5000,5001,1,2024-03-02,2024-03-02,-50\n" +
		"c,ESH4,UP,5000,5001,1,2024-03-02,2024-03-02,1\n"

	w, env := do(t, s, http.MethodPost, "/api/trades/import?filename=export.csv", csvBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	type parseResult struct {
		Success bool           `json:"success"`
		Trades  []models.Trade `json:"trades"`
		Errors  []string       `json:"errors"`
	}
	result := decode[parseResult](t, env.Data)
	assert.True(t, result.Success)
	assert.Len(t, result.Trades, 2)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, 2, engine.Store().Len())
	assert.InDelta(t, 50, engine.Analytics().State().Metrics.NetPnL, 1e-9)

	t.Run("AppendMultipart", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "more.json")
		require.NoError(t, err)
		_, err = part.Write([]byte(`[{"id":"z","symbol":"NQH4","side":"LONG","entry_price":18000,"open_date":"2024-03-05"}]`))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/trades/import?mode=append", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 3, engine.Store().Len())
	})

	t.Run("NothingImported", func(t *testing.T) {
		w, env := do(t, s, http.MethodPost, "/api/trades/import?format=csv", "symbol,side\n")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "no trades imported", env.Message)
		assert.Equal(t, 3, engine.Store().Len(), "journal untouched")
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		w, _ := do(t, s, http.MethodPost, "/api/trades/import?format=xlsx", "x")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAnalyticsEndpoints(t *testing.T) {
	s, engine := setupServer(t)
	engine.Store().Replace(scenario())

	_, env := do(t, s, http.MethodGet, "/api/analytics/state?include_trades=false", nil)
	state := decode[analytics.State](t, env.Data)
	assert.Equal(t, 2, state.TotalTrades)
	assert.Nil(t, state.FilteredTrades)
	assert.Equal(t, 50.0, state.Metrics.WinRate)
	assert.Equal(t, 60.0, state.Metrics.NetPnL)

	_, env = do(t, s, http.MethodGet, "/api/analytics/charts/cumulative-pnl", nil)
	series := decode[analytics.ChartSeries](t, env.Data)
	assert.Equal(t, []float64{100, 60}, series.Values)

	testCases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{name: "Unknown chart", method: http.MethodGet, path: "/api/analytics/charts/heatmap", status: http.StatusNotFound},
		{name: "Bad period", method: http.MethodGet, path: "/api/analytics/charts/daily-pnl?period=year", status: http.StatusBadRequest},
		{name: "Bad bucket size", method: http.MethodGet, path: "/api/analytics/charts/distribution?bucket_size=-5", status: http.StatusBadRequest},
		{name: "Distribution", method: http.MethodGet, path: "/api/analytics/charts/distribution?bucket_size=50", status: http.StatusOK},
		{name: "Invalid filter", method: http.MethodPut, path: "/api/analytics/filter", body: `{"date_from":"2024-03-05","date_to":"2024-03-01"}`, status: http.StatusBadRequest},
		{name: "Malformed filter", method: http.MethodPut, path: "/api/analytics/filter", body: `{"date_from":`, status: http.StatusBadRequest},
		{name: "Invalid aggregation", method: http.MethodPut, path: "/api/analytics/aggregation", body: `{"period":"hour"}`, status: http.StatusBadRequest},
		{name: "Aggregation", method: http.MethodPut, path: "/api/analytics/aggregation", body: `{"period":"week"}`, status: http.StatusAccepted},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := do(t, s, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	w, _ := do(t, s, http.MethodPut, "/api/analytics/filter", `{"symbols":["NQH4"]}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	_, env = do(t, s, http.MethodGet, "/api/analytics/state", nil)
	state = decode[analytics.State](t, env.Data)
	assert.Equal(t, 2, state.TotalTrades)
	assert.Equal(t, 1, state.Metrics.TotalTrades)
	assert.Equal(t, -40.0, state.Metrics.NetPnL)
	assert.Equal(t, analytics.PeriodWeek, state.Aggregation.Period)
	assert.Empty(t, state.Error)

	_, env = do(t, s, http.MethodGet, "/api/analytics/cache", nil)
	stats := decode[analytics.CacheStats](t, env.Data)
	assert.Positive(t, stats.TotalEntries)
}

func TestEnrichEndpoint(t *testing.T) {
	s, _ := setupServer(t)

	w, env := do(t, s, http.MethodPost, "/api/enrich", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enriched":0,"skipped":0,"failed":0,"duration":0}`, string(env.Data))
}

func TestJournalEndpoints(t *testing.T) {
	s, engine := setupServer(t)
	engine.Store().Replace(scenario())

	t.Run("Moods", func(t *testing.T) {
		w, _ := do(t, s, http.MethodPut, "/api/moods", models.MoodEntry{Date: "2024-03-01", Mood: 4})
		require.Equal(t, http.StatusOK, w.Code)
		w, _ = do(t, s, http.MethodPut, "/api/moods", models.MoodEntry{Date: "2024-03-01", Mood: 9})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w, _ = do(t, s, http.MethodPut, "/api/moods", models.MoodEntry{Date: "someday", Mood: 3})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		_, env := do(t, s, http.MethodGet, "/api/moods?from=2024-03-01&to=2024-03-31", nil)
		moods := decode[[]models.MoodEntry](t, env.Data)
		require.Len(t, moods, 1)
		assert.Equal(t, 4, moods[0].Mood)

		w, _ = do(t, s, http.MethodDelete, "/api/moods/2024-03-01", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		w, _ = do(t, s, http.MethodDelete, "/api/moods/2024-03-01", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Notes", func(t *testing.T) {
		w, env := do(t, s, http.MethodPost, "/api/notes", `{"id":"ignored","title":"Plan","date":"2024-03-01","content":{"blocks":[]},"tags":["plan"]}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		created := decode[models.Note](t, env.Data)
		assert.NotEqual(t, "ignored", created.ID)

		w, env = do(t, s, http.MethodPut, "/api/notes/"+created.ID, `{"title":"Plan v2","date":"2024-03-01","tags":["plan"]}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "Plan v2", decode[models.Note](t, env.Data).Title)

		_, env = do(t, s, http.MethodGet, "/api/notes?tag=plan", nil)
		assert.Len(t, decode[[]models.Note](t, env.Data), 1)

		w, _ = do(t, s, http.MethodPut, "/api/notes/missing", `{"title":"x"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w, _ = do(t, s, http.MethodDelete, "/api/notes/"+created.ID, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		w, _ = do(t, s, http.MethodGet, "/api/notes/"+created.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Strategies", func(t *testing.T) {
		w, _ := do(t, s, http.MethodPost, "/api/strategies/ORB/trades/2", nil)
		require.Equal(t, http.StatusOK, w.Code)

		_, env := do(t, s, http.MethodGet, "/api/strategies", nil)
		assert.Equal(t, []string{"ORB"}, decode[[]string](t, env.Data))

		_, env = do(t, s, http.MethodGet, "/api/strategies/ORB", nil)
		var detail struct {
			Model    string            `json:"model"`
			TradeIDs []string          `json:"trade_ids"`
			Stats    analytics.Summary `json:"stats"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &detail))
		assert.Equal(t, []string{"2"}, detail.TradeIDs)
		assert.Equal(t, 2, detail.Stats.TotalTrades)
		assert.Equal(t, 60.0, detail.Stats.NetPnL)

		w, _ = do(t, s, http.MethodDelete, "/api/strategies/ORB/trades/2", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestStream(t *testing.T) {
	s, engine := setupServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() streamMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg streamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	first := read()
	assert.Equal(t, "state", first.Type)
	assert.Equal(t, 0, first.Data.TotalTrades)

	engine.Store().Replace(scenario())
	next := read()
	assert.Equal(t, 2, next.Data.TotalTrades)
	assert.Equal(t, 60.0, next.Data.Metrics.NetPnL)
}

func TestRound(t *testing.T) {
	testCases := []struct {
		in       float64
		expected float64
	}{
		{in: 2.675, expected: 2.68},
		{in: -1.005, expected: -1.01},
		{in: 33.3333333, expected: 33.33},
		{in: 60.0000000001, expected: 60},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Round(tc.in, 2))
	}

	day := analytics.DayPnL{Date: "2024-03-01", PnL: 10.005}
	s := RoundSummary(analytics.Summary{NetPnL: 1.239, WinRate: 66.6666, BestDay: &day})
	assert.Equal(t, 1.24, s.NetPnL)
	assert.Equal(t, 66.67, s.WinRate)
	assert.Equal(t, 10.01, s.BestDay.PnL)
	assert.Equal(t, 10.005, day.PnL, "input is not modified")
}
