package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricehub/internal/config"
	"pricehub/internal/market"
	"pricehub/internal/storage"
)

func testApp() *App {
	return NewApp(&config.Config{}, zerolog.Nop())
}

func TestEvaluateWithoutDatabase(t *testing.T) {
	_, err := testApp().Evaluate(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotConfigured)
	assert.ErrorIs(t, testApp().Migrate(false), storage.ErrNotConfigured)
}

func TestPriceRejectsUnknownKind(t *testing.T) {
	err := testApp().Price(context.Background(), &bytes.Buffer{}, PriceOptions{Kind: "stocks"})
	assert.ErrorIs(t, err, market.ErrInvalidParam)
}

func TestSimulateAlertWithPriceOverride(t *testing.T) {
	price := decimal.NewFromInt(70000)
	var out bytes.Buffer
	err := testApp().SimulateAlert(context.Background(), &out, SimulateOptions{
		Type:      "crypto",
		Symbol:    "btc",
		Threshold: decimal.NewFromInt(65000),
		Direction: "above",
		Price:     &price,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "triggered")
	assert.Contains(t, out.String(), "BTC rose above 65000.00")

	out.Reset()
	err = testApp().SimulateAlert(context.Background(), &out, SimulateOptions{
		Type:      "crypto",
		Symbol:    "BTC",
		Threshold: decimal.NewFromInt(65000),
		Direction: "below",
		Price:     &price,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "not triggered")
}

func TestSimulateAlertValidates(t *testing.T) {
	price := decimal.NewFromInt(1)
	cases := []SimulateOptions{
		{Type: "stocks", Symbol: "AAPL", Direction: "above", Price: &price},
		{Type: "crypto", Symbol: "BTC", Direction: "sideways", Price: &price},
		{Type: "forex", Symbol: "EURO", Direction: "above", Price: &price},
	}
	for _, opts := range cases {
		err := testApp().SimulateAlert(context.Background(), &bytes.Buffer{}, opts)
		assert.ErrorIs(t, err, market.ErrInvalidParam, opts.Type)
	}
}

func TestDownsampleKeepsEnds(t *testing.T) {
	table := exportTable{Title: "x", Series: []series{{Name: "v"}}}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		table.Dates = append(table.Dates, start.AddDate(0, 0, i))
		table.Series[0].Values = append(table.Series[0].Values, float64(i))
	}

	out := downsample(table, 4)
	require.Len(t, out.Dates, 4)
	assert.Equal(t, []float64{0, 3, 6, 9}, out.Series[0].Values)
	assert.Equal(t, table.Dates[9], out.Dates[3])

	assert.Len(t, downsample(table, 0).Dates, 10)
}

func TestWriteHistoryCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ves.csv")
	table := exportTable{
		Title:  "VES per USD",
		Dates:  []time.Time{time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)},
		Series: []series{{Name: "Oficial", Values: []float64{36, 36.5}}, {Name: "Paralelo", Values: []float64{0, 40}}},
	}
	require.NoError(t, writeHistoryCSV(path, table))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"date", "oficial", "paralelo"},
		{"2024-05-09", "36", "0"},
		{"2024-05-10", "36.5", "40"},
	}, rows)
}

func TestExportRequiresOutput(t *testing.T) {
	err := testApp().Export(context.Background(), ExportOptions{Kind: "crypto", Symbol: "BTC"})
	assert.Error(t, err)
}
