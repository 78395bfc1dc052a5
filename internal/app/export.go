package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pricehub/internal/cache"
	"pricehub/internal/market"
)

// ExportOptions hold parameters for exporting a daily history.
type ExportOptions struct {
	Kind      string // crypto, forex or ves
	Symbol    string // crypto symbol or forex pair
	Currency  string
	Days      int
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// series is one named line of an export.
type series struct {
	Name   string
	Values []float64
}

type exportTable struct {
	Title  string
	Dates  []time.Time
	Series []series
}

// Export renders a daily history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	table, err := a.loadHistory(ctx, opts)
	if err != nil {
		return err
	}
	if len(table.Dates) == 0 {
		a.Logger.Info().Msg("no history points for export window")
		return nil
	}

	total := len(table.Dates)
	table = downsample(table, opts.MaxPoints)
	a.Logger.Info().Str("title", table.Title).Int("total", total).Int("exported", len(table.Dates)).Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, table); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, table); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) loadHistory(ctx context.Context, opts ExportOptions) (exportTable, error) {
	svc := a.newService(cache.NewMemory())
	loc := svc.Location()

	switch strings.ToLower(opts.Kind) {
	case "crypto":
		points, _, err := svc.CryptoHistory(ctx, opts.Symbol, opts.Currency, opts.Days)
		if err != nil {
			return exportTable{}, err
		}
		currency := opts.Currency
		if currency == "" {
			currency = "USD"
		}
		return fromPoints(strings.ToUpper(opts.Symbol)+"/"+strings.ToUpper(currency), points, loc)
	case "forex":
		from, to, err := market.ParsePair(opts.Symbol)
		if err != nil {
			return exportTable{}, err
		}
		points, _, err := svc.ForexHistory(ctx, from, to, opts.Days)
		if err != nil {
			return exportTable{}, err
		}
		return fromPoints(from+"/"+to, points, loc)
	case "ves":
		points, _, err := svc.VESHistory(ctx, opts.Days)
		if err != nil {
			return exportTable{}, err
		}
		table := exportTable{
			Title:  "VES per USD",
			Series: []series{{Name: "Oficial"}, {Name: "Paralelo"}},
		}
		for _, p := range points {
			day, err := time.ParseInLocation(market.DateLayout, p.Date, loc)
			if err != nil {
				return exportTable{}, fmt.Errorf("parse history date %q: %w", p.Date, err)
			}
			table.Dates = append(table.Dates, day)
			table.Series[0].Values = append(table.Series[0].Values, p.Oficial.InexactFloat64())
			table.Series[1].Values = append(table.Series[1].Values, p.Paralelo.InexactFloat64())
		}
		return table, nil
	default:
		return exportTable{}, fmt.Errorf("%w: kind %q (want crypto, forex or ves)", market.ErrInvalidParam, opts.Kind)
	}
}

func fromPoints(title string, points []market.HistoryPoint, loc *time.Location) (exportTable, error) {
	table := exportTable{Title: title, Series: []series{{Name: title}}}
	for _, p := range points {
		day, err := time.ParseInLocation(market.DateLayout, p.Date, loc)
		if err != nil {
			return exportTable{}, fmt.Errorf("parse history date %q: %w", p.Date, err)
		}
		table.Dates = append(table.Dates, day)
		table.Series[0].Values = append(table.Series[0].Values, p.Value.InexactFloat64())
	}
	return table, nil
}

func downsample(table exportTable, max int) exportTable {
	n := len(table.Dates)
	if max <= 1 || n <= max {
		return table
	}

	out := exportTable{Title: table.Title, Series: make([]series, len(table.Series))}
	for i, s := range table.Series {
		out.Series[i].Name = s.Name
	}
	step := float64(n-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := min(int(math.Round(step*float64(i))), n-1)
		out.Dates = append(out.Dates, table.Dates[idx])
		for j, s := range table.Series {
			out.Series[j].Values = append(out.Series[j].Values, s.Values[idx])
		}
	}
	return out
}

func writeHistoryCSV(path string, table exportTable) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"date"}
	for _, s := range table.Series {
		header = append(header, strings.ToLower(s.Name))
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, day := range table.Dates {
		record := []string{day.Format(market.DateLayout)}
		for _, s := range table.Series {
			record = append(record, fmt.Sprintf("%g", s.Values[i]))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path string, table exportTable) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	// go-chart needs at least two points to draw a line
	if len(table.Dates) < 2 {
		return fmt.Errorf("png export needs at least 2 points, got %d", len(table.Dates))
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Title:  table.Title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           table.Title,
			ValueFormatter: rateFormatter,
		},
	}
	for _, s := range table.Series {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    s.Name,
			XValues: table.Dates,
			YValues: s.Values,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
