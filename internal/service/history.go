package service

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/market"
)

// BucketDaily keeps one value per local calendar day: samples are replayed in chronological
// order so the last observation of a day wins. Output is ascending by date.
func BucketDaily(samples []market.Sample, loc *time.Location) []market.HistoryPoint {
	days := bucket(samples, loc)

	points := make([]market.HistoryPoint, 0, len(days))
	for _, date := range sortedDates(days) {
		points = append(points, market.HistoryPoint{Date: date, Value: days[date]})
	}
	return points
}

func bucket(samples []market.Sample, loc *time.Location) map[string]decimal.Decimal {
	if loc == nil {
		loc = time.UTC
	}
	ordered := make([]market.Sample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].At.Before(ordered[j].At)
	})

	days := make(map[string]decimal.Decimal, len(ordered))
	for _, s := range ordered {
		days[s.At.In(loc).Format(market.DateLayout)] = s.Value
	}
	return days
}

func sortedDates[V any](days map[string]V) []string {
	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// MergeVESHistory joins the daily series of both bolívar rates. A day missing one series
// carries zero for it. EUR values are derived only for days with a USD→EUR rate.
func MergeVESHistory(oficial, paralelo []market.Sample, usdEUR []market.HistoryPoint, loc *time.Location) []market.VESHistoryPoint {
	oficialDays := bucket(oficial, loc)
	paraleloDays := bucket(paralelo, loc)

	eur := make(map[string]decimal.Decimal, len(usdEUR))
	for _, p := range usdEUR {
		if p.Value.IsPositive() {
			eur[p.Date] = p.Value
		}
	}

	all := make(map[string]struct{}, len(oficialDays)+len(paraleloDays))
	for d := range oficialDays {
		all[d] = struct{}{}
	}
	for d := range paraleloDays {
		all[d] = struct{}{}
	}

	points := make([]market.VESHistoryPoint, 0, len(all))
	for _, date := range sortedDates(all) {
		point := market.VESHistoryPoint{
			Date:     date,
			Oficial:  oficialDays[date],
			Paralelo: paraleloDays[date],
		}
		if rate, ok := eur[date]; ok {
			point.OficialEUR = perEUR(point.Oficial, rate)
			point.ParaleloEUR = perEUR(point.Paralelo, rate)
		}
		points = append(points, point)
	}
	return points
}

func perEUR(bs, usdToEUR decimal.Decimal) *decimal.Decimal {
	if !bs.IsPositive() {
		return nil
	}
	v := bs.DivRound(usdToEUR, 8)
	return &v
}

// identitySeries yields a unit rate for each local day of the window.
func identitySeries(now time.Time, days int, loc *time.Location) []market.HistoryPoint {
	if loc == nil {
		loc = time.UTC
	}
	end := now.In(loc)
	points := make([]market.HistoryPoint, 0, days+1)
	for i := days; i >= 0; i-- {
		points = append(points, market.HistoryPoint{
			Date:  end.AddDate(0, 0, -i).Format(market.DateLayout),
			Value: decimal.NewFromInt(1),
		})
	}
	return points
}
