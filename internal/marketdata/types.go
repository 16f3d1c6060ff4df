package marketdata

import (
	"sort"
	"time"
)

// Bar is one daily price record.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Series is a date-ascending daily price history for one ticker.
type Series struct {
	Ticker string
	Bars   []Bar
}

// CloseOn returns the closing price for an exact trading date.
func (s *Series) CloseOn(date time.Time) (float64, bool) {
	d := Day(date)
	i := sort.Search(len(s.Bars), func(i int) bool {
		return !s.Bars[i].Date.Before(d)
	})
	if i < len(s.Bars) && s.Bars[i].Date.Equal(d) {
		return s.Bars[i].Close, true
	}
	return 0, false
}

// History returns up to n closing prices ending at the given date
// (inclusive when the date is a trading day).
func (s *Series) History(until time.Time, n int) []float64 {
	d := Day(until)
	end := sort.Search(len(s.Bars), func(i int) bool {
		return s.Bars[i].Date.After(d)
	})
	start := end - n
	if start < 0 {
		start = 0
	}
	closes := make([]float64, 0, end-start)
	for _, b := range s.Bars[start:end] {
		closes = append(closes, b.Close)
	}
	return closes
}

// Dates returns all trading dates in the series.
func (s *Series) Dates() []time.Time {
	dates := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		dates[i] = b.Date
	}
	return dates
}

// PriceProvider serves daily price histories.
type PriceProvider interface {
	Prices(ticker string) (*Series, error)
}

// Day normalizes a timestamp to UTC midnight so dates compare exactly.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TradingDays returns the sorted union of trading dates across the
// given series, clipped to [start, end].
func TradingDays(series []*Series, start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	seen := make(map[time.Time]struct{})
	for _, s := range series {
		if s == nil {
			continue
		}
		for _, b := range s.Bars {
			if b.Date.Before(start) || b.Date.After(end) {
				continue
			}
			seen[b.Date] = struct{}{}
		}
	}
	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
