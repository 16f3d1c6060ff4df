package marketdata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCSVStore_Prices(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aapl.csv", `date,open,high,low,close,volume
2024-01-02,100,102,99,101,1000
2024-01-03,101,105,100,104,1200
2024-01-04,104,104,101,102,900
`)

	store := NewCSVStore(dir, nil)
	s, err := store.Prices("aapl")
	if err != nil {
		t.Fatalf("Prices() error = %v", err)
	}
	if len(s.Bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(s.Bars))
	}

	px, ok := s.CloseOn(date("2024-01-03"))
	if !ok || px != 104 {
		t.Errorf("CloseOn = %f/%v, want 104/true", px, ok)
	}
	if _, ok := s.CloseOn(date("2024-01-05")); ok {
		t.Error("expected no close for non-trading day")
	}
}

func TestCSVStore_RejectsBadRows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "junk.csv", `date,close
2024-01-02,101
not-a-date,50
2024-01-03,NaN
2024-01-04,-3
2024-01-05,103
`)

	store := NewCSVStore(dir, nil)
	s, err := store.Prices("junk")
	if err != nil {
		t.Fatalf("Prices() error = %v", err)
	}
	if len(s.Bars) != 2 {
		t.Errorf("expected 2 valid bars, got %d", len(s.Bars))
	}
	if store.Warnings() != 3 {
		t.Errorf("expected 3 warnings, got %d", store.Warnings())
	}
}

func TestCSVStore_MissingFile(t *testing.T) {
	store := NewCSVStore(t.TempDir(), nil)
	_, err := store.Prices("ghost")
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestSeries_History(t *testing.T) {
	s := &Series{Ticker: "t", Bars: []Bar{
		{Date: date("2024-01-02"), Close: 1},
		{Date: date("2024-01-03"), Close: 2},
		{Date: date("2024-01-04"), Close: 3},
	}}

	h := s.History(date("2024-01-04"), 2)
	if len(h) != 2 || h[0] != 2 || h[1] != 3 {
		t.Errorf("History = %v, want [2 3]", h)
	}

	// Window larger than available data returns what exists
	h = s.History(date("2024-01-03"), 10)
	if len(h) != 2 || h[1] != 2 {
		t.Errorf("History = %v, want [1 2]", h)
	}
}

func TestTradingDays_Union(t *testing.T) {
	a := &Series{Bars: []Bar{{Date: date("2024-01-02")}, {Date: date("2024-01-03")}}}
	b := &Series{Bars: []Bar{{Date: date("2024-01-03")}, {Date: date("2024-01-04")}}}

	days := TradingDays([]*Series{a, b}, date("2024-01-01"), date("2024-01-31"))
	if len(days) != 3 {
		t.Fatalf("expected 3 union days, got %d", len(days))
	}
	for i := 1; i < len(days); i++ {
		if !days[i].After(days[i-1]) {
			t.Error("trading days must be strictly increasing")
		}
	}

	clipped := TradingDays([]*Series{a, b}, date("2024-01-03"), date("2024-01-31"))
	if len(clipped) != 2 {
		t.Errorf("expected clipping to drop early days, got %d", len(clipped))
	}
}

func TestJSONFundamentals(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aapl.json", `[
  {"date": "2023-12-31", "pe_ratio": 28.5, "revenue_growth": 0.06},
  {"date": "2024-03-31", "pe_ratio": 30.1, "revenue_growth": 0.04}
]`)

	p := NewJSONFundamentals(dir)

	f, err := p.Fundamentals("aapl", date("2024-02-15"))
	if err != nil {
		t.Fatalf("Fundamentals() error = %v", err)
	}
	if f.PERatio != 28.5 {
		t.Errorf("expected 2023-12-31 snapshot, got PE %f", f.PERatio)
	}

	_, err = p.Fundamentals("aapl", date("2023-01-01"))
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData before first snapshot, got %v", err)
	}
}

func TestJSONNews_Window(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "aapl.json", `[
  {"date": "2024-01-01", "headline": "supplier cuts guidance"},
  {"date": "2024-01-05", "headline": "record quarter"},
  {"date": "2024-02-01", "headline": "out of window"}
]`)

	p := NewJSONNews(dir)

	items, err := p.Headlines("aapl", date("2024-01-06"), 7)
	if err != nil {
		t.Fatalf("Headlines() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 headlines in window, got %d", len(items))
	}

	_, err = p.Headlines("aapl", date("2024-06-01"), 7)
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("sparse window should be ErrNoData, got %v", err)
	}
}
