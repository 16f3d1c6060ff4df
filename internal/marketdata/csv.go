package marketdata

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"go.uber.org/zap"
)

// CSVStore loads daily prices from <dir>/<ticker>.csv files. Files
// need a header with at least "date" and "close" columns; open/high/
// low/volume are picked up when present. Malformed rows are rejected
// individually and counted, never fatal.
type CSVStore struct {
	dir    string
	logger *zap.Logger

	mu       sync.Mutex
	cache    map[string]*Series
	warnings int
}

// NewCSVStore creates a CSV-backed price provider.
func NewCSVStore(dir string, log *zap.Logger) *CSVStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CSVStore{
		dir:    dir,
		logger: log,
		cache:  make(map[string]*Series),
	}
}

// Prices returns the full history for a ticker, loading and caching it
// on first use. A missing file is core.ErrNoData.
func (c *CSVStore) Prices(ticker string) (*Series, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.cache[ticker]; ok {
		return s, nil
	}

	path := filepath.Join(c.dir, ticker+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no price file for %s", ticker))
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	series, warnings, err := parseCSV(ticker, f)
	if err != nil {
		return nil, err
	}
	if warnings > 0 {
		c.logger.Warn("rejected malformed price rows",
			zap.String("ticker", ticker),
			zap.Int("rows", warnings),
		)
	}
	c.warnings += warnings
	c.cache[ticker] = series
	return series, nil
}

// Warnings reports how many malformed rows were rejected so far.
func (c *CSVStore) Warnings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warnings
}

func parseCSV(ticker string, f *os.File) (*Series, int, error) {
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("parsing %s prices: %w", ticker, err)
	}
	if len(records) < 2 {
		return nil, 0, core.WrapError(core.ErrNoData, fmt.Errorf("empty price file for %s", ticker))
	}

	cols := make(map[string]int)
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, 0, fmt.Errorf("%s prices: missing date column", ticker)
	}
	closeCol, ok := cols["close"]
	if !ok {
		return nil, 0, fmt.Errorf("%s prices: missing close column", ticker)
	}

	var bars []Bar
	warnings := 0
	for _, rec := range records[1:] {
		if dateCol >= len(rec) || closeCol >= len(rec) {
			warnings++
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[dateCol]))
		if err != nil {
			warnings++
			continue
		}
		closePx, err := strconv.ParseFloat(strings.TrimSpace(rec[closeCol]), 64)
		if err != nil || math.IsNaN(closePx) || closePx <= 0 {
			// NaN or non-positive price is a corrupt data point
			warnings++
			continue
		}
		bar := Bar{Date: Day(date), Close: closePx}
		bar.Open = optionalFloat(rec, cols, "open", closePx)
		bar.High = optionalFloat(rec, cols, "high", closePx)
		bar.Low = optionalFloat(rec, cols, "low", closePx)
		if i, ok := cols["volume"]; ok && i < len(rec) {
			if v, err := strconv.ParseInt(strings.TrimSpace(rec[i]), 10, 64); err == nil {
				bar.Volume = v
			}
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return &Series{Ticker: ticker, Bars: bars}, warnings, nil
}

func optionalFloat(rec []string, cols map[string]int, name string, fallback float64) float64 {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
	if err != nil || math.IsNaN(v) || v <= 0 {
		return fallback
	}
	return v
}
