package marketdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
)

// Fundamental is a point-in-time fundamentals snapshot for a ticker.
type Fundamental struct {
	Date          time.Time `json:"date"`
	PERatio       float64   `json:"pe_ratio"`
	PBRatio       float64   `json:"pb_ratio"`
	DebtToEquity  float64   `json:"debt_to_equity"`
	RevenueGrowth float64   `json:"revenue_growth"`
	ProfitMargin  float64   `json:"profit_margin"`
	DividendYield float64   `json:"dividend_yield"`
}

// FundamentalsProvider serves the latest fundamentals at or before a date.
type FundamentalsProvider interface {
	Fundamentals(ticker string, date time.Time) (*Fundamental, error)
}

// JSONFundamentals reads <dir>/<ticker>.json holding a date-keyed array
// of fundamentals snapshots.
type JSONFundamentals struct {
	dir string

	mu    sync.Mutex
	cache map[string][]Fundamental
}

// NewJSONFundamentals creates a file-backed fundamentals provider.
func NewJSONFundamentals(dir string) *JSONFundamentals {
	return &JSONFundamentals{dir: dir, cache: make(map[string][]Fundamental)}
}

type rawFundamental struct {
	Date          string  `json:"date"`
	PERatio       float64 `json:"pe_ratio"`
	PBRatio       float64 `json:"pb_ratio"`
	DebtToEquity  float64 `json:"debt_to_equity"`
	RevenueGrowth float64 `json:"revenue_growth"`
	ProfitMargin  float64 `json:"profit_margin"`
	DividendYield float64 `json:"dividend_yield"`
}

// Fundamentals returns the most recent snapshot at or before the date.
// No snapshot in range is core.ErrNoData.
func (j *JSONFundamentals) Fundamentals(ticker string, date time.Time) (*Fundamental, error) {
	snaps, err := j.load(ticker)
	if err != nil {
		return nil, err
	}

	d := Day(date)
	idx := sort.Search(len(snaps), func(i int) bool {
		return snaps[i].Date.After(d)
	})
	if idx == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no fundamentals for %s at %s", ticker, d.Format("2006-01-02")))
	}
	snap := snaps[idx-1]
	return &snap, nil
}

func (j *JSONFundamentals) load(ticker string) ([]Fundamental, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if snaps, ok := j.cache[ticker]; ok {
		return snaps, nil
	}

	path := filepath.Join(j.dir, ticker+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no fundamentals file for %s", ticker))
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw []rawFundamental
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	snaps := make([]Fundamental, 0, len(raw))
	for _, r := range raw {
		date, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			continue
		}
		snaps = append(snaps, Fundamental{
			Date:          Day(date),
			PERatio:       r.PERatio,
			PBRatio:       r.PBRatio,
			DebtToEquity:  r.DebtToEquity,
			RevenueGrowth: r.RevenueGrowth,
			ProfitMargin:  r.ProfitMargin,
			DividendYield: r.DividendYield,
		})
	}
	sort.Slice(snaps, func(a, b int) bool { return snaps[a].Date.Before(snaps[b].Date) })

	j.cache[ticker] = snaps
	return snaps, nil
}
