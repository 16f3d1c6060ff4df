package marketdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
)

// Headline is one dated news item for a ticker.
type Headline struct {
	Date time.Time
	Text string
}

// NewsProvider serves recent headlines for a ticker. News is a sparse
// modality: having nothing in the window is core.ErrNoData, not a
// failure.
type NewsProvider interface {
	Headlines(ticker string, date time.Time, lookbackDays int) ([]Headline, error)
}

// JSONNews reads <dir>/<ticker>.json holding an array of
// {"date": "YYYY-MM-DD", "headline": "..."} items.
type JSONNews struct {
	dir string

	mu    sync.Mutex
	cache map[string][]Headline
}

// NewJSONNews creates a file-backed news provider.
func NewJSONNews(dir string) *JSONNews {
	return &JSONNews{dir: dir, cache: make(map[string][]Headline)}
}

// Headlines returns items within [date-lookbackDays, date].
func (j *JSONNews) Headlines(ticker string, date time.Time, lookbackDays int) ([]Headline, error) {
	all, err := j.load(ticker)
	if err != nil {
		return nil, err
	}

	end := Day(date)
	start := end.AddDate(0, 0, -lookbackDays)
	var window []Headline
	for _, h := range all {
		if h.Date.Before(start) || h.Date.After(end) {
			continue
		}
		window = append(window, h)
	}
	if len(window) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no news for %s in %d-day window", ticker, lookbackDays))
	}
	return window, nil
}

func (j *JSONNews) load(ticker string) ([]Headline, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if items, ok := j.cache[ticker]; ok {
		return items, nil
	}

	path := filepath.Join(j.dir, ticker+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no news file for %s", ticker))
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw []struct {
		Date     string `json:"date"`
		Headline string `json:"headline"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	items := make([]Headline, 0, len(raw))
	for _, r := range raw {
		date, err := time.Parse("2006-01-02", r.Date)
		if err != nil || r.Headline == "" {
			continue
		}
		items = append(items, Headline{Date: Day(date), Text: r.Headline})
	}

	j.cache[ticker] = items
	return items, nil
}
