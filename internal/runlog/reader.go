package runlog

import (
	"context"
	"encoding/json"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/portfolio"
	"github.com/quorumtrade/quorum/internal/stats"
	"github.com/quorumtrade/quorum/internal/storage/archive"
)

// Reader provides read-only access to a persisted run: the dashboard
// surface and the replay command both consume it.
type Reader struct {
	store archive.Storage
	id    string
}

// NewReader opens a run directory for reading.
func NewReader(store archive.Storage, backtestID string) *Reader {
	return &Reader{store: store, id: backtestID}
}

func (r *Reader) load(ctx context.Context, file string, v any) error {
	data, err := r.store.Read(ctx, r.id+"/"+file)
	if err != nil {
		return core.WrapError(core.ErrNoData, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.WrapError(core.ErrBadDataPoint, err)
	}
	return nil
}

// Config loads config.json.
func (r *Reader) Config(ctx context.Context) (RunConfig, error) {
	var cfg RunConfig
	err := r.load(ctx, configFile, &cfg)
	return cfg, err
}

// PortfolioDaily loads the daily snapshot series.
func (r *Reader) PortfolioDaily(ctx context.Context) ([]portfolio.Snapshot, error) {
	var snaps []portfolio.Snapshot
	err := r.load(ctx, portfolioDailyFile, &snaps)
	return snaps, err
}

// TickersDaily loads the per-ticker decision streams.
func (r *Reader) TickersDaily(ctx context.Context) (map[string][]TickerDay, error) {
	days := make(map[string][]TickerDay)
	err := r.load(ctx, tickersDailyFile, &days)
	return days, err
}

// Trades loads the trade ledger.
func (r *Reader) Trades(ctx context.Context) ([]portfolio.Trade, error) {
	var trades []portfolio.Trade
	err := r.load(ctx, tradesFile, &trades)
	return trades, err
}

// Results loads results.json. ok is false when the file does not exist,
// which marks the run as incomplete rather than corrupt.
func (r *Reader) Results(ctx context.Context) (stats.Results, bool, error) {
	var results stats.Results
	exists, err := r.store.Exists(ctx, r.id+"/"+resultsFile)
	if err != nil {
		return results, false, err
	}
	if !exists {
		return results, false, nil
	}
	if err := r.load(ctx, resultsFile, &results); err != nil {
		return results, false, err
	}
	return results, true, nil
}

// FinalPositions reconstructs end-of-run position values per ticker
// from the last entry of each ticker's daily stream.
func (r *Reader) FinalPositions(ctx context.Context) (map[string]float64, error) {
	days, err := r.TickersDaily(ctx)
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64)
	for ticker, stream := range days {
		if len(stream) == 0 {
			continue
		}
		last := stream[len(stream)-1]
		if last.Position != nil {
			values[ticker] = last.Position.Quantity * last.Position.CurrentPrice
		}
	}
	return values, nil
}
