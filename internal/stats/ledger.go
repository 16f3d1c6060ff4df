package stats

import (
	"math"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"github.com/quorumtrade/quorum/internal/portfolio"
)

// closedTrade is one realized round trip: a SELL matched against the
// average cost basis built up by prior BUYs.
type closedTrade struct {
	pnl    float64
	ret    float64
	equity float64 // cumulative return curve sample, 1.0 = break even
}

// tickerLedger is the replayed trading history for one ticker.
type tickerLedger struct {
	trades   int     // successful BUY/SELL records
	invested float64 // cash spent on buys, costs included
	proceeds float64 // cash received on sells, net of costs

	qty      float64
	avgCost  float64 // per-share cost basis, buy costs included
	openedAt time.Time

	closed   []closedTrade
	holdDays []float64
}

// replay reconstructs per-ticker cost bases and realized outcomes from
// the trade ledger. Rejected records are skipped: they carry no cash
// impact.
func replay(trades []portfolio.Trade) map[string]*tickerLedger {
	ledgers := make(map[string]*tickerLedger)

	for _, t := range trades {
		if !t.Success {
			continue
		}
		l, ok := ledgers[t.Ticker]
		if !ok {
			l = &tickerLedger{}
			ledgers[t.Ticker] = l
		}
		l.trades++

		switch t.Action {
		case core.ActionBuy:
			if l.qty == 0 {
				l.openedAt = t.Date
			}
			basis := l.avgCost*l.qty + t.TotalCost
			l.qty += t.Quantity
			l.avgCost = basis / l.qty
			l.invested += t.TotalCost

		case core.ActionSell:
			basis := l.avgCost * t.Quantity
			pnl := t.TotalCost - basis
			var ret float64
			if basis > 0 {
				ret = pnl / basis
			}
			l.proceeds += t.TotalCost

			var equity float64 = 1
			if l.invested > 0 {
				equity = 1 + (realizedPnL(l)+pnl)/l.invested
			}
			l.closed = append(l.closed, closedTrade{pnl: pnl, ret: ret, equity: equity})

			l.qty -= t.Quantity
			if l.qty <= 1e-9 {
				l.holdDays = append(l.holdDays, t.Date.Sub(l.openedAt).Hours()/24)
				l.qty = 0
				l.avgCost = 0
			}
		}
	}
	return ledgers
}

func realizedPnL(l *tickerLedger) float64 {
	var total float64
	for _, c := range l.closed {
		total += c.pnl
	}
	return total
}

func (l *tickerLedger) returns() []float64 {
	out := make([]float64, 0, len(l.closed))
	for _, c := range l.closed {
		out = append(out, c.ret)
	}
	return out
}

// equityCurve is the cumulative return curve sampled at each realized
// trade, used for drawdown when no daily per-ticker series exists.
func (l *tickerLedger) equityCurve() []float64 {
	curve := make([]float64, 0, len(l.closed)+1)
	curve = append(curve, 1.0)
	for _, c := range l.closed {
		curve = append(curve, c.equity)
	}
	return curve
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var variance float64
	for _, x := range xs {
		variance += (x - m) * (x - m)
	}
	return math.Sqrt(variance / float64(len(xs)-1))
}

// finite maps NaN and Inf to 0 so no output field can carry them.
func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
