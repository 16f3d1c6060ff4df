package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quorumtrade/quorum/internal/core"
	"go.uber.org/zap"
)

// Simulator owns the cash and position state for one backtest run. It
// is single-writer: decisions must be applied from one goroutine, in a
// fixed ticker order, so capital allocation is deterministic.
type Simulator struct {
	cfg    Config
	logger *zap.Logger

	cash      float64
	positions map[string]*Position

	prevTotal float64
	haveSnap  bool
	badPrices int
}

// NewSimulator creates a simulator holding the full initial capital in
// cash.
func NewSimulator(cfg Config, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{
		cfg:       cfg,
		logger:    log,
		cash:      cfg.InitialCapital,
		positions: make(map[string]*Position),
	}
}

// Cash returns the current cash balance.
func (s *Simulator) Cash() float64 {
	return s.cash
}

// TotalValue is cash plus the marked value of all open positions.
func (s *Simulator) TotalValue() float64 {
	return s.cash + s.positionsValue()
}

func (s *Simulator) positionsValue() float64 {
	var total float64
	for _, p := range s.positions {
		total += p.MarketValue()
	}
	return total
}

// Position returns the open position for a ticker, if any.
func (s *Simulator) Position(ticker string) (*Position, bool) {
	p, ok := s.positions[ticker]
	return p, ok
}

// OpenTickers lists tickers with open positions in alphabetical order.
func (s *Simulator) OpenTickers() []string {
	tickers := make([]string, 0, len(s.positions))
	for t := range s.positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// BadPriceCount reports how many corrupt price points were rejected
// during mark-to-market.
func (s *Simulator) BadPriceCount() int {
	return s.badPrices
}

// state captures the current valuation for trade records.
func (s *Simulator) state() State {
	pv := s.positionsValue()
	return State{
		TotalValue:     s.cash + pv,
		Cash:           s.cash,
		PositionsValue: pv,
	}
}

// ApplyDecision executes one aggregated decision at the given price.
// HOLD returns (nil, nil): no state mutation, no record. BUY and SELL
// return a Trade record whether or not the order executed; rejections
// are Success=false records, not errors.
func (s *Simulator) ApplyDecision(date time.Time, ticker string, d core.Decision, price float64) (*Trade, error) {
	if math.IsNaN(price) || price <= 0 {
		s.badPrices++
		return nil, core.WrapError(core.ErrBadDataPoint, fmt.Errorf("price %v for %s", price, ticker))
	}

	switch d.Action {
	case core.ActionHold:
		return nil, nil
	case core.ActionBuy:
		return s.executeBuy(date, ticker, d, price), nil
	case core.ActionSell:
		return s.executeSell(date, ticker, d, price), nil
	default:
		return nil, fmt.Errorf("unknown action %q", d.Action)
	}
}

// sizedValue computes the target order value: the base sizing fraction
// of portfolio value, scaled by confidence into [0.5x, 1x], floored at
// 1% of portfolio so a low-confidence order still matters.
func (s *Simulator) sizedValue(confidence float64) float64 {
	totalValue := s.TotalValue()

	if math.IsNaN(confidence) {
		confidence = 0.5
	}
	size := totalValue * s.cfg.PositionSizing * (0.5 + 0.5*confidence)

	if min := totalValue * 0.01; size < min {
		size = min
	}
	return size
}

// buyQuantity applies the per-position limit on top of the sized value
// and converts to shares.
func (s *Simulator) buyQuantity(ticker string, price, confidence float64) float64 {
	size := s.sizedValue(confidence)

	var existing float64
	if p, ok := s.positions[ticker]; ok {
		existing = p.MarketValue()
	}
	if limit := s.TotalValue()*s.cfg.MaxPositionSize - existing; size > limit {
		size = limit
	}
	if size <= 0 {
		return 0
	}
	return s.truncate(size / price)
}

func (s *Simulator) truncate(quantity float64) float64 {
	if s.cfg.FractionalShares {
		return quantity
	}
	return math.Floor(quantity)
}

// spendable is the cash available for a buy after the hard minimum
// reserve. Trades never push cash below min_cash_reserve of portfolio
// value.
func (s *Simulator) spendable() float64 {
	return s.cash - s.TotalValue()*s.cfg.MinCashReserve
}

func (s *Simulator) executeBuy(date time.Time, ticker string, d core.Decision, price float64) *Trade {
	before := s.state()
	trade := &Trade{
		Date:            date,
		Ticker:          ticker,
		Action:          core.ActionBuy,
		Price:           price,
		Confidence:      d.OverallConfidence,
		Reasoning:       d.Reasoning,
		Experts:         d.Contributions,
		PortfolioBefore: before,
	}

	_, alreadyOpen := s.positions[ticker]
	if !alreadyOpen && len(s.positions) >= s.cfg.MaxPositions {
		return s.reject(trade, fmt.Sprintf("max positions reached (%d)", s.cfg.MaxPositions))
	}

	available := s.spendable()
	if available <= 0 {
		return s.reject(trade, "no capital above minimum cash reserve")
	}

	quantity := s.buyQuantity(ticker, price, d.OverallConfidence)
	if quantity <= 0 {
		return s.reject(trade, "position size limit leaves no room")
	}

	costRate := 1 + s.cfg.TransactionCost + s.cfg.Slippage
	if quantity*price*costRate > available {
		// Partial execution with whatever the reserve allows.
		quantity = s.truncate(available / (price * costRate))
		if quantity <= 0 {
			return s.reject(trade, "insufficient cash for any quantity")
		}
		trade.Note = fmt.Sprintf("partial fill: %g of sized order", quantity)
	}

	value := quantity * price
	trade.Quantity = quantity
	trade.Value = value
	trade.TransactionCost = value * s.cfg.TransactionCost
	trade.Slippage = value * s.cfg.Slippage
	trade.TotalCost = value + trade.TransactionCost + trade.Slippage

	s.cash -= trade.TotalCost
	if p, ok := s.positions[ticker]; ok {
		p.add(quantity, price)
	} else {
		s.positions[ticker] = &Position{
			Ticker:       ticker,
			Quantity:     quantity,
			AvgPrice:     price,
			CurrentPrice: price,
			OpenedAt:     date,
			Status:       PositionOpen,
		}
	}

	trade.Success = true
	trade.PortfolioAfter = s.state()
	s.logger.Debug("buy executed",
		zap.String("ticker", ticker),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price),
		zap.Float64("total_cost", trade.TotalCost),
	)
	return trade
}

func (s *Simulator) executeSell(date time.Time, ticker string, d core.Decision, price float64) *Trade {
	before := s.state()
	trade := &Trade{
		Date:            date,
		Ticker:          ticker,
		Action:          core.ActionSell,
		Price:           price,
		Confidence:      d.OverallConfidence,
		Reasoning:       d.Reasoning,
		Experts:         d.Contributions,
		PortfolioBefore: before,
	}

	position, ok := s.positions[ticker]
	if !ok {
		return s.reject(trade, fmt.Sprintf("no open position in %s", ticker))
	}

	quantity := s.truncate(s.sizedValue(d.OverallConfidence) / price)
	if quantity <= 0 || quantity >= position.Quantity {
		quantity = position.Quantity
	} else {
		trade.Note = fmt.Sprintf("partial sell: %g of %g held", quantity, position.Quantity)
	}

	value := quantity * price
	trade.Quantity = quantity
	trade.Value = value
	trade.TransactionCost = value * s.cfg.TransactionCost
	trade.Slippage = value * s.cfg.Slippage
	trade.TotalCost = value - trade.TransactionCost - trade.Slippage

	s.cash += trade.TotalCost
	position.reduce(quantity, price)
	if position.Status == PositionClosed {
		delete(s.positions, ticker)
	}

	trade.Success = true
	trade.PortfolioAfter = s.state()
	s.logger.Debug("sell executed",
		zap.String("ticker", ticker),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price),
		zap.Float64("proceeds", trade.TotalCost),
	)
	return trade
}

// reject downgrades an order to a no-op record. Order rejection is an
// expected business outcome.
func (s *Simulator) reject(trade *Trade, reason string) *Trade {
	trade.Success = false
	trade.Note = reason
	trade.PortfolioAfter = s.state()
	s.logger.Debug("order rejected",
		zap.String("ticker", trade.Ticker),
		zap.String("action", string(trade.Action)),
		zap.String("reason", reason),
	)
	return trade
}

// MarkToMarket revalues open positions with the day's prices. Corrupt
// price points (NaN, non-positive) are rejected individually and
// counted; the position keeps its last good price.
func (s *Simulator) MarkToMarket(prices map[string]float64) {
	for ticker, price := range prices {
		p, ok := s.positions[ticker]
		if !ok {
			continue
		}
		if math.IsNaN(price) || price <= 0 {
			s.badPrices++
			s.logger.Warn("skipping corrupt price update",
				zap.String("ticker", ticker),
				zap.Float64("price", price),
			)
			continue
		}
		p.CurrentPrice = price
	}
}

// Snapshot produces the end-of-day record. Call once per trading day
// after every ticker has been processed and marked to market.
func (s *Simulator) Snapshot(date time.Time) Snapshot {
	pv := s.positionsValue()
	total := s.cash + pv

	var dailyReturn float64
	if s.haveSnap && s.prevTotal > 0 {
		dailyReturn = (total - s.prevTotal) / s.prevTotal
	}
	s.prevTotal = total
	s.haveSnap = true

	reserve := total * s.cfg.CashReserve
	return Snapshot{
		Date:             date,
		TotalValue:       total,
		Cash:             s.cash,
		PositionsValue:   pv,
		DailyReturn:      dailyReturn,
		CumulativeReturn: (total - s.cfg.InitialCapital) / s.cfg.InitialCapital,
		NumPositions:     len(s.positions),
		CashReserve:      reserve,
		AvailableCapital: s.cash - reserve,
	}
}
