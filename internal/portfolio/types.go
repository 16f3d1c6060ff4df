package portfolio

import (
	"time"

	"github.com/quorumtrade/quorum/internal/core"
)

// Config holds the simulator's immutable trading parameters.
type Config struct {
	InitialCapital   float64
	PositionSizing   float64 // base order size as fraction of portfolio value
	MaxPositionSize  float64 // cap on one position as fraction of portfolio value
	MaxPositions     int
	CashReserve      float64 // reported reserve fraction
	MinCashReserve   float64 // hard floor: trades never push cash below this fraction
	TransactionCost  float64
	Slippage         float64
	FractionalShares bool
}

// PositionStatus marks whether a position is live.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position tracks one ticker's holding. Owned exclusively by the
// Simulator.
type Position struct {
	Ticker       string
	Quantity     float64
	AvgPrice     float64
	CurrentPrice float64
	RealizedPnL  float64
	OpenedAt     time.Time
	Status       PositionStatus
}

// MarketValue is the position's current worth.
func (p *Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// UnrealizedPnL is the paper gain against the average entry price.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.AvgPrice) * p.Quantity
}

// add blends additional quantity into the position at the given price.
func (p *Position) add(quantity, price float64) {
	total := p.Quantity + quantity
	p.AvgPrice = (p.AvgPrice*p.Quantity + price*quantity) / total
	p.Quantity = total
	p.CurrentPrice = price
}

// reduce removes quantity at the given price, booking realized P&L.
func (p *Position) reduce(quantity, price float64) {
	p.RealizedPnL += (price - p.AvgPrice) * quantity
	p.Quantity -= quantity
	p.CurrentPrice = price
	if p.Quantity <= 0 {
		p.Quantity = 0
		p.Status = PositionClosed
	}
}

// State is a compact portfolio valuation, embedded in trade records as
// the before/after context.
type State struct {
	TotalValue     float64 `json:"total_value"`
	Cash           float64 `json:"cash"`
	PositionsValue float64 `json:"positions_value"`
}

// Snapshot is the end-of-day portfolio record. Invariants:
// TotalValue == Cash + PositionsValue and
// TotalValue == initial capital * (1 + CumulativeReturn).
type Snapshot struct {
	Date             time.Time `json:"date"`
	TotalValue       float64   `json:"total_value"`
	Cash             float64   `json:"cash"`
	PositionsValue   float64   `json:"positions_value"`
	DailyReturn      float64   `json:"daily_return"`
	CumulativeReturn float64   `json:"cumulative_return"`
	NumPositions     int       `json:"num_positions"`
	CashReserve      float64   `json:"cash_reserve"`
	AvailableCapital float64   `json:"available_capital"`
}

// Trade is an immutable record of an order attempt. Rejected orders
// are recorded with Success=false rather than raised as errors.
type Trade struct {
	Date            time.Time   `json:"date"`
	Ticker          string      `json:"ticker"`
	Action          core.Action `json:"action"`
	Quantity        float64     `json:"quantity"`
	Price           float64     `json:"price"`
	Value           float64     `json:"value"` // Quantity * Price
	TransactionCost float64     `json:"transaction_cost"`
	Slippage        float64     `json:"slippage"`
	// TotalCost is the cash impact: value plus costs for a buy, net
	// proceeds for a sell.
	TotalCost       float64                      `json:"total_cost"`
	Confidence      float64                      `json:"confidence"`
	Reasoning       string                       `json:"reasoning"`
	Experts         map[string]core.Contribution `json:"experts"`
	PortfolioBefore State                        `json:"portfolio_before"`
	PortfolioAfter  State                        `json:"portfolio_after"`
	Success         bool                         `json:"success"`
	Note            string                       `json:"note,omitempty"` // partial fill / rejection detail
}
