package domain

import "time"

// SignalType is the direction of a trading signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// TimeHorizon classifies how long a signal is expected to stay relevant.
type TimeHorizon string

const (
	HorizonScalp    TimeHorizon = "SCALP"
	HorizonIntraday TimeHorizon = "INTRADAY"
	HorizonSwing    TimeHorizon = "SWING"
)

// MicrostructureMetrics are derived from a snapshot and its recent history.
// They are recomputed on every analysis and never persisted on their own.
type MicrostructureMetrics struct {
	OrderFlowImbalance float64 `json:"order_flow_imbalance"` // [-1, 1]
	PriceImpact        float64 `json:"price_impact"`         // [0, 1]
	LiquidityScore     float64 `json:"liquidity_score"`      // [0, 100]
	MarketEfficiency   float64 `json:"market_efficiency"`    // [0, 100]
	Volatility         float64 `json:"volatility"`           // [0, 1]
}

// TradingSignal is a directional call derived from one depth snapshot.
type TradingSignal struct {
	ID           string      `json:"id"`
	InstrumentID uint32      `json:"instrument_id"`
	Segment      Segment     `json:"segment"`
	Type         SignalType  `json:"type"`
	Strength     float64     `json:"strength"`
	Confidence   float64     `json:"confidence"`
	Reasoning    []string    `json:"reasoning"`
	Targets      []float64   `json:"targets"`
	StopLoss     *float64    `json:"stop_loss,omitempty"`
	Horizon      TimeHorizon `json:"time_horizon"`
	GeneratedAt  time.Time   `json:"generated_at"`
}

// Key returns the instrument key the signal refers to.
func (s TradingSignal) Key() InstrumentKey {
	return Key(s.Segment, s.InstrumentID)
}

// Actionable reports whether the signal is a BUY or SELL.
func (s TradingSignal) Actionable() bool {
	return s.Type == SignalBuy || s.Type == SignalSell
}

// ImpactPoint is one point of a cumulative market-impact curve.
type ImpactPoint struct {
	Quantity uint64  `json:"quantity"`
	Impact   float64 `json:"impact"`
}

// LiquidityAnalysis describes how resting quantity is distributed through the
// book.
type LiquidityAnalysis struct {
	TotalLiquidity     uint64        `json:"total_liquidity"`
	TopFivePct         float64       `json:"top5_pct"`
	MiddleTenPct       float64       `json:"mid10_pct"`
	BottomFivePct      float64       `json:"bottom5_pct"`
	ImpactCurve        []ImpactPoint `json:"impact_curve"`
	OptimalOrderSize   uint64        `json:"optimal_order_size"`
	FragmentationScore float64       `json:"fragmentation_score"`
}

// DepthSummary is a coarse description of the book used by status endpoints.
type DepthSummary struct {
	TotalBidQuantity uint64     `json:"total_bid_quantity"`
	TotalAskQuantity uint64     `json:"total_ask_quantity"`
	BidAskRatio      *float64   `json:"bid_ask_ratio"` // nil when the ask side is empty
	StrongestBid     DepthLevel `json:"strongest_bid"`
	WeakestBid       DepthLevel `json:"weakest_bid"`
	StrongestAsk     DepthLevel `json:"strongest_ask"`
	WeakestAsk       DepthLevel `json:"weakest_ask"`
	DemandZones      []float64  `json:"demand_zones"`
	SupplyZones      []float64  `json:"supply_zones"`
	ComputedAt       time.Time  `json:"computed_at"`
}

// DepthUpdate is delivered to depth subscribers for every assembled snapshot.
type DepthUpdate struct {
	Snapshot  DepthSnapshot         `json:"snapshot"`
	Metrics   MicrostructureMetrics `json:"metrics"`
	Signal    TradingSignal         `json:"signal"`
	Liquidity LiquidityAnalysis     `json:"liquidity"`
}

// Key returns the instrument key of the update.
func (u DepthUpdate) Key() InstrumentKey {
	return u.Snapshot.Key()
}
