package models

import (
	"time"
)

// TradeRequest is an inbound trade ticket. Nil fields fall back to the desk
// defaults. A nil or zero EntryPrice asks the desk to book at the model price.
type TradeRequest struct {
	Kind       string   `json:"kind,omitempty" binding:"omitempty,option_kind"`
	Side       string   `json:"side,omitempty" binding:"omitempty,position_side"`
	Strike     *float64 `json:"strike,omitempty"`
	Quantity   *int     `json:"quantity,omitempty"`
	Volatility *float64 `json:"volatility,omitempty"`
	Rate       *float64 `json:"rate,omitempty"`
	Maturity   *float64 `json:"maturity,omitempty"`
	Spot       *float64 `json:"spot,omitempty"`
	EntryPrice *float64 `json:"entry_price,omitempty"`
}

// TradeResult reports whether a ticket made it into the book
type TradeResult struct {
	Accepted bool     `json:"accepted"`
	Reason   string   `json:"reason,omitempty"`
	Position *BookRow `json:"position,omitempty"`
}

// BookRow is one position as displayed in the book table
type BookRow struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Side       string    `json:"side"`
	Strike     float64   `json:"strike"`
	Quantity   int       `json:"quantity"`
	Volatility float64   `json:"volatility"`
	Rate       float64   `json:"rate"`
	Maturity   float64   `json:"maturity"`
	EntryPrice float64   `json:"entry_price"`
	Premium    float64   `json:"premium"`
	PnL        float64   `json:"pnl"`
	OpenedAt   time.Time `json:"opened_at"`
}

// GreekValues is a PnL plus the five Greeks
type GreekValues struct {
	PnL   float64 `json:"pnl"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// RiskSummary is the risk strip. PnL is read at the current spot; Delta
// through Rho are sums over the whole grid. AtSpot carries every value read at
// the grid point nearest the current spot.
type RiskSummary struct {
	Spot      float64     `json:"spot"`
	Positions int         `json:"positions"`
	PnL       float64     `json:"pnl"`
	Delta     float64     `json:"delta"`
	Gamma     float64     `json:"gamma"`
	Vega      float64     `json:"vega"`
	Theta     float64     `json:"theta"`
	Rho       float64     `json:"rho"`
	AtSpot    GreekValues `json:"at_spot"`
}

// CurveBundle carries the portfolio curves with the grid they were evaluated on
type CurveBundle struct {
	Grid    []float64 `json:"grid"`
	PnL     []float64 `json:"pnl"`
	Delta   []float64 `json:"delta"`
	Gamma   []float64 `json:"gamma"`
	Vega    []float64 `json:"vega"`
	Theta   []float64 `json:"theta"`
	Rho     []float64 `json:"rho"`
	Strikes []float64 `json:"strikes"`
}

// Snapshot events
const (
	EventTrade   = "trade"
	EventFlatten = "flatten"
	EventRefresh = "refresh"
)

// DeskSnapshot is everything a UI needs to redraw after a book change
type DeskSnapshot struct {
	Sequence  uint64      `json:"sequence"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Spot      float64     `json:"spot"`
	Book      []BookRow   `json:"book"`
	Risk      RiskSummary `json:"risk"`
	Curves    CurveBundle `json:"curves"`
}

// Command types carried on the desk command topic
const (
	CommandTrade   = "trade"
	CommandFlatten = "flatten"
)

// DeskCommand is a trade or flatten instruction delivered over a message bus
type DeskCommand struct {
	Type  string        `json:"type"`
	Trade *TradeRequest `json:"trade,omitempty"`
}

// QuoteRequest asks for a model valuation without booking anything
type QuoteRequest struct {
	Kind       string   `json:"kind,omitempty" binding:"omitempty,option_kind"`
	Strike     *float64 `json:"strike,omitempty"`
	Volatility *float64 `json:"volatility,omitempty"`
	Rate       *float64 `json:"rate,omitempty"`
	Maturity   *float64 `json:"maturity,omitempty"`
	Spot       *float64 `json:"spot,omitempty"`
}

// Quote is a single-point valuation
type Quote struct {
	Kind       string  `json:"kind"`
	Spot       float64 `json:"spot"`
	Strike     float64 `json:"strike"`
	Volatility float64 `json:"volatility"`
	Rate       float64 `json:"rate"`
	Maturity   float64 `json:"maturity"`
	Price      float64 `json:"price"`
	Delta      float64 `json:"delta"`
	Gamma      float64 `json:"gamma"`
	Vega       float64 `json:"vega"`
	Theta      float64 `json:"theta"`
	Rho        float64 `json:"rho"`
}
