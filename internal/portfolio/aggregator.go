package portfolio

import (
	"sync"

	"github.com/rzzdr/options-risk-desk/internal/pricing"
	"github.com/rzzdr/options-risk-desk/pkg/utils/logger"
)

// Curves are the portfolio-level PnL and Greeks across the spot grid
type Curves struct {
	PnL   []float64 `json:"pnl"`
	Delta []float64 `json:"delta"`
	Gamma []float64 `json:"gamma"`
	Vega  []float64 `json:"vega"`
	Theta []float64 `json:"theta"`
	Rho   []float64 `json:"rho"`
}

func newCurves(n int) Curves {
	return Curves{
		PnL:   make([]float64, n),
		Delta: make([]float64, n),
		Gamma: make([]float64, n),
		Vega:  make([]float64, n),
		Theta: make([]float64, n),
		Rho:   make([]float64, n),
	}
}

// Len returns the number of grid points the curves cover
func (c Curves) Len() int { return len(c.PnL) }

// Totals holds the sum of each curve over the whole grid
type Totals struct {
	PnL   float64 `json:"pnl"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// Totals sums every curve over the grid
func (c Curves) Totals() Totals {
	return Totals{
		PnL:   sum(c.PnL),
		Delta: sum(c.Delta),
		Gamma: sum(c.Gamma),
		Vega:  sum(c.Vega),
		Theta: sum(c.Theta),
		Rho:   sum(c.Rho),
	}
}

// At reads every curve at grid index i
func (c Curves) At(i int) Totals {
	if i < 0 || i >= c.Len() {
		return Totals{}
	}
	return Totals{
		PnL:   c.PnL[i],
		Delta: c.Delta[i],
		Gamma: c.Gamma[i],
		Vega:  c.Vega[i],
		Theta: c.Theta[i],
		Rho:   c.Rho[i],
	}
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

// Aggregator owns the book and evaluates it against a fixed spot grid.
// The book is append-only between flattens and is guarded by an RWMutex, so
// AddPosition and Flatten never interleave with a Curves evaluation.
type Aggregator struct {
	grid *SpotGrid
	book []*OptionPosition
	mu   sync.RWMutex
	log  *logger.Logger
}

// NewAggregator creates an aggregator with an empty book
func NewAggregator(grid *SpotGrid) *Aggregator {
	return &Aggregator{
		grid: grid,
		book: make([]*OptionPosition, 0),
		log:  logger.GetLogger("portfolio.aggregator"),
	}
}

// Grid returns the spot grid the aggregator evaluates against
func (a *Aggregator) Grid() *SpotGrid {
	return a.grid
}

// AddPosition appends p to the book
func (a *Aggregator) AddPosition(p *OptionPosition) {
	if p == nil {
		return
	}

	a.mu.Lock()
	a.book = append(a.book, p)
	size := len(a.book)
	a.mu.Unlock()

	a.log.Debugf("Added %s %s x%d K=%.2f, book size %d", p.Side(), p.Kind(), p.Quantity(), p.Contract().Strike, size)
}

// Flatten removes every position from the book
func (a *Aggregator) Flatten() int {
	a.mu.Lock()
	removed := len(a.book)
	a.book = make([]*OptionPosition, 0)
	a.mu.Unlock()

	a.log.Debugf("Flattened book, removed %d positions", removed)
	return removed
}

// Len returns the number of positions in the book
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.book)
}

// Positions returns the book in insertion order
func (a *Aggregator) Positions() []*OptionPosition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.positionsLocked()
}

func (a *Aggregator) positionsLocked() []*OptionPosition {
	out := make([]*OptionPosition, len(a.book))
	copy(out, a.book)
	return out
}

// Curves re-evaluates the whole book on the grid. Nothing is cached between
// calls. An empty book yields zero curves of grid length.
func (a *Aggregator) Curves() Curves {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.curvesLocked()
}

func (a *Aggregator) curvesLocked() Curves {
	spots := a.grid.points
	total := newCurves(len(spots))

	for _, p := range a.book {
		w := p.Weight()
		v := pricing.EvaluateCurve(spots, p.contract)
		for i := range spots {
			total.PnL[i] += w * (v.Price[i] - p.entryPrice)
			total.Delta[i] += w * v.Delta[i]
			total.Gamma[i] += w * v.Gamma[i]
			total.Vega[i] += w * v.Vega[i]
			total.Theta[i] += w * v.Theta[i]
			total.Rho[i] += w * v.Rho[i]
		}
	}

	return total
}

// CurrentValueAt reads the portfolio PnL curve at the grid point found by
// SpotGrid.IndexOf. An empty grid reports 0.
func (a *Aggregator) CurrentValueAt(spot float64) float64 {
	return ValueAt(a.grid, a.Curves().PnL, spot)
}

// ValueAt reads curve at the grid index for spot, or 0 when there is none
func ValueAt(grid *SpotGrid, curve []float64, spot float64) float64 {
	i := grid.IndexOf(spot)
	if i < 0 || i >= len(curve) {
		return 0
	}
	return curve[i]
}

// Snapshot is a consistent view of the book and its curves
type Snapshot struct {
	Positions []*OptionPosition
	Curves    Curves
}

// Snapshot reads the book and evaluates it under a single read lock
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Positions: a.positionsLocked(),
		Curves:    a.curvesLocked(),
	}
}
