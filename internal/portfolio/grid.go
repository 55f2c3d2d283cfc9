package portfolio

import (
	"math"
	"sort"

	"github.com/rzzdr/options-risk-desk/pkg/utils/errors"
)

// GridConfig describes an evenly spaced grid of hypothetical spots
type GridConfig struct {
	Lower  float64
	Upper  float64
	Points int
}

// DefaultGridConfig is the 50..150 grid with 200 points
func DefaultGridConfig() GridConfig {
	return GridConfig{Lower: 50, Upper: 150, Points: 200}
}

// SpotGrid is an immutable ascending sequence of spot prices
type SpotGrid struct {
	points []float64
}

// NewSpotGrid builds the grid with both bounds included
func NewSpotGrid(cfg GridConfig) (*SpotGrid, error) {
	switch {
	case cfg.Points < 0:
		return nil, errors.InvalidArgumentf("grid points must not be negative, got %d", cfg.Points)
	case math.IsNaN(cfg.Lower) || math.IsNaN(cfg.Upper) || math.IsInf(cfg.Lower, 0) || math.IsInf(cfg.Upper, 0):
		return nil, errors.InvalidArgument("grid bounds must be finite")
	// gamma is 0/0 at a zero spot
	case cfg.Lower <= 0:
		return nil, errors.InvalidArgumentf("grid lower bound must be positive, got %v", cfg.Lower)
	case cfg.Upper < cfg.Lower:
		return nil, errors.InvalidArgumentf("grid upper bound %v is below lower bound %v", cfg.Upper, cfg.Lower)
	}

	points := make([]float64, cfg.Points)
	switch cfg.Points {
	case 0:
	case 1:
		points[0] = cfg.Lower
	default:
		step := (cfg.Upper - cfg.Lower) / float64(cfg.Points-1)
		for i := range points {
			points[i] = cfg.Lower + float64(i)*step
		}
		points[cfg.Points-1] = cfg.Upper
	}

	return &SpotGrid{points: points}, nil
}

// MustSpotGrid is NewSpotGrid for static configurations
func MustSpotGrid(cfg GridConfig) *SpotGrid {
	g, err := NewSpotGrid(cfg)
	if err != nil {
		panic(err)
	}
	return g
}

// Len returns the number of grid points
func (g *SpotGrid) Len() int {
	return len(g.points)
}

// Points returns a copy of the grid
func (g *SpotGrid) Points() []float64 {
	out := make([]float64, len(g.points))
	copy(out, g.points)
	return out
}

// At returns the i-th grid point
func (g *SpotGrid) At(i int) float64 {
	return g.points[i]
}

// IndexOf returns the first index whose point is >= spot, clamped to the last
// index for spots above the grid. It returns -1 only for an empty grid.
func (g *SpotGrid) IndexOf(spot float64) int {
	if len(g.points) == 0 {
		return -1
	}
	i := sort.SearchFloat64s(g.points, spot)
	if i >= len(g.points) {
		i = len(g.points) - 1
	}
	return i
}
