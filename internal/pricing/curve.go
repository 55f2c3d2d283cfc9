package pricing

// Curves holds the price and each Greek evaluated at every spot of a grid.
// All slices share the length and ordering of the spots they came from.
type Curves struct {
	Price []float64 `json:"price"`
	Delta []float64 `json:"delta"`
	Gamma []float64 `json:"gamma"`
	Vega  []float64 `json:"vega"`
	Theta []float64 `json:"theta"`
	Rho   []float64 `json:"rho"`
}

func mapSpots(spots []float64, c Contract, f func(float64, Contract) float64) []float64 {
	out := make([]float64, len(spots))
	for i, s := range spots {
		out[i] = f(s, c)
	}
	return out
}

// PriceCurve applies Price elementwise
func PriceCurve(spots []float64, c Contract) []float64 { return mapSpots(spots, c, Price) }

// DeltaCurve applies Delta elementwise
func DeltaCurve(spots []float64, c Contract) []float64 { return mapSpots(spots, c, Delta) }

// GammaCurve applies Gamma elementwise
func GammaCurve(spots []float64, c Contract) []float64 { return mapSpots(spots, c, Gamma) }

// VegaCurve applies Vega elementwise
func VegaCurve(spots []float64, c Contract) []float64 { return mapSpots(spots, c, Vega) }

// ThetaCurve applies Theta elementwise
func ThetaCurve(spots []float64, c Contract) []float64 { return mapSpots(spots, c, Theta) }

// RhoCurve applies Rho elementwise
func RhoCurve(spots []float64, c Contract) []float64 { return mapSpots(spots, c, Rho) }

// EvaluateCurve computes every curve in a single pass over spots
func EvaluateCurve(spots []float64, c Contract) Curves {
	n := len(spots)
	out := Curves{
		Price: make([]float64, n),
		Delta: make([]float64, n),
		Gamma: make([]float64, n),
		Vega:  make([]float64, n),
		Theta: make([]float64, n),
		Rho:   make([]float64, n),
	}

	for i, s := range spots {
		v := Evaluate(s, c)
		out.Price[i] = v.Price
		out.Delta[i] = v.Delta
		out.Gamma[i] = v.Gamma
		out.Vega[i] = v.Vega
		out.Theta[i] = v.Theta
		out.Rho[i] = v.Rho
	}

	return out
}
