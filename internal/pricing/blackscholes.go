// Package pricing evaluates European options under Black-Scholes.
//
// Every function is pure. Scalar forms take a single spot; the *Curve forms in
// curve.go apply the same formula elementwise over a slice of spots. Inputs are
// not validated here: Contract.Validate is the gate, and callers that skip it
// get IEEE results (NaN or Inf) for a zero volatility or maturity.
package pricing

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rzzdr/options-risk-desk/pkg/utils/errors"
)

// OptionKind is the payoff type of a European option
type OptionKind string

const (
	Call OptionKind = "Call"
	Put  OptionKind = "Put"
)

// ParseOptionKind accepts the canonical names and their lower/upper-case forms
func ParseOptionKind(s string) (OptionKind, error) {
	switch s {
	case "Call", "call", "CALL", "C":
		return Call, nil
	case "Put", "put", "PUT", "P":
		return Put, nil
	}
	return "", errors.InvalidArgumentf("unknown option kind %q", s)
}

// Contract holds everything except spot needed to value an option
type Contract struct {
	Kind       OptionKind `json:"kind"`
	Strike     float64    `json:"strike"`
	Maturity   float64    `json:"maturity"`   // years
	Rate       float64    `json:"rate"`       // annualized, continuously compounded
	Volatility float64    `json:"volatility"` // annualized
}

// Validate rejects parameters the closed-form model is undefined for
func (c Contract) Validate() error {
	switch {
	case c.Kind != Call && c.Kind != Put:
		return errors.InvalidArgumentf("unknown option kind %q", c.Kind)
	case !(c.Strike > 0) || math.IsInf(c.Strike, 0):
		return errors.Domainf("strike must be positive, got %v", c.Strike)
	case !(c.Volatility > 0) || math.IsInf(c.Volatility, 0):
		return errors.Domainf("volatility must be positive, got %v", c.Volatility)
	case !(c.Maturity > 0) || math.IsInf(c.Maturity, 0):
		return errors.Domainf("maturity must be positive, got %v", c.Maturity)
	case math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0):
		return errors.Domainf("rate must be finite, got %v", c.Rate)
	}
	return nil
}

// Greeks are the first and second order sensitivities of the option price
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// Valuation is a price together with its Greeks at one spot
type Valuation struct {
	Price float64 `json:"price"`
	Greeks
}

// D1 returns the d1 term
func D1(s float64, c Contract) float64 {
	return (math.Log(s/c.Strike) + (c.Rate+0.5*c.Volatility*c.Volatility)*c.Maturity) /
		(c.Volatility * math.Sqrt(c.Maturity))
}

// D2 returns the d2 term
func D2(s float64, c Contract) float64 {
	return D1(s, c) - c.Volatility*math.Sqrt(c.Maturity)
}

// Price returns the option value
func Price(s float64, c Contract) float64 {
	d1 := D1(s, c)
	d2 := d1 - c.Volatility*math.Sqrt(c.Maturity)
	df := math.Exp(-c.Rate * c.Maturity)

	if c.Kind == Call {
		return s*normalCDF(d1) - c.Strike*df*normalCDF(d2)
	}
	return c.Strike*df*normalCDF(-d2) - s*normalCDF(-d1)
}

// Delta returns dV/dS
func Delta(s float64, c Contract) float64 {
	nd1 := normalCDF(D1(s, c))
	if c.Kind == Call {
		return nd1
	}
	return nd1 - 1
}

// Gamma returns d2V/dS2. Same for calls and puts.
func Gamma(s float64, c Contract) float64 {
	return normalPDF(D1(s, c)) / (s * c.Volatility * math.Sqrt(c.Maturity))
}

// Vega returns dV/dsigma per unit of volatility. Same for calls and puts.
func Vega(s float64, c Contract) float64 {
	return s * normalPDF(D1(s, c)) * math.Sqrt(c.Maturity)
}

// Theta returns dV/dt per year
func Theta(s float64, c Contract) float64 {
	d1 := D1(s, c)
	d2 := d1 - c.Volatility*math.Sqrt(c.Maturity)
	decay := -s * normalPDF(d1) * c.Volatility / (2 * math.Sqrt(c.Maturity))
	carry := c.Rate * c.Strike * math.Exp(-c.Rate*c.Maturity)

	if c.Kind == Call {
		return decay - carry*normalCDF(d2)
	}
	return decay + carry*normalCDF(-d2)
}

// Rho returns dV/dr per unit of rate
func Rho(s float64, c Contract) float64 {
	d2 := D2(s, c)
	kt := c.Strike * c.Maturity * math.Exp(-c.Rate*c.Maturity)

	if c.Kind == Call {
		return kt * normalCDF(d2)
	}
	return -kt * normalCDF(-d2)
}

// Evaluate computes the price and all Greeks sharing one d1/d2 evaluation
func Evaluate(s float64, c Contract) Valuation {
	sqrtT := math.Sqrt(c.Maturity)
	d1 := D1(s, c)
	d2 := d1 - c.Volatility*sqrtT
	df := math.Exp(-c.Rate * c.Maturity)
	pdf := normalPDF(d1)

	v := Valuation{}
	v.Gamma = pdf / (s * c.Volatility * sqrtT)
	v.Vega = s * pdf * sqrtT
	decay := -s * pdf * c.Volatility / (2 * sqrtT)

	if c.Kind == Call {
		nd1, nd2 := normalCDF(d1), normalCDF(d2)
		v.Price = s*nd1 - c.Strike*df*nd2
		v.Delta = nd1
		v.Theta = decay - c.Rate*c.Strike*df*nd2
		v.Rho = c.Strike * c.Maturity * df * nd2
	} else {
		nmd1, nmd2 := normalCDF(-d1), normalCDF(-d2)
		v.Price = c.Strike*df*nmd2 - s*nmd1
		v.Delta = normalCDF(d1) - 1
		v.Theta = decay + c.Rate*c.Strike*df*nmd2
		v.Rho = -c.Strike * c.Maturity * df * nmd2
	}

	return v
}

// normalCDF returns the cumulative distribution function of the standard normal distribution
func normalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// normalPDF returns the probability density function of the standard normal distribution
func normalPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}
