package portfolio

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rzzdr/options-risk-desk/internal/pricing"
	"github.com/rzzdr/options-risk-desk/pkg/utils/errors"
)

// Side is the direction of a position
type Side string

const (
	Long  Side = "Long"
	Short Side = "Short"
)

// ParseSide accepts Long/Short and the BUY/SELL ticket aliases
func ParseSide(s string) (Side, error) {
	switch s {
	case "Long", "long", "LONG", "BUY", "Buy", "buy":
		return Long, nil
	case "Short", "short", "SHORT", "SELL", "Sell", "sell":
		return Short, nil
	}
	return "", errors.InvalidArgumentf("unknown position side %q", s)
}

// Sign is +1 for Long and -1 for Short
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// OptionPosition is a single trade held in the book. It is immutable once built.
type OptionPosition struct {
	id         string
	contract   pricing.Contract
	side       Side
	quantity   int
	entryPrice float64
	premium    float64
	openedAt   time.Time
}

// NewPosition validates the contract and trade terms and fixes the entry price
// and premium at two decimals.
func NewPosition(contract pricing.Contract, side Side, quantity int, entryPrice float64) (*OptionPosition, error) {
	if err := contract.Validate(); err != nil {
		return nil, err
	}
	if side != Long && side != Short {
		return nil, errors.InvalidArgumentf("unknown position side %q", side)
	}
	if quantity <= 0 {
		return nil, errors.Domainf("quantity must be positive, got %d", quantity)
	}
	if math.IsNaN(entryPrice) || math.IsInf(entryPrice, 0) {
		return nil, errors.InvalidArgumentf("entry price must be finite, got %v", entryPrice)
	}

	entry := decimal.NewFromFloat(entryPrice).Round(2)
	// premium is quantity times the booked (rounded) entry
	premium := entry.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
	if side == Long {
		premium = premium.Neg()
	}

	return &OptionPosition{
		id:         uuid.NewString(),
		contract:   contract,
		side:       side,
		quantity:   quantity,
		entryPrice: entry.InexactFloat64(),
		premium:    premium.InexactFloat64(),
		openedAt:   time.Now().UTC(),
	}, nil
}

func (p *OptionPosition) ID() string                 { return p.id }
func (p *OptionPosition) Contract() pricing.Contract { return p.contract }
func (p *OptionPosition) Kind() pricing.OptionKind   { return p.contract.Kind }
func (p *OptionPosition) Side() Side                 { return p.side }
func (p *OptionPosition) Quantity() int              { return p.quantity }
func (p *OptionPosition) EntryPrice() float64        { return p.entryPrice }
func (p *OptionPosition) OpenedAt() time.Time        { return p.openedAt }

// Premium is the signed cash flow at inception: paid (negative) when Long,
// received (positive) when Short.
func (p *OptionPosition) Premium() float64 { return p.premium }

// Weight is the signed multiplier applied to per-unit values
func (p *OptionPosition) Weight() float64 {
	return p.side.Sign() * float64(p.quantity)
}

// PnL marks the position to the model price at spot, rounded to two decimals
func (p *OptionPosition) PnL(spot float64) float64 {
	raw := p.Weight() * (pricing.Price(spot, p.contract) - p.entryPrice)
	return round2(raw)
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
