package portfolio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/options-risk-desk/internal/pricing"
	"github.com/rzzdr/options-risk-desk/pkg/utils/errors"
)

func callContract() pricing.Contract {
	return pricing.Contract{Kind: pricing.Call, Strike: 100, Maturity: 0.5, Rate: 0.01, Volatility: 0.2}
}

func TestNewPositionRoundsEntryAndPremium(t *testing.T) {
	long, err := NewPosition(callContract(), Long, 3, 5.876024)
	require.NoError(t, err)

	assert.Equal(t, 5.88, long.EntryPrice())
	assert.Equal(t, -17.64, long.Premium())
	assert.NotEmpty(t, long.ID())
	assert.False(t, long.OpenedAt().IsZero())

	short, err := NewPosition(callContract(), Short, 3, 5.876024)
	require.NoError(t, err)
	assert.Equal(t, 17.64, short.Premium())
	assert.NotEqual(t, long.ID(), short.ID())
}

func TestNewPositionRejectsDomainErrors(t *testing.T) {
	zeroVol := callContract()
	zeroVol.Volatility = 0
	_, err := NewPosition(zeroVol, Long, 1, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDomain))

	expired := callContract()
	expired.Maturity = 0
	_, err = NewPosition(expired, Long, 1, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDomain))

	_, err = NewPosition(callContract(), Long, 0, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDomain))

	_, err = NewPosition(callContract(), Side("Flat"), 1, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	_, err = NewPosition(callContract(), Long, 1, math.NaN())
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}

func TestPnLSign(t *testing.T) {
	model := pricing.Price(110, callContract())
	entry := model - 2.5

	long, err := NewPosition(callContract(), Long, 4, entry)
	require.NoError(t, err)
	short, err := NewPosition(callContract(), Short, 4, entry)
	require.NoError(t, err)

	assert.Greater(t, long.PnL(110), 0.0)
	assert.Equal(t, -long.PnL(110), short.PnL(110))
	assert.InDelta(t, 4*(model-long.EntryPrice()), long.PnL(110), 0.005)
}

func TestPnLAtEntryIsNearZero(t *testing.T) {
	model := pricing.Price(100, callContract())
	p, err := NewPosition(callContract(), Long, 1, model)
	require.NoError(t, err)

	assert.InDelta(t, 0, p.PnL(100), 0.01)
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"BUY": Long, "long": Long, "SELL": Short, "Short": Short} {
		got, err := ParseSide(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseSide("hold")
	assert.Error(t, err)
}

func TestWeight(t *testing.T) {
	p, err := NewPosition(callContract(), Short, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, -7.0, p.Weight())
}
