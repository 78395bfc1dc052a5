package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	got, err := NormalizeSymbol(" btc ")
	require.NoError(t, err)
	assert.Equal(t, "BTC", got)

	_, err = NormalizeSymbol("bt-c")
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = NormalizeSymbol("")
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestParsePair(t *testing.T) {
	for _, raw := range []string{"usd/eur", "USD-EUR", "USD_EUR", "usdeur"} {
		from, to, err := ParsePair(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "USD", from, raw)
		assert.Equal(t, "EUR", to, raw)
	}

	_, _, err := ParsePair("USDEU")
	assert.ErrorIs(t, err, ErrInvalidParam)
	_, _, err = ParsePair("US/EURO")
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestParseVESSeries(t *testing.T) {
	s, err := ParseVESSeries("Paralelo")
	require.NoError(t, err)
	assert.Equal(t, SeriesParalelo, s)

	s, err = ParseVESSeries("BCV")
	require.NoError(t, err)
	assert.Equal(t, SeriesOficial, s)

	_, err = ParseVESSeries("euro")
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestDayRangeClamp(t *testing.T) {
	assert.Equal(t, 7, CryptoDays.Clamp(0))
	assert.Equal(t, 1, CryptoDays.Clamp(1))
	assert.Equal(t, 90, CryptoDays.Clamp(365))
	assert.Equal(t, 365, ForexDays.Clamp(1000))
	assert.Equal(t, 45, ForexDays.Clamp(45))
}
