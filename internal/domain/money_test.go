package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(10_500_000, "XAF") // 10.50 XAF
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestFromDecimal(t *testing.T) {
	d := decimal.NewFromFloat(10.50)
	micros := FromDecimal(d)
	assert.Equal(t, int64(10_500_000), micros)
}

func TestMoney_ApplyRate(t *testing.T) {
	// 10 000 XAF at a 3% rate keeps 9 700 XAF
	m := NewMoney(10_000_000_000, "XAF")
	paid := m.ApplyRate(decimal.NewFromInt(3))

	assert.Equal(t, "XAF", paid.Currency)
	assert.Equal(t, int64(9_700_000_000), paid.Amount)
}

func TestMoney_ApplyRate_RoundsDown(t *testing.T) {
	// 3 micros at 50% -> 1.5 micros -> 1
	paid := NewMoney(3, "XAF").ApplyRate(decimal.NewFromInt(50))
	assert.Equal(t, int64(1), paid.Amount)
}

func TestMoney_ApplyRate_FractionalRate(t *testing.T) {
	paid := NewMoney(1_000_000, "XAF").ApplyRate(decimal.RequireFromString("2.5"))
	assert.Equal(t, int64(975_000), paid.Amount)
}

func TestMoney_ApplyRate_RateAboveHundred(t *testing.T) {
	paid := NewMoney(1_000_000, "XAF").ApplyRate(decimal.NewFromInt(150))
	assert.Equal(t, int64(0), paid.Amount)
}

func TestParseProvider(t *testing.T) {
	p, ok := ParseProvider(" MTN-MoMo ")
	assert.True(t, ok)
	assert.Equal(t, ProviderMTNMoMo, p)

	_, ok = ParseProvider("paypal")
	assert.False(t, ok)
}

func TestParseTxStatus(t *testing.T) {
	s, ok := ParseTxStatus("apierror")
	assert.True(t, ok)
	assert.Equal(t, TxStatusAPIError, s)
	assert.True(t, s.Terminal())
	assert.False(t, TxStatusRunning.Terminal())

	_, ok = ParseTxStatus("COMPLETED")
	assert.False(t, ok)
}
