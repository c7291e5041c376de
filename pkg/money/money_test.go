package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSub(t *testing.T) {
	a, err := New("100.500000")
	require.NoError(t, err)
	b, err := New("0.500001")
	require.NoError(t, err)

	sum := a.Add(b)
	assert.Equal(t, "101.000001", sum.String())

	diff := a.Sub(b)
	assert.Equal(t, "99.999999", diff.String())
}

func TestMicrosRoundTrip(t *testing.T) {
	a, err := New("12345.678901")
	require.NoError(t, err)
	micros := a.Micros()
	back := FromMicros(micros)
	assert.Equal(t, a.String(), back.String())
}

func TestJSONRoundTrip(t *testing.T) {
	a, err := New("9999.990000")
	require.NoError(t, err)

	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"9999.990000"`, string(b))

	var out Amount
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, a.Equal(out))
}

func TestComparisons(t *testing.T) {
	a, _ := New("10")
	b, _ := New("20")
	assert.True(t, a.LessThan(b))
	assert.True(t, b.GreaterThan(a))
	assert.False(t, a.Equal(b))
}

func TestMulFloatSizeDown(t *testing.T) {
	a, _ := New("1000")
	half := a.MulFloat(0.5)
	assert.Equal(t, "500.000000", half.String())
}
