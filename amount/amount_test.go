package amount

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustBig(t *testing.T, s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, s)
	return v
}

func TestFromFloat(t *testing.T) {
	for _, tc := range []struct {
		in       float64
		expected string
	}{
		{0, "0"},
		{42, "42000000000000"},
		{111.111, "111111000000000"},
		{10.5, "10500000000000"},
		{1270.9946, "1270994600000000"},
		{100000.3827, "100000382700000000"},
		{0.000000000001, "1"},
		{0.123456789012, "123456789012"},
		{5.000000000001, "5000000000001"},
		{1e21, "1000000000000000000000000000000000"},
		// Precision beyond the smallest unit is truncated.
		{0.0000000000019, "1"},
		{1.1234567890129, "1123456789012"},
	} {
		got, err := FromFloat(tc.in)
		require.NoError(t, err, "%v", tc.in)
		require.Equal(t, mustBig(t, tc.expected), got, "%v", tc.in)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, v := range []float64{
		0, 42, 111.111, 1270.9946, 100000.3827, 0.000000000001,
		0.1, 0.2, 0.3, 1.000000000001, 9876543.210987654321, 33.333333333333,
	} {
		scaled, err := FromFloat(v)
		require.NoError(t, err)
		require.InDelta(t, v, ToFloat(scaled), 1e-12*math.Max(1, v), "%v", v)
	}
}

func TestRoundTripExactUpToTwelveDigits(t *testing.T) {
	// With at most 12 fractional digits nothing is truncated, so the exact
	// decimal maps back to the very same float.
	for _, v := range []float64{111.111, 1270.9946, 100000.3827, 0.000000000001, 42, 0.1, 7.654321098765} {
		scaled, err := FromFloat(v)
		require.NoError(t, err)
		require.Equal(t, v, ToFloat(scaled))
	}
}

func TestFromFloatInvalid(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1, -0.000000000001} {
		_, err := FromFloat(v)
		require.Error(t, err, "%v", v)
	}
}

func TestParse(t *testing.T) {
	v, err := Parse("1270.9946")
	require.NoError(t, err)
	require.Equal(t, mustBig(t, "1270994600000000"), v)

	// Strings carry digits a float64 cannot.
	v, err = Parse("12345678901234567890.123456789012")
	require.NoError(t, err)
	require.Equal(t, mustBig(t, "12345678901234567890123456789012"), v)

	v, err = Parse("1.5e3")
	require.NoError(t, err)
	require.Equal(t, mustBig(t, "1500000000000000"), v)

	for _, s := range []string{"", "abc", "-3", "NaN", "Infinity"} {
		_, err := Parse(s)
		require.Error(t, err, s)
	}
}

func TestFormat(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected string
	}{
		{"0", "0"},
		{"1", "0.000000000001"},
		{"1000000000000000", "1000"},
		{"1270994600000000", "1270.9946"},
		{"989500000000000", "989.5"},
	} {
		require.Equal(t, tc.expected, Format(mustBig(t, tc.in)))
	}
}

func TestUnit(t *testing.T) {
	u := Unit()
	require.Equal(t, mustBig(t, "1000000000000"), u)

	// Callers can't mutate the shared value.
	u.SetInt64(1)
	require.Equal(t, mustBig(t, "1000000000000"), Unit())
}

func TestDecimal(t *testing.T) {
	d := Decimal(mustBig(t, "989500000000000"))
	require.Equal(t, int32(-1), d.Exponent)
	require.Equal(t, int64(9895), d.Coeff.Int64())

	back, err := FromDecimal(d)
	require.NoError(t, err)
	require.Equal(t, mustBig(t, "989500000000000"), back)
}
