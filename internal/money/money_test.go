package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.005", "1.01"},
		{"-1.005", "-1.01"},
		{"2.344", "2.34"},
		{"0", "0"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Round2(MustParse(tc.in)).String(), tc.in)
	}
	require.Equal(t, "3.126", Round3(MustParse("3.1255")).String())
}

func TestWithinTolerance(t *testing.T) {
	require.True(t, WithinTolerance(MustParse("100.00"), MustParse("100.005")))
	require.False(t, WithinTolerance(MustParse("100.00"), MustParse("100.006")))
	require.True(t, WithinTolerance(MustParse("-5"), MustParse("-5.004")))
}

func TestSumAndParse(t *testing.T) {
	require.True(t, Sum(MustParse("0.1"), MustParse("0.2")).Equal(MustParse("0.3")))
	require.True(t, Sum().IsZero())
	_, err := Parse("")
	require.Error(t, err)
	_, err = Parse("abc")
	require.Error(t, err)
	require.Equal(t, "12.50", Fixed(MustParse("12.5")))
}

func TestFormat(t *testing.T) {
	require.Equal(t, "$1,234.50", Format(MustParse("1234.5"), "USD"))
	require.Equal(t, "$1,234.50", Format(MustParse("1234.499"), "USD"))
}
