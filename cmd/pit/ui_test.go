package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestComma(t *testing.T) {
	require.Equal(t, "0", comma(0))
	require.Equal(t, "999", comma(999))
	require.Equal(t, "1,000", comma(1000))
	require.Equal(t, "12,345,678", comma(12345678))
	require.Equal(t, "-5,010", comma(-5010))
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "0", want: "0.00"},
		{in: "-5010", want: "-5,010.00"},
		{in: "1234.565", want: "1,234.57"},
		{in: "2750", want: "2,750.00"},
		{in: "9.999", want: "10.00"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, money(decimal.RequireFromString(tc.in)), tc.in)
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("  short ", 10))
	require.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	require.Equal(t, "ab", truncate("abcdef", 2))
}
