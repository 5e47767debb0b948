package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		in  string
		typ LiteralType
	}{
		{"true", TypeBoolean},
		{"5u8", TypeU8},
		{"5u16", TypeU16},
		{"5u128", TypeU128},
		{"-5i8", TypeI8},
		{"-5i128", TypeI128},
		{"1_000u64", TypeU64},
		{"3field", TypeField},
		{"3scalar", TypeScalar},
		{"0group", TypeGroup},
		{`"abc"`, TypeString},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			l, err := ParseLiteral(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, l.Type())
		})
	}
}

func TestParseLiteralErrors(t *testing.T) {
	for _, in := range []string{"", "5", "u8", "abc", "5u7", "1.5field"} {
		_, err := ParseLiteral(in)
		assert.ErrorIs(t, err, ErrInvalidLiteral, in)
	}
	for _, in := range []string{"256u8", "-1u8", "128i8", fieldMax[:len(fieldMax)-6] + "1field"} {
		_, err := ParseLiteral(in)
		assert.Equal(t, vmerr.KindTypeOrRange, vmerr.Classify(err), in)
	}
}

func TestAddressText(t *testing.T) {
	a := AddressFromSeed(42)
	s := a.String()
	require.Contains(t, s, AddressPrefix)

	back, err := ParseLiteral(s)
	require.NoError(t, err)
	assert.True(t, a.Equal(back))
	assert.False(t, a.Equal(AddressFromSeed(43)))
}

func TestStringLimit(t *testing.T) {
	long := make([]byte, MaxStringBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := NewString(string(long))
	assert.ErrorIs(t, err, vmerr.ErrTypeOrRange)

	_, err = NewString(string(long[:MaxStringBytes]))
	assert.NoError(t, err)
}

func TestIntegerBigSignedness(t *testing.T) {
	l := MustParseLiteral("-1i64")
	assert.Equal(t, int64(-1), l.Big().Int64())
	assert.Equal(t, uint64(0xffffffffffffffff), l.Uint64())
}
