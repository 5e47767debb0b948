package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

// fieldMax is the largest field element, p-1.
const fieldMax = "8444461749428370424248824938781546531375899335154063827935233455917409239040field"

// TestCastLossyFieldToBoolean covers the zero/one/out-of-range inputs of a
// single-input function that casts its field argument to boolean.
func TestCastLossyFieldToBoolean(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0field", false},
		{"1field", true},
		{"2field", true},
		{"340282366920938463463374607431768211456field", true},
		{fieldMax, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			out, err := CastLossy(MustParseLiteral(tt.in), TypeBoolean)
			require.NoError(t, err)
			assert.Equal(t, TypeBoolean, out.Type())
			assert.Equal(t, tt.want, out.Bool())
		})
	}
}

func TestCastLossyTruncates(t *testing.T) {
	tests := []struct {
		in   string
		to   LiteralType
		want string
	}{
		{"300field", TypeU8, "44u8"},
		{"300u16", TypeU8, "44u8"},
		{"-1i8", TypeU8, "255u8"},
		{"255u8", TypeI8, "-1i8"},
		{"128u8", TypeI8, "-128i8"},
		{"-1i16", TypeU32, "65535u32"},
		{"65536field", TypeU16, "0u16"},
		{"true", TypeU64, "1u64"},
		{"-1i8", TypeField, "255field"},
		{"7u8", TypeScalar, "7scalar"},
		{"256u16", TypeBoolean, "true"},
		{"0i128", TypeBoolean, "false"},
	}
	for _, tt := range tests {
		t.Run(tt.in+"->"+tt.to.String(), func(t *testing.T) {
			out, err := CastLossy(MustParseLiteral(tt.in), tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestCastLossyNeverFailsOnNumbers(t *testing.T) {
	sources := []string{"0field", "1field", fieldMax, "-128i8", "255u8", "true", "5scalar", "0group"}
	dests := []LiteralType{
		TypeBoolean, TypeField, TypeGroup, TypeAddress, TypeScalar,
		TypeI8, TypeI16, TypeI32, TypeI64, TypeI128,
		TypeU8, TypeU16, TypeU32, TypeU64, TypeU128,
	}
	for _, src := range sources {
		l := MustParseLiteral(src)
		for _, to := range dests {
			out, err := CastLossy(l, to)
			require.NoError(t, err, "%s -> %s", src, to)
			assert.Equal(t, to, out.Type())
			if to == TypeGroup || to == TypeAddress {
				p := out.Point()
				assert.True(t, inSubgroup(&p), "%s -> %s left the subgroup", src, to)
			}
			if to == TypeScalar {
				assert.Equal(t, -1, out.Big().Cmp(ScalarOrder()))
			}
		}
	}
}

func TestCastChecked(t *testing.T) {
	tests := []struct {
		in   string
		to   LiteralType
		want string
		err  bool
	}{
		{in: "0field", to: TypeBoolean, want: "false"},
		{in: "1field", to: TypeBoolean, want: "true"},
		{in: "2field", to: TypeBoolean, err: true},
		{in: "255field", to: TypeU8, want: "255u8"},
		{in: "256field", to: TypeU8, err: true},
		{in: "-1i8", to: TypeU8, err: true},
		{in: "-1i8", to: TypeField, err: true},
		{in: "127u8", to: TypeI8, want: "127i8"},
		{in: "128u8", to: TypeI8, err: true},
		{in: "42u64", to: TypeField, want: "42field"},
		{in: "42u64", to: TypeScalar, want: "42scalar"},
		{in: fieldMax, to: TypeScalar, err: true},
		{in: "true", to: TypeU8, want: "1u8"},
		{in: "0field", to: TypeGroup, want: "0group"},
		{in: `"hi"`, to: TypeField, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in+"->"+tt.to.String(), func(t *testing.T) {
			out, err := Cast(MustParseLiteral(tt.in), tt.to)
			if tt.err {
				require.Error(t, err)
				assert.Equal(t, vmerr.KindTypeOrRange, vmerr.Classify(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestCastGroupAddressRoundTrip(t *testing.T) {
	addr := AddressFromSeed(7)
	g, err := Cast(addr, TypeGroup)
	require.NoError(t, err)
	back, err := Cast(g, TypeAddress)
	require.NoError(t, err)
	assert.True(t, addr.Equal(back))

	x, err := Cast(g, TypeField)
	require.NoError(t, err)
	p := addr.Point()
	assert.Equal(t, fieldToBig(&p.X), x.Big())
}

func TestCastLossyGroupFallback(t *testing.T) {
	// Scan a few abscissas; every one must land in the subgroup, either by
	// direct embedding or by the x*G fallback.
	embedded, fallback := 0, 0
	for i := uint64(2); i < 40; i++ {
		x := NewFieldFromUint64(i)
		g, err := CastLossy(x, TypeGroup)
		require.NoError(t, err)
		p := g.Point()
		require.True(t, inSubgroup(&p))
		e := x.FieldElement()
		if p.X.Equal(&e) {
			embedded++
		} else {
			fallback++
		}
	}
	assert.Equal(t, 38, embedded+fallback)
}
