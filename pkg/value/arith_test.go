package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Strata/pkg/vmerr"
)

type binaryOp func(a, b Literal) (Literal, error)

func TestIntegerArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   binaryOp
		a, b string
		want string // empty means the op must fail with a range error
	}{
		{"add", Add, "1u8", "2u8", "3u8"},
		{"add overflow", Add, "255u8", "1u8", ""},
		{"add.w", AddWrapped, "255u8", "1u8", "0u8"},
		{"add signed", Add, "-100i8", "-28i8", "-128i8"},
		{"add signed overflow", Add, "-100i8", "-29i8", ""},
		{"sub underflow", Sub, "0u8", "1u8", ""},
		{"sub.w", SubWrapped, "0u8", "1u8", "255u8"},
		{"mul", Mul, "16u16", "16u16", "256u16"},
		{"mul overflow", Mul, "-128i8", "-1i8", ""},
		{"mul.w", MulWrapped, "-128i8", "-1i8", "-128i8"},
		{"div truncates", Div, "-7i8", "2i8", "-3i8"},
		{"div min by -1", Div, "-128i8", "-1i8", ""},
		{"div.w min by -1", DivWrapped, "-128i8", "-1i8", "-128i8"},
		{"div by zero", Div, "1u32", "0u32", ""},
		{"div.w by zero", DivWrapped, "1u32", "0u32", ""},
		{"rem sign follows dividend", Rem, "-7i8", "2i8", "-1i8"},
		{"rem.w min by -1", RemWrapped, "-128i8", "-1i8", "0i8"},
		{"mod", Mod, "7u8", "3u8", "1u8"},
		{"pow", Pow, "2u8", "7u8", "128u8"},
		{"pow overflow", Pow, "2u8", "8u8", ""},
		{"pow.w", PowWrapped, "2u8", "8u8", "0u8"},
		{"pow zero exponent", Pow, "0u8", "0u8", "1u8"},
		{"pow minus one", Pow, "-1i64", "255u8", "-1i64"},
		{"pow signed", Pow, "-2i8", "7u8", "-128i8"},
		{"pow signed overflow", Pow, "3i8", "5u8", ""},
		{"shl", Shl, "1u8", "7u8", "128u8"},
		{"shl drops high bits", Shl, "255u8", "1u8", "254u8"},
		{"shl by width", Shl, "1u8", "8u8", ""},
		{"shl.w", ShlWrapped, "1u8", "9u8", "2u8"},
		{"shr arithmetic", Shr, "-8i8", "1u8", "-4i8"},
		{"shr.w", ShrWrapped, "128u8", "9u8", "64u8"},
		{"mismatched types", Add, "1u8", "1u16", ""},
		{"and", And, "12u8", "10u8", "8u8"},
		{"or", Or, "12u8", "10u8", "14u8"},
		{"xor", Xor, "12u8", "10u8", "6u8"},
		{"nand", Nand, "true", "true", "false"},
		{"nor", Nor, "false", "false", "true"},
		{"lt", LessThan, "-1i8", "0i8", "true"},
		{"gte", GreaterThanOrEqual, "3u32", "3u32", "true"},
		{"gt field", GreaterThan, "2field", "1field", "true"},
		{"lte mismatched", LessThanOrEqual, "1u8", "1field", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.op(MustParseLiteral(tt.a), MustParseLiteral(tt.b))
			if tt.want == "" {
				require.Error(t, err)
				assert.Equal(t, vmerr.KindTypeOrRange, vmerr.Classify(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestUnaryOps(t *testing.T) {
	out, err := Not(MustParseLiteral("0u8"))
	require.NoError(t, err)
	assert.Equal(t, "255u8", out.String())

	out, err = Not(MustParseLiteral("-1i8"))
	require.NoError(t, err)
	assert.Equal(t, "0i8", out.String())

	_, err = Abs(MustParseLiteral("-128i8"))
	assert.ErrorIs(t, err, vmerr.ErrTypeOrRange)

	out, err = AbsWrapped(MustParseLiteral("-128i8"))
	require.NoError(t, err)
	assert.Equal(t, "-128i8", out.String())

	out, err = Neg(MustParseLiteral("5i32"))
	require.NoError(t, err)
	assert.Equal(t, "-5i32", out.String())

	_, err = Neg(MustParseLiteral("5u32"))
	assert.ErrorIs(t, err, vmerr.ErrTypeOrRange)
}

func TestFieldArithmetic(t *testing.T) {
	out, err := Sub(MustParseLiteral("1field"), MustParseLiteral("2field"))
	require.NoError(t, err)
	assert.Equal(t, fieldMax, out.String())

	two := MustParseLiteral("2field")
	inv, err := Inv(two)
	require.NoError(t, err)
	one, err := Mul(two, inv)
	require.NoError(t, err)
	assert.Equal(t, "1field", one.String())

	q, err := Div(MustParseLiteral("10field"), two)
	require.NoError(t, err)
	assert.Equal(t, "5field", q.String())

	_, err = Div(two, MustParseLiteral("0field"))
	assert.ErrorIs(t, err, vmerr.ErrTypeOrRange)

	sq, err := Square(MustParseLiteral("3field"))
	require.NoError(t, err)
	assert.Equal(t, "9field", sq.String())

	root, err := Sqrt(sq)
	require.NoError(t, err)
	assert.Equal(t, "3field", root.String())

	p, err := Pow(two, MustParseLiteral("10field"))
	require.NoError(t, err)
	assert.Equal(t, "1024field", p.String())
}

func TestGroupArithmetic(t *testing.T) {
	g := Literal{typ: TypeGroup, point: Generator()}

	neg, err := Neg(g)
	require.NoError(t, err)
	zero, err := Add(g, neg)
	require.NoError(t, err)
	assert.Equal(t, "0group", zero.String())

	doubled, err := Double(g)
	require.NoError(t, err)
	sum, err := Add(g, g)
	require.NoError(t, err)
	assert.True(t, doubled.Equal(sum))

	two, err := NewScalar(bigFromInt(2))
	require.NoError(t, err)
	product, err := Mul(g, two)
	require.NoError(t, err)
	assert.True(t, product.Equal(sum))

	product, err = Mul(two, g)
	require.NoError(t, err)
	assert.True(t, product.Equal(sum))

	back, err := Sub(sum, g)
	require.NoError(t, err)
	assert.True(t, back.Equal(g))
}

func TestTernaryAndEquality(t *testing.T) {
	a, b := Lit(MustParseLiteral("1u8")), Lit(MustParseLiteral("2u8"))

	out, err := Ternary(NewBoolean(true), a, b)
	require.NoError(t, err)
	assert.True(t, out.Equal(a))

	out, err = Ternary(NewBoolean(false), a, b)
	require.NoError(t, err)
	assert.True(t, out.Equal(b))

	_, err = Ternary(MustParseLiteral("1u8"), a, b)
	assert.ErrorIs(t, err, vmerr.ErrTypeOrRange)

	assert.True(t, IsEq(a, a).Bool())
	assert.True(t, IsNeq(a, b).Bool())
	assert.False(t, IsEq(a, Lit(MustParseLiteral("1u16"))).Bool())
}
