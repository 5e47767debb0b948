package value

import (
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
)

// The field type is the BLS12-377 scalar field; the group type is the prime-order
// subgroup of the twisted Edwards curve defined over that field; the scalar
// type is the integers modulo that subgroup's order.

var (
	curveOnce   sync.Once
	curveParams twistededwards.CurveParams
	scalarOrder *big.Int
	fieldMod    *big.Int
)

func curve() *twistededwards.CurveParams {
	curveOnce.Do(func() {
		curveParams = twistededwards.GetEdwardsCurve()
		scalarOrder = new(big.Int).Set(&curveParams.Order)
		fieldMod = fr.Modulus()
	})
	return &curveParams
}

// FieldModulus returns the modulus of the field type.
func FieldModulus() *big.Int {
	curve()
	return new(big.Int).Set(fieldMod)
}

// ScalarOrder returns the modulus of the scalar type.
func ScalarOrder() *big.Int {
	curve()
	return new(big.Int).Set(scalarOrder)
}

// Generator returns the subgroup generator.
func Generator() twistededwards.PointAffine {
	return curve().Base
}

// identity returns the neutral element (0, 1).
func identity() twistededwards.PointAffine {
	var p twistededwards.PointAffine
	p.X.SetZero()
	p.Y.SetOne()
	return p
}

func isIdentity(p *twistededwards.PointAffine) bool {
	var one fr.Element
	one.SetOne()
	return p.X.IsZero() && p.Y.Equal(&one)
}

// inSubgroup reports whether p lies on the curve and in the prime-order subgroup.
func inSubgroup(p *twistededwards.PointAffine) bool {
	if !p.IsOnCurve() {
		return false
	}
	var q twistededwards.PointAffine
	q.ScalarMultiplication(p, scalarOrderRef())
	return isIdentity(&q)
}

func scalarOrderRef() *big.Int {
	curve()
	return scalarOrder
}

// pointFromX recovers the subgroup point with abscissa x, choosing the smaller
// of the two candidate ordinates. ok is false when no such point exists.
func pointFromX(x *fr.Element) (p twistededwards.PointAffine, ok bool) {
	params := curve()

	// a*x^2 + y^2 = 1 + d*x^2*y^2  =>  y^2 = (1 - a*x^2) / (1 - d*x^2)
	var x2, num, den, one fr.Element
	one.SetOne()
	x2.Square(x)
	num.Mul(&params.A, &x2)
	num.Sub(&one, &num)
	den.Mul(&params.D, &x2)
	den.Sub(&one, &den)
	if den.IsZero() {
		return p, false
	}
	den.Inverse(&den)
	var y2 fr.Element
	y2.Mul(&num, &den)

	var y fr.Element
	if y.Sqrt(&y2) == nil {
		return p, false
	}
	var negY fr.Element
	negY.Neg(&y)
	if negY.Cmp(&y) < 0 {
		y = negY
	}

	p.X.Set(x)
	p.Y.Set(&y)
	if !inSubgroup(&p) {
		// The other ordinate gives -p's sibling; try it before giving up.
		p.Y.Neg(&y)
		if !inSubgroup(&p) {
			return p, false
		}
	}
	return p, true
}

// scalarMulGenerator returns k*G.
func scalarMulGenerator(k *big.Int) twistededwards.PointAffine {
	g := Generator()
	var p twistededwards.PointAffine
	p.ScalarMultiplication(&g, k)
	return p
}

func fieldToBig(e *fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

func fieldFromBig(b *big.Int) fr.Element {
	var e fr.Element
	e.SetBigInt(b)
	return e
}

// fieldLE returns the canonical 32-byte little-endian encoding of e.
func fieldLE(e *fr.Element) [32]byte {
	be := e.Bytes()
	var le [32]byte
	for i := range be {
		le[i] = be[len(be)-1-i]
	}
	return le
}

// fieldFromLE decodes a canonical little-endian field element.
func fieldFromLE(b []byte) (fr.Element, bool) {
	var be [32]byte
	for i := range be {
		be[i] = b[len(be)-1-i]
	}
	v := new(big.Int).SetBytes(be[:])
	if v.Cmp(FieldModulus()) >= 0 {
		return fr.Element{}, false
	}
	return fieldFromBig(v), true
}
