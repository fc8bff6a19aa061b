package crypto

import (
	"io"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"

	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
)

// Ed25519 implements the curve operations the protocol needs on top of
// filippo.io/edwards25519.
type Ed25519 struct{}

var (
	feOne    = new(field.Element).One()
	feMA     *field.Element // -A
	feMA2    *field.Element // -A^2
	feSqrtM1 *field.Element
	feFFFB1  *field.Element // sqrt(-2A(A+2))
	feFFFB2  *field.Element // sqrt(2A(A+2))
	feFFFB3  *field.Element // sqrt(-sqrt(-1)A(A+2))
	feFFFB4  *field.Element // sqrt(sqrt(-1)A(A+2))

	scMinusOne = edwards25519.NewScalar().Negate(scalarOne())
)

func init() {
	a := new(field.Element).Mult32(feOne, 486662)
	two := new(field.Element).Add(feOne, feOne)

	feMA = new(field.Element).Negate(a)
	feMA2 = new(field.Element).Negate(new(field.Element).Square(a))
	feSqrtM1 = mustSqrt(new(field.Element).Negate(feOne))

	aa2 := new(field.Element).Multiply(a, new(field.Element).Add(a, two))
	twoAA2 := new(field.Element).Multiply(two, aa2)
	iAA2 := new(field.Element).Multiply(feSqrtM1, aa2)

	feFFFB1 = mustSqrt(new(field.Element).Negate(twoAA2))
	feFFFB2 = mustSqrt(twoAA2)
	feFFFB3 = mustSqrt(new(field.Element).Negate(iAA2))
	feFFFB4 = mustSqrt(iAA2)
}

func mustSqrt(x *field.Element) *field.Element {
	r, wasSquare := new(field.Element).SqrtRatio(x, feOne)
	if wasSquare != 1 {
		panic("crypto: field constant is not a square")
	}
	return r
}

func scalarOne() *edwards25519.Scalar {
	var b [32]byte
	b[0] = 1
	s, _ := edwards25519.NewScalar().SetCanonicalBytes(b[:])
	return s
}

func isZero(e *field.Element) bool {
	return e.Equal(new(field.Element).Zero()) == 1
}

// divPowM1 returns u * v^3 * (u * v^7)^((p-5)/8).
func divPowM1(u, v *field.Element) *field.Element {
	v3 := new(field.Element).Square(v)
	v3.Multiply(v3, v)
	uv7 := new(field.Element).Square(v3)
	uv7.Multiply(uv7, v)
	uv7.Multiply(uv7, u)
	t := new(field.Element).Pow22523(uv7)
	t.Multiply(t, v3)
	return t.Multiply(t, u)
}

// mapToPoint maps 32 bytes to a curve point using the Elligator-style map
// of the CryptoNote reference implementation, before cofactor clearing.
func mapToPoint(s []byte) (*edwards25519.Point, error) {
	u, err := new(field.Element).SetBytes(s)
	if err != nil {
		return nil, errs.Crypto("map to point: %v", err)
	}

	v := new(field.Element).Square(u)
	v.Add(v, v) // 2u^2
	w := new(field.Element).Add(v, feOne)
	x := new(field.Element).Square(w)
	y := new(field.Element).Multiply(feMA2, v)
	x.Add(x, y) // w^2 - 2A^2u^2

	rX := divPowM1(w, x)
	y.Square(rX)
	x.Multiply(y, x)
	y.Subtract(w, x)
	z := new(field.Element).Set(feMA)

	var sign int
	if !isZero(y) {
		y.Add(w, x)
		if !isZero(y) {
			x.Multiply(x, feSqrtM1)
			y.Subtract(w, x)
			if !isZero(y) {
				rX.Multiply(rX, feFFFB3)
			} else {
				rX.Multiply(rX, feFFFB4)
			}
			sign = 1
		} else {
			rX.Multiply(rX, feFFFB1)
			rX.Multiply(rX, u)
			z.Multiply(z, v)
		}
	} else {
		rX.Multiply(rX, feFFFB2)
		rX.Multiply(rX, u)
		z.Multiply(z, v)
	}

	if rX.IsNegative() != sign {
		rX.Negate(rX)
	}

	rZ := new(field.Element).Add(z, w)
	rY := new(field.Element).Subtract(z, w)
	rX.Multiply(rX, rZ)

	// Projective (X:Y:Z) to the compressed encoding
	inv := new(field.Element).Invert(rZ)
	ax := new(field.Element).Multiply(rX, inv)
	ay := new(field.Element).Multiply(rY, inv)
	enc := ay.Bytes()
	enc[31] ^= byte(ax.IsNegative() << 7)

	p, err := new(edwards25519.Point).SetBytes(enc)
	if err != nil {
		return nil, errs.Crypto("map to point produced invalid encoding: %v", err)
	}
	return p, nil
}

// HashToPoint returns Hp(P) = 8 * map(H(P)).
func (Ed25519) HashToPoint(p keys.Point) (keys.Point, error) {
	hp, err := hashToPoint(p)
	if err != nil {
		return keys.Point{}, err
	}
	return keys.Point(hp.Bytes()), nil
}

func hashToPoint(p keys.Point) (*edwards25519.Point, error) {
	h := FastHash(p[:])
	q, err := mapToPoint(h[:])
	if err != nil {
		return nil, err
	}
	return q.MultByCofactor(q), nil
}

// HashToScalar reduces the Keccak digest of data modulo the group order.
func HashToScalar(data ...[]byte) keys.Scalar {
	return keys.Scalar(hashToScalar(data...).Bytes())
}

func hashToScalar(data ...[]byte) *edwards25519.Scalar {
	h := FastHash(data...)
	wide := make([]byte, 64)
	copy(wide, h[:])
	s, err := edwards25519.NewScalar().SetUniformBytes(wide)
	if err != nil {
		panic("crypto: uniform bytes length")
	}
	return s
}

// RandomScalar returns a uniformly random scalar read from rand.
func RandomScalar(rand io.Reader) (keys.Scalar, error) {
	s, err := randomScalar(rand)
	if err != nil {
		return keys.Scalar{}, err
	}
	return keys.Scalar(s.Bytes()), nil
}

func randomScalar(rand io.Reader) (*edwards25519.Scalar, error) {
	wide := make([]byte, 64)
	if _, err := io.ReadFull(rand, wide); err != nil {
		return nil, errs.Crypto("failed to read randomness: %v", err)
	}
	return edwards25519.NewScalar().SetUniformBytes(wide)
}

func decodeScalar(s keys.Scalar) (*edwards25519.Scalar, error) {
	sc, err := edwards25519.NewScalar().SetCanonicalBytes(s[:])
	if err != nil {
		return nil, errs.Crypto("non-canonical scalar")
	}
	return sc, nil
}

func decodePoint(b []byte) (*edwards25519.Point, error) {
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, errs.Crypto("invalid point encoding")
	}
	return p, nil
}

// SecretToPublic returns s*G.
func (Ed25519) SecretToPublic(secret keys.Scalar) (keys.Point, error) {
	s, err := decodeScalar(secret)
	if err != nil {
		return keys.Point{}, err
	}
	return keys.Point(new(edwards25519.Point).ScalarBaseMult(s).Bytes()), nil
}

// GenerateKeyDerivation returns 8*secret*pub.
func (Ed25519) GenerateKeyDerivation(pub keys.Point, secret keys.Scalar) (keys.Point, error) {
	p, err := decodePoint(pub[:])
	if err != nil {
		return keys.Point{}, err
	}
	s, err := decodeScalar(secret)
	if err != nil {
		return keys.Point{}, err
	}
	d := new(edwards25519.Point).ScalarMult(s, p)
	return keys.Point(d.MultByCofactor(d).Bytes()), nil
}

// GenerateKeyImage returns secret*Hp(pub).
func (Ed25519) GenerateKeyImage(pub keys.Point, secret keys.Scalar) (keys.KeyImage, error) {
	s, err := decodeScalar(secret)
	if err != nil {
		return keys.KeyImage{}, err
	}
	hp, err := hashToPoint(pub)
	if err != nil {
		return keys.KeyImage{}, err
	}
	return keys.KeyImage(new(edwards25519.Point).ScalarMult(s, hp).Bytes()), nil
}

// InSubgroup reports whether ki decodes to a point of prime order L.
func (Ed25519) InSubgroup(ki keys.KeyImage) bool {
	p, err := decodePoint(ki[:])
	if err != nil {
		return false
	}
	q := new(edwards25519.Point).ScalarMult(scMinusOne, p)
	q.Add(q, p)
	return q.Equal(edwards25519.NewIdentityPoint()) == 1
}

// CheckRingSignature verifies a CryptoNote ring signature over prefix for key
// image ki and ring pubs.
func (e Ed25519) CheckRingSignature(prefix keys.Hash, ki keys.KeyImage, pubs []keys.Point, sigs []keys.Signature) bool {
	if len(pubs) == 0 || len(pubs) != len(sigs) || !e.InSubgroup(ki) {
		return false
	}
	image, err := decodePoint(ki[:])
	if err != nil {
		return false
	}

	buf := make([]byte, 0, keys.Size*(1+2*len(pubs)))
	buf = append(buf, prefix[:]...)
	sum := edwards25519.NewScalar()

	for i := range pubs {
		c, err := decodeScalar(sigs[i].C)
		if err != nil {
			return false
		}
		r, err := decodeScalar(sigs[i].R)
		if err != nil {
			return false
		}
		p, err := decodePoint(pubs[i][:])
		if err != nil {
			return false
		}
		hp, err := hashToPoint(pubs[i])
		if err != nil {
			return false
		}

		l := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(c, p, r)
		rr := new(edwards25519.Point).VarTimeMultiScalarMult(
			[]*edwards25519.Scalar{r, c}, []*edwards25519.Point{hp, image})

		buf = append(buf, l.Bytes()...)
		buf = append(buf, rr.Bytes()...)
		sum.Add(sum, c)
	}

	return hashToScalar(buf).Equal(sum) == 1
}

// GenerateRingSignature signs prefix with the secret key of pubs[realIdx].
func (Ed25519) GenerateRingSignature(prefix keys.Hash, ki keys.KeyImage, pubs []keys.Point, secret keys.Scalar, realIdx int, rand io.Reader) ([]keys.Signature, error) {
	if realIdx < 0 || realIdx >= len(pubs) {
		return nil, errs.Crypto("real index %d outside ring of %d", realIdx, len(pubs))
	}
	x, err := decodeScalar(secret)
	if err != nil {
		return nil, err
	}
	image, err := decodePoint(ki[:])
	if err != nil {
		return nil, err
	}

	sigs := make([]keys.Signature, len(pubs))
	buf := make([]byte, 0, keys.Size*(1+2*len(pubs)))
	buf = append(buf, prefix[:]...)
	sum := edwards25519.NewScalar()
	var k *edwards25519.Scalar

	for i := range pubs {
		hp, err := hashToPoint(pubs[i])
		if err != nil {
			return nil, err
		}

		var l, rr *edwards25519.Point
		if i == realIdx {
			k, err = randomScalar(rand)
			if err != nil {
				return nil, err
			}
			l = new(edwards25519.Point).ScalarBaseMult(k)
			rr = new(edwards25519.Point).ScalarMult(k, hp)
		} else {
			c, err := randomScalar(rand)
			if err != nil {
				return nil, err
			}
			r, err := randomScalar(rand)
			if err != nil {
				return nil, err
			}
			p, err := decodePoint(pubs[i][:])
			if err != nil {
				return nil, err
			}
			l = new(edwards25519.Point).VarTimeDoubleScalarBaseMult(c, p, r)
			rr = new(edwards25519.Point).VarTimeMultiScalarMult(
				[]*edwards25519.Scalar{r, c}, []*edwards25519.Point{hp, image})
			sigs[i] = keys.Signature{C: keys.Scalar(c.Bytes()), R: keys.Scalar(r.Bytes())}
			sum.Add(sum, c)
		}
		buf = append(buf, l.Bytes()...)
		buf = append(buf, rr.Bytes()...)
	}

	c := edwards25519.NewScalar().Subtract(hashToScalar(buf), sum)
	r := edwards25519.NewScalar().Subtract(k, edwards25519.NewScalar().Multiply(c, x))
	sigs[realIdx] = keys.Signature{C: keys.Scalar(c.Bytes()), R: keys.Scalar(r.Bytes())}
	return sigs, nil
}
