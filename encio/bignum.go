package encio

import "math/big"

// Bignum sign bytes.
const (
	SignPositive = '+'
	SignNegative = '-'
)

// BignumDigits returns the sign byte and the little-endian magnitude of x, padded to an even length,
// as written after the bignum tag.
func BignumDigits(x *big.Int) (sign byte, digits []byte) {
	sign = SignPositive
	if x.Sign() < 0 {
		sign = SignNegative
	}

	be := new(big.Int).Abs(x).Bytes()
	n := len(be)
	if n == 0 {
		n = 1
	}
	if n&1 == 1 {
		n++
	}

	digits = make([]byte, n)
	for i, b := range be {
		digits[len(be)-1-i] = b
	}
	return sign, digits
}

// WriteBignum writes the sign byte, the digit-pair count and the digits of x.
func (b *Buffer) WriteBignum(x *big.Int) error {
	sign, digits := BignumDigits(x)
	if err := b.WriteByte(sign); err != nil {
		return err
	}
	if err := b.WriteLong(int64(len(digits) >> 1)); err != nil {
		return err
	}
	_, err := b.Write(digits)
	return err
}

// ReadBignum reads the payload written by WriteBignum.
func (r *Reader) ReadBignum() (*big.Int, error) {
	start := r.Offset()
	sign, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if sign != SignPositive && sign != SignNegative {
		return nil, NewFormatError(start, "invalid bignum sign %q", sign)
	}

	pairs, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	if pairs < 0 || pairs > int64(r.Len()) {
		return nil, NewFormatError(start, "invalid bignum length %d", pairs)
	}

	le, err := r.Next(int(pairs) * 2)
	if err != nil {
		return nil, err
	}

	be := make([]byte, len(le))
	for i, d := range le {
		be[len(le)-1-i] = d
	}

	x := new(big.Int).SetBytes(be)
	if sign == SignNegative {
		x.Neg(x)
	}
	return x, nil
}
