package encio

import "github.com/cockroachdb/errors"

// The packed integer ("long") format:
//
//	0          -> 0x00
//	1..122     -> n+5
//	-123..-1   -> (n-5) & 0xff
//	otherwise  -> a length byte holding ±size (size 1..4, negative for negative n),
//	              followed by size little-endian bytes of n.
const (
	smallOffset = 5
	maxSmall    = 122
	minSmall    = -123
	maxSize     = 4
)

// AppendLong appends n in the packed integer format to dst, returning the extended slice.
// n must be within MinLong and MaxLong.
func AppendLong(dst []byte, n int64) ([]byte, error) {
	switch {
	case n == 0:
		return append(dst, 0), nil
	case 0 < n && n <= maxSmall:
		return append(dst, byte(n+smallOffset)), nil
	case minSmall <= n && n < 0:
		return append(dst, byte((n-smallOffset)&0xff)), nil
	case n > MaxLong || n < MinLong:
		return dst, errors.Wrapf(ErrTooLarge, "%d does not fit in a packed long", n)
	}

	var buff [1 + maxSize]byte
	x := n
	for i := 1; i <= maxSize; i++ {
		buff[i] = byte(x)
		x >>= 8 // arithmetic shift; negative numbers settle at -1

		if x == 0 {
			buff[0] = byte(i)
			return append(dst, buff[:i+1]...), nil
		}
		if x == -1 {
			buff[0] = byte(-int8(i))
			return append(dst, buff[:i+1]...), nil
		}
	}

	// unreachable given the range check above
	return dst, errors.Wrapf(ErrTooLarge, "%d does not fit in a packed long", n)
}

// LongSize returns the number of bytes AppendLong writes for n.
func LongSize(n int64) int {
	switch {
	case minSmall <= n && n <= maxSmall:
		return 1
	}
	size := 1
	for x := n >> 8; x != 0 && x != -1; x >>= 8 {
		size++
	}
	return size + 1
}

// DecodeLongHeader decodes the first byte of a packed integer,
// returning either the number of following bytes needed to decode, or the encoded number.
// If size is 0, n is the decoded number. Otherwise |size| more bytes must be passed to DecodeLong;
// size is negative when the number is negative.
func DecodeLongHeader(b byte) (n int64, size int) {
	c := int8(b)
	switch {
	case c == 0:
		return 0, 0
	case c > maxSize:
		return int64(c) - smallOffset, 0
	case c < -maxSize:
		return int64(c) + smallOffset, 0
	}
	return 0, int(c)
}

// DecodeLong decodes the bytes following a length header of size.
// len(buff) must be at least |size|.
func DecodeLong(size int, buff []byte) int64 {
	if size > 0 {
		var x int64
		for i := 0; i < size; i++ {
			x |= int64(buff[i]) << (8 * i)
		}
		return x
	}

	size = -size
	x := int64(-1)
	for i := 0; i < size; i++ {
		x &^= int64(0xff) << (8 * i)
		x |= int64(buff[i]) << (8 * i)
	}
	return x
}
