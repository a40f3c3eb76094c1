// Package encio provides the byte-level pieces of the Marshal format: an output buffer,
// a bounded input reader, the format's packed integer ("long"), bignum digits and float text,
// as well as error types.
package encio

const (
	// MajorVersion and MinorVersion are the two header bytes of every stream.
	MajorVersion = 4
	MinorVersion = 8

	// MaxLong and MinLong bound the numbers AppendLong can write; the length byte allows at most 4 payload bytes.
	MaxLong = 1<<31 - 1
	MinLong = -1 << 31
)

var (
	// TooBig is a byte count used for sanity checking lengths decoded from the input before allocating.
	// Lengths are also always checked against the remaining input.
	//
	// By default it is 32MB on 32bit machines, and 128MB on 64bit machines.
	// Feel free to change it.
	TooBig = 1 << (25 + ((^uint(0) >> 32) & 2))
)

// Header returns the two version bytes that begin a stream.
func Header() []byte {
	return []byte{MajorVersion, MinorVersion}
}
