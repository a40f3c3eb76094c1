package encio

import "github.com/cockroachdb/errors"

// Buffer is the output buffer of an encoder. It operates similar to bytes.Buffer,
// but only deals with many appends followed by a read of the whole buffer,
// and refuses to grow past a size limit.
type Buffer struct {
	buff []byte

	// Limit is the maximum number of bytes the buffer will hold. Zero means no limit.
	Limit int
}

// NewBuffer returns a Buffer with room for size bytes.
func NewBuffer(size int, limit int) *Buffer {
	if size <= 0 {
		size = 16
	}
	return &Buffer{
		buff:  make([]byte, 0, size),
		Limit: limit,
	}
}

// Bytes returns the bytes written so far.
// The slice is only valid until the next write.
func (b *Buffer) Bytes() []byte { return b.buff }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.buff) }

// Reset sets the length to 0 to start a new round of writes.
func (b *Buffer) Reset() { b.buff = b.buff[:0] }

// Truncate discards all but the first n bytes.
func (b *Buffer) Truncate(n int) {
	if n < len(b.buff) {
		b.buff = b.buff[:n]
	}
}

// WriteByte implements io.ByteWriter
func (b *Buffer) WriteByte(c byte) error {
	if err := b.grow(1); err != nil {
		return err
	}
	b.buff = append(b.buff, c)
	return nil
}

// Write implements io.Writer
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.grow(len(p)); err != nil {
		return 0, err
	}
	b.buff = append(b.buff, p...)
	return len(p), nil
}

// WriteString writes the bytes of s.
func (b *Buffer) WriteString(s string) (int, error) {
	if err := b.grow(len(s)); err != nil {
		return 0, err
	}
	b.buff = append(b.buff, s...)
	return len(s), nil
}

// WriteLong writes n in the packed integer format.
func (b *Buffer) WriteLong(n int64) error {
	var tmp [5]byte
	enc, err := AppendLong(tmp[:0], n)
	if err != nil {
		return err
	}
	_, err = b.Write(enc)
	return err
}

// WriteBytes writes the length of p as a long, followed by p.
func (b *Buffer) WriteBytes(p []byte) error {
	if err := b.WriteLong(int64(len(p))); err != nil {
		return err
	}
	_, err := b.Write(p)
	return err
}

// grow makes sure there is room for n more bytes, doubling the capacity as needed.
func (b *Buffer) grow(n int) error {
	l := len(b.buff)
	if b.Limit > 0 && l+n > b.Limit {
		return errors.Wrapf(ErrTooLarge, "output of %d bytes exceeds limit of %d", l+n, b.Limit)
	}
	if l+n <= cap(b.buff) {
		return nil
	}

	c := cap(b.buff)
	if c == 0 {
		c = 16
	}
	for c < l+n {
		c <<= 1
	}
	if b.Limit > 0 && c > b.Limit {
		c = b.Limit
	}

	nb := make([]byte, l, c)
	copy(nb, b.buff)
	b.buff = nb
	return nil
}
