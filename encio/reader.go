package encio

// Reader reads from a fixed input buffer. Every read is bounds checked,
// and running out of data is a FormatError rather than io.EOF since a
// well-formed stream always declares how much data follows.
type Reader struct {
	buff []byte
	off  int
}

// NewReader returns a Reader over buff.
func NewReader(buff []byte) *Reader {
	return &Reader{buff: buff}
}

// Offset returns the position of the next byte to be read.
func (r *Reader) Offset() int { return r.off }

// Len returns the length of the unread portion of the buffer.
func (r *Reader) Len() int { return len(r.buff) - r.off }

// ReadByte implements io.ByteReader
func (r *Reader) ReadByte() (byte, error) {
	if r.off >= len(r.buff) {
		return 0, NewFormatError(r.off, "data is too short: want 1 byte but none remain")
	}
	c := r.buff[r.off]
	r.off++
	return c, nil
}

// Next returns the next n bytes, advancing past them.
// The returned slice aliases the input.
func (r *Reader) Next(n int) ([]byte, error) {
	if n < 0 {
		return nil, NewFormatError(r.off, "negative length %d", n)
	}
	if n > r.Len() {
		return nil, NewFormatError(r.off, "data is too short: want %d bytes but only %d remain", n, r.Len())
	}
	p := r.buff[r.off : r.off+n]
	r.off += n
	return p, nil
}

// ReadBytes reads a long length followed by that many bytes.
// The returned slice is a copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	start := r.off
	n, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	if n < 0 || n > int64(TooBig) {
		return nil, NewFormatError(start, "invalid byte length %d", n)
	}
	p, err := r.Next(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p...), nil
}

// ReadLong reads a packed integer.
func (r *Reader) ReadLong() (int64, error) {
	start := r.off
	c, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	n, size := DecodeLongHeader(c)
	if size == 0 {
		return n, nil
	}

	p, err := r.Next(absInt(size))
	if err != nil {
		return 0, NewFormatError(start, "long needs %d bytes but only %d remain", absInt(size), r.Len())
	}
	return DecodeLong(size, p), nil
}

// ReadCount reads a long that must be a non-negative element count no larger than the remaining input,
// since every element takes at least one byte.
func (r *Reader) ReadCount() (int, error) {
	start := r.off
	n, err := r.ReadLong()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > int64(r.Len()) {
		return 0, NewFormatError(start, "invalid element count %d with %d bytes remaining", n, r.Len())
	}
	return int(n), nil
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
