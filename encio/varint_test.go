package encio_test

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/maxatome/go-testdeep/td"

	"github.com/stewi1014/rmarshal/encio"
)

func TestAppendLong(t *testing.T) {
	testCases := []struct {
		n    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x06}},
		{5, []byte{0x0a}},
		{122, []byte{0x7f}},
		{123, []byte{0x01, 0x7b}},
		{255, []byte{0x01, 0xff}},
		{256, []byte{0x02, 0x00, 0x01}},
		{300, []byte{0x02, 0x2c, 0x01}},
		{-1, []byte{0xfa}},
		{-123, []byte{0x80}},
		{-124, []byte{0xff, 0x84}},
		{-256, []byte{0xff, 0x00}},
		{-257, []byte{0xfe, 0xff, 0xfe}},
		{1<<30 - 1, []byte{0x04, 0xff, 0xff, 0xff, 0x3f}},
		{-1 << 30, []byte{0xfc, 0x00, 0x00, 0x00, 0xc0}},
		{encio.MaxLong, []byte{0x04, 0xff, 0xff, 0xff, 0x7f}},
		{encio.MinLong, []byte{0xfc, 0x00, 0x00, 0x00, 0x80}},
	}

	for _, tC := range testCases {
		t.Run(fmt.Sprint(tC.n), func(t *testing.T) {
			got, err := encio.AppendLong(nil, tC.n)
			td.CmpNoError(t, err)
			td.Cmp(t, got, tC.want)
			td.Cmp(t, encio.LongSize(tC.n), len(tC.want))

			r := encio.NewReader(got)
			n, err := r.ReadLong()
			td.CmpNoError(t, err)
			td.Cmp(t, n, tC.n)
			td.Cmp(t, r.Len(), 0, "data remaining in buffer")
		})
	}
}

func TestAppendLongRange(t *testing.T) {
	for _, n := range []int64{encio.MaxLong + 1, encio.MinLong - 1, 1 << 40} {
		_, err := encio.AppendLong(nil, n)
		td.CmpTrue(t, errors.Is(err, encio.ErrTooLarge), "%d", n)
	}
}

func TestLongRoundTrip(t *testing.T) {
	for n := int64(-70000); n <= 70000; n += 7 {
		enc, err := encio.AppendLong(nil, n)
		if err != nil {
			t.Fatal(err)
		}
		got, err := encio.NewReader(enc).ReadLong()
		if err != nil {
			t.Fatal(err)
		}
		if got != n {
			t.Fatalf("Wrong number, wanted: %v, got %v", n, got)
		}
	}
}

func TestReadLongTruncated(t *testing.T) {
	for _, data := range [][]byte{
		{},
		{0x02, 0x2c},
		{0x04, 0xff, 0xff, 0xff},
		{0xfe},
	} {
		_, err := encio.NewReader(data).ReadLong()
		var formatErr *encio.FormatError
		td.CmpTrue(t, errors.As(err, &formatErr), "% x", data)
		td.CmpTrue(t, errors.Is(err, encio.ErrFormat))
	}
}

func TestDecodeLongSignExtension(t *testing.T) {
	// A negative length sign-extends the truncated width.
	td.Cmp(t, encio.DecodeLong(-1, []byte{0x00}), int64(-256))
	td.Cmp(t, encio.DecodeLong(-2, []byte{0x00, 0x00}), int64(-65536))
	td.Cmp(t, encio.DecodeLong(2, []byte{0x00, 0x80}), int64(0x8000))
}
