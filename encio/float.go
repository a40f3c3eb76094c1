package encio

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// FormatFloat returns the text Ruby writes for f.
// It uses the shortest digits that round-trip, placed like Ruby's Float#to_s:
// scientific notation when the decimal point falls more than 3 places before the first digit
// or after the last one ("1e2", "1.5e-5"), fixed notation otherwise ("0.001", "123.456").
// Non-finite values and zeros have fixed spellings independent of locale.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == 0:
		if math.Signbit(f) {
			return "-0"
		}
		return "0"
	}

	s := strconv.FormatFloat(f, 'e', -1, 64)

	var b strings.Builder
	if s[0] == '-' {
		b.WriteByte('-')
		s = s[1:]
	}

	e := strings.IndexByte(s, 'e')
	digits := strings.Replace(s[:e], ".", "", 1)
	exp, _ := strconv.Atoi(s[e+1:])
	decpt := exp + 1
	digs := len(digits)

	switch {
	case decpt < -3 || decpt > digs:
		b.WriteByte(digits[0])
		if digs > 1 {
			b.WriteByte('.')
			b.WriteString(digits[1:])
		}
		b.WriteByte('e')
		b.WriteString(strconv.Itoa(decpt - 1))
	case decpt > 0:
		b.WriteString(digits[:decpt])
		if digs > decpt {
			b.WriteByte('.')
			b.WriteString(digits[decpt:])
		}
	default:
		b.WriteString("0.")
		b.WriteString(strings.Repeat("0", -decpt))
		b.WriteString(digits)
	}
	return b.String()
}

// ParseFloat parses float text as written by FormatFloat or by older writers,
// which may append mantissa bytes after a NUL; those are ignored.
func ParseFloat(text []byte) (float64, error) {
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}

	switch string(text) {
	case "nan":
		return math.NaN(), nil
	case "inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}

	f, err := strconv.ParseFloat(string(text), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, errors.Wrapf(ErrFormat, "invalid float %q", text)
	}
	return f, nil
}
