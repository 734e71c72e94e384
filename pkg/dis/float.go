package dis

import (
	"math"
	"strconv"
)

// ReadDouble decodes a DIS floating point value: a signed coefficient
// (digits with the decimal point implied at the low-order end) followed
// by a signed decimal exponent. Overflow clamps to ±HUGE with status
// Overflow; underflow is silently flushed to zero.
func ReadDouble(s *Stream) (float64, error) {
	v, err := s.readDouble()
	return v, s.commitOrRewind(err)
}

func (s *Stream) readDouble() (float64, error) {
	coef, err := s.readInt()
	if err != nil {
		return 0, err
	}
	expon, err := s.readInt()
	if err != nil {
		return 0, err
	}
	return scaleDecimal(coef, int(expon))
}

// scaleDecimal applies the overflow policy described for read_double: it
// scales coef by 10^exp, clamping to ±HUGE when the combined magnitude
// would exceed the representable range and preserving precision near the
// low end by deferring division, matching the reference decoder.
func scaleDecimal(coef int64, expon int) (float64, error) {
	mag := coef
	if mag < 0 {
		mag = -mag
	}
	ndigs := digitCount(uint64(mag))
	v := float64(coef)

	switch {
	case expon+ndigs > maxDecExp:
		if expon+ndigs > maxDecExp+1 {
			return signedHuge(coef), statusErr(Overflow)
		}
		v *= math.Pow10(expon - 1)
		if math.Abs(v) > math.MaxFloat64/10 {
			return signedHuge(coef), statusErr(Overflow)
		}
		return v * 10, nil
	case expon < minDecExp:
		v *= math.Pow10(expon + ndigs)
		v /= math.Pow10(ndigs)
		return v, nil
	default:
		return v * math.Pow10(expon), nil
	}
}

func signedHuge(coef int64) float64 {
	if coef < 0 {
		return -HUGE
	}
	return HUGE
}

// WriteDouble encodes v as a DIS floating point value.
func WriteDouble(w *Writer, v float64) error {
	coef, expon := decomposeDecimal(v)
	if err := WriteInt(w, coef); err != nil {
		return err
	}
	return WriteInt(w, int64(expon))
}

// decomposeDecimal finds an integer coefficient and decimal exponent
// such that v == coef * 10^expon, with trailing zeros stripped from the
// coefficient so ndigs reflects only its significant digits.
func decomposeDecimal(v float64) (coef int64, expon int) {
	if v == 0 {
		return 0, 0
	}
	formatted := strconv.FormatFloat(v, 'e', 16, 64)
	mantissa, exp := splitExponential(formatted)
	neg := mantissa[0] == '-'
	if neg {
		mantissa = mantissa[1:]
	}
	digits := make([]byte, 0, len(mantissa))
	for i := 0; i < len(mantissa); i++ {
		if mantissa[i] == '.' {
			continue
		}
		digits = append(digits, mantissa[i])
	}
	// exp from FormatFloat is the power of ten for the first digit; the
	// remaining digits push the implied decimal point to the low-order
	// end, so the base exponent is exp - (len(digits) - 1).
	expon = exp - (len(digits) - 1)
	for len(digits) > 1 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		expon++
	}
	n, _ := strconv.ParseUint(string(digits), 10, 64)
	coef = int64(n)
	if neg {
		coef = -coef
	}
	return coef, expon
}

func splitExponential(s string) (mantissa string, exp int) {
	i := len(s) - 1
	for i > 0 && s[i] != 'e' {
		i--
	}
	exp64, _ := strconv.ParseInt(s[i+1:], 10, 32)
	return s[:i], int(exp64)
}

// ReadLongDouble decodes a DIS extended-precision floating point value.
// Go has no extended-precision float type distinct from float64, so this
// is read with the same precision as ReadDouble.
func ReadLongDouble(s *Stream) (float64, error) {
	return ReadDouble(s)
}

// WriteLongDouble encodes v as a DIS extended-precision floating point
// value, written with the same precision WriteDouble uses.
func WriteLongDouble(w *Writer, v float64) error {
	return WriteDouble(w, v)
}
