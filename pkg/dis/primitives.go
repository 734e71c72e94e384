package dis

import "math"

const maxUintDigits = 20 // digits(math.MaxUint64)

func digit(b byte) (int, error) {
	if b < '0' || b > '9' {
		return 0, statusErr(Protocol)
	}
	return int(b - '0'), nil
}

func (s *Stream) readDigit() (int, error) {
	b, err := s.readByte()
	if err != nil {
		return 0, err
	}
	return digit(b)
}

// writeDigitCount writes the self-describing digit count that precedes
// every DIS unsigned integer's digits: a count of nine or fewer digits
// is one ASCII digit; a larger count is itself length-prefixed the same
// way, recursing on digitCount(d) before d's own digits.
func (w *Writer) writeDigitCount(d int) error {
	if d <= 9 {
		return w.writeByte(byte('0' + d))
	}
	dd := digitCount(uint64(d))
	if err := w.writeDigitCount(dd); err != nil {
		return err
	}
	return w.writeUintDigits(uint64(d), dd)
}

// digitCount returns the number of decimal digits in v, with digitCount(0) == 1.
func digitCount(v uint64) int {
	n := 1
	for v >= 10 {
		v /= 10
		n++
	}
	return n
}

// ReadUint decodes one DIS unsigned integer.
func ReadUint(s *Stream) (uint64, error) {
	v, err := s.readUint()
	return v, s.commitOrRewind(err)
}

// readUint decodes the self-describing digit-count prefix and the
// digits that follow it. A leading digit other than 2 is an unambiguous
// direct count (1-9, or 3-9 paired with a two-digit count that can only
// arise from a direct 2). A leading 2 is ambiguous by construction: it
// is either the direct count 2, or the recursively-encoded count of a
// digit count in [10, maxUintDigits] (every value in that range has
// exactly two digits, so its own length prefix is always "2"). Reading
// resolves the ambiguity by trying the extended form first and falling
// back to the direct form if it can't be satisfied.
func (s *Stream) readUint() (uint64, error) {
	c, err := s.readDigit()
	if err != nil {
		return 0, err
	}
	if c == 0 {
		return 0, statusErr(Protocol)
	}
	if c != 2 {
		return s.readUintDigits(c)
	}

	hi, err := s.readDigit()
	if err != nil {
		return 0, err
	}
	lo, err := s.readDigit()
	if err != nil {
		return 0, err
	}
	candidate := hi*10 + lo
	if candidate > 9 && candidate <= maxUintDigits {
		mark := len(s.buf) // bytes held so far, ending with the three count digits
		if v, err := s.readUintDigits(candidate); err == nil {
			return v, nil
		}
		s.Rewind()
		if _, err := s.readN(mark); err != nil { // re-consume up to and including lo
			return 0, err
		}
	}
	return uint64(hi)*10 + uint64(lo), nil
}

func (s *Stream) readUintDigits(d int) (uint64, error) {
	if d == 0 {
		return 0, nil
	}
	if d > maxUintDigits {
		return 0, statusErr(Overflow)
	}
	var v uint64
	for i := 0; i < d; i++ {
		n, err := s.readDigit()
		if err != nil {
			return 0, err
		}
		next := v*10 + uint64(n)
		if next < v { // overflowed uint64
			return 0, statusErr(Overflow)
		}
		v = next
	}
	return v, nil
}

// WriteUint encodes v as a DIS unsigned integer.
func WriteUint(w *Writer, v uint64) error {
	d := digitCount(v)
	if err := w.writeDigitCount(d); err != nil {
		return err
	}
	return w.writeUintDigits(v, d)
}

func (w *Writer) writeUintDigits(v uint64, d int) error {
	buf := make([]byte, d)
	for i := d - 1; i >= 0; i-- {
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return w.writeBytes(buf)
}

// ReadInt decodes one DIS signed integer: a sign character followed by
// the unsigned form of the magnitude.
func ReadInt(s *Stream) (int64, error) {
	v, err := s.readInt()
	return v, s.commitOrRewind(err)
}

func (s *Stream) readInt() (int64, error) {
	sign, err := s.readByte()
	if err != nil {
		return 0, err
	}
	if sign != '+' && sign != '-' {
		return 0, statusErr(Protocol)
	}
	mag, err := s.readUint()
	if err != nil {
		return 0, err
	}
	if sign == '-' {
		if mag > 1<<63 {
			return 0, statusErr(Overflow)
		}
		return -int64(mag), nil
	}
	if mag > math.MaxInt64 {
		return 0, statusErr(Overflow)
	}
	return int64(mag), nil
}

// WriteInt encodes v as a DIS signed integer.
func WriteInt(w *Writer, v int64) error {
	if v < 0 {
		if err := w.writeByte('-'); err != nil {
			return err
		}
		return WriteUint(w, uint64(-v))
	}
	if err := w.writeByte('+'); err != nil {
		return err
	}
	return WriteUint(w, uint64(v))
}

// ReadString decodes one DIS counted string: an unsigned length followed
// by exactly that many raw bytes.
func ReadString(s *Stream) ([]byte, error) {
	v, err := s.readString()
	return v, s.commitOrRewind(err)
}

func (s *Stream) readString() ([]byte, error) {
	n, err := s.readUint()
	if err != nil {
		return nil, err
	}
	if n > (1 << 32) {
		return nil, statusErr(Overflow)
	}
	return s.readN(int(n))
}

// WriteString encodes b as a DIS counted string.
func WriteString(w *Writer, b []byte) error {
	if err := WriteUint(w, uint64(len(b))); err != nil {
		return err
	}
	return w.writeBytes(b)
}

// ReadStringFixed decodes a DIS counted string into buf, failing with
// Overflow if the encoded length exceeds len(buf). It returns the number
// of bytes written.
func ReadStringFixed(s *Stream, buf []byte) (int, error) {
	n, err := s.readUintFixedLen(buf)
	return n, s.commitOrRewind(err)
}

func (s *Stream) readUintFixedLen(buf []byte) (int, error) {
	n, err := s.readUint()
	if err != nil {
		return 0, err
	}
	if n > uint64(len(buf)) {
		return 0, statusErr(Overflow)
	}
	b, err := s.readN(int(n))
	if err != nil {
		return 0, err
	}
	copy(buf, b)
	return len(b), nil
}
