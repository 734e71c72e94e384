package dis

import (
	"bytes"
	"math"
	"strconv"
	"testing"
)

// refDigitCount independently restates the recursive digit-count prefix
// rule (a count of nine or fewer digits is one ASCII digit; a larger
// count is itself length-prefixed the same way) without going through
// the codec, so tests built on it can catch regressions in
// writeDigitCount/readUint rather than confirming them against
// themselves.
func refDigitCount(n int) string {
	if n <= 9 {
		return strconv.Itoa(n)
	}
	s := strconv.Itoa(n)
	return refDigitCount(len(s)) + s
}

func refEncodeUint(v uint64) string {
	s := strconv.FormatUint(v, 10)
	return refDigitCount(len(s)) + s
}

func refEncodeInt(v int64) string {
	if v < 0 {
		return "-" + refEncodeUint(uint64(-v))
	}
	return "+" + refEncodeUint(uint64(v))
}

func encodeUint(t *testing.T, v uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := WriteUint(w, v); err != nil {
		t.Fatalf("WriteUint(%d): %v", v, err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return buf.Bytes()
}

// TestUintWireFormat checks byte-exact encodings against the worked
// examples, including a value whose digit count itself needs a
// recursive length prefix (1000000000 has 10 digits, so its count is
// encoded as "210": digitCount(10)=2, then "10").
func TestUintWireFormat(t *testing.T) {
	cases := []struct {
		v    uint64
		want string
	}{
		{0, "10"},
		{12345, "512345"},
		{1000000000, "2101000000000"},
	}
	for _, c := range cases {
		got := encodeUint(t, c.v)
		if string(got) != c.want {
			t.Errorf("encode(%d) = %q, want %q", c.v, got, c.want)
		}
	}
}

func TestUintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 9, 10, 99, 100, 12345, 999999999, 1000000000, 1 << 32, math.MaxUint64}
	for _, v := range values {
		b := encodeUint(t, v)
		s := NewStream(bytes.NewReader(b))
		got, err := ReadUint(s)
		if err != nil {
			t.Fatalf("ReadUint(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestIntRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 12345, -12345, math.MaxInt64, math.MinInt64}
	for _, v := range values {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		if err := WriteInt(w, v); err != nil {
			t.Fatalf("WriteInt(%d): %v", v, err)
		}
		w.Flush()
		s := NewStream(&buf)
		got, err := ReadInt(s)
		if err != nil {
			t.Fatalf("ReadInt(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	values := []string{"", "a", "hello, batchnet", string(make([]byte, 4096))}
	for _, v := range values {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		if err := WriteString(w, []byte(v)); err != nil {
			t.Fatalf("WriteString: %v", err)
		}
		w.Flush()
		s := NewStream(&buf)
		got, err := ReadString(s)
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		if string(got) != v {
			t.Errorf("round trip %q: got %q", v, got)
		}
	}
}

// TestStringRewindOnTruncation covers invariant 4: a read_string call
// whose body is truncated must leave the stream positioned where it held
// before the call.
func TestStringRewindOnTruncation(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	WriteUint(w, 10) // claims 10 bytes
	w.Flush()
	buf.WriteString("abc") // but only supplies 3

	s := NewStream(&buf)
	if _, err := ReadString(s); AsStatus(err) != EOD {
		t.Fatalf("ReadString on truncated body: status = %v, want EOD", AsStatus(err))
	}

	// A fresh decode of the same primitive from the rewound position
	// must see the same length prefix again, proving the cursor did not
	// advance past it.
	if _, err := ReadString(s); AsStatus(err) != EOD {
		t.Fatalf("retry after rewind: status = %v, want EOD again", AsStatus(err))
	}
}

func TestDoubleRoundTrip(t *testing.T) {
	values := []float64{0, 1, -1, 3.14159, 2.5e10, -2.5e-10, 123456789.123456}
	for _, v := range values {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		if err := WriteDouble(w, v); err != nil {
			t.Fatalf("WriteDouble(%v): %v", v, err)
		}
		w.Flush()
		s := NewStream(&buf)
		got, err := ReadDouble(s)
		if err != nil {
			t.Fatalf("ReadDouble(%v): %v", v, err)
		}
		if v == 0 {
			if got != 0 {
				t.Errorf("round trip 0: got %v", got)
			}
			continue
		}
		if rel := math.Abs(got-v) / math.Abs(v); rel > 1e-15 {
			t.Errorf("round trip %v: got %v (relative error %v)", v, got, rel)
		}
	}
}

// TestDoubleWireFormatLargeCoefficient checks byte-exact encoding of a
// double whose coefficient needs a two-level digit-count prefix, the
// same path WriteUint exercises for values past 999999999.
func TestDoubleWireFormatLargeCoefficient(t *testing.T) {
	const v = 123456.78901234567
	coef, expon := decomposeDecimal(v)
	if digitCount(uint64(coef)) <= 9 {
		t.Fatalf("test value's coefficient %d doesn't force a multi-digit count", coef)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := WriteDouble(w, v); err != nil {
		t.Fatalf("WriteDouble(%v): %v", v, err)
	}
	w.Flush()

	want := refEncodeInt(coef) + refEncodeInt(int64(expon))
	if got := buf.String(); got != want {
		t.Errorf("WriteDouble(%v) = %q, want %q", v, got, want)
	}

	s := NewStream(bytes.NewReader(buf.Bytes()))
	got, err := ReadDouble(s)
	if err != nil {
		t.Fatalf("ReadDouble(%v): %v", v, err)
	}
	if rel := math.Abs(got-v) / math.Abs(v); rel > 1e-15 {
		t.Errorf("round trip %v: got %v (relative error %v)", v, got, rel)
	}
}

// TestDoubleOverflow is scenario S5: coefficient 1, exponent 400 clamps
// to HUGE with status Overflow.
func TestDoubleOverflow(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	WriteInt(w, 1)
	WriteInt(w, 400)
	w.Flush()

	s := NewStream(&buf)
	got, err := ReadDouble(s)
	if AsStatus(err) != Overflow {
		t.Fatalf("status = %v, want Overflow", AsStatus(err))
	}
	if got != HUGE {
		t.Fatalf("value = %v, want HUGE", got)
	}
}

func TestDoubleOverflowNegative(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	WriteInt(w, -1)
	WriteInt(w, 400)
	w.Flush()

	s := NewStream(&buf)
	got, err := ReadDouble(s)
	if AsStatus(err) != Overflow {
		t.Fatalf("status = %v, want Overflow", AsStatus(err))
	}
	if got != -HUGE {
		t.Fatalf("value = %v, want -HUGE", got)
	}
}

func TestReadUintProtocolError(t *testing.T) {
	s := NewStream(bytes.NewReader([]byte("x")))
	if _, err := ReadUint(s); AsStatus(err) != Protocol {
		t.Fatalf("status = %v, want Protocol", AsStatus(err))
	}
}

func TestReadStringFixedOverflow(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	WriteString(w, []byte("0123456789"))
	w.Flush()

	s := NewStream(&buf)
	small := make([]byte, 4)
	if _, err := ReadStringFixed(s, small); AsStatus(err) != Overflow {
		t.Fatalf("status = %v, want Overflow", AsStatus(err))
	}
}
