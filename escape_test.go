package zmodem

import "testing"

func TestEncoderEscapesControlBytes(t *testing.T) {
	enc := newEncoder(escapeMode{})
	out := enc.Encode(nil, []byte{0x41, ZDLE, 0x10, 0x42})
	want := []byte{0x41, ZDLE, ZDLE ^ 0x40, ZDLE, 0x10 ^ 0x40, 0x42}
	if string(out) != string(want) {
		t.Fatalf("Encode = %v, want %v", out, want)
	}
}

func TestEncoderEscapesCROnlyAfterAt(t *testing.T) {
	enc := newEncoder(escapeMode{})
	out := enc.Encode(nil, []byte{'@', 0x0d, 'x', 0x0d})
	// CR right after '@' must be escaped; the second CR, after 'x', must not.
	want := []byte{'@', ZDLE, 0x0d ^ 0x40, 'x', 0x0d}
	if string(out) != string(want) {
		t.Fatalf("Encode = %v, want %v", out, want)
	}
}

func TestEncoderEscapeControlMode(t *testing.T) {
	enc := newEncoder(escapeMode{escapeControl: true})
	out := enc.Encode(nil, []byte{0x01, 0x41})
	want := []byte{ZDLE, 0x01 ^ 0x40, 0x41}
	if string(out) != string(want) {
		t.Fatalf("Encode = %v, want %v", out, want)
	}
}

func TestEncoderEscape8thBitMode(t *testing.T) {
	enc := newEncoder(escapeMode{escape8thBit: true})
	out := enc.Encode(nil, []byte{0x81, 0x41})
	want := []byte{ZDLE, 0x81 ^ 0x40, 0x41}
	if string(out) != string(want) {
		t.Fatalf("Encode = %v, want %v", out, want)
	}
}

func TestDecodeEscapeRoundTrip(t *testing.T) {
	for _, c := range []byte{ZDLE, 0x01, 0xef} {
		got, err := decodeEscape(c ^ 0x40)
		if err != nil {
			t.Fatalf("decodeEscape(%#02x) error: %v", c, err)
		}
		if byte(got) != c {
			t.Fatalf("decodeEscape round trip = %#02x, want %#02x", got, c)
		}
	}
}

func TestDecodeEscapeTerminators(t *testing.T) {
	cases := map[byte]int{
		ZCRCE: gotCRCE,
		ZCRCG: gotCRCG,
		ZCRCQ: gotCRCQ,
		ZCRCW: gotCRCW,
	}
	for in, want := range cases {
		got, err := decodeEscape(in)
		if err != nil {
			t.Fatalf("decodeEscape(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("decodeEscape(%q) = %#x, want %#x", in, got, want)
		}
	}
}

func TestDecodeEscapeRubout(t *testing.T) {
	if got, err := decodeEscape(ZRUB0); err != nil || got != 0x7f {
		t.Fatalf("decodeEscape(ZRUB0) = (%#x, %v), want (0x7f, nil)", got, err)
	}
	if got, err := decodeEscape(ZRUB1); err != nil || got != 0xff {
		t.Fatalf("decodeEscape(ZRUB1) = (%#x, %v), want (0xff, nil)", got, err)
	}
}

func TestDecodeEscapeInvalid(t *testing.T) {
	if _, err := decodeEscape(0x00); err == nil {
		t.Fatalf("decodeEscape(0x00) should error, got nil")
	}
}

func TestEscapeAllIsStateless(t *testing.T) {
	a := escapeAll([]byte{'@', 0x0d}, escapeMode{})
	b := escapeAll([]byte{'@', 0x0d}, escapeMode{})
	if string(a) != string(b) {
		t.Fatalf("escapeAll should produce identical output for identical input")
	}
}
