package zmodem

import "testing"

func TestPutGetU32LERoundTrip(t *testing.T) {
	var data [4]byte
	PutU32LE(&data, 0x01020304)
	if got := GetU32LE(data); got != 0x01020304 {
		t.Fatalf("GetU32LE(PutU32LE(x)) = %#x, want 0x01020304", got)
	}
}

func TestHexHeaderRoundTrip(t *testing.T) {
	var data [4]byte
	PutU32LE(&data, 12345)
	frame := encodeHexHeader(ZRPOS, data)

	// ZPAD ZPAD ZDLE ZHEX, then 14 hex digits; the 16-byte slice below also
	// takes the trailing CR and LF, which decodeHexHeader ignores.
	if frame[0] != ZPAD || frame[1] != ZPAD || frame[2] != ZDLE || frame[3] != ZHEX {
		t.Fatalf("unexpected hex header prelude: %v", frame[:4])
	}
	digits := frame[4:20]
	gotType, gotData, err := decodeHexHeader(digits)
	if err != nil {
		t.Fatalf("decodeHexHeader: %v", err)
	}
	if gotType != ZRPOS {
		t.Fatalf("frame type = %d, want ZRPOS", gotType)
	}
	if GetU32LE(gotData) != 12345 {
		t.Fatalf("offset = %d, want 12345", GetU32LE(gotData))
	}
}

func TestHexHeaderRejectsBadCRC(t *testing.T) {
	var data [4]byte
	frame := encodeHexHeader(ZRINIT, data)
	digits := append([]byte{}, frame[4:20]...)
	// Corrupt a data digit (index 2, the high nibble of ZP0) without
	// touching the trailing CRC digits, so the CRC no longer matches.
	if digits[2] == '0' {
		digits[2] = '1'
	} else {
		digits[2] = '0'
	}
	if _, _, err := decodeHexHeader(digits); err == nil {
		t.Fatalf("decodeHexHeader should reject a corrupted header")
	}
}

func TestBinHeader16RoundTrip(t *testing.T) {
	var data [4]byte
	PutU32LE(&data, 99)
	mode := escapeMode{}
	frame := encodeBinHeader16(ZDATA, data, mode)

	if frame[0] != ZPAD || frame[1] != ZDLE || frame[2] != ZBIN {
		t.Fatalf("unexpected bin16 header prelude: %v", frame[:3])
	}
	raw := unescapeHeaderBody(t, frame[3:])
	gotType, gotData, err := decodeBinHeader16(raw)
	if err != nil {
		t.Fatalf("decodeBinHeader16: %v", err)
	}
	if gotType != ZDATA {
		t.Fatalf("frame type = %d, want ZDATA", gotType)
	}
	if GetU32LE(gotData) != 99 {
		t.Fatalf("offset = %d, want 99", GetU32LE(gotData))
	}
}

func TestBinHeader32RoundTrip(t *testing.T) {
	var data [4]byte
	PutU32LE(&data, 0xdeadbeef)
	mode := escapeMode{escapeControl: true, escape8thBit: true}
	frame := encodeBinHeader32(ZEOF, data, mode)

	if frame[0] != ZPAD || frame[1] != ZDLE || frame[2] != ZBIN32 {
		t.Fatalf("unexpected bin32 header prelude: %v", frame[:3])
	}
	raw := unescapeHeaderBody(t, frame[3:])
	gotType, gotData, err := decodeBinHeader32(raw)
	if err != nil {
		t.Fatalf("decodeBinHeader32: %v", err)
	}
	if gotType != ZEOF {
		t.Fatalf("frame type = %d, want ZEOF", gotType)
	}
	if GetU32LE(gotData) != 0xdeadbeef {
		t.Fatalf("offset = %#x, want 0xdeadbeef", GetU32LE(gotData))
	}
}

// unescapeHeaderBody strips ZDLE-escaping from an encoded header body
// (everything after the ZPAD/ZDLE/type-byte prelude), the way lexer.feedBin
// does one byte at a time via unescapeOne.
func unescapeHeaderBody(t *testing.T, body []byte) []byte {
	t.Helper()
	var out []byte
	pending := false
	for _, b := range body {
		if pending {
			pending = false
			tok, err := decodeEscape(b)
			if err != nil {
				t.Fatalf("decodeEscape: %v", err)
			}
			out = append(out, byte(tok))
			continue
		}
		if b == ZDLE {
			pending = true
			continue
		}
		out = append(out, b)
	}
	return out
}
