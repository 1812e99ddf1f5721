package zmodem

// ZDLE escaping as pure buffer-to-buffer functions. Spec §9 ("Escape
// encoding") asks for this to not mutate session state while building a
// subpacket; the one byte of lookback the "escape CR after @" rule needs
// lives on the encoder value, not on Session. Adapted from the teacher's
// zsendlineEscaper/zdlreadUnescaper (escape.go), generalized to emit into a
// caller-supplied []byte instead of writing through an io.Writer.

// escapeMode selects which bytes get ZDLE-escaped on encode.
type escapeMode struct {
	escapeControl bool // escape control bytes 0x00-0x1F and 0x80-0x9F (session capability)
	escape8thBit  bool // escape every byte with the 8th bit set
}

// encoder ZDLE-escapes bytes into an output buffer, tracking the last byte
// written for the conditional "CR directly after @" rule.
type encoder struct {
	mode     escapeMode
	lastSent byte
}

func newEncoder(mode escapeMode) *encoder {
	return &encoder{mode: mode}
}

// needsEscape reports whether c must be sent as a ZDLE pair (ZDLE, c^0x40,
// or ZDLE ZRUB0/ZRUB1 for 0x7f/0xff) rather than literally, given the
// previously sent byte (for the CR-after-@ rule).
func (e *encoder) needsEscape(c byte) bool {
	switch c {
	case ZDLE:
		return true
	case 0x10, xonByte, xonByte | 0x80, xoffByte, xoffByte | 0x80:
		return true
	case 0x7f, 0xff:
		return true
	case 0x1b, 0x1d: // ESC, GS
		return true
	case 0x0d, 0x8d: // CR
		return (e.lastSent & 0x7f) == '@'
	}
	if e.mode.escapeControl && c&0x60 == 0 {
		return true
	}
	if e.mode.escape8thBit && c&0x80 != 0 {
		return true
	}
	return false
}

// Encode appends the ZDLE-escaped form of buf to dst and returns the
// extended slice.
func (e *encoder) Encode(dst []byte, buf []byte) []byte {
	for _, c := range buf {
		dst = e.encodeByte(dst, c)
	}
	return dst
}

func (e *encoder) encodeByte(dst []byte, c byte) []byte {
	if e.needsEscape(c) {
		esc := c ^ 0x40
		switch c {
		case 0x7f:
			esc = ZRUB0
		case 0xff:
			esc = ZRUB1
		}
		dst = append(dst, ZDLE, esc)
		e.lastSent = esc
	} else {
		dst = append(dst, c)
		e.lastSent = c
	}
	return dst
}

// escapeAll ZDLE-escapes every byte of buf with a fresh encoder and returns
// the result. Used for header encoding, which carries no lookback state
// across calls.
func escapeAll(buf []byte, mode escapeMode) []byte {
	enc := newEncoder(mode)
	return enc.Encode(nil, buf)
}

// decodeEscape interprets the byte following a ZDLE in the wire stream.
// It returns the decoded value, or one of the gotCRC* terminator tokens, or
// an error if the sequence is malformed. Any other follower is XORed with
// 0x40; one below 0x80 is valid only in 0x40-0x5F, while one with the 8th
// bit set (the escape8thBit form of a high byte) is always accepted. Runs
// of CAN bytes are counted by Session.feedByte, not here.
func decodeEscape(c byte) (int, error) {
	switch c {
	case ZRUB0:
		return 0x7f, nil
	case ZRUB1:
		return 0xff, nil
	case ZCRCE:
		return gotCRCE, nil
	case ZCRCG:
		return gotCRCG, nil
	case ZCRCQ:
		return gotCRCQ, nil
	case ZCRCW:
		return gotCRCW, nil
	}
	if c&0x80 == 0 && c&0x60 != 0x40 {
		return 0, NewError(ErrInvalidFrame, "bad escape sequence")
	}
	return int(c ^ 0x40), nil
}
