package zmodem

// lexer is the lexical FSM of spec §4.3: it reassembles the byte stream
// into headers and data subpackets and hands finished units to the
// protocol FSM (session.onHeader / session.onSubpacket, or onHeaderError /
// onDataError for a rejected unit).
// It owns no protocol semantics — only framing — mirroring the split
// between the teacher's frame.go (wire format) and sender.go/receiver.go
// (what a header means).
type lexer struct {
	s *Session

	pendingEscape bool // previous byte on the wire was ZDLE

	// header assembly
	hdrRaw  [9]byte // type + 4 data bytes + up to 4 CRC bytes
	hdrLen  int
	hdrWant int // total raw bytes needed for the selected header kind

	hexDigits [16]byte
	hexLen    int

	// data subpacket assembly
	subBuf    []byte
	crc16     uint16
	crc32     uint32
	crcTail   [4]byte
	crcTailN  int
	crcTailWant int
}

func newLexer(s *Session) *lexer {
	return &lexer{s: s}
}

func (l *lexer) feed(b byte) error {
	s := l.s
	switch s.inputState {
	case InputIdle:
		return l.feedIdle(b)
	case InputPadding:
		return l.feedPadding(b)
	case InputHexHeader:
		return l.feedHex(b)
	case InputHeader16, InputHeader32:
		return l.feedBin(b)
	case InputData:
		return l.feedData(b)
	case InputCrc:
		return l.feedCrcTail(b)
	case InputFinish:
		return nil
	default:
		return l.feedIdle(b)
	}
}

// feedIdle discards bytes up to the first ZPAD, handing each one to
// Host.IdleBytes and counting it in Session.noiseCount. The count is never
// reset; once it passes Config.MaxNoise, feedIdle returns an
// ErrProtocolError, which ends the session.
func (l *lexer) feedIdle(b byte) error {
	s := l.s
	if b == ZPAD {
		s.inputState = InputPadding
		return nil
	}
	s.noiseCount++
	s.host.IdleBytes([]byte{b})
	if s.noiseCount > s.cfg.MaxNoise {
		return NewError(ErrProtocolError, "too much noise without a header")
	}
	return nil
}

// feedPadding consumes the run of ZPAD bytes and the following ZDLE and
// encoding-selector byte (ZBIN, ZHEX or ZBIN32).
func (l *lexer) feedPadding(b byte) error {
	s := l.s
	switch b {
	case ZPAD:
		return nil // extra ZPAD, still waiting for ZDLE
	case ZDLE:
		return nil // consumed; next byte picks the encoding
	case ZBIN:
		l.beginBinHeader(false)
		return nil
	case ZBIN32:
		l.beginBinHeader(true)
		return nil
	case ZHEX:
		l.hexLen = 0
		s.inputState = InputHexHeader
		return nil
	default:
		// Not a real header introducer; treat as idle noise and
		// re-scan this byte as if freshly seen.
		s.inputState = InputIdle
		return l.feedIdle(b)
	}
}

func (l *lexer) beginBinHeader(use32 bool) {
	s := l.s
	l.hdrLen = 0
	l.pendingEscape = false
	if use32 {
		l.hdrWant = 9
		s.inputState = InputHeader32
	} else {
		l.hdrWant = 7
		s.inputState = InputHeader16
	}
}

func (l *lexer) feedHex(b byte) error {
	s := l.s
	if l.hexLen < 14 {
		if _, ok := hexNibble(b); !ok {
			s.inputState = InputIdle
			return s.onHeaderError(NewError(ErrInvalidFrame, "non-hex digit in hex header"))
		}
		l.hexDigits[l.hexLen] = b
		l.hexLen++
		return nil
	}
	// 14 digits collected (type, 4 data bytes, CRC high, CRC low). A CR is
	// skipped; the next byte (the LF, with or without its 8th bit) is
	// consumed without being validated and completes the header (matches
	// teacher's zrhhdr CR/LF handling). An XON after it is read in the next
	// input state: idle noise, or dropped by unescapeOne inside a subpacket.
	if b == '\r' || b == 0x8d {
		return nil
	}
	frameType, data, err := decodeHexHeader(l.hexDigits[:14])
	l.hexLen = 0
	s.inputState = InputIdle
	if err != nil {
		return s.onHeaderError(err)
	}
	return s.onHeader(frameType, data, false)
}

func (l *lexer) feedBin(b byte) error {
	s := l.s
	tok, escaped, err := l.unescapeOne(b)
	if err != nil {
		s.inputState = InputIdle
		return s.onHeaderError(err)
	}
	if !escaped {
		return nil // byte consumed as part of an escape pair, wait for more
	}
	if tok == gotCAN {
		s.inputState = InputIdle
		return s.onRemoteCancel()
	}
	l.hdrRaw[l.hdrLen] = byte(tok)
	l.hdrLen++
	if l.hdrLen < l.hdrWant {
		return nil
	}

	use32 := s.inputState == InputHeader32
	s.inputState = InputIdle
	var frameType byte
	var data [4]byte
	var derr error
	if use32 {
		frameType, data, derr = decodeBinHeader32(l.hdrRaw[:9])
	} else {
		frameType, data, derr = decodeBinHeader16(l.hdrRaw[:7])
	}
	if derr != nil {
		return s.onHeaderError(derr)
	}
	return s.onHeader(frameType, data, false)
}

// unescapeOne folds ZDLE-escaping into the binary-header and data-subpacket
// readers. It returns escaped=true once a full byte (or pseudo-token) is
// available; escaped=false means b was a lone ZDLE and the next byte is
// still needed, or b was an unescaped XON/XOFF (either parity), which the
// encoder never sends as data and which is dropped as link noise.
func (l *lexer) unescapeOne(b byte) (tok int, escaped bool, err error) {
	if l.pendingEscape {
		l.pendingEscape = false
		if b == ZDLE { // shouldn't happen on the wire, but harmless
			return int(ZDLE), true, nil
		}
		t, derr := decodeEscape(b)
		if derr != nil {
			return 0, false, derr
		}
		return t, true, nil
	}
	if b == ZDLE {
		l.pendingEscape = true
		return 0, false, nil
	}
	if b&0x7f == xonByte || b&0x7f == xoffByte {
		return 0, false, nil
	}
	return int(b), true, nil
}

// beginDataSubpacket switches the lexer into data-collection mode. Called
// by the protocol layer once a ZDATA/ZCRC/etc. header has been dispatched
// and a subpacket is expected to follow.
func (l *lexer) beginDataSubpacket() {
	s := l.s
	l.subBuf = l.subBuf[:0]
	l.pendingEscape = false
	l.crc16 = 0
	l.crc32 = 0xFFFFFFFF
	s.inputState = InputData
}

func (l *lexer) feedData(b byte) error {
	s := l.s
	tok, escaped, err := l.unescapeOne(b)
	if err != nil {
		s.inputState = InputIdle
		return s.onDataError(err)
	}
	if !escaped {
		return nil
	}
	if tok == gotCAN {
		s.inputState = InputIdle
		return s.onRemoteCancel()
	}
	if tok&gotOr != 0 {
		l.crcTailN = 0
		if s.crc32 {
			l.crcTailWant = 4
			l.crc32 = crc32Update(l.crc32, byte(tok&0xff))
		} else {
			l.crcTailWant = 2
			l.crc16 = crc16Update(l.crc16, byte(tok&0xff))
		}
		s.lastTerminator = byte(tok & 0xff)
		s.inputState = InputCrc
		return nil
	}
	if len(l.subBuf) >= s.cfg.MaxBlockSize {
		s.inputState = InputIdle
		return s.onDataError(NewError(ErrInvalidFrame, "data subpacket too long"))
	}
	l.subBuf = append(l.subBuf, byte(tok))
	if s.crc32 {
		l.crc32 = crc32Update(l.crc32, byte(tok))
	} else {
		l.crc16 = crc16Update(l.crc16, byte(tok))
	}
	return nil
}

func (l *lexer) feedCrcTail(b byte) error {
	s := l.s
	tok, escaped, err := l.unescapeOne(b)
	if err != nil {
		s.inputState = InputIdle
		return s.onDataError(err)
	}
	if !escaped {
		return nil
	}
	if tok == gotCAN {
		s.inputState = InputIdle
		return s.onRemoteCancel()
	}
	l.crcTail[l.crcTailN] = byte(tok)
	l.crcTailN++
	if s.crc32 {
		l.crc32 = crc32Update(l.crc32, byte(tok))
	} else {
		l.crc16 = crc16Update(l.crc16, byte(tok))
	}
	if l.crcTailN < l.crcTailWant {
		return nil
	}

	s.inputState = InputIdle
	var ok bool
	if s.crc32 {
		ok = l.crc32 == crc32CheckValue
	} else {
		ok = l.crc16 == 0
	}
	if !ok {
		return s.onDataError(NewFrameError(ErrCRC, "data subpacket CRC mismatch", -1))
	}
	data := make([]byte, len(l.subBuf))
	copy(data, l.subBuf)
	return s.onSubpacket(data, s.lastTerminator)
}
