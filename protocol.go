package zmodem

// Protocol-level dispatch: table-driven transitions keyed by the current
// ProtoState, one table per role (spec §4.4). Each row names the single
// header type it fires on; there is no wildcard/sentinel row — a header
// with no matching row for the current state is reported through
// onUnhandledHeader instead of being silently absorbed (spec §9's note
// against WWIV's tables[state] wildcard trick).

type receiverRule struct {
	frameType byte
	handle    func(r *receiverEngine, data [4]byte) error
}

type senderRule struct {
	frameType byte
	handle    func(t *senderEngine, data [4]byte) error
}

var receiverTable = map[ProtoState][]receiverRule{
	StateRStart: {
		{ZRQINIT, (*receiverEngine).onZRQINIT},
		{ZNAK, (*receiverEngine).onZRQINIT}, // peer NAKed our ZRINIT; resend it
		{ZSINIT, (*receiverEngine).onZSINIT},
		{ZFILE, (*receiverEngine).onZFILE},
		{ZFIN, (*receiverEngine).onZFIN},
		{ZFREECNT, (*receiverEngine).onZFREECNT},
	},
	StateRFileName: {
		{ZFILE, (*receiverEngine).onZFILE}, // retransmitted ZFILE, same handler
	},
	StateRData: {
		{ZDATA, (*receiverEngine).onZDATA},
		{ZEOF, (*receiverEngine).onZEOF},
		{ZFILE, (*receiverEngine).onZFILE},
	},
	StateRFile: {
		{ZDATA, (*receiverEngine).onZDATA},
		{ZEOF, (*receiverEngine).onZEOF},
		{ZFILE, (*receiverEngine).onZFILE},
		{ZFIN, (*receiverEngine).onZFIN},
	},
	StateRFinish: {
		{ZFIN, (*receiverEngine).onZFIN},
	},
}

var senderTable = map[ProtoState][]senderRule{
	StateTStart: {
		{ZRINIT, (*senderEngine).onZRINIT},
		{ZCHALLENGE, (*senderEngine).onZCHALLENGE},
		{ZABORT, (*senderEngine).onZAbort},
		{ZFERR, (*senderEngine).onZAbort},
	},
	StateTInit: {
		{ZRINIT, (*senderEngine).onZRINIT},
	},
	StateFileWait: {
		{ZRPOS, (*senderEngine).onZRPOS},
		{ZSKIP, (*senderEngine).onZSKIP},
		{ZRINIT, (*senderEngine).onZRINIT},
		{ZCRC, (*senderEngine).onZCRC},
	},
	StateSending: {
		{ZRPOS, (*senderEngine).onZRPOS},
		{ZACK, (*senderEngine).onZACK},
		{ZSKIP, (*senderEngine).onZSKIP},
	},
	StateSendEof: {
		{ZRINIT, (*senderEngine).onZRINITAfterEOF},
		{ZRPOS, (*senderEngine).onZRPOS},
		{ZNAK, (*senderEngine).onZNAKResendEof},
	},
	StateTFinish: {
		{ZFIN, (*senderEngine).onZFINAck},
	},
}

// StateCrcWait (session.go) is never entered: like the original source's
// own CrcWaitOps table, nothing transitions into it — FileWait's ZCRC row
// replies and stays in FileWait instead. It is kept only because the wire
// protocol's state name exists in spec §4.4's table for completeness.

// onHeader is called by the lexer once a complete, CRC-valid header has
// been decoded.
func (s *Session) onHeader(frameType byte, data [4]byte, viaHex bool) error {
	s.cfg.EventSink.OnEvent(Event{Kind: EventFrameReceived, State: s.protoState, FrameType: int(frameType), Offset: GetU32LE(data)})

	if frameType == ZCAN {
		return s.onRemoteCancel()
	}

	before := s.protoState
	var err error
	switch s.role {
	case RoleReceiver:
		rules := receiverTable[before]
		handled := false
		for _, r := range rules {
			if r.frameType == frameType {
				err = r.handle(s.receiver, data)
				handled = true
				break
			}
		}
		if !handled {
			return s.onUnhandledHeader(frameType)
		}
	case RoleSender:
		rules := senderTable[before]
		handled := false
		for _, r := range rules {
			if r.frameType == frameType {
				err = r.handle(s.sender, data)
				handled = true
				break
			}
		}
		if !handled {
			return s.onUnhandledHeader(frameType)
		}
	}
	if err != nil {
		return err
	}
	if s.protoState != before {
		s.errCount = 0
		s.cfg.EventSink.OnEvent(Event{Kind: EventStateTransition, State: s.protoState, FrameType: int(frameType), Message: before.String() + "->" + s.protoState.String()})
	}
	if s.protoState == StateDone {
		return NewError(ErrDone, "transfer complete")
	}
	return nil
}

// onUnhandledHeader is reached when a header's type has no row for the
// current state. Spec §7 classes this ErrProtocolError and treats it as
// non-fatal until MaxErrs is exceeded, since link noise commonly produces
// a stray, well-formed-looking header.
func (s *Session) onUnhandledHeader(frameType byte) error {
	s.errCount++
	s.cfg.EventSink.OnEvent(Event{Kind: EventDataError, State: s.protoState, FrameType: int(frameType), Message: "header not valid in this state"})
	if s.errCount > s.cfg.MaxErrs {
		return NewFrameError(ErrProtocolError, "too many out-of-sequence headers", int(frameType))
	}
	return nil
}

// onHeaderError is reached when the lexer rejects a header outright (bad
// CRC, malformed hex, bad escape). The sender side simply lets its own
// timeout drive a retransmit; the receiver re-announces its position.
func (s *Session) onHeaderError(err error) error {
	s.errCount++
	s.cfg.EventSink.OnEvent(Event{Kind: EventDataError, State: s.protoState, FrameType: -1, Message: err.Error()})
	if s.errCount > s.cfg.MaxErrs {
		return err
	}
	if s.role == RoleReceiver && s.receiver != nil {
		s.receiver.requestRetry()
	}
	return nil
}

// onDataError is reached when a data subpacket's CRC fails to verify.
func (s *Session) onDataError(err error) error {
	s.errCount++
	s.cfg.EventSink.OnEvent(Event{Kind: EventDataError, State: s.protoState, FrameType: ZDATA, Message: err.Error()})
	if s.errCount > s.cfg.MaxErrs {
		return NewError(ErrDataError, "too many data subpacket errors")
	}
	if s.role == RoleReceiver && s.receiver != nil {
		s.receiver.onBadSubpacket()
	}
	return nil
}

// onSubpacket is reached once a full, CRC-valid data subpacket has been
// collected by the lexer.
func (s *Session) onSubpacket(data []byte, terminator byte) error {
	s.cfg.EventSink.OnEvent(Event{Kind: EventSubpacketReceived, State: s.protoState, Offset: uint32(s.offset), Message: string(rune(terminator))})
	if s.role == RoleReceiver && s.receiver != nil {
		return s.receiver.onSubpacket(data, terminator)
	}
	return nil
}

// onRemoteCancel handles a ZCAN header. A run of five CAN bytes is caught
// earlier, by Session.feedByte.
func (s *Session) onRemoteCancel() error {
	s.cfg.EventSink.OnEvent(Event{Kind: EventCancelled, State: s.protoState, FrameType: -1, Message: "peer cancelled"})
	s.host.Status(StatusRemoteCancel, 0, "peer sent ZCAN")
	return NewError(ErrCancelled, "peer cancelled transfer")
}

// sendHeader encodes and transmits a header, choosing the wire encoding
// the real protocol uses at each stage: the receiver always announces
// itself in hex (so a half-duplex/7-bit link can echo it back readably),
// the sender starts in hex for ZRQINIT and switches to binary once it has
// the receiver's capabilities (spec §4.2).
func (s *Session) sendHeader(frameType byte, data [4]byte) {
	var buf []byte
	mode := escapeMode{escapeControl: s.cfg.EscapeControl, escape8thBit: s.cfg.Escape8thBit}
	switch {
	case s.role == RoleReceiver:
		buf = encodeHexHeader(frameType, data)
	case s.protoState == StateTStart:
		buf = encodeHexHeader(frameType, data)
	case s.crc32:
		buf = encodeBinHeader32(frameType, data, mode)
	default:
		buf = encodeBinHeader16(frameType, data, mode)
	}
	s.host.SendBytes(buf)
	s.cfg.EventSink.OnEvent(Event{Kind: EventFrameSent, State: s.protoState, FrameType: int(frameType), Offset: GetU32LE(data)})
}

// sendSubpacket ZDLE-escapes buf, appends the CRC and terminator, and
// writes it to the host in one call.
func (s *Session) sendSubpacket(buf []byte, terminator byte) {
	enc := newEncoder(escapeMode{escapeControl: s.cfg.EscapeControl, escape8thBit: s.cfg.Escape8thBit})
	out := enc.Encode(make([]byte, 0, len(buf)*2+8), buf)

	if s.crc32 {
		crc := crc32UpdateBytes(0xFFFFFFFF, buf)
		crc = crc32Update(crc, terminator)
		crc ^= 0xFFFFFFFF
		out = append(out, ZDLE, terminator)
		out = enc.Encode(out, []byte{byte(crc), byte(crc >> 8), byte(crc >> 16), byte(crc >> 24)})
	} else {
		crc := crc16UpdateBytes(0, buf)
		crc = crc16Update(crc, terminator)
		crc = crc16Finalize(crc)
		out = append(out, ZDLE, terminator)
		out = enc.Encode(out, []byte{byte(crc >> 8), byte(crc)})
	}
	if terminator == ZCRCW {
		out = append(out, 0x11) // XON, uncorks a paused remote
	}
	s.host.SendBytes(out)
	s.cfg.EventSink.OnEvent(Event{Kind: EventFrameSent, State: s.protoState, FrameType: ZDATA, Offset: uint32(s.offset), Message: string(rune(terminator))})
}
