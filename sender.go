package zmodem

import "io"

// senderEngine implements the sending side of the table in protocol.go.
// Grounded on the teacher's sender.go (GetReceiverInit/sendZSINIT/SendFile/
// BuildFileHeader/sendFileData), restructured around protocol-FSM
// dispatch: each step reacts to one peer header instead of blocking on a
// read, and file bytes cross the OutgoingFile.Read callback instead of a
// direct os.File handle.
type senderEngine struct {
	s *Session

	fileBuf []byte
}

func newSenderEngine(s *Session) *senderEngine {
	return &senderEngine{s: s}
}

func (t *senderEngine) start() error {
	t.s.sendHeader(ZRQINIT, [4]byte{})
	return nil
}

func (t *senderEngine) onTimeout() error {
	s := t.s
	if s.timeoutCount > s.cfg.MaxRetries {
		return NewError(ErrSendTimeout, "peer stopped acknowledging")
	}
	switch s.protoState {
	case StateTStart, StateTInit:
		return t.start()
	case StateFileWait:
		return t.announceNextFile()
	case StateSending:
		return t.pump()
	case StateSendEof:
		var d [4]byte
		PutU32LE(&d, uint32(s.offset))
		s.sendHeader(ZEOF, d)
	case StateTFinish:
		s.sendHeader(ZFIN, [4]byte{})
	}
	return nil
}

// onZRINIT captures the receiver's capabilities, classifies the streaming
// mode they imply, and starts (or resumes) the file queue.
func (t *senderEngine) onZRINIT(data [4]byte) error {
	s := t.s
	s.rcvCapabilities = data[ZF0]
	s.crc32 = s.crc32 && data[ZF0]&CANFC32 != 0
	if data[ZF0]&ESCCTL != 0 {
		s.cfg.EscapeControl = true
	}
	if data[ZF0]&ESC8 != 0 {
		s.cfg.Escape8thBit = true
	}
	s.rcvBufferSize = int(data[ZF1]) | int(data[ZF2])<<8
	t.classifyStreamingMode(data[ZF0])
	if s.protoState == StateFileWait && s.outgoing != nil {
		// A repeated ZRINIT while the current offer is unanswered (the
		// reply to our ZRQINIT after the receiver's own opening ZRINIT):
		// the ZFILE already sent stands.
		return nil
	}
	return t.announceNextFile()
}

// classifyStreamingMode implements spec §4.4.1's selection algorithm. Full
// duplex and overlapped disk I/O are the baseline; a streaming mode that
// never stops for an ACK additionally needs some way to notice the
// receiver's attention interrupt, which this engine stands in for with
// "a non-empty Config.Attention is configured" — there is no separate
// reverse-channel sampling mechanism in this design.
func (t *senderEngine) classifyStreamingMode(flags byte) {
	s := t.s
	fullDuplex := flags&CANFDX != 0
	overlapIO := flags&CANOVIO != 0
	canNotice := len(s.cfg.Attention) > 0

	switch {
	case fullDuplex && overlapIO && canNotice && s.rcvBufferSize == 0:
		if s.windowSize == 0 {
			s.streamingMode = StreamingFull
		} else {
			s.streamingMode = StreamingWindow
		}
	case fullDuplex && overlapIO:
		s.streamingMode = StreamingSliding
	default:
		s.streamingMode = StreamingSegmented
	}
	s.host.Status(StatusStreamingMode, int64(s.streamingMode), s.streamingMode.String())
	s.cfg.EventSink.OnEvent(Event{Kind: EventStreamingMode, State: s.protoState, Message: s.streamingMode.String()})
}

// onZRINITAfterEOF is the same capability-refresh handling, reached after
// a completed file while more files (or none) remain.
func (t *senderEngine) onZRINITAfterEOF(data [4]byte) error {
	return t.onZRINIT(data)
}

// onZCHALLENGE: the receiver wants the same 4 bytes echoed back in a
// ZACK before it will proceed, a liveness probe some receivers send from
// RStart alongside ZRINIT.
func (t *senderEngine) onZCHALLENGE(data [4]byte) error {
	t.s.sendHeader(ZACK, data)
	return nil
}

func (t *senderEngine) announceNextFile() error {
	s := t.s
	if len(s.pendingFiles) == 0 {
		s.sendHeader(ZFIN, [4]byte{})
		s.protoState = StateTFinish
		return nil
	}
	f := s.pendingFiles[0]
	s.pendingFiles = s.pendingFiles[1:]
	s.outgoing = &f
	s.offset = 0
	s.fileLen = f.Len

	s.protoState = StateFileWait
	s.sendHeader(ZFILE, [4]byte{ZCBIN, ZF1ZMCRC, 0, 0})
	remaining := int64(0)
	for _, pf := range s.pendingFiles {
		remaining += pf.Len
	}
	s.sendSubpacket(marshalFileInfoSubpacket(f, len(s.pendingFiles), remaining), ZCRCW)
	s.cfg.EventSink.OnEvent(Event{Kind: EventFileStart, State: s.protoState, Message: f.Name})
	return nil
}

// onZSKIP: the receiver declined the current file. Move on to the next.
func (t *senderEngine) onZSKIP(data [4]byte) error {
	t.s.outgoing = nil
	return t.announceNextFile()
}

// onZAbort: the receiver gave up (ZABORT) or hit a file error (ZFERR)
// before we ever got to send any data. Echo ZFIN and enter the shutdown
// handshake (spec §4.4 "TStart|ZABORT,ZFERR→TFinish"), grounded on the
// teacher's GotAbort.
func (t *senderEngine) onZAbort(data [4]byte) error {
	s := t.s
	s.host.Status(StatusRemoteCancel, 0, "receiver aborted before accepting a file")
	s.sendHeader(ZFIN, [4]byte{})
	s.protoState = StateTFinish
	return nil
}

// onZCRC: the receiver wants the whole file's CRC-32, typically to decide
// whether a partial file on disk can be resumed (spec §4.4
// "FileWait|ZCRC"). Stays in FileWait.
func (t *senderEngine) onZCRC(data [4]byte) error {
	s := t.s
	crc, err := t.fileCRC32()
	if err != nil {
		return NewError(ErrCannotOpen, "computing file CRC-32 failed: "+err.Error())
	}
	var d [4]byte
	PutU32LE(&d, crc)
	s.sendHeader(ZCRC, d)
	return nil
}

// fileCRC32 reads the outgoing file front-to-back through the same Read
// callback pump uses and returns its CRC-32.
func (t *senderEngine) fileCRC32() (uint32, error) {
	s := t.s
	f := s.outgoing
	if f == nil {
		return 0, nil
	}
	crc := uint32(0xFFFFFFFF)
	buf := make([]byte, s.cfg.BlockSize)
	var offset int64
	for {
		n, err := f.Read(buf, offset)
		if n > 0 {
			crc = crc32UpdateBytes(crc, buf[:n])
			offset += int64(n)
		}
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return crc ^ 0xFFFFFFFF, nil
}

// onZNAKResendEof: the receiver's echo of our ZEOF was corrupted; resend
// it unchanged (spec §4.4 "SendEof|ZNAK→resend ZEOF").
func (t *senderEngine) onZNAKResendEof(data [4]byte) error {
	s := t.s
	var d [4]byte
	PutU32LE(&d, uint32(s.offset))
	s.sendHeader(ZEOF, d)
	return nil
}

// onZRPOS: the receiver wants data starting at this offset (the initial
// position, or a resend point after a CRC failure).
func (t *senderEngine) onZRPOS(data [4]byte) error {
	s := t.s
	s.offset = int64(GetU32LE(data))
	s.protoState = StateSending

	// A file with nothing left at this offset (e.g. zero-length) has no
	// subpacket to send; ZEOF alone closes it out. The receiver's ZRPOS
	// handler already leaves it ready for ZEOF directly from this state,
	// so skip announcing a ZDATA run that would never carry a subpacket.
	if f := s.outgoing; f == nil || s.offset >= f.Len {
		var d [4]byte
		PutU32LE(&d, uint32(s.offset))
		s.sendHeader(ZEOF, d)
		s.protoState = StateSendEof
		return nil
	}

	var d [4]byte
	PutU32LE(&d, uint32(s.offset))
	s.sendHeader(ZDATA, d)
	return t.pump()
}

// onZACK: the receiver acknowledged a ZCRCW-terminated subpacket; resume
// streaming from the current offset.
func (t *senderEngine) onZACK(data [4]byte) error {
	s := t.s
	acked := int64(GetU32LE(data))
	if acked != 0 {
		s.lastAckedOffset = acked
	}
	return t.pump()
}

// onZFINAck: the receiver echoed our ZFIN. Send the legacy "OO" and stop.
func (t *senderEngine) onZFINAck(data [4]byte) error {
	s := t.s
	s.host.SendBytes([]byte("OO"))
	s.protoState = StateDone
	return nil
}

// pump sends subpackets from the current offset until the file ends or a
// ZCRCW subpacket (a spent window budget or a pending wait_flag) ends the
// call. Grounded on the teacher's sendFileData loop, generalized across
// streaming modes (spec §4.4.1): with no window configured (Full mode) it
// streams to EOF in one call without waiting for an ACK; with a window,
// the subpacket that spends the budget is ZCRCW and the call returns.
func (t *senderEngine) pump() error {
	s := t.s
	f := s.outgoing
	if f == nil {
		return t.announceNextFile()
	}
	if len(t.fileBuf) == 0 {
		t.fileBuf = make([]byte, s.cfg.BlockSize)
	}

	// windowSize<=0 is spec §3.1's "unlimited" window — the defining case
	// of Full mode (spec §4.4.1): the sender streams until EOF or a bad
	// subpacket interrupts it, never stopping on its own to wait for an
	// ACK. Only a receiver-imposed window makes `budget` meaningful.
	unlimited := s.windowSize <= 0
	budget := s.windowSize
	sent := 0

	for {
		n, err := f.Read(t.fileBuf, s.offset)
		if err != nil && err != io.EOF {
			return NewError(ErrCannotOpen, "reading outgoing file failed: "+err.Error())
		}
		if n == 0 {
			var d [4]byte
			PutU32LE(&d, uint32(s.offset))
			s.sendHeader(ZEOF, d)
			s.protoState = StateSendEof
			return nil
		}

		// A header always follows once this read exhausts the file, so the
		// final subpacket must end the frame (ZCRCE) rather than promise
		// more data (ZCRCG) — a stray ZEOF header read as data would
		// otherwise desync the receiver's lexer.
		atEOF := s.offset+int64(n) >= f.Len
		budgetExhausted := !unlimited && budget-n <= 0

		terminator := t.subpacketTerminator(sent, atEOF, budgetExhausted)
		s.sendSubpacket(t.fileBuf[:n], terminator)
		s.offset += int64(n)
		sent += n
		if !unlimited {
			budget -= n
		}

		if atEOF {
			var d [4]byte
			PutU32LE(&d, uint32(s.offset))
			s.sendHeader(ZEOF, d)
			s.protoState = StateSendEof
			return nil
		}
		if terminator == ZCRCW {
			return nil
		}
	}
}

// subpacketTerminator picks the data-subpacket terminator per spec §4.4.2,
// in priority order: a pending wait_flag or an exhausted budget forces
// ZCRCW; otherwise the streaming mode decides (Full/Segmented stream with
// ZCRCG, since the budget check above is Segmented's only source of ZCRCW:
// with no window configured Segmented streams like Full, and the
// receiver's advertised buffer size is not used to place ZCRCW;
// StrWindow rides ZCRCG until a quarter of the window is spent, then
// ZCRCQ to harvest an ACK; SlidingWindow is ZCRCQ throughout); EOF always
// wins and closes the frame with ZCRCE.
func (t *senderEngine) subpacketTerminator(sentThisCall int, atEOF, budgetExhausted bool) byte {
	s := t.s
	var terminator byte
	switch {
	case s.waitFlag:
		s.waitFlag = false
		terminator = ZCRCW
	case budgetExhausted:
		terminator = ZCRCW
	case s.streamingMode == StreamingSliding:
		terminator = ZCRCQ
	case s.streamingMode == StreamingWindow:
		terminator = ZCRCG
		if s.windowSize > 0 && sentThisCall >= s.windowSize/4 {
			terminator = ZCRCQ
		}
	default: // StreamingFull, StreamingSegmented
		terminator = ZCRCG
	}
	if atEOF {
		return ZCRCE
	}
	return terminator
}
