package zmodem

import "bytes"

// receiverEngine implements the receiving side of the table in protocol.go.
// Grounded on the teacher's receiver.go (SendZRINIT/WaitForZFILE/
// ParseFileHeader/ReceiveFile), restructured so each step is a handler
// invoked by onHeader/onSubpacket instead of a function that blocks on a
// read.
type receiverEngine struct {
	s *Session

	incoming    IncomingFile
	fileHandle  FileHandle
	skipping    bool
	gotFileInfo bool
}

func newReceiverEngine(s *Session) *receiverEngine {
	return &receiverEngine{s: s}
}

// start sends the opening ZRINIT announcing local capabilities (spec
// §4.4 RStart). The host calls Session.Start once before feeding any
// bytes.
func (r *receiverEngine) start() error {
	s := r.s
	var data [4]byte
	data[ZF0] = CANFDX | CANOVIO | CANFC32
	if s.cfg.EscapeControl {
		data[ZF0] |= ESCCTL
	}
	if s.cfg.Escape8thBit {
		data[ZF0] |= ESC8
	}
	s.sendHeader(ZRINIT, data)
	return nil
}

func (r *receiverEngine) onTimeout() error {
	s := r.s
	if s.timeoutCount > s.cfg.MaxRetries {
		return NewError(ErrReceiveTimeout, "receiver gave up waiting for sender")
	}
	switch s.protoState {
	case StateRStart:
		return r.start()
	case StateRSinitWait:
		// The sender never finished its ZSINIT subpacket; give up on it
		// and fall back to the normal handshake.
		s.protoState = StateRStart
		return r.start()
	case StateRFileName, StateRFile, StateRData:
		r.sendZRPOS(s.offset)
	case StateRFinish:
		s.sendHeader(ZFIN, [4]byte{})
	}
	return nil
}

func (r *receiverEngine) requestRetry() {
	s := r.s
	switch s.protoState {
	case StateRStart:
		_ = r.start()
	default:
		r.sendZRPOS(s.offset)
	}
}

// onBadSubpacket handles a data subpacket that failed CRC: interrupt the
// sender and ask it to resume from our last good offset (spec §4.6 "emit
// attention + ZRPOS").
func (r *receiverEngine) onBadSubpacket() {
	r.s.sendAttention()
	r.sendZRPOS(r.s.offset)
}

func (r *receiverEngine) sendZRPOS(offset int64) {
	var data [4]byte
	PutU32LE(&data, uint32(offset))
	r.s.sendHeader(ZRPOS, data)
	r.s.protoState = StateRData
}

// onZRQINIT: sender announced itself before seeing our ZRINIT. Just
// re-send ZRINIT; state doesn't change.
func (r *receiverEngine) onZRQINIT(data [4]byte) error {
	return r.start()
}

// onZSINIT: the sender is declaring its escape preferences and the
// attention string we should use to interrupt it; both travel as the
// following data subpacket (spec §4.4 "RStart|ZSINIT").
func (r *receiverEngine) onZSINIT(data [4]byte) error {
	s := r.s
	if data[ZF0]&TESCCTL != 0 {
		s.cfg.EscapeControl = true
	}
	if data[ZF0]&TESC8 != 0 {
		s.cfg.Escape8thBit = true
	}
	s.protoState = StateRSinitWait
	s.lex.beginDataSubpacket()
	return nil
}

// onZFREECNT: the sender wants to know how much storage is free. This
// engine tracks no notion of a quota, so it reports "unlimited".
func (r *receiverEngine) onZFREECNT(data [4]byte) error {
	r.s.sendHeader(ZACK, [4]byte{0xff, 0xff, 0xff, 0xff})
	return nil
}

// onZFILE: a file offer arrived. The filename/size/mode/date payload
// travels as the following data subpacket, so we switch the lexer into
// data-collection mode and wait for onSubpacket.
func (r *receiverEngine) onZFILE(data [4]byte) error {
	s := r.s
	s.fileFlags = [4]byte(data)
	s.protoState = StateRFileName
	s.lex.beginDataSubpacket()
	return nil
}

// onZDATA: a run of file data subpackets is about to start at the offset
// carried in the header.
func (r *receiverEngine) onZDATA(data [4]byte) error {
	s := r.s
	offset := int64(GetU32LE(data))
	if offset != s.offset {
		s.sendAttention()
		r.sendZRPOS(s.offset)
		return nil
	}
	s.protoState = StateRData
	s.lex.beginDataSubpacket()
	return nil
}

// onSubpacket handles both the ZFILE name subpacket and ordinary ZDATA
// payload subpackets, distinguished by protoState.
func (r *receiverEngine) onSubpacket(data []byte, terminator byte) error {
	s := r.s
	switch s.protoState {
	case StateRFileName:
		return r.onFileInfoSubpacket(data)
	case StateRData:
		return r.onDataSubpacket(data, terminator)
	case StateRSinitWait:
		return r.onSinitSubpacket(data)
	}
	return nil
}

// onSinitSubpacket completes the ZSINIT handshake: the subpacket is the
// attention string, NUL-terminated, or empty to clear it (spec §4.4.3). We
// ACK and return to RStart either way.
func (r *receiverEngine) onSinitSubpacket(data []byte) error {
	s := r.s
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	if len(data) > 0 {
		seq := make([]byte, len(data))
		copy(seq, data)
		s.attentionSeq = seq
	} else {
		s.attentionSeq = nil
	}
	s.sendHeader(ZACK, [4]byte{})
	s.protoState = StateRStart
	return nil
}

func (r *receiverEngine) onFileInfoSubpacket(data []byte) error {
	s := r.s
	info, err := parseFileInfoSubpacket(data)
	if err != nil {
		return err
	}
	info.FilesRemaining = int(GetU32LE(s.fileFlags))
	r.incoming = info
	r.gotFileInfo = true

	handle, skip, err := s.host.OpenFile(info)
	if err != nil {
		return NewError(ErrSystemError, "host OpenFile failed: "+err.Error())
	}
	if skip {
		r.skipping = true
		s.sendHeader(ZSKIP, [4]byte{})
		s.protoState = StateRStart
		return nil
	}
	r.fileHandle = handle
	r.skipping = false
	s.offset = 0
	s.fileLen = info.Len
	s.cfg.EventSink.OnEvent(Event{Kind: EventFileStart, State: s.protoState, Message: info.Name})
	r.sendZRPOS(0)
	return nil
}

func (r *receiverEngine) onDataSubpacket(data []byte, terminator byte) error {
	s := r.s
	if !r.skipping && len(data) > 0 {
		if err := s.host.WriteFile(r.fileHandle, data); err != nil {
			return r.onWriteFailure(err)
		}
	}
	s.offset += int64(len(data))
	s.lastAckedOffset = s.offset

	switch terminator {
	case ZCRCW:
		r.sendZRPOS(s.offset)
	case ZCRCQ:
		var d [4]byte
		PutU32LE(&d, uint32(s.offset))
		s.sendHeader(ZACK, d)
		s.lex.beginDataSubpacket()
	case ZCRCG:
		s.lex.beginDataSubpacket()
	case ZCRCE:
		s.protoState = StateRFile
	}
	return nil
}

// onWriteFailure handles a host WriteFile error: interrupt the sender,
// report it as a ZFERR, and move to RFinish to await the sender's own
// shutdown (spec §4.6 "File-write failure ⇒ emit attention + ZFERR(errno);
// move to RFinish"). Non-fatal to the Session itself — FeedBytes keeps
// running, it's just this file that's abandoned.
func (r *receiverEngine) onWriteFailure(err error) error {
	s := r.s
	s.cfg.EventSink.OnEvent(Event{Kind: EventDataError, State: s.protoState, FrameType: ZFERR, Message: "host WriteFile failed: " + err.Error()})
	if r.fileHandle != nil {
		s.host.CloseFile(r.fileHandle)
		r.fileHandle = nil
	}
	s.sendAttention()
	s.sendHeader(ZFERR, [4]byte{})
	s.protoState = StateRFinish
	return nil
}

// onZEOF: the sender finished this file. If our offset agrees, close the
// file and announce readiness for the next one (or ZFIN).
func (r *receiverEngine) onZEOF(data [4]byte) error {
	s := r.s
	offset := int64(GetU32LE(data))
	if offset != s.offset {
		// Sender and receiver disagree on length; ask to resume from
		// the receiver's last known-good offset.
		r.sendZRPOS(s.offset)
		return nil
	}
	if !r.skipping && r.fileHandle != nil {
		if err := s.host.CloseFile(r.fileHandle); err != nil {
			return NewError(ErrSystemError, "host CloseFile failed: "+err.Error())
		}
	}
	s.cfg.EventSink.OnEvent(Event{Kind: EventFileComplete, State: s.protoState, Offset: uint32(s.offset), Message: r.incoming.Name})
	r.fileHandle = nil
	s.protoState = StateRStart
	return r.start()
}

// onZFIN: the sender has no more files. Acknowledge with our own ZFIN and
// finish; "OO" is sent over the raw wire outside the header framing, per
// the teacher's handling of the classic "over and out" handshake.
func (r *receiverEngine) onZFIN(data [4]byte) error {
	s := r.s
	s.sendHeader(ZFIN, [4]byte{})
	s.host.SendBytes([]byte("OO"))
	s.protoState = StateDone
	return nil
}
