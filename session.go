package zmodem

import "time"

// Role identifies which side of a transfer a Session plays.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// Protocol identifies which wire protocol a Session negotiated to.
type Protocol int

const (
	ProtocolZmodem Protocol = iota
	ProtocolYmodem
	ProtocolXmodem
)

// ProtoState enumerates the protocol FSM states of spec §4.4. Sender and
// receiver states share one enum (spec §3.1) so a single Session field can
// hold either role's current state.
type ProtoState int

const (
	StateRStart ProtoState = iota
	StateRSinitWait
	StateRFileName
	StateRCrc
	StateRFile
	StateRData
	StateRFinish
	StateTStart
	StateTInit
	StateFileWait
	StateCrcWait
	StateSending
	StateSendEof
	StateTFinish
	StateDone
	StateCancelled
)

func (s ProtoState) String() string {
	switch s {
	case StateRStart:
		return "RStart"
	case StateRSinitWait:
		return "RSinitWait"
	case StateRFileName:
		return "RFileName"
	case StateRCrc:
		return "RCrc"
	case StateRFile:
		return "RFile"
	case StateRData:
		return "RData"
	case StateRFinish:
		return "RFinish"
	case StateTStart:
		return "TStart"
	case StateTInit:
		return "TInit"
	case StateFileWait:
		return "FileWait"
	case StateCrcWait:
		return "CrcWait"
	case StateSending:
		return "Sending"
	case StateSendEof:
		return "SendEof"
	case StateTFinish:
		return "TFinish"
	case StateDone:
		return "Done"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// InputState enumerates the lexical FSM states of spec §4.3.
type InputState int

const (
	InputIdle InputState = iota
	InputPadding
	InputHexHeader
	InputHeader16
	InputHeader32
	InputData
	InputCrc
	InputFinish
	InputYSend
	InputYRcv
)

// StreamingMode is the sender's subpacket-acknowledgement discipline,
// derived from the peer's ZRINIT capabilities (spec §4.4.1).
type StreamingMode int

const (
	StreamingFull StreamingMode = iota
	StreamingWindow
	StreamingSliding
	StreamingSegmented
)

func (m StreamingMode) String() string {
	switch m {
	case StreamingFull:
		return "Full"
	case StreamingWindow:
		return "StrWindow"
	case StreamingSliding:
		return "SlidingWindow"
	case StreamingSegmented:
		return "Segmented"
	default:
		return "Unknown"
	}
}

// FileHandle is an opaque host-owned file descriptor. The core never
// inspects it; it only ever passes it back to Host.WriteFile/Host.CloseFile.
type FileHandle any

// Host is the set of callbacks the engine requires from its embedder (spec
// §6.1). The core performs no I/O itself — every wire byte and every file
// byte crosses this boundary.
type Host interface {
	// SendBytes writes buf to the wire. Synchronous; whatever is
	// written is the sole wire output for this call.
	SendBytes(buf []byte)
	// FlushInput discards any queued, not-yet-fed input bytes.
	FlushInput()
	// FlushOutput ensures previously enqueued output is on the wire.
	FlushOutput()
	// Attention emits attnSeq honoring ATTNBRK/ATTNPSE substitution.
	Attention(attnSeq []byte)
	// Status reports an informational event (spec §6.1).
	Status(kind StatusKind, value int64, msg string)
	// OpenFile asks the host to accept or skip an incoming file and
	// returns the handle to write to.
	OpenFile(info IncomingFile) (handle FileHandle, skip bool, err error)
	// WriteFile appends buf at the file's current offset.
	WriteFile(handle FileHandle, buf []byte) error
	// CloseFile is called exactly once per handle OpenFile returned.
	CloseFile(handle FileHandle) error
	// IdleBytes receives text seen on the wire while the core was idle.
	IdleBytes(buf []byte)
}

// StatusKind categorizes a Host.Status call.
type StatusKind int

const (
	StatusBytesSent StatusKind = iota
	StatusBytesReceived
	StatusRetry
	StatusFileStart
	StatusFileEnd
	StatusFileSkip
	StatusProtocolError
	StatusRemoteCancel
	StatusDataError
	StatusStreamingMode
)

// IncomingFile describes a file offered by the peer's ZFILE header.
type IncomingFile struct {
	Name           string
	Len            int64
	Date           time.Time
	Mode           uint32
	FilesRemaining int
	BytesRemaining int64
}

// OutgoingFile describes a file the host asks the sender to transmit.
type OutgoingFile struct {
	Name string
	Len  int64
	Date time.Time
	Mode uint32
	Read func(buf []byte, offset int64) (int, error)
}

// Config controls session-wide policy. Fields follow the teacher's
// Config/SenderConfig/ReceiverConfig split (session.go, sender.go,
// receiver.go), merged into one struct addressing spec §3.1's capability
// bitset and streaming fields.
type Config struct {
	Use32BitCRC      bool
	EscapeControl    bool
	Escape8thBit     bool
	WindowSize       int
	BlockSize        int
	MaxBlockSize     int
	ZNulls           int
	Attention        []byte
	MaxErrs          int
	MaxRetries       int
	MaxNoise         int
	TimeoutSeconds   int
	EventSink        EventSink
}

func (c *Config) defaults() {
	if c.BlockSize <= 0 {
		c.BlockSize = 1024
	}
	if c.MaxBlockSize <= 0 {
		c.MaxBlockSize = 8192
	}
	if c.MaxErrs <= 0 {
		c.MaxErrs = 20
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.MaxNoise <= 0 {
		c.MaxNoise = 1400 + 2400
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
	if c.EventSink == nil {
		c.EventSink = NoopEventSink{}
	}
}

// DefaultConfig returns a Config with the teacher's defaults.
func DefaultConfig() *Config {
	return &Config{
		Use32BitCRC:    true,
		WindowSize:     0,
		BlockSize:      1024,
		MaxBlockSize:   8192,
		ZNulls:         0,
		Attention:      []byte{0x03, ATTNPSE, 0},
		MaxErrs:        20,
		MaxRetries:     10,
		MaxNoise:       1400 + 2400,
		TimeoutSeconds: 10,
	}
}

// Session holds everything about one transfer or transfer sequence (spec
// §3.1). It is consumed by Abort or by reaching the terminal Done state.
type Session struct {
	cfg  Config
	host Host

	role     Role
	protocol Protocol

	protoState  ProtoState
	inputState  InputState

	rcvCapabilities byte
	sndCapabilities byte
	attentionSeq    []byte

	preferredPacketSize int
	windowSize          int
	rcvBufferSize       int
	streamingMode       StreamingMode

	offset           int64
	lastAckedOffset  int64
	zrposOffset      int64

	fileHandle     FileHandle
	fileLen        int64
	fileDate       time.Time
	fileMode       uint32
	fileType       byte
	filesRemaining int
	bytesRemaining int64

	fileFlags [4]byte

	crc32       bool
	packetCount int
	errCount    int
	timeoutCount int
	canCount    int
	noiseCount  int

	escapePending bool
	interruptFlag bool
	waitFlag      bool

	packetType byte
	dataType   byte

	chrCount int
	crcCount int
	crc      uint32
	hdrData  [5]byte
	lastTerminator byte

	buffer []byte

	enc *encoder

	lex *lexer

	sender   *senderEngine
	receiver *receiverEngine

	outgoing *OutgoingFile
	pendingFiles []OutgoingFile

	done    bool
	lastErr error
}

// NewSenderSession creates a Session ready to drive a ZMODEM send.
func NewSenderSession(host Host, cfg *Config) *Session {
	s := newSession(host, cfg, RoleSender)
	s.protoState = StateTStart
	s.sender = newSenderEngine(s)
	return s
}

// NewReceiverSession creates a Session ready to drive a ZMODEM receive.
func NewReceiverSession(host Host, cfg *Config) *Session {
	s := newSession(host, cfg, RoleReceiver)
	s.protoState = StateRStart
	s.receiver = newReceiverEngine(s)
	return s
}

func newSession(host Host, cfg *Config, role Role) *Session {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.defaults()

	s := &Session{
		cfg:          c,
		host:         host,
		role:         role,
		protocol:     ProtocolZmodem,
		inputState:   InputIdle,
		windowSize:   c.WindowSize,
		crc32:        c.Use32BitCRC,
		attentionSeq: c.Attention,
		buffer:       make([]byte, 0, 8192),
	}
	s.enc = newEncoder(escapeMode{escapeControl: c.EscapeControl, escape8thBit: c.Escape8thBit})
	s.lex = newLexer(s)
	return s
}

// QueueFile adds a file to the sender's outgoing queue. Call before Start,
// or any time before the session reaches StateTFinish, to offer another
// file in the same batch.
func (s *Session) QueueFile(f OutgoingFile) {
	s.pendingFiles = append(s.pendingFiles, f)
}

// Start emits the session's opening header. The host must call this
// exactly once, before the first FeedBytes, since the protocol has no
// other way to speak first.
func (s *Session) Start() error {
	switch s.role {
	case RoleSender:
		return s.sender.start()
	case RoleReceiver:
		return s.receiver.start()
	}
	return nil
}

// CurrentTimeoutSeconds returns the host-facing timeout hint for the
// session's current state (spec §9 "Timeouts" — the host drives the clock).
func (s *Session) CurrentTimeoutSeconds() int {
	return s.cfg.TimeoutSeconds
}

// FeedBytes is the single entry point driving the whole pipeline: wire ->
// lexical FSM -> protocol FSM -> action -> bytes queued back to the host.
// Bytes are processed strictly in order (spec §5).
func (s *Session) FeedBytes(buf []byte) error {
	if s.done {
		return s.lastErr
	}
	for _, b := range buf {
		if err := s.feedByte(b); err != nil {
			s.finish(err)
			return err
		}
	}
	return nil
}

func (s *Session) feedByte(b byte) error {
	// Five consecutive CANs anywhere drive the session to Cancelled
	// within one FeedBytes call, regardless of prior state (spec §8).
	if b == canByte {
		s.canCount++
		if s.canCount >= 5 {
			s.cfg.EventSink.OnEvent(Event{Kind: EventCancelled, State: s.protoState, FrameType: -1, Message: "remote cancel (5xCAN)"})
			s.host.Status(StatusRemoteCancel, 0, "remote cancel")
			return NewError(ErrCancelled, "remote sent 5 consecutive CAN bytes")
		}
	} else {
		s.canCount = 0
	}
	return s.lex.feed(b)
}

// OnTimeout drives retransmits. The host calls this when
// CurrentTimeoutSeconds have elapsed without further input.
func (s *Session) OnTimeout() error {
	if s.done {
		return s.lastErr
	}
	s.timeoutCount++
	var err error
	switch s.role {
	case RoleSender:
		err = s.sender.onTimeout()
	case RoleReceiver:
		err = s.receiver.onTimeout()
	}
	if err != nil {
		s.finish(err)
	}
	return err
}

// Abort forces the session to Done and flushes the cancel sequence (spec
// §4.6 "Sender cancel").
func (s *Session) Abort() {
	if s.done {
		return
	}
	s.sendCancelBarrage()
	s.finish(NewError(ErrCancelled, "aborted by host"))
}

// sendCancelBarrage writes the eight-CAN, ten-backspace shutdown sequence
// (spec §4.6 "Sender cancel"), grounded on the teacher's ZmodemAbort. It is
// the generic wire epitaph for a fatal condition the core hit on its own,
// not in reply to some specific peer header.
func (s *Session) sendCancelBarrage() {
	out := make([]byte, 0, 8+10)
	for i := 0; i < 8; i++ {
		out = append(out, canByte)
	}
	for i := 0; i < 10; i++ {
		out = append(out, 0x08) // backspace, erases echoed CANs on a terminal
	}
	s.host.SendBytes(out)
	s.host.FlushOutput()
}

// sendAttention emits the negotiated attention sequence to the host (spec
// §4.4.3); the host is responsible for the ATTNBRK/ATTNPSE substitutions.
// A peer that never sent ZSINIT leaves attentionSeq at Config.Attention.
func (s *Session) sendAttention() {
	if len(s.attentionSeq) > 0 {
		s.host.Attention(s.attentionSeq)
	}
}

// NotifyAttentionSeen tells the sender session that the receiver's
// attention sequence has arrived on the wire mid-stream (spec §4.4.3); the
// sender sets interruptFlag, flushes output, and waits for ZRPOS.
func (s *Session) NotifyAttentionSeen() {
	s.interruptFlag = true
	s.host.FlushOutput()
}

func (s *Session) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.lastErr = err
	s.emitEpitaph(err)
}

// emitEpitaph sends the wire closing sequence a fatal status requires (spec
// §7 "the core emits the appropriate wire epitaph... before returning").
// ErrDone needs nothing (the handshake that reached StateDone already
// finished it); ErrCancelled needs nothing either — a remote 5xCAN leaves no
// one listening, and Abort has already sent its own barrage before calling
// finish. Every other fatal status is something the core discovered on its
// own (a timeout, an exhausted retry count, a local I/O failure) with no
// specific peer header to reply to, so it falls back to the same
// CAN-barrage Abort uses, grounded on the teacher's ZmodemAbort being the
// one generic "give up now" routine in the original source.
func (s *Session) emitEpitaph(err error) {
	e, ok := err.(*Error)
	if !ok {
		return
	}
	switch e.Type {
	case ErrDone, ErrCancelled:
		return
	default:
		s.sendCancelBarrage()
	}
}

// Err returns the terminal error the session finished with, or nil while
// still running.
func (s *Session) Err() error { return s.lastErr }

// Done reports whether the session has reached a terminal state.
func (s *Session) Done() bool { return s.done }
