package zmodem

import (
	"testing"
)

// nullHost is a Host that records nothing and never offers or skips a
// file; suitable for tests that only exercise session-level plumbing
// rather than a full transfer.
type nullHost struct {
	sent   [][]byte
	status []StatusKind
}

func (h *nullHost) SendBytes(buf []byte) {
	h.sent = append(h.sent, append([]byte{}, buf...))
}
func (h *nullHost) FlushInput()          {}
func (h *nullHost) FlushOutput()         {}
func (h *nullHost) Attention(seq []byte) {}
func (h *nullHost) Status(kind StatusKind, value int64, msg string) {
	h.status = append(h.status, kind)
}
func (h *nullHost) OpenFile(IncomingFile) (FileHandle, bool, error) { return nil, true, nil }
func (h *nullHost) WriteFile(FileHandle, []byte) error              { return nil }
func (h *nullHost) CloseFile(FileHandle) error                      { return nil }
func (h *nullHost) IdleBytes(buf []byte)                            {}

func TestSessionFiveConsecutiveCANsCancel(t *testing.T) {
	host := &nullHost{}
	s := NewReceiverSession(host, DefaultConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := s.FeedBytes([]byte{canByte, canByte, canByte, canByte, canByte})
	if err == nil {
		t.Fatalf("expected cancellation error, got nil")
	}
	if !IsCancelled(err) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if !s.Done() {
		t.Fatalf("session should be Done after 5xCAN")
	}
	if len(host.status) == 0 || host.status[len(host.status)-1] != StatusRemoteCancel {
		t.Fatalf("expected a StatusRemoteCancel report, got %v", host.status)
	}
}

func TestSessionCANCountResetsOnOtherByte(t *testing.T) {
	host := &nullHost{}
	s := NewReceiverSession(host, DefaultConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Four CANs, then a non-CAN byte, then four more CANs: a genuine
	// 5-in-a-row run never occurs, so this must not cancel.
	if err := s.FeedBytes([]byte{canByte, canByte, canByte, canByte}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.FeedBytes([]byte{0x00}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.FeedBytes([]byte{canByte, canByte, canByte, canByte}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Done() {
		t.Fatalf("session should not be Done without 5 consecutive CANs")
	}
}

func TestSessionAbortSendsCancelSequenceAndFinishes(t *testing.T) {
	host := &nullHost{}
	s := NewSenderSession(host, DefaultConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	host.sent = nil

	s.Abort()

	if !s.Done() {
		t.Fatalf("session should be Done after Abort")
	}
	if !IsCancelled(s.Err()) {
		t.Fatalf("Err() = %v, want ErrCancelled", s.Err())
	}
	if len(host.sent) != 1 {
		t.Fatalf("expected exactly one SendBytes call from Abort, got %d", len(host.sent))
	}
	out := host.sent[0]
	for i := 0; i < 8; i++ {
		if out[i] != canByte {
			t.Fatalf("byte %d = %#x, want CAN", i, out[i])
		}
	}
	for i := 8; i < len(out); i++ {
		if out[i] != 0x08 {
			t.Fatalf("byte %d = %#x, want backspace", i, out[i])
		}
	}

	// Abort is idempotent: a second call must not send anything further
	// or overwrite the terminal error.
	host.sent = nil
	s.Abort()
	if len(host.sent) != 0 {
		t.Fatalf("second Abort call sent bytes, want none: %v", host.sent)
	}
}

func TestSessionFeedBytesAfterDoneReturnsStoredError(t *testing.T) {
	host := &nullHost{}
	s := NewReceiverSession(host, DefaultConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Abort()
	want := s.Err()

	if err := s.FeedBytes([]byte{0x41}); err != want {
		t.Fatalf("FeedBytes after Done returned %v, want the stored terminal error %v", err, want)
	}
	if err := s.OnTimeout(); err != want {
		t.Fatalf("OnTimeout after Done returned %v, want the stored terminal error %v", err, want)
	}
}

func TestSessionNoiseBeyondMaxNoiseIsProtocolError(t *testing.T) {
	host := &nullHost{}
	cfg := DefaultConfig()
	cfg.MaxNoise = 4
	s := NewReceiverSession(host, cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	garbage := make([]byte, 10)
	for i := range garbage {
		garbage[i] = 0x55 // never ZPAD, so feedIdle counts every byte as noise
	}

	err := s.FeedBytes(garbage)
	if err == nil {
		t.Fatalf("expected a protocol error once MaxNoise is exceeded")
	}
	if !Is(err, ErrProtocolError) {
		t.Fatalf("err = %v, want ErrProtocolError", err)
	}
}

func TestSessionCurrentTimeoutSecondsReflectsConfig(t *testing.T) {
	host := &nullHost{}
	cfg := DefaultConfig()
	cfg.TimeoutSeconds = 42
	s := NewReceiverSession(host, cfg)
	if got := s.CurrentTimeoutSeconds(); got != 42 {
		t.Fatalf("CurrentTimeoutSeconds = %d, want 42", got)
	}
}

func TestSessionQueueFileBeforeStart(t *testing.T) {
	host := &nullHost{}
	s := NewSenderSession(host, DefaultConfig())
	s.QueueFile(memFile("a.txt", []byte("a")))
	s.QueueFile(memFile("b.txt", []byte("b")))

	if len(s.pendingFiles) != 2 {
		t.Fatalf("pendingFiles = %d, want 2", len(s.pendingFiles))
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}
