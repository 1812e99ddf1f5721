package zmodem

import (
	log "github.com/sirupsen/logrus"
)

// EventKind categorizes a protocol event reported to an EventSink.
type EventKind int

const (
	EventFrameSent EventKind = iota
	EventFrameReceived
	EventSubpacketReceived
	EventStateTransition
	EventRetry
	EventTimeout
	EventDataError
	EventCancelled
	EventFileStart
	EventFileComplete
	EventStreamingMode
)

// Event is one occurrence reported by the core to the host's EventSink.
// This mirrors the teacher's Callbacks.OnEvent contract (drunlade's
// callbacks.go), generalized to the richer state machine this engine runs.
type Event struct {
	Kind      EventKind
	State     ProtoState
	FrameType int // -1 when not applicable
	Offset    uint32
	Message   string
}

// EventSink receives protocol events for logging or diagnostics. The core
// never blocks on it and never treats it as part of protocol logic — per
// spec §9 ("Logging") this replaces the teacher's printf-stream diagnostic
// aid with a structured callback.
type EventSink interface {
	OnEvent(Event)
}

// NoopEventSink discards every event.
type NoopEventSink struct{}

func (NoopEventSink) OnEvent(Event) {}

// LogrusSink emits one structured logrus entry per event. Grounded on
// samsamfire/gocanopen's use of logrus throughout its frame-driven SDO/PDO
// state machines (e.g. pkg/sdo/common.go, pkg/sdo/client.go), which is the
// pack's precedent for logging a callback-driven protocol core — the
// teacher's own hand-rolled Logger interface is a CLI-tool convenience, not
// a library logging idiom.
type LogrusSink struct {
	Logger *log.Logger
}

// NewLogrusSink returns a LogrusSink using logger, or the package-level
// default logrus logger if logger is nil.
func NewLogrusSink(logger *log.Logger) *LogrusSink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogrusSink{Logger: logger}
}

func (s *LogrusSink) OnEvent(e Event) {
	entry := s.Logger.WithFields(log.Fields{
		"state":  e.State.String(),
		"offset": e.Offset,
	})
	if e.FrameType >= 0 {
		entry = entry.WithField("frame", FrameTypeName(e.FrameType))
	}
	switch e.Kind {
	case EventDataError, EventCancelled:
		entry.Error(e.Message)
	case EventTimeout, EventRetry:
		entry.Warn(e.Message)
	default:
		entry.Debug(e.Message)
	}
}
