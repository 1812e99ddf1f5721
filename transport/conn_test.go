package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/nightfall-wire/go-zmodem"
)

// fakeEngine is a minimal Engine that finishes as soon as it has seen a
// fixed number of bytes, letting RunEngine's read/timeout loop be tested
// without a real zmodem.Session on either end.
type fakeEngine struct {
	wantBytes int
	seen      int
	timeouts  int
	done      bool
	err       error
}

func (e *fakeEngine) Start() error { return nil }

func (e *fakeEngine) FeedBytes(buf []byte) error {
	e.seen += len(buf)
	if e.seen >= e.wantBytes {
		e.done = true
		e.err = zmodem.NewError(zmodem.ErrDone, "fake transfer complete")
	}
	return nil
}

func (e *fakeEngine) OnTimeout() error {
	e.timeouts++
	return nil
}

func (e *fakeEngine) Done() bool { return e.done }
func (e *fakeEngine) Err() error { return e.err }

func (e *fakeEngine) CurrentTimeoutSeconds() int { return 1 }

func TestRunEngineFeedsBytesUntilDone(t *testing.T) {
	engine := &fakeEngine{wantBytes: 5}
	r := bytes.NewReader([]byte("hello world"))

	err := RunEngine(context.Background(), r, engine)
	if err == nil || !zmodem.IsDone(err) {
		t.Fatalf("RunEngine error = %v, want IsDone", err)
	}
	if engine.seen < 5 {
		t.Fatalf("engine saw %d bytes, want at least 5", engine.seen)
	}
}

// blockingReader never returns, so the only way RunEngine makes progress is
// through its timeout path.
type blockingReader struct {
	unblock chan struct{}
}

func (r *blockingReader) Read(buf []byte) (int, error) {
	<-r.unblock
	return 0, io.EOF
}

func TestRunEngineCallsOnTimeout(t *testing.T) {
	engine := &fakeTimeoutEngine{fireAfter: 2}
	reader := &blockingReader{unblock: make(chan struct{})}
	defer close(reader.unblock)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := RunEngine(ctx, reader, engine)
	if err == nil || !zmodem.IsDone(err) {
		t.Fatalf("RunEngine error = %v, want IsDone once OnTimeout fired enough times", err)
	}
	if engine.timeouts < 2 {
		t.Fatalf("OnTimeout called %d times, want at least 2", engine.timeouts)
	}
}

// fakeTimeoutEngine finishes once OnTimeout has fired fireAfter times,
// simulating a sender that gives up retrying after its retry budget.
type fakeTimeoutEngine struct {
	fireAfter int
	timeouts  int
	done      bool
}

func (e *fakeTimeoutEngine) Start() error          { return nil }
func (e *fakeTimeoutEngine) FeedBytes([]byte) error { return nil }
func (e *fakeTimeoutEngine) OnTimeout() error {
	e.timeouts++
	if e.timeouts >= e.fireAfter {
		e.done = true
	}
	return nil
}
func (e *fakeTimeoutEngine) Done() bool { return e.done }
func (e *fakeTimeoutEngine) Err() error {
	if e.done {
		return zmodem.NewError(zmodem.ErrDone, "fake timeout transfer complete")
	}
	return nil
}
func (e *fakeTimeoutEngine) CurrentTimeoutSeconds() int { return 0 } // sub-second retries for the test

func TestRunEngineSurfacesReadError(t *testing.T) {
	engine := &fakeEngine{wantBytes: 1000}
	boom := errors.New("boom")
	r := &errReader{err: boom}

	err := RunEngine(context.Background(), r, engine)
	if !errors.Is(err, boom) {
		t.Fatalf("RunEngine error = %v, want %v", err, boom)
	}
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }

func TestRunEngineHonorsContextCancellation(t *testing.T) {
	engine := &fakeEngine{wantBytes: 1000}
	reader := &blockingReader{unblock: make(chan struct{})}
	defer close(reader.unblock)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := RunEngine(ctx, reader, engine)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunEngine error = %v, want context.Canceled", err)
	}
}
