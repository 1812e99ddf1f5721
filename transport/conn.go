package transport

import (
	"context"
	"io"
	"time"

	"github.com/nightfall-wire/go-zmodem"
)

// Engine is the subset of zmodem.Session / zmodem.YmodemSession that a
// transport pump needs. Both satisfy it, so RunEngine works for either a
// negotiated ZMODEM transfer or a YMODEM/XMODEM fallback.
type Engine interface {
	Start() error
	FeedBytes([]byte) error
	OnTimeout() error
	Done() bool
	Err() error
}

// RunEngine drives engine to completion against r, writing the engine's
// reply bytes through whatever Host r's caller wired up (the Host itself
// holds the io.Writer half; RunEngine only owns the read loop and the
// timeout clock). Grounded on the teacher's TerminalIO read loop
// (zmodem/terminal.go), replacing its goroutine-per-mutex polling with a
// single select over a read channel and a timer — the idiomatic Go
// rendition of "the host owns the clock" (spec §9).
func RunEngine(ctx context.Context, r io.Reader, engine Engine) error {
	if err := engine.Start(); err != nil {
		return err
	}

	type readResult struct {
		buf []byte
		err error
	}
	reads := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				cp := make([]byte, n)
				copy(cp, buf[:n])
				reads <- readResult{buf: cp}
			}
			if err != nil {
				reads <- readResult{err: err}
				return
			}
		}
	}()

	timer := time.NewTimer(timeoutFor(engine))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-reads:
			if res.err != nil {
				if engine.Done() {
					return engine.Err()
				}
				if res.err == io.EOF {
					return zmodem.NewError(zmodem.ErrReceiveTimeout, "transport closed before transfer finished")
				}
				return res.err
			}
			if err := engine.FeedBytes(res.buf); err != nil {
				return err
			}
			if engine.Done() {
				return engine.Err()
			}
			resetTimer(timer, timeoutFor(engine))
		case <-timer.C:
			if err := engine.OnTimeout(); err != nil {
				return err
			}
			if engine.Done() {
				return engine.Err()
			}
			resetTimer(timer, timeoutFor(engine))
		}
	}
}

// timed is implemented by both zmodem.Session and zmodem.YmodemSession.
type timed interface {
	CurrentTimeoutSeconds() int
}

func timeoutFor(engine Engine) time.Duration {
	if t, ok := engine.(timed); ok {
		return time.Duration(t.CurrentTimeoutSeconds()) * time.Second
	}
	return 10 * time.Second
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
