package transport

import (
	"bytes"
	"context"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/nightfall-wire/go-zmodem"
)

// zrqinitHex and zrinitHex are the fixed prefixes of hex-encoded ZRQINIT
// and ZRINIT headers: ZPAD ZPAD ZDLE ZHEX, frame type "00" or "01". A
// remote sender ("sz") opens with ZRQINIT, a remote receiver ("rz") with
// ZRINIT; only these trigger auto-detection — a stray ZFIN or ZACK
// mid-stream must not start a new session (grounded on the teacher's
// findZModemStartInBuffer, zmodem/terminal.go).
var zrqinitHex = []byte{'*', '*', zmodem.ZDLE, zmodem.ZHEX, '0', '0'}
var zrinitHex = []byte{'*', '*', zmodem.ZDLE, zmodem.ZHEX, '0', '1'}

// TerminalWatcher passes an interactive session's output through to a
// local terminal unmodified until it spots an inbound ZMODEM transfer,
// then hands control to a receiver Session for the duration of the
// transfer before resuming passthrough.
type TerminalWatcher struct {
	Remote io.Reader
	Local  io.Writer
	Dir    string

	// Uploads, if non-empty, switch the watcher from downloads to uploads:
	// it then waits for the ZRINIT of the remote's "rz" instead of a
	// remote sender's ZRQINIT, and answers it with a sender session
	// offering these files.
	Uploads []zmodem.OutgoingFile

	scan []byte
}

// NewTerminalWatcher wraps remote (e.g. an ssh session's stdout) for
// passthrough to local (e.g. os.Stdout), auto-detecting ZMODEM downloads
// into dir.
func NewTerminalWatcher(remote io.Reader, local io.Writer, dir string) *TerminalWatcher {
	return &TerminalWatcher{Remote: remote, Local: local, Dir: dir}
}

// RunRaw puts the local terminal (fd) into raw mode for the duration of
// fn, restoring it on return — the same MakeRaw/Restore pairing the
// teacher's example SSH client uses around its interactive session
// (examples/sshClient.go).
func RunRaw(fd int, fn func() error) error {
	old, err := term.MakeRaw(fd)
	if err != nil {
		return fn()
	}
	defer term.Restore(fd, old)
	return fn()
}

// Watch copies w.Remote to w.Local, intercepting and running a receiver
// Session whenever a ZRQINIT header is seen (or, with Uploads queued, a
// sender Session whenever a ZRINIT header is seen), until ctx is
// cancelled or the remote stream ends.
func (w *TerminalWatcher) Watch(ctx context.Context, reply io.Writer) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := w.Remote.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			w.scan = append(w.scan, chunk...)
			if len(w.scan) > 64 {
				w.scan = w.scan[len(w.scan)-64:]
			}
			trigger := zrqinitHex
			if len(w.Uploads) > 0 {
				trigger = zrinitHex
			}
			if idx := bytes.Index(w.scan, trigger); idx >= 0 {
				lead := w.scan[:idx]
				if len(lead) > 0 {
					w.Local.Write(lead)
				}
				log.StandardLogger().Info("transport: inbound ZMODEM transfer detected")
				if err := w.runInboundTransfer(ctx, reply); err != nil {
					return err
				}
				w.scan = w.scan[:0]
				continue
			}
			w.Local.Write(chunk)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (w *TerminalWatcher) runInboundTransfer(ctx context.Context, reply io.Writer) error {
	host := NewFileHost(w.Dir, reply)

	if len(w.Uploads) > 0 {
		// The remote just announced ZRINIT — it's running "rz" and is
		// ready to receive, so answer with a sender session instead of a
		// receiver one.
		engine := zmodem.NewSenderSession(host, zmodem.DefaultConfig())
		for _, f := range w.Uploads {
			engine.QueueFile(f)
		}
		return RunEngine(ctx, w.Remote, engine)
	}

	engine := zmodem.NewReceiverSession(host, zmodem.DefaultConfig())
	// The remote sender's ZRQINIT prefix is already consumed; the only
	// reply it needs is the ZRINIT the engine sends from Start.
	return RunEngine(ctx, w.Remote, engine)
}

// DefaultStdoutHost is a convenience FileHost for a plain interactive
// CLI: files land in dir, terminal passthrough goes to os.Stdout.
func DefaultStdoutHost(dir string) *FileHost {
	return NewFileHost(dir, os.Stdout)
}
