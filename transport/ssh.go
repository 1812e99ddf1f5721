package transport

import (
	"context"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/nightfall-wire/go-zmodem"
)

// SSHRunner wires a zmodem transfer to one exec channel of an
// *ssh.Session, the pattern the teacher's SSHSession follows (zmodem/ssh.go)
// but built on RunEngine's read-loop instead of the teacher's blocking
// Session.SendFiles/ReceiveFiles.
type SSHRunner struct {
	Session *ssh.Session
	Host    *FileHost
}

// NewSSHRunner opens stdin/stdout pipes on sess and returns a runner whose
// Host writes outgoing bytes to stdin and accepted files under dir.
func NewSSHRunner(sess *ssh.Session, dir string) (*SSHRunner, error) {
	stdin, err := sess.StdinPipe()
	if err != nil {
		return nil, err
	}
	return &SSHRunner{
		Session: sess,
		Host:    NewFileHost(dir, stdin),
	}, nil
}

// Receive starts the remote "sz" (send zmodem) command and drives a
// receiver Session against its stdout until the transfer finishes.
func (r *SSHRunner) Receive(ctx context.Context, cfg *zmodem.Config) error {
	stdout, err := r.Session.StdoutPipe()
	if err != nil {
		return err
	}
	if err := r.Session.Start("sz --zmodem -e"); err != nil {
		return err
	}
	engine := zmodem.NewReceiverSession(r.Host, cfg)
	err = RunEngine(ctx, stdout, engine)
	if closeErr := r.closeStdin(); err == nil {
		err = closeErr
	}
	if waitErr := r.Session.Wait(); err == nil {
		err = waitErr
	}
	return err
}

// Send starts the remote "rz" (receive zmodem) command and drives a
// sender Session over its stdin/stdout.
func (r *SSHRunner) Send(ctx context.Context, cfg *zmodem.Config, files ...zmodem.OutgoingFile) error {
	stdout, err := r.Session.StdoutPipe()
	if err != nil {
		return err
	}
	if err := r.Session.Start("rz --zmodem"); err != nil {
		return err
	}
	engine := zmodem.NewSenderSession(r.Host, cfg)
	for _, f := range files {
		engine.QueueFile(f)
	}
	err = RunEngine(ctx, stdout, engine)
	if closeErr := r.closeStdin(); err == nil {
		err = closeErr
	}
	if waitErr := r.Session.Wait(); err == nil {
		err = waitErr
	}
	return err
}

func (r *SSHRunner) closeStdin() error {
	if c, ok := r.Host.Writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
