// Package transport adapts the zmodem engine's Host callback contract to
// real I/O: a plain io.ReadWriter, an SSH session, or a terminal stream
// being scanned for an inbound transfer. The engine itself never touches
// net, ssh, or the filesystem — these adapters are where that happens.
package transport

import (
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nightfall-wire/go-zmodem"
)

// FileHost implements zmodem.Host by writing accepted files under Dir and
// writing outgoing bytes to an io.Writer. Grounded on the teacher's
// sshReader/TerminalIO split between wire I/O and session plumbing
// (zmodem/ssh.go, zmodem/terminal.go), adapted to the callback-driven Host
// shape instead of a blocking Session.
type FileHost struct {
	Dir    string
	Writer io.Writer
	Logger *log.Logger

	// Overwrite controls whether OpenFile clobbers an existing file of
	// the same name instead of skipping it.
	Overwrite bool
}

// NewFileHost returns a FileHost writing into dir with the package-level
// logrus logger.
func NewFileHost(dir string, w io.Writer) *FileHost {
	return &FileHost{Dir: dir, Writer: w, Logger: log.StandardLogger()}
}

func (h *FileHost) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.StandardLogger()
}

func (h *FileHost) SendBytes(buf []byte) {
	if _, err := h.Writer.Write(buf); err != nil {
		h.logger().WithError(err).Warn("zmodem: write to transport failed")
	}
}

func (h *FileHost) FlushInput() {}

func (h *FileHost) FlushOutput() {
	if f, ok := h.Writer.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}

func (h *FileHost) Attention(seq []byte) {
	out := make([]byte, 0, len(seq))
	for _, b := range seq {
		switch b {
		case zmodem.ATTNBRK:
			// A real break needs a transport-level signal; over a plain
			// stream the closest equivalent is a NUL.
			out = append(out, 0)
		case zmodem.ATTNPSE:
			h.SendBytes(out)
			out = out[:0]
			time.Sleep(time.Second)
		default:
			out = append(out, b)
		}
	}
	h.SendBytes(out)
}

func (h *FileHost) Status(kind zmodem.StatusKind, value int64, msg string) {
	h.logger().WithFields(log.Fields{"kind": kind, "value": value}).Debug(msg)
}

func (h *FileHost) OpenFile(info zmodem.IncomingFile) (zmodem.FileHandle, bool, error) {
	name := zmodem.SanitizeFilename(info.Name)
	path := filepath.Join(h.Dir, name)
	if !h.Overwrite {
		if _, err := os.Stat(path); err == nil {
			h.logger().WithField("file", name).Info("zmodem: skipping existing file")
			return nil, true, nil
		}
	}
	mode := os.FileMode(0644)
	if info.Mode != 0 {
		mode = os.FileMode(info.Mode) & os.ModePerm
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return nil, false, err
	}
	return f, false, nil
}

func (h *FileHost) WriteFile(handle zmodem.FileHandle, buf []byte) error {
	f := handle.(*os.File)
	_, err := f.Write(buf)
	return err
}

func (h *FileHost) CloseFile(handle zmodem.FileHandle) error {
	f := handle.(*os.File)
	return f.Close()
}

func (h *FileHost) IdleBytes(buf []byte) {
	if h.Writer != os.Stdout {
		os.Stdout.Write(buf)
	}
}

// OutgoingFileFromPath builds a zmodem.OutgoingFile reading path lazily
// through a single retained *os.File, the shape Session.QueueFile takes.
func OutgoingFileFromPath(path string) (zmodem.OutgoingFile, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return zmodem.OutgoingFile{}, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return zmodem.OutgoingFile{}, nil, err
	}
	of := zmodem.OutgoingFile{
		Name: filepath.Base(path),
		Len:  info.Size(),
		Date: info.ModTime(),
		Mode: uint32(info.Mode().Perm()),
		Read: func(buf []byte, offset int64) (int, error) {
			return f.ReadAt(buf, offset)
		},
	}
	return of, f.Close, nil
}
