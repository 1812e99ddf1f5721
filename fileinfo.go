package zmodem

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// marshalFileInfoSubpacket encodes OutgoingFile metadata as the ZFILE data
// subpacket the sender transmits immediately after the ZFILE header.
// Format: <name>\0<size> <modtime-octal> <mode-octal> <serial>[ <files_remaining>[ <bytes_remaining>]]\0
// files_remaining is written only when positive, and bytes_remaining only
// after it and when positive.
func marshalFileInfoSubpacket(f OutgoingFile, filesRemaining int, bytesRemaining int64) []byte {
	name := strings.ReplaceAll(f.Name, "\\", "/")

	var meta strings.Builder
	fmt.Fprintf(&meta, "%d", f.Len)
	if !f.Date.IsZero() {
		fmt.Fprintf(&meta, " %o", f.Date.Unix())
	} else {
		meta.WriteString(" 0")
	}
	fmt.Fprintf(&meta, " %o", f.Mode)
	meta.WriteString(" 0") // serial number, always 0
	if filesRemaining > 0 {
		fmt.Fprintf(&meta, " %d", filesRemaining)
		if bytesRemaining > 0 {
			fmt.Fprintf(&meta, " %d", bytesRemaining)
		}
	}

	out := make([]byte, 0, len(name)+1+meta.Len()+1)
	out = append(out, name...)
	out = append(out, 0)
	out = append(out, meta.String()...)
	out = append(out, 0)
	return out
}

// parseFileInfoSubpacket is the receiver-side inverse of
// marshalFileInfoSubpacket.
func parseFileInfoSubpacket(data []byte) (IncomingFile, error) {
	var info IncomingFile

	nullIdx := -1
	for i, b := range data {
		if b == 0 {
			nullIdx = i
			break
		}
	}
	if nullIdx < 0 {
		return info, NewError(ErrInvalidFrame, "file info subpacket missing filename terminator")
	}
	// An empty name stays empty (it marks YMODEM's end-of-batch block 0);
	// SanitizeFilename would turn it into ".".
	if nullIdx > 0 {
		info.Name = SanitizeFilename(string(data[:nullIdx]))
	}

	rest := data[nullIdx+1:]
	for len(rest) > 0 && rest[len(rest)-1] == 0 {
		rest = rest[:len(rest)-1]
	}
	if len(rest) == 0 {
		return info, nil
	}

	fields := strings.Fields(string(rest))
	if len(fields) > 0 {
		if size, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			info.Len = size
		}
	}
	if len(fields) > 1 {
		if mtime, err := strconv.ParseInt(fields[1], 8, 64); err == nil && mtime > 0 {
			info.Date = time.Unix(mtime, 0)
		}
	}
	if len(fields) > 2 {
		if mode, err := strconv.ParseUint(fields[2], 8, 32); err == nil {
			info.Mode = uint32(mode)
		}
	}
	// fields[3] is the serial number, unused.
	if len(fields) > 4 {
		if fr, err := strconv.Atoi(fields[4]); err == nil {
			info.FilesRemaining = fr
		}
	}
	if len(fields) > 5 {
		if br, err := strconv.ParseInt(fields[5], 10, 64); err == nil {
			info.BytesRemaining = br
		}
	}
	return info, nil
}

// SanitizeFilename strips directory components so a ZFILE offer can never
// write outside the host's chosen destination directory.
func SanitizeFilename(name string) string {
	return filepath.Base(name)
}
