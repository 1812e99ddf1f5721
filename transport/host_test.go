package transport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nightfall-wire/go-zmodem"
)

func TestFileHostOpenWriteCloseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	host := NewFileHost(dir, &out)

	handle, skip, err := host.OpenFile(zmodem.IncomingFile{Name: "notes.txt", Mode: 0644})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if skip {
		t.Fatalf("OpenFile unexpectedly skipped a fresh file")
	}

	if err := host.WriteFile(handle, []byte("line one\n")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := host.WriteFile(handle, []byte("line two\n")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := host.CloseFile(handle); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(got) != "line one\nline two\n" {
		t.Fatalf("file contents = %q, want %q", got, "line one\nline two\n")
	}
}

func TestFileHostSkipsExistingFileWithoutOverwrite(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "keep.txt")
	if err := os.WriteFile(existing, []byte("original"), 0644); err != nil {
		t.Fatalf("seeding existing file: %v", err)
	}

	host := NewFileHost(dir, &bytes.Buffer{})
	_, skip, err := host.OpenFile(zmodem.IncomingFile{Name: "keep.txt"})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if !skip {
		t.Fatalf("OpenFile should skip an existing file when Overwrite is false")
	}

	got, err := os.ReadFile(existing)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("existing file was modified: %q", got)
	}
}

func TestFileHostOverwriteTrueClobbersExisting(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "keep.txt")
	if err := os.WriteFile(existing, []byte("original"), 0644); err != nil {
		t.Fatalf("seeding existing file: %v", err)
	}

	host := NewFileHost(dir, &bytes.Buffer{})
	host.Overwrite = true
	handle, skip, err := host.OpenFile(zmodem.IncomingFile{Name: "keep.txt"})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if skip {
		t.Fatalf("OpenFile should not skip when Overwrite is true")
	}
	if err := host.WriteFile(handle, []byte("replaced")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := host.CloseFile(handle); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}

	got, err := os.ReadFile(existing)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if string(got) != "replaced" {
		t.Fatalf("file contents = %q, want %q", got, "replaced")
	}
}

func TestFileHostOpenFileSanitizesDirectoryComponents(t *testing.T) {
	dir := t.TempDir()
	host := NewFileHost(dir, &bytes.Buffer{})

	handle, skip, err := host.OpenFile(zmodem.IncomingFile{Name: "../../etc/passwd"})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if skip {
		t.Fatalf("OpenFile unexpectedly skipped")
	}
	if err := host.CloseFile(handle); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "passwd")); err != nil {
		t.Fatalf("expected sanitized file under dir: %v", err)
	}
	if _, err := os.Stat("/etc/passwd.zmodemtest"); err == nil {
		t.Fatalf("path traversal escaped the destination directory")
	}
}

func TestFileHostSendBytesWritesToWriter(t *testing.T) {
	var out bytes.Buffer
	host := NewFileHost(t.TempDir(), &out)
	host.SendBytes([]byte("hello wire"))
	if out.String() != "hello wire" {
		t.Fatalf("writer contents = %q, want %q", out.String(), "hello wire")
	}
}

func TestOutgoingFileFromPathReadsContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	content := []byte("some file content")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	of, closeFn, err := OutgoingFileFromPath(path)
	if err != nil {
		t.Fatalf("OutgoingFileFromPath: %v", err)
	}
	defer closeFn()

	if of.Name != "payload.bin" {
		t.Fatalf("Name = %q, want payload.bin", of.Name)
	}
	if of.Len != int64(len(content)) {
		t.Fatalf("Len = %d, want %d", of.Len, len(content))
	}

	buf := make([]byte, len(content))
	n, err := of.Read(buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != string(content) {
		t.Fatalf("Read content = %q, want %q", buf[:n], content)
	}
}
