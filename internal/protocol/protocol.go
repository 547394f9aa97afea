// Package protocol implements the file store's line-oriented wire codec:
// LF-terminated command/reply lines with tolerated CR, plus raw
// length-prefixed binary bodies for UPLOAD/DOWNLOAD payloads.
package protocol

import (
	"bufio"
	"io"

	"github.com/nabbar/filestore/internal/codeerr"
)

// MaxLineLength is the maximum line length in bytes, excluding the
// terminator (spec.md §4.3).
const MaxLineLength = 1024

// Conn wraps a connection's reader/writer with the codec operations every
// session worker needs. It owns no socket lifecycle of its own; callers are
// responsible for closing the underlying connection.
type Conn struct {
	r io.Reader
	w io.Writer
	b *bufio.Reader
}

// NewConn wraps rw's read and write sides. Read and write may be the same
// value (as with a net.Conn).
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: r, w: w, b: bufio.NewReader(r)}
}

// ReadLine reads one LF-terminated line, tolerating a preceding CR, and
// returns it without the terminator. Returns codeerr.Transport on EOF and
// on a line exceeding MaxLineLength.
//
// Bytes are read one at a time into a buffer capped at MaxLineLength+1,
// rather than via bufio.Reader.ReadString, which would buffer an
// unbounded line in full before the length check ever runs: a client
// that never sends LF could otherwise grow that buffer without limit.
// This mirrors the original implementation's fixed-size recv buffer.
func (c *Conn) ReadLine() (string, error) {
	line := make([]byte, 0, MaxLineLength+1)
	for {
		b, err := c.b.ReadByte()
		if err != nil {
			if len(line) == 0 {
				return "", codeerr.Wrap(codeerr.Transport, "read line", io.EOF)
			}
			// Partial line followed by EOF: still malformed from the
			// protocol's point of view, since it never saw a terminator.
			return "", codeerr.Wrap(codeerr.Transport, "read line", err)
		}
		if b == '\n' {
			break
		}
		line = append(line, b)
		if len(line) > MaxLineLength {
			return "", codeerr.New(codeerr.Transport, "line exceeds maximum length")
		}
	}

	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

// WriteLine writes text followed by a single LF.
func (c *Conn) WriteLine(text string) error {
	if _, err := io.WriteString(c.w, text); err != nil {
		return codeerr.Wrap(codeerr.Transport, "write line", err)
	}
	if _, err := io.WriteString(c.w, "\n"); err != nil {
		return codeerr.Wrap(codeerr.Transport, "write line", err)
	}
	return nil
}

// ReadExact reads exactly n bytes, used for binary bodies whose length is
// known from a preceding SIZE line. Returns codeerr.Transport on EOF/short
// read.
func (c *Conn) ReadExact(n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.b, buf); err != nil {
		return nil, codeerr.Wrap(codeerr.Transport, "read exact", err)
	}
	return buf, nil
}

// CopyExact copies exactly n bytes from the connection to dst, used when
// streaming a large upload body straight to a file instead of buffering it
// in memory.
func (c *Conn) CopyExact(dst io.Writer, n int64) error {
	if _, err := io.CopyN(dst, c.b, n); err != nil {
		return codeerr.Wrap(codeerr.Transport, "copy exact", err)
	}
	return nil
}

// WriteAll writes the entirety of data.
func (c *Conn) WriteAll(data []byte) error {
	if _, err := c.w.Write(data); err != nil {
		return codeerr.Wrap(codeerr.Transport, "write all", err)
	}
	return nil
}

// CopyAll copies the entirety of src to the connection, used for streaming
// a download body straight from a file.
func (c *Conn) CopyAll(src io.Reader) (int64, error) {
	n, err := io.Copy(c.w, src)
	if err != nil {
		return n, codeerr.Wrap(codeerr.Transport, "copy all", err)
	}
	return n, nil
}
