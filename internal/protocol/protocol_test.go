package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nabbar/filestore/internal/codeerr"
)

func TestReadLineLFOnly(t *testing.T) {
	c := NewConn(strings.NewReader("LOGIN alice pw\n"), &bytes.Buffer{})
	line, err := c.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "LOGIN alice pw" {
		t.Fatalf("got %q", line)
	}
}

func TestReadLineTolerentesCR(t *testing.T) {
	c := NewConn(strings.NewReader("LOGIN alice pw\r\n"), &bytes.Buffer{})
	line, err := c.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "LOGIN alice pw" {
		t.Fatalf("got %q", line)
	}
}

func TestReadLineEOF(t *testing.T) {
	c := NewConn(strings.NewReader(""), &bytes.Buffer{})
	if _, err := c.ReadLine(); codeerr.CodeOf(err) != codeerr.Transport {
		t.Fatalf("expected Transport error on EOF, got %v", err)
	}
}

func TestReadLineOversize(t *testing.T) {
	oversized := strings.Repeat("a", MaxLineLength+1) + "\n"
	c := NewConn(strings.NewReader(oversized), &bytes.Buffer{})
	if _, err := c.ReadLine(); codeerr.CodeOf(err) != codeerr.Transport {
		t.Fatalf("expected Transport error on oversize line, got %v", err)
	}
}

func TestWriteLineAppendsLF(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(strings.NewReader(""), &buf)
	if err := c.WriteLine("OK: done"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "OK: done\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestReadExactReturnsBody(t *testing.T) {
	body := "hello world"
	c := NewConn(strings.NewReader(body), &bytes.Buffer{})
	got, err := c.ReadExact(int64(len(body)))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != body {
		t.Fatalf("got %q", got)
	}
}

func TestCopyExactStreamsToWriter(t *testing.T) {
	body := "the quick brown fox"
	c := NewConn(strings.NewReader(body), &bytes.Buffer{})
	var dst bytes.Buffer
	if err := c.CopyExact(&dst, int64(len(body))); err != nil {
		t.Fatal(err)
	}
	if dst.String() != body {
		t.Fatalf("got %q", dst.String())
	}
}

func TestReadExactShortReadIsTransportError(t *testing.T) {
	c := NewConn(strings.NewReader("short"), &bytes.Buffer{})
	if _, err := c.ReadExact(100); codeerr.CodeOf(err) != codeerr.Transport {
		t.Fatalf("expected Transport error on short read, got %v", err)
	}
}
