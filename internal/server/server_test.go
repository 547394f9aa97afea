package server

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nabbar/filestore/internal/registry"
	"github.com/nabbar/filestore/internal/storage"
)

func newTestServer(t *testing.T, quota int64) (*Server, string) {
	t.Helper()

	dir := t.TempDir()
	reg, err := registry.New(registry.Options{
		Path:       filepath.Join(dir, "users.txt"),
		QuotaLimit: quota,
		MaxUsers:   100,
	})
	if err != nil {
		t.Fatal(err)
	}
	root, err := storage.NewRoot(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatal(err)
	}

	s := New(Deps{
		Registry:                reg,
		Storage:                 root,
		SessionPoolSize:         2,
		FilePoolSize:            2,
		ConnectionQueueCapacity: 4,
		TaskQueueCapacity:       8,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(addr) }()

	// Wait for the listener to actually be accepting.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := net.Dial("tcp", addr); err == nil {
			c.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		if err := s.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("serve did not return after shutdown")
		}
	})

	return s, addr
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	// Registered after newTestServer's Shutdown cleanup, so it runs first
	// (t.Cleanup is LIFO): the client socket closes before the server
	// tries to join its session workers, instead of leaving one blocked
	// forever in ReadLine on a connection nobody ever closes or QUITs.
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatal(err)
	}
}

func (c *testClient) sendBytes(b []byte) {
	c.t.Helper()
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatal(err)
	}
}

func (c *testClient) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("readLine: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) readExact(n int) []byte {
	c.t.Helper()
	buf := make([]byte, n)
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < n {
		k, err := c.r.Read(buf[total:])
		total += k
		if err != nil {
			c.t.Fatalf("readExact: %v", err)
		}
	}
	return buf
}

func (c *testClient) loginAs(username, password string) {
	c.t.Helper()
	c.readLine() // welcome
	c.send("REGISTER " + username + " " + password)
	c.readLine()
	c.send("LOGIN " + username + " " + password)
	if got := c.readLine(); !strings.HasPrefix(got, "OK:") {
		c.t.Fatalf("login failed: %q", got)
	}
}

func TestEndToEndUploadDownload(t *testing.T) {
	_, addr := newTestServer(t, 1024*1024)

	c := dial(t, addr)
	c.loginAs("alice", "password1")

	c.send("UPLOAD hello.txt")
	if got := c.readLine(); !strings.HasPrefix(got, "READY:") {
		t.Fatalf("expected READY, got %q", got)
	}
	body := []byte("hello world")
	c.send(fmt.Sprintf("SIZE %d", len(body)))
	if got := c.readLine(); !strings.HasPrefix(got, "OK:") {
		t.Fatalf("expected OK: Send file data, got %q", got)
	}
	c.sendBytes(body)
	if got := c.readLine(); !strings.HasPrefix(got, "SUCCESS:") || !strings.Contains(got, "11 bytes") {
		t.Fatalf("expected SUCCESS with byte count, got %q", got)
	}

	c.send("DOWNLOAD hello.txt")
	if got := c.readLine(); !strings.HasPrefix(got, "SIZE:") {
		t.Fatalf("expected SIZE:, got %q", got)
	}
	got := c.readExact(len(body))
	if string(got) != string(body) {
		t.Fatalf("round-tripped body = %q, want %q", got, body)
	}
}

func TestConcurrentRegisterSameUsernameExactlyOneSucceeds(t *testing.T) {
	_, addr := newTestServer(t, 1024*1024)

	const n = 5
	var wg sync.WaitGroup
	results := make([]string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := dial(t, addr)
			defer c.conn.Close()
			c.readLine() // welcome
			c.send("REGISTER shared password1")
			results[i] = c.readLine()
		}(i)
	}
	wg.Wait()

	oks, errs := 0, 0
	for _, r := range results {
		switch {
		case strings.HasPrefix(r, "OK:"):
			oks++
		case strings.HasPrefix(r, "ERROR:"):
			errs++
		}
	}
	if oks != 1 {
		t.Fatalf("expected exactly one successful REGISTER, got %d (errs=%d)", oks, errs)
	}
}

func TestListAndDeleteRoundTrip(t *testing.T) {
	_, addr := newTestServer(t, 1024*1024)

	c := dial(t, addr)
	c.loginAs("bob", "password1")

	c.send("UPLOAD a.txt")
	c.readLine() // READY
	c.send("SIZE 3")
	c.readLine() // OK: Send file data
	c.sendBytes([]byte("abc"))
	if got := c.readLine(); !strings.HasPrefix(got, "SUCCESS:") {
		t.Fatalf("expected SUCCESS, got %q", got)
	}

	c.send("LIST")
	var lines []string
	for {
		line := c.readLine()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "a.txt") {
		t.Fatalf("expected listing to mention a.txt, got %q", joined)
	}

	c.send("DELETE a.txt")
	if got := c.readLine(); !strings.HasPrefix(got, "OK:") {
		t.Fatalf("expected OK for delete, got %q", got)
	}

	c.send("DOWNLOAD a.txt")
	if got := c.readLine(); !strings.HasPrefix(got, "ERROR:") {
		t.Fatalf("expected ERROR downloading a deleted file, got %q", got)
	}
}
