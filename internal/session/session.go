// Package session implements the fixed-size pool of session workers: each
// pops one connection from the connection queue, runs it end to end
// (welcome, authentication, command loop, shutdown), and returns to pop the
// next. Binary UPLOAD/DOWNLOAD bodies are streamed here directly between
// the socket and disk; only the small, bounded filesystem operations are
// delegated to a file worker via the task queue (spec.md §4.4/§4.5).
package session

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/nabbar/filestore/internal/codeerr"
	"github.com/nabbar/filestore/internal/logging"
	"github.com/nabbar/filestore/internal/metrics"
	"github.com/nabbar/filestore/internal/protocol"
	"github.com/nabbar/filestore/internal/queue"
	"github.com/nabbar/filestore/internal/registry"
	"github.com/nabbar/filestore/internal/storage"
	"github.com/nabbar/filestore/internal/task"
)

// Connection is one accepted socket awaiting a session worker.
type Connection struct {
	Conn net.Conn
}

// Pool is a fixed-size group of session workers.
type Pool struct {
	size          int
	connections   *queue.Queue[Connection]
	tasks         *queue.Queue[*task.Task]
	reg           *registry.Registry
	storage       *storage.Root
	log           logging.Logger
	metrics       *metrics.Metrics
	maxUploadSize int64

	group *errgroup.Group
}

// New constructs a Pool; call Start to spawn its goroutines. maxUploadSize
// is spec.md §4.4(d)'s MAX_UPLOAD ceiling on a single UPLOAD's declared
// SIZE; zero or negative means no ceiling beyond the per-account quota.
func New(size int, connections *queue.Queue[Connection], tasks *queue.Queue[*task.Task], reg *registry.Registry, root *storage.Root, log logging.Logger, m *metrics.Metrics, maxUploadSize int64) *Pool {
	return &Pool{
		size:          size,
		connections:   connections,
		tasks:         tasks,
		reg:           reg,
		storage:       root,
		log:           log,
		metrics:       m,
		maxUploadSize: maxUploadSize,
	}
}

// Start spawns size goroutines, each running the pop-session loop.
func (p *Pool) Start() {
	p.group = &errgroup.Group{}
	for i := 0; i < p.size; i++ {
		p.group.Go(p.run)
	}
}

// Wait blocks until every worker has exited (the connection queue was shut
// down and drained).
func (p *Pool) Wait() error {
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

func (p *Pool) run() error {
	for {
		conn, err := p.connections.Pop()
		if err != nil {
			return nil
		}
		if p.metrics != nil {
			p.metrics.ConnectionQueueDepth.Set(float64(p.connections.Len()))
		}
		p.serve(conn)
	}
}

func (p *Pool) serve(c Connection) {
	defer c.Conn.Close()

	sessionID, err := uuid.GenerateUUID()
	if err != nil {
		sessionID = "unknown"
	}
	log := p.log
	if log != nil {
		log = log.WithFields(map[string]interface{}{
			"session_id": sessionID,
			"remote":     c.Conn.RemoteAddr().String(),
		})
	}

	if p.metrics != nil {
		p.metrics.ActiveSessions.Inc()
		defer p.metrics.ActiveSessions.Dec()
	}

	s := &handler{
		conn:          protocol.NewConn(c.Conn, c.Conn),
		tasks:         p.tasks,
		reg:           p.reg,
		storage:       p.storage,
		log:           log,
		metrics:       p.metrics,
		maxUploadSize: p.maxUploadSize,
	}
	s.run()
}

// handler runs a single session's welcome/auth/command-loop/shutdown
// phases (spec.md §4.4). One handler serves exactly one connection, end to
// end, on the goroutine that created it.
type handler struct {
	conn          *protocol.Conn
	tasks         *queue.Queue[*task.Task]
	reg           *registry.Registry
	storage       *storage.Root
	log           logging.Logger
	metrics       *metrics.Metrics
	maxUploadSize int64

	accountID uint64
	username  string
}

func (s *handler) run() {
	if err := s.conn.WriteLine("WELCOME: filestore server ready"); err != nil {
		return
	}

	if !s.authenticate() {
		return
	}

	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return // EOF or oversize: unrecoverable, close session
		}

		verb, rest := splitVerb(line)
		switch verb {
		case "QUIT":
			_ = s.conn.WriteLine("Goodbye!")
			return
		case "UPLOAD":
			if !s.handleUpload(rest) {
				return
			}
		case "DOWNLOAD":
			if !s.handleDownload(rest) {
				return
			}
		case "DELETE":
			s.handleDelete(rest)
		case "LIST":
			s.handleList()
		default:
			_ = s.conn.WriteLine("ERROR: Unknown command")
		}
	}
}

// authenticate loops reading REGISTER/LOGIN lines until LOGIN succeeds, per
// spec.md §4.4's phase 2: REGISTER never promotes the session.
func (s *handler) authenticate() bool {
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return false
		}

		verb, rest := splitVerb(line)
		switch verb {
		case "REGISTER":
			user, pass, ok := splitTwo(rest)
			if !ok {
				_ = s.conn.WriteLine("ERROR: Usage: REGISTER <user> <pass>")
				continue
			}
			if _, err := s.reg.Register(user, pass); err != nil {
				_ = s.conn.WriteLine("ERROR: " + messageOf(err))
				continue
			}
			if s.metrics != nil {
				s.metrics.RegisteredAccounts.Set(float64(s.reg.Count()))
			}
			_ = s.conn.WriteLine("OK: Registered. Please LOGIN.")
		case "LOGIN":
			user, pass, ok := splitTwo(rest)
			if !ok {
				_ = s.conn.WriteLine("ERROR: Usage: LOGIN <user> <pass>")
				continue
			}
			id, err := s.reg.Login(user, pass)
			if err != nil {
				_ = s.conn.WriteLine("ERROR: " + messageOf(err))
				continue
			}
			s.accountID = id
			s.username = user
			if err := s.conn.WriteLine("OK: Welcome, " + user); err != nil {
				return false
			}
			return true
		case "QUIT":
			_ = s.conn.WriteLine("Goodbye!")
			return false
		default:
			_ = s.conn.WriteLine("ERROR: Please LOGIN or REGISTER first")
		}
	}
}

// submit pushes t onto the task queue and waits for its result, replying
// ERROR: Server overloaded without waiting if the queue refuses the push
// (the task queue has been shut down), per spec.md §4.6.
func (s *handler) submit(t *task.Task) (code int, message string, size int64, overloaded bool) {
	if err := s.tasks.Push(t); err != nil {
		return 1, "Server overloaded", 0, true
	}
	if s.metrics != nil {
		s.metrics.TaskQueueDepth.Set(float64(s.tasks.Len()))
	}
	code, message, size = t.Wait()
	return code, message, size, false
}

func (s *handler) handleUpload(rest string) bool {
	name := strings.TrimSpace(rest)
	if name == "" {
		return writeErrorAndContinue(s.conn, "ERROR: Usage: UPLOAD <name>")
	}

	t := task.New(task.Upload, s.accountID, name)
	code, message, _, overloaded := s.submit(t)
	if overloaded {
		return writeErrorAndContinue(s.conn, "ERROR: Server overloaded")
	}
	if code != 0 {
		return writeErrorAndContinue(s.conn, ensurePrefix(message, "ERROR:"))
	}
	if err := s.conn.WriteLine(message); err != nil {
		return false
	}

	sizeLine, err := s.conn.ReadLine()
	if err != nil {
		return false
	}
	n, ok := parseSize(sizeLine)
	if !ok || n < 0 {
		return writeErrorAndContinue(s.conn, "ERROR: Expected SIZE <bytes>")
	}
	if s.maxUploadSize > 0 && n > s.maxUploadSize {
		return writeErrorAndContinue(s.conn, "ERROR: Upload exceeds maximum allowed size")
	}

	if err := s.reg.AddToQuota(s.accountID, n); err != nil {
		if s.metrics != nil {
			s.metrics.QuotaRejections.Inc()
		}
		return writeErrorAndContinue(s.conn, "ERROR: "+messageOf(err))
	}

	if err := s.conn.WriteLine("OK: Send file data"); err != nil {
		s.reg.ReleaseQuota(s.accountID, n)
		return false
	}

	path, ok := s.storage.FilePath(s.username, name)
	if !ok {
		s.reg.ReleaseQuota(s.accountID, n)
		return writeErrorAndContinue(s.conn, "ERROR: Invalid filename")
	}

	if _, err := s.storage.UserDir(s.username); err != nil {
		s.reg.ReleaseQuota(s.accountID, n)
		return writeErrorAndContinue(s.conn, "ERROR: Internal error")
	}

	tmpPath := path + ".upload.tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		s.reg.ReleaseQuota(s.accountID, n)
		return writeErrorAndContinue(s.conn, "ERROR: Internal error")
	}

	copyErr := s.conn.CopyExact(f, n)
	closeErr := f.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		s.reg.ReleaseQuota(s.accountID, n)
		// A failed body transfer leaves the wire desynchronized from this
		// session's point of view: the declared n bytes may not all have
		// arrived, so the connection cannot be trusted for a further
		// command and must close (spec.md §4.4's "failure mid-binary-body"
		// unrecoverable case).
		_ = s.conn.WriteLine("ERROR: Incomplete upload")
		return false
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		s.reg.ReleaseQuota(s.accountID, n)
		return writeErrorAndContinue(s.conn, "ERROR: Internal error")
	}

	if err := s.reg.Persist(); err != nil && s.log != nil {
		s.log.Warn("failed to persist registry after upload: ", err)
	}
	if s.metrics != nil {
		s.metrics.BytesUploaded.Add(float64(n))
	}

	snap, _ := s.reg.Get(s.accountID)
	return writeOKAndContinue(s.conn, okFormat(
		"SUCCESS: File uploaded (%d bytes). Quota: %.2f / %.2f MB",
		n, storage.HumanMB(snap.QuotaUsed), storage.HumanMB(snap.QuotaLimit)))
}

func (s *handler) handleDownload(rest string) bool {
	name := strings.TrimSpace(rest)
	if name == "" {
		return writeErrorAndContinue(s.conn, "ERROR: Usage: DOWNLOAD <name>")
	}

	t := task.New(task.Download, s.accountID, name)
	code, message, size, overloaded := s.submit(t)
	if overloaded {
		return writeErrorAndContinue(s.conn, "ERROR: Server overloaded")
	}
	if code != 0 {
		return writeErrorAndContinue(s.conn, ensurePrefix(message, "ERROR:"))
	}
	if err := s.conn.WriteLine(message); err != nil {
		return false
	}

	path, ok := s.storage.FilePath(s.username, name)
	if !ok {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false // the worker just confirmed this file existed; a race here is unrecoverable
	}
	defer f.Close()

	if n, err := s.conn.CopyAll(f); err != nil || n != size {
		return false
	}
	if s.metrics != nil {
		s.metrics.BytesDownloaded.Add(float64(size))
	}
	return true
}

func (s *handler) handleDelete(rest string) {
	name := strings.TrimSpace(rest)
	if name == "" {
		_ = s.conn.WriteLine("ERROR: Usage: DELETE <name>")
		return
	}

	t := task.New(task.Delete, s.accountID, name)
	code, message, _, overloaded := s.submit(t)
	if overloaded {
		_ = s.conn.WriteLine("ERROR: Server overloaded")
		return
	}
	if code != 0 {
		_ = s.conn.WriteLine(ensurePrefix(message, "ERROR:"))
		return
	}
	_ = s.conn.WriteLine(message)
}

func (s *handler) handleList() {
	t := task.New(task.List, s.accountID, "")
	code, message, _, overloaded := s.submit(t)
	if overloaded {
		_ = s.conn.WriteLine("ERROR: Server overloaded")
		return
	}
	if code != 0 {
		_ = s.conn.WriteLine(ensurePrefix(message, "ERROR:"))
		return
	}
	for _, line := range strings.Split(strings.TrimRight(message, "\n"), "\n") {
		_ = s.conn.WriteLine(line)
	}
	_ = s.conn.WriteLine("")
}

func splitVerb(line string) (verb, rest string) {
	line = strings.TrimSpace(line)
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], line[i+1:]
}

func splitTwo(rest string) (a, b string, ok bool) {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

func parseSize(line string) (int64, bool) {
	verb, rest := splitVerb(line)
	if verb != "SIZE" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// messageOf extracts client-safe text from err: a codeerr.Error's own
// Message (never its wrapped cause, which may reference internal paths or
// syscalls), or its plain Error() text as a fallback for anything else.
func messageOf(err error) string {
	var ce *codeerr.Error
	if errors.As(err, &ce) {
		return ce.Message()
	}
	return err.Error()
}

func ensurePrefix(message, prefix string) string {
	if strings.HasPrefix(message, prefix) {
		return message
	}
	return prefix + " " + message
}

func okFormat(format string, a ...interface{}) string {
	return fmt.Sprintf(format, a...)
}

func writeErrorAndContinue(c *protocol.Conn, message string) bool {
	_ = c.WriteLine(message)
	return true
}

func writeOKAndContinue(c *protocol.Conn, message string) bool {
	if err := c.WriteLine(message); err != nil {
		return false
	}
	return true
}
