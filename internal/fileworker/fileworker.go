// Package fileworker implements the fixed-size pool of file workers that
// execute filesystem-touching operations and write their outcome onto the
// submitting task, but never touch the client socket directly (spec.md
// §4.5): UPLOAD/DOWNLOAD bodies are streamed by the session worker itself,
// so a file worker only ever precomputes a size or performs a small,
// bounded filesystem op (stat, unlink, directory listing).
package fileworker

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nabbar/filestore/internal/logging"
	"github.com/nabbar/filestore/internal/metrics"
	"github.com/nabbar/filestore/internal/queue"
	"github.com/nabbar/filestore/internal/registry"
	"github.com/nabbar/filestore/internal/storage"
	"github.com/nabbar/filestore/internal/task"
)

// Pool is a fixed-size group of goroutines each popping tasks from a shared
// queue, executing them, and signalling completion.
type Pool struct {
	size     int
	tasks    *queue.Queue[*task.Task]
	registry *registry.Registry
	storage  *storage.Root
	log      logging.Logger
	metrics  *metrics.Metrics

	group *errgroup.Group
}

// New constructs a Pool; call Start to spawn its goroutines.
func New(size int, tasks *queue.Queue[*task.Task], reg *registry.Registry, root *storage.Root, log logging.Logger, m *metrics.Metrics) *Pool {
	return &Pool{size: size, tasks: tasks, registry: reg, storage: root, log: log, metrics: m}
}

// Start spawns size goroutines. Each runs until the task queue is shut down
// and drained.
func (p *Pool) Start() {
	p.group = &errgroup.Group{}
	for i := 0; i < p.size; i++ {
		p.group.Go(p.run)
	}
}

// Wait blocks until every worker goroutine has exited (the task queue was
// shut down and drained). Mirrors the original implementation's array of
// pthread_join calls in threadpool.c's worker_pool_destroy, expressed with
// golang.org/x/sync/errgroup.
func (p *Pool) Wait() error {
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

func (p *Pool) run() error {
	for {
		t, err := p.tasks.Pop()
		if err != nil {
			return nil // queue shut down and drained: exit cleanly
		}
		if p.metrics != nil {
			p.metrics.TaskQueueDepth.Set(float64(p.tasks.Len()))
		}
		p.execute(t)
	}
}

func (p *Pool) execute(t *task.Task) {
	switch t.Kind {
	case task.Upload:
		p.handleUploadPrecheck(t)
	case task.Download:
		p.handleDownload(t)
	case task.Delete:
		p.handleDelete(t)
	case task.List:
		p.handleList(t)
	default:
		t.Complete(1, "ERROR: Unknown command", 0)
	}
}

func (p *Pool) username(accountID uint64) (string, bool) {
	return p.registry.Username(accountID)
}

// handleUploadPrecheck validates the filename and refuses if the target
// already exists; it never creates the file (spec.md §9: reject-on-exists,
// no implicit overwrite). The actual body write is the session worker's
// job once quota has been reserved.
func (p *Pool) handleUploadPrecheck(t *task.Task) {
	if t.Filename == "" {
		p.complete(t, 1, "ERROR: No filename specified", 0, "error")
		return
	}
	if !storage.SafeFilename(t.Filename) {
		p.complete(t, 1, "ERROR: Invalid filename", 0, "error")
		return
	}

	username, ok := p.username(t.AccountID)
	if !ok {
		p.complete(t, 1, "ERROR: Invalid user", 0, "error")
		return
	}

	path, ok := p.storage.FilePath(username, t.Filename)
	if !ok {
		p.complete(t, 1, "ERROR: Invalid filename", 0, "error")
		return
	}

	if _, err := os.Stat(path); err == nil {
		p.complete(t, 1, "ERROR: File already exists. Delete it first.", 0, "error")
		return
	}

	p.complete(t, 0, "READY: Send file size as: SIZE <bytes>", 0, "ready")
}

// handleDownload stats the target file and reports its size; the session
// worker streams the body itself.
func (p *Pool) handleDownload(t *task.Task) {
	username, ok := p.username(t.AccountID)
	if !ok {
		p.complete(t, 1, "ERROR: Invalid user", 0, "error")
		return
	}

	path, ok := p.storage.FilePath(username, t.Filename)
	if !ok {
		p.complete(t, 1, "ERROR: Invalid filename", 0, "error")
		return
	}

	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		p.complete(t, 1, "ERROR: File not found", 0, "error")
		return
	}

	p.complete(t, 0, fmt.Sprintf("SIZE: %d", st.Size()), st.Size(), "ok")
}

// handleDelete unlinks the file, releases its size from the owner's quota,
// and persists the registry.
func (p *Pool) handleDelete(t *task.Task) {
	username, ok := p.username(t.AccountID)
	if !ok {
		p.complete(t, 1, "ERROR: Invalid user", 0, "error")
		return
	}

	path, ok := p.storage.FilePath(username, t.Filename)
	if !ok {
		p.complete(t, 1, "ERROR: Invalid filename", 0, "error")
		return
	}

	st, err := os.Stat(path)
	if err != nil {
		p.complete(t, 1, "ERROR: File not found", 0, "error")
		return
	}

	size := st.Size()
	if err := os.Remove(path); err != nil {
		p.complete(t, 1, "ERROR: Could not delete file", 0, "error")
		return
	}

	p.registry.ReleaseQuota(t.AccountID, size)
	if err := p.registry.Persist(); err != nil && p.log != nil {
		p.log.Warn("failed to persist registry after delete: ", err)
	}

	snap, _ := p.registry.Get(t.AccountID)
	msg := fmt.Sprintf("OK: File deleted (%d bytes freed). Quota: %.2f / %.2f MB",
		size, storage.HumanMB(snap.QuotaUsed), storage.HumanMB(snap.QuotaLimit))
	p.complete(t, 0, msg, size, "ok")
}

// handleList enumerates the user's directory, skipping dotfiles, and
// formats a fixed-width three-section report: header, one line per
// regular file, footer with file count and quota line (spec.md §9: LIST
// output format resolved as human-readable text).
func (p *Pool) handleList(t *task.Task) {
	username, ok := p.username(t.AccountID)
	if !ok {
		p.complete(t, 1, "ERROR: Invalid user", 0, "error")
		return
	}

	dir, err := p.storage.UserDir(username)
	if err != nil {
		p.complete(t, 1, "ERROR: Internal error", 0, "error")
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		p.complete(t, 1, "ERROR: Internal error", 0, "error")
		return
	}

	type row struct {
		name string
		size int64
	}
	var rows []row
	for _, e := range entries {
		if len(e.Name()) > 0 && e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		rows = append(rows, row{name: e.Name(), size: info.Size()})
	}
	// Enumeration order from the filesystem is unspecified (spec.md §4.5);
	// sorting here only makes the report deterministic for humans reading
	// it, not a protocol guarantee tests may rely on.
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	var out []byte
	out = append(out, fmt.Sprintf("Files for %s:\n", username)...)
	out = append(out, fmt.Sprintf("%-40s %15s\n", "Filename", "Size")...)
	out = append(out, "------------------------------------------------------------\n"...)

	if len(rows) == 0 {
		out = append(out, "(no files)\n"...)
	}
	for _, r := range rows {
		out = append(out, fmt.Sprintf("%-40s %15s\n", r.name, storage.HumanSize(r.size))...)
	}

	out = append(out, "------------------------------------------------------------\n"...)
	out = append(out, fmt.Sprintf("Total files: %d\n", len(rows))...)

	snap, _ := p.registry.Get(t.AccountID)
	pct := 0.0
	if snap.QuotaLimit > 0 {
		pct = float64(snap.QuotaUsed) * 100.0 / float64(snap.QuotaLimit)
	}
	out = append(out, fmt.Sprintf("Quota used: %.2f / %.2f MB (%.1f%%)\n",
		storage.HumanMB(snap.QuotaUsed), storage.HumanMB(snap.QuotaLimit), pct)...)
	out = append(out, fmt.Sprintf("Available: %.2f MB\n",
		storage.HumanMB(snap.QuotaLimit-snap.QuotaUsed))...)

	p.complete(t, 0, string(out), int64(len(rows)), "ok")
}

func (p *Pool) complete(t *task.Task, code int, message string, size int64, outcome string) {
	t.Complete(code, message, size)
	if p.metrics != nil {
		p.metrics.TasksCompleted.WithLabelValues(t.Kind.String(), outcome).Inc()
	}
}
