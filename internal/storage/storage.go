// Package storage implements the per-user directory layout rooted at a
// configured storage base, and the filename/path safety checks that keep
// every file operation confined to "<root>/<username>/<filename>".
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Root owns the filesystem base directory under which every user gets a
// subdirectory named after their username.
type Root struct {
	base string
}

// NewRoot creates the storage base directory if it does not already exist
// and returns a Root rooted there.
func NewRoot(base string) (*Root, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %q: %w", base, err)
	}
	return &Root{base: base}, nil
}

// Base returns the storage root directory.
func (r *Root) Base() string {
	return r.base
}

// UserDir returns the directory owning username's files, creating it if it
// does not already exist.
func (r *Root) UserDir(username string) (string, error) {
	dir := filepath.Join(r.base, username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create user directory %q: %w", dir, err)
	}
	return dir, nil
}

// SafeFilename reports whether name is acceptable as a single path segment:
// non-empty, containing no path separator, and not a "." or ".." component.
// This is the sole gate between client-supplied filenames and the
// filesystem; every UPLOAD/DOWNLOAD/DELETE handler must call it before
// touching disk.
func SafeFilename(name string) bool {
	if name == "" {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	// Defends against the same traversal class as "..", even though the
	// separator check above already catches a literal "../" payload.
	if filepath.Base(name) != name {
		return false
	}
	return true
}

// FilePath returns the on-disk path for username's file, after validating
// name with SafeFilename. Callers must check ok before using path.
func (r *Root) FilePath(username, name string) (path string, ok bool) {
	if !SafeFilename(name) {
		return "", false
	}
	return filepath.Join(r.base, username, name), true
}

// HumanSize renders a byte count for LIST's size column: whole bytes under
// 1KiB ("11 B"), otherwise two-decimal KB/MB ("1.50 KB", "1.00 MB").
func HumanSize(n int64) string {
	const (
		kb = 1024
		mb = 1024 * 1024
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%d B", n)
	case n < mb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	}
}

// HumanMB converts a byte count to megabytes, for the "%.2f / %.2f MB"
// quota lines of the UPLOAD, DELETE and LIST replies.
func HumanMB(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
