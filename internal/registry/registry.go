// Package registry maintains the persisted table of user accounts: unique
// usernames, salted password hashes, and per-account byte quotas.
//
// Locking discipline (spec.md §4.2/§5): a registry-wide sync.RWMutex guards
// the account set and the id/username indexes; a per-account sync.Mutex
// guards that account's quotaUsed field. The registry lock is always
// acquired before any per-account lock, and the per-account lock is never
// exposed outside this package, so the ordering cannot be violated by a
// caller.
package registry

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/nabbar/filestore/internal/codeerr"
)

// credentials is validated before a REGISTER is accepted. Usernames are
// restricted to alphanumerics (they become a directory name under the
// storage root) and passwords carry only length bounds (6-128): the server
// enforces credential shape, not a strength policy.
type credentials struct {
	Username string `validate:"required,alphanum,min=3,max=32"`
	Password string `validate:"required,min=6,max=128"`
}

var validate = validator.New()

// Snapshot is a read-only, detached view of one account: safe to hand to
// callers without exposing the registry's internal locks.
type Snapshot struct {
	ID         uint64
	Username   string
	QuotaUsed  int64
	QuotaLimit int64
}

// account is the registry's internal, lock-bearing representation. Never
// exposed directly outside this package.
type account struct {
	id           uint64
	username     string
	passwordHash string
	mu           sync.Mutex // guards quotaUsed only
	quotaUsed    int64
}

// Registry is the in-memory account table, mirrored to a persistent
// text-line file on every mutation.
type Registry struct {
	mu         sync.RWMutex
	byUsername map[string]*account
	byID       map[uint64]*account
	nextID     uint64

	path       string
	quotaLimit int64
	maxUsers   int
}

// Options configures a new Registry.
type Options struct {
	// Path is the registry mirror file (spec.md §6's users.txt).
	Path string
	// QuotaLimit is the per-account byte budget (spec.md USER_QUOTA).
	QuotaLimit int64
	// MaxUsers is the hard cap on registered accounts (spec.md MAX_USERS).
	// Zero means unlimited.
	MaxUsers int
}

// New loads an existing registry file at opts.Path if present (an absent
// file is treated as an empty registry, per spec.md §6), or starts empty.
func New(opts Options) (*Registry, error) {
	r := &Registry{
		byUsername: make(map[string]*account),
		byID:       make(map[uint64]*account),
		path:       opts.Path,
		quotaLimit: opts.QuotaLimit,
		maxUsers:   opts.MaxUsers,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// QuotaLimit returns the configured per-account byte budget.
func (r *Registry) QuotaLimit() int64 {
	return r.quotaLimit
}

// load reads the registry mirror file. Loading stops at end-of-file or the
// first malformed line, per spec.md §6.
func (r *Registry) load() error {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registry: open %q: %w", r.path, err)
	}
	defer f.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 4 {
			break
		}
		username, hash, saltedHash := fields[0], fields[1], fields[2]
		quotaUsed, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			break
		}
		_ = saltedHash // salt is folded into the bcrypt hash itself; kept as a
		// distinct on-disk field for forward compatibility with §9's format.

		r.nextID++
		a := &account{
			id:           r.nextID,
			username:     username,
			passwordHash: hash,
			quotaUsed:    quotaUsed,
		}
		r.byUsername[username] = a
		r.byID[a.id] = a
	}
	return scanner.Err()
}

// Persist rewrites the full registry file. Best-effort durable: write,
// flush, close. Must be called without holding any per-account lock.
//
// Takes the registry-wide lock exclusively (spec.md §4.2: "persist under
// the registry-wide lock only"): Persist is called concurrently from
// independent session and file-worker goroutines, and a shared lock would
// let two callers both os.Create the same temp path and os.Rename it out
// from under each other's in-flight write, corrupting users.txt.
func (r *Registry) Persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmp := r.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("registry: create %q: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	for _, a := range r.byID {
		a.mu.Lock()
		quota := a.quotaUsed
		a.mu.Unlock()

		// The third field is reserved for a standalone salt value; bcrypt
		// hashes embed their own salt, so it is written as "-" here.
		if _, err := fmt.Fprintf(w, "%s %s %s %d\n", a.username, a.passwordHash, "-", quota); err != nil {
			_ = f.Close()
			return fmt.Errorf("registry: write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("registry: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("registry: close: %w", err)
	}
	return os.Rename(tmp, r.path)
}

// Register creates a new account, atomically checking for a username
// collision and inserting it under a single write-lock acquisition, then
// persists before returning.
func (r *Registry) Register(username, password string) (uint64, error) {
	if err := validate.Struct(credentials{Username: username, Password: password}); err != nil {
		return 0, codeerr.Wrap(codeerr.InvalidInput, "username must be 3-32 alphanumeric characters and password at least 6 characters", err)
	}

	r.mu.Lock()

	if _, exists := r.byUsername[username]; exists {
		r.mu.Unlock()
		return 0, codeerr.New(codeerr.AuthFailed, "username already exists")
	}
	if r.maxUsers > 0 && len(r.byID) >= r.maxUsers {
		r.mu.Unlock()
		return 0, codeerr.New(codeerr.Capacity, "registry is full")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		r.mu.Unlock()
		return 0, codeerr.Wrap(codeerr.Internal, "hash password", err)
	}

	r.nextID++
	a := &account{
		id:           r.nextID,
		username:     username,
		passwordHash: string(hash),
	}
	r.byUsername[username] = a
	r.byID[a.id] = a
	r.mu.Unlock()

	if err := r.Persist(); err != nil {
		return a.id, err
	}
	return a.id, nil
}

// Login verifies credentials by recomputing the salted hash (never by
// comparing stored plaintext, per SPEC_FULL.md §9).
func (r *Registry) Login(username, password string) (uint64, error) {
	r.mu.RLock()
	a, ok := r.byUsername[username]
	r.mu.RUnlock()

	if !ok {
		// Still runs a bcrypt comparison against a fixed hash so that the
		// unknown-username and wrong-password paths take comparable time.
		_ = bcrypt.CompareHashAndPassword([]byte(decoyHash), []byte(password))
		return 0, codeerr.New(codeerr.AuthFailed, "invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		return 0, codeerr.New(codeerr.AuthFailed, "invalid credentials")
	}
	return a.id, nil
}

// decoyHash is a valid bcrypt hash of an arbitrary, never-used password,
// spent solely to keep Login's failure-path timing independent of whether
// the username exists.
const decoyHash = "$2a$10$C6UzMDM.H6dfI/f/IKcEeOl2bA8VPyJ5/hpY9W8zE1mSLYW1o1qCW"

// Get returns a detached snapshot of the account identified by id.
func (r *Registry) Get(id uint64) (Snapshot, error) {
	r.mu.RLock()
	a, ok := r.byID[id]
	r.mu.RUnlock()

	if !ok {
		return Snapshot{}, codeerr.New(codeerr.NotFound, "no such account")
	}

	a.mu.Lock()
	quota := a.quotaUsed
	a.mu.Unlock()

	return Snapshot{ID: a.id, Username: a.username, QuotaUsed: quota, QuotaLimit: r.quotaLimit}, nil
}

// AddToQuota atomically reserves n additional bytes against id's quota,
// refusing if the result would exceed the registry's quota limit.
func (r *Registry) AddToQuota(id uint64, n int64) error {
	r.mu.RLock()
	a, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return codeerr.New(codeerr.NotFound, "no such account")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.quotaUsed+n > r.quotaLimit {
		return codeerr.New(codeerr.QuotaExceeded, "Quota exceeded")
	}
	a.quotaUsed += n
	return nil
}

// ReleaseQuota releases n bytes from id's quota, clamping at zero. Never
// fails on underflow (spec.md §4.2).
func (r *Registry) ReleaseQuota(id uint64, n int64) {
	r.mu.RLock()
	a, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	a.mu.Lock()
	a.quotaUsed -= n
	if a.quotaUsed < 0 {
		a.quotaUsed = 0
	}
	a.mu.Unlock()
}

// Count returns the number of registered accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Username returns id's username, or false if id is unknown. Used by
// session/file workers that already hold an authenticated id and need the
// storage-path component without a full snapshot round trip.
func (r *Registry) Username(id uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return a.username, true
}
