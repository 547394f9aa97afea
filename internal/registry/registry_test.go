package registry

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/nabbar/filestore/internal/codeerr"
)

func newTestRegistry(t *testing.T, quota int64) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.txt")
	r, err := New(Options{Path: path, QuotaLimit: quota, MaxUsers: 0})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	r := newTestRegistry(t, 1024)

	id, err := r.Register("alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	gotID, err := r.Login("alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if gotID != id {
		t.Fatalf("login id mismatch: got %d want %d", gotID, id)
	}

	if _, err := r.Login("alice", "wrong"); codeerr.CodeOf(err) != codeerr.AuthFailed {
		t.Fatalf("expected AuthFailed, got %v", err)
	}
	if _, err := r.Login("nobody", "hunter2"); codeerr.CodeOf(err) != codeerr.AuthFailed {
		t.Fatalf("expected AuthFailed for unknown user, got %v", err)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	r := newTestRegistry(t, 1024)
	if _, err := r.Register("bob", "password1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("bob", "password2"); codeerr.CodeOf(err) != codeerr.AuthFailed {
		t.Fatalf("expected AuthFailed on duplicate register, got %v", err)
	}
}

func TestConcurrentRegisterSameUsernameExactlyOneWins(t *testing.T) {
	r := newTestRegistry(t, 1024)

	const n = 20
	var wg sync.WaitGroup
	oks := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Register("carol", "password1")
			oks[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range oks {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one successful register, got %d", count)
	}
	if r.Count() != 1 {
		t.Fatalf("expected exactly one account in registry, got %d", r.Count())
	}
}

func TestAddToQuotaRefusesOverLimit(t *testing.T) {
	r := newTestRegistry(t, 1024)
	id, err := r.Register("dave", "password1")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.AddToQuota(id, 2048); codeerr.CodeOf(err) != codeerr.QuotaExceeded {
		t.Fatalf("expected QuotaExceeded, got %v", err)
	}

	snap, err := r.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.QuotaUsed != 0 {
		t.Fatalf("quota_used should remain 0 after refused reservation, got %d", snap.QuotaUsed)
	}

	if err := r.AddToQuota(id, 100); err != nil {
		t.Fatal(err)
	}
	snap, _ = r.Get(id)
	if snap.QuotaUsed != 100 {
		t.Fatalf("expected quota_used 100, got %d", snap.QuotaUsed)
	}
}

func TestReleaseQuotaClampsAtZero(t *testing.T) {
	r := newTestRegistry(t, 1024)
	id, _ := r.Register("erin", "password1")

	if err := r.AddToQuota(id, 50); err != nil {
		t.Fatal(err)
	}
	r.ReleaseQuota(id, 1000)

	snap, _ := r.Get(id)
	if snap.QuotaUsed != 0 {
		t.Fatalf("expected quota clamped to 0, got %d", snap.QuotaUsed)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")

	r1, err := New(Options{Path: path, QuotaLimit: 1024})
	if err != nil {
		t.Fatal(err)
	}
	id, err := r1.Register("frank", "swordfish")
	if err != nil {
		t.Fatal(err)
	}
	if err := r1.AddToQuota(id, 100); err != nil {
		t.Fatal(err)
	}
	if err := r1.Persist(); err != nil {
		t.Fatal(err)
	}

	r2, err := New(Options{Path: path, QuotaLimit: 1024})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r2.Login("frank", "swordfish"); err != nil {
		t.Fatalf("expected login to survive restart: %v", err)
	}
	if r2.Count() != 1 {
		t.Fatalf("expected 1 account after reload, got %d", r2.Count())
	}
}

func TestRegisterRejectsInvalidCredentials(t *testing.T) {
	r := newTestRegistry(t, 1024)

	if _, err := r.Register("ab", "password1"); codeerr.CodeOf(err) != codeerr.InvalidInput {
		t.Fatalf("expected InvalidInput for too-short username, got %v", err)
	}
	if _, err := r.Register("valid_user", "password1"); codeerr.CodeOf(err) != codeerr.InvalidInput {
		t.Fatalf("expected InvalidInput for non-alphanumeric username, got %v", err)
	}
	if _, err := r.Register("validuser", "short"); codeerr.CodeOf(err) != codeerr.InvalidInput {
		t.Fatalf("expected InvalidInput for too-short password, got %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("expected no accounts created by rejected registrations, got %d", r.Count())
	}
}

func TestMaxUsersEnforced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	r, err := New(Options{Path: path, QuotaLimit: 1024, MaxUsers: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("aaa", "password1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("bbb", "password1"); codeerr.CodeOf(err) != codeerr.Capacity {
		t.Fatalf("expected Capacity error once MaxUsers reached, got %v", err)
	}
}
