package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func TestLoadUsersMissingFileIsEmpty(t *testing.T) {
	rows, err := loadUsers(filepath.Join(t.TempDir(), "absent.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != nil {
		t.Fatalf("expected nil rows for a missing file, got %v", rows)
	}
}

func TestLoadUsersParsesWellFormedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	content := "alice $2a$10$abcdefghijklmnopqrstuv 0 1024\nbob $2a$10$zzzzzzzzzzzzzzzzzzzzzz 0 2048\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rows, err := loadUsers(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Username != "alice" || rows[0].QuotaUsed != 1024 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Username != "bob" || rows[1].QuotaUsed != 2048 {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
}

func TestLoadUsersStopsAtMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	content := "alice $2a$10$abcdefghijklmnopqrstuv 0 1024\nthis line is garbage\nbob $2a$10$zzzzzzzzzzzzzzzzzzzzzz 0 2048\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rows, err := loadUsers(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected parsing to stop at the malformed line, got %d rows", len(rows))
	}
}

func TestFindUser(t *testing.T) {
	rows := []userRow{{Username: "alice", QuotaUsed: 10}, {Username: "bob", QuotaUsed: 20}}
	if row, ok := findUser(rows, "bob"); !ok || row.QuotaUsed != 20 {
		t.Fatalf("expected to find bob with quota 20, got %+v ok=%v", row, ok)
	}
	if _, ok := findUser(rows, "carol"); ok {
		t.Fatal("expected carol to be absent")
	}
}

func TestNewRootCommandHasFlags(t *testing.T) {
	cmd := newRootCommand()
	if cmd.PersistentFlags().Lookup("config") == nil {
		t.Fatal("expected a --config persistent flag")
	}
	if cmd.PersistentFlags().Lookup("storage-root") == nil {
		t.Fatal("expected a --storage-root persistent flag")
	}
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	if !names["users"] || !names["config"] || !names["quota"] {
		t.Fatalf("expected users, quota, and config subcommands, got %v", names)
	}
}

func TestQuotaCommandHasShowSubcommand(t *testing.T) {
	cmd := newRootCommand()
	var quotaCmd *cobra.Command
	for _, c := range cmd.Commands() {
		if c.Name() == "quota" {
			quotaCmd = c
		}
	}
	if quotaCmd == nil {
		t.Fatal("expected a quota command")
	}
	found := false
	for _, c := range quotaCmd.Commands() {
		if c.Name() == "show" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected quota show subcommand")
	}
}
