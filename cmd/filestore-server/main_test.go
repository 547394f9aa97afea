package main

import (
	"path/filepath"
	"testing"
)

func TestNewRootCommandHasConfigFlag(t *testing.T) {
	cmd := newRootCommand()
	if cmd.PersistentFlags().Lookup("config") == nil {
		t.Fatal("expected a --config persistent flag")
	}
}

func TestUsersFilePath(t *testing.T) {
	got := usersFilePath("/tmp/store")
	want := filepath.Join("/tmp/store", "users.txt")
	if got != want {
		t.Fatalf("usersFilePath = %q, want %q", got, want)
	}
}
