package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// userRow is one parsed line of users.txt, read directly off disk rather
// than through internal/registry: this tool is a read-only, offline
// inspector and must not take the registry's in-process locks or require
// a running server.
type userRow struct {
	Username  string
	QuotaUsed int64
}

// loadUsers parses the registry mirror file with the same tolerance
// internal/registry.load applies: stop at the first malformed line or at
// EOF, and treat an absent file as an empty registry.
func loadUsers(path string) ([]userRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	var rows []userRow
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 4 {
			break
		}
		quotaUsed, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			break
		}
		rows = append(rows, userRow{Username: fields[0], QuotaUsed: quotaUsed})
	}
	return rows, scanner.Err()
}

func findUser(rows []userRow, username string) (userRow, bool) {
	for _, r := range rows {
		if r.Username == username {
			return r, true
		}
	}
	return userRow{}, false
}
