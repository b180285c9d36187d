package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/vaughan0/go-ini"
)

var errNotLoggedIn = errors.New("not logged in: run `gator login NAME` or `gator register NAME` first")

// readSession returns the name of the current user or "" when no one is
// logged in.
func readSession(path string) (string, error) {
	file, err := ini.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to read session file %s: %w", path, err)
	}

	name, _ := file.Get("session", "user")
	return name, nil
}

func writeSession(path, userName string) error {
	if strings.ContainsAny(userName, "\r\n") {
		return fmt.Errorf("invalid user name %q", userName)
	}

	content := fmt.Sprintf("[session]\nuser = %s\n", userName)
	err := os.WriteFile(path, []byte(content), 0600)
	if err != nil {
		return fmt.Errorf("failed to write session file %s: %w", path, err)
	}
	return nil
}
