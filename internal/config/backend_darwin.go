//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.ellbridge.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ellbridge-data"
	}
	return filepath.Join(home, "Library", "Application Support", "ellbridge")
}

func apiKeyHint(account string) string {
	return " or Keychain item " + keychainService + "/" + account
}

// defaultsBackend stores values in the user defaults database through the
// defaults(1) tool, one flat key per dotted name.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	if err == nil {
		return out, true, nil
	}
	// defaults exits 1 for a missing domain or key.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", false, nil
	}
	return "", false, fmt.Errorf("defaults read %s: %w (%s)", key, err, out)
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b defaultsBackend) SetString(key, val string) error {
	return b.write("write", b.domain, key, "-string", val)
}

func (b defaultsBackend) SetInt(key string, val int) error {
	return b.write("write", b.domain, key, "-int", strconv.Itoa(val))
}

func (b defaultsBackend) Delete(key string) error {
	return b.write("delete", b.domain, key)
}

func (b defaultsBackend) write(args ...string) error {
	if out, err := b.run(args...); err != nil {
		return fmt.Errorf("defaults %s: %w (%s)", args[0], err, out)
	}
	return nil
}
