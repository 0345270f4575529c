//go:build !darwin

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "ellbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "ellbridge-data"
	}
	return filepath.Join(append(append([]string{home}, fallback...), "ellbridge")...)
}

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.yaml")
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.yaml")
}

func apiKeyHint(account string) string {
	return " or " + account + " in " + secretsFilePath()
}

// yamlBackend keeps configuration in a YAML file. Dotted keys map onto
// nested sections, so "ratelimit.window" is read from
//
//	ratelimit:
//	  window: 2m
type yamlBackend struct {
	path string
	data map[string]string
}

func newPlatformBackend() ConfigBackend {
	return openYAMLBackend(configFilePath())
}

// openYAMLBackend reads path if it exists. An unreadable file is logged
// and treated as empty so the defaults still apply.
func openYAMLBackend(path string) *yamlBackend {
	b := &yamlBackend{path: path, data: make(map[string]string)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("config file unreadable, using defaults", "path", path, "error", err)
		}
		return b
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		slog.Warn("config file is not valid YAML, using defaults", "path", path, "error", err)
		return b
	}
	flatten("", tree, b.data)
	return b
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

func (b *yamlBackend) save() error {
	tree := make(map[string]any)
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts := strings.Split(k, ".")
		node := tree
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = b.data[k]
	}

	out, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return os.WriteFile(b.path, out, 0o600)
}

func (b *yamlBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *yamlBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *yamlBackend) SetString(key, val string) error {
	b.data[key] = val
	return b.save()
}

func (b *yamlBackend) SetInt(key string, val int) error {
	b.data[key] = strconv.Itoa(val)
	return b.save()
}

func (b *yamlBackend) Delete(key string) error {
	delete(b.data, key)
	return b.save()
}
