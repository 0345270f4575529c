//go:build darwin

package config

import (
	"fmt"
	"os/exec"
)

// Secrets are generic-password items in the login keychain, managed with
// security(1).

func keychainGet(service, account string) ([]byte, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
	if err != nil {
		return nil, fmt.Errorf("no keychain item %s/%s: %w", service, account, err)
	}
	return out, nil
}

// keychainSet replaces any existing item (-U).
func keychainSet(service, account, value string) error {
	if out, err := exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).CombinedOutput(); err != nil {
		return fmt.Errorf("storing keychain item %s/%s: %w (%s)", service, account, err, out)
	}
	return nil
}
