//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
)

// The edge SQL token lives in the login Keychain as a generic password.

func keychainExec(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
}

func keychainSet(service, account, value string) error {
	// -U updates an existing item in place.
	if err := exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).Run(); err != nil {
		return fmt.Errorf("storing %s in Keychain: %w", account, err)
	}
	return nil
}

func keychainDelete(service, account string) error {
	err := exec.Command("security", "delete-generic-password", "-s", service, "-a", account).Run()
	// security exits 44 when the item does not exist.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("removing %s from Keychain: %w", account, err)
	}
	return nil
}
