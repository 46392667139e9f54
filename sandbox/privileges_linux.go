// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RestrictPrivileges sets PR_SET_NO_NEW_PRIVS on the calling process.
// The flag is inherited by every child and cannot be cleared, so no
// setuid binary or file capability can raise privileges afterwards.
func RestrictPrivileges() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("setting no_new_privs: %w", err)
	}
	return nil
}

// PrivilegesRestricted reports whether no_new_privs is set.
func PrivilegesRestricted() (bool, error) {
	value, err := unix.PrctlRetInt(unix.PR_GET_NO_NEW_PRIVS, 0, 0, 0, 0)
	if err != nil {
		return false, fmt.Errorf("reading no_new_privs: %w", err)
	}
	return value == 1, nil
}
