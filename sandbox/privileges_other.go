// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package sandbox

import "errors"

var errUnsupported = errors.New("no_new_privs is only supported on linux")

// RestrictPrivileges always fails off Linux.
func RestrictPrivileges() error {
	return errUnsupported
}

// PrivilegesRestricted always fails off Linux.
func PrivilegesRestricted() (bool, error) {
	return false, errUnsupported
}
