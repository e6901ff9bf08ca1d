// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package privilege drops root privileges to the unprivileged "nobody"
// account once the process no longer needs them.
package privilege

import (
	"errors"
	"fmt"
	"log/slog"
	"os/user"
	"strconv"
	"syscall"
)

// Mode selects whether Drop runs.
type Mode int

const (
	// Auto drops privileges only when the effective user is root.
	Auto Mode = iota
	// Always drops privileges regardless of the effective user.
	Always
	// Never keeps the current credentials.
	Never
)

// ShouldDrop reports whether mode requires dropping privileges for a
// process with effective user ID euid.
func ShouldDrop(mode Mode, euid int) bool {
	switch mode {
	case Always:
		return true
	case Never:
		return false
	default:
		return euid == 0
	}
}

// Target is the account privileges are dropped to.
type Target struct {
	User  string
	Group string
	UID   int
	GID   int
}

// groupNames are tried in order: Red Hat derived systems name the group
// "nobody", Debian derived ones "nogroup".
var groupNames = []string{"nobody", "nogroup"}

// LookupTarget resolves the "nobody" user and group.
func LookupTarget() (Target, error) {
	account, err := user.Lookup("nobody")
	if err != nil {
		return Target{}, fmt.Errorf("privilege: cannot find user \"nobody\": %w", err)
	}
	uid, err := strconv.Atoi(account.Uid)
	if err != nil {
		return Target{}, fmt.Errorf("privilege: user \"nobody\" has non-numeric uid %q", account.Uid)
	}

	var lookupErrors []error
	for _, name := range groupNames {
		group, err := user.LookupGroup(name)
		if err != nil {
			lookupErrors = append(lookupErrors, err)
			continue
		}
		gid, err := strconv.Atoi(group.Gid)
		if err != nil {
			return Target{}, fmt.Errorf("privilege: group %q has non-numeric gid %q", name, group.Gid)
		}
		return Target{User: account.Username, Group: name, UID: uid, GID: gid}, nil
	}
	return Target{}, fmt.Errorf("privilege: cannot find an unprivileged group: %w", errors.Join(lookupErrors...))
}

// credentials is the system-call surface used by apply. Each call must
// change every thread of the process: the syscall package versions do,
// while golang.org/x/sys/unix.Setgroups changes only the calling thread.
type credentials struct {
	setgroups func(gids []int) error
	setresgid func(rgid, egid, sgid int) error
	setresuid func(ruid, euid, suid int) error
}

var systemCredentials = credentials{
	setgroups: syscall.Setgroups,
	setresgid: syscall.Setresgid,
	setresuid: syscall.Setresuid,
}

// Drop switches the real, effective, and saved IDs of every thread to
// the "nobody" account and clears supplementary groups. The group is
// changed first; once the user ID is gone the process may no longer
// change groups.
func Drop(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := LookupTarget()
	if err != nil {
		return err
	}
	if err := apply(systemCredentials, target); err != nil {
		return err
	}
	logger.Info("dropped privileges",
		"user", target.User,
		"group", target.Group,
		"uid", target.UID,
		"gid", target.GID,
	)
	return nil
}

func apply(system credentials, target Target) error {
	if err := system.setgroups([]int{}); err != nil {
		return fmt.Errorf("privilege: clearing supplementary groups: %w", err)
	}
	if err := system.setresgid(target.GID, target.GID, target.GID); err != nil {
		return fmt.Errorf("privilege: cannot change group to %q: %w", target.Group, err)
	}
	if err := system.setresuid(target.UID, target.UID, target.UID); err != nil {
		return fmt.Errorf("privilege: cannot change user to %q: %w", target.User, err)
	}
	return nil
}
