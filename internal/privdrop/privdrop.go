// Package privdrop drops process privileges to a configured user,
// group, and umask, becomes session leader, and changes the working
// directory to /, matching spec §4.1 step 5.
//
// Grounded on original_source/brim/service.py's droppriv.
package privdrop

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// Config names the user/group/umask to drop to. An empty User and
// Group mean "don't change identity" (spec: only umask/setsid/chdir
// apply in that case).
type Config struct {
	User  string
	Group string
	Umask int // e.g. 0022
}

// Drop performs the privilege drop described by cfg: switch to the
// named user/group (looking up the user's primary group if Group is
// empty), set the umask, become session leader if permitted, and chdir
// to /.
func Drop(cfg Config) error {
	if cfg.User != "" || cfg.Group != "" {
		if err := unix.Setgroups(nil); err != nil && err != unix.EPERM {
			return fmt.Errorf("privdrop: clearing supplementary groups: %w", err)
		}
		uid, gid, err := resolveIDs(cfg.User, cfg.Group)
		if err != nil {
			return err
		}
		if err := unix.Setgid(gid); err != nil {
			return fmt.Errorf("privdrop: permission denied switching to group %q: %w", cfg.Group, err)
		}
		if err := unix.Setuid(uid); err != nil {
			return fmt.Errorf("privdrop: permission denied switching to user %q: %w", cfg.User, err)
		}
	}
	unix.Umask(cfg.Umask)
	if _, err := unix.Setsid(); err != nil && err != unix.EPERM {
		return fmt.Errorf("privdrop: setsid: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("privdrop: chdir /: %w", err)
	}
	return nil
}

func resolveIDs(userName, groupName string) (uid, gid int, err error) {
	uid = os.Geteuid()
	gid = os.Getegid()
	if userName != "" {
		u, lookErr := user.Lookup(userName)
		if lookErr != nil {
			return 0, 0, fmt.Errorf("privdrop: cannot switch to unknown user %q: %w", userName, lookErr)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return 0, 0, fmt.Errorf("privdrop: invalid uid %q for user %q", u.Uid, userName)
		}
		gid, err = strconv.Atoi(u.Gid)
		if err != nil {
			return 0, 0, fmt.Errorf("privdrop: invalid gid %q for user %q", u.Gid, userName)
		}
	}
	if groupName != "" {
		g, lookErr := user.LookupGroup(groupName)
		if lookErr != nil {
			return 0, 0, fmt.Errorf("privdrop: cannot switch to unknown group %q: %w", groupName, lookErr)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return 0, 0, fmt.Errorf("privdrop: invalid gid %q for group %q", g.Gid, groupName)
		}
	}
	return uid, gid, nil
}
