package boxes

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"syscall"
)

// identity is who a command in a box runs as.
type identity struct {
	// nil keeps the caller's credentials
	cred *syscall.Credential
	name string
	home string
}

// lookupIdentity resolves a user name, uid or uid:gid against the host's user
// database. Numeric ids need not exist there; they get / as home. An empty
// string means the caller itself.
func lookupIdentity(who string) (*identity, error) {
	if who == "" {
		euid := strconv.Itoa(os.Geteuid())
		id := &identity{name: euid, home: "/"}
		if u, err := user.LookupId(euid); err == nil {
			id.name, id.home = u.Username, u.HomeDir
		}
		return id, nil
	}

	userPart, groupPart, hasGroup := strings.Cut(who, ":")
	var u *user.User
	uid, err := strconv.ParseUint(userPart, 10, 32)
	if err != nil {
		u, err = user.Lookup(userPart)
		if err != nil {
			return nil, fmt.Errorf("exec user %q: %w", who, err)
		}
		if uid, err = strconv.ParseUint(u.Uid, 10, 32); err != nil {
			return nil, fmt.Errorf("exec user %q: uid %q: %w", who, u.Uid, err)
		}
	} else {
		u, _ = user.LookupId(userPart)
	}

	id := &identity{
		cred: &syscall.Credential{Uid: uint32(uid), Gid: uint32(uid)},
		name: userPart,
		home: "/",
	}
	if u != nil {
		id.name, id.home = u.Username, u.HomeDir
		if gid, err := strconv.ParseUint(u.Gid, 10, 32); err == nil {
			id.cred.Gid = uint32(gid)
		}
		if gids, err := u.GroupIds(); err == nil {
			for _, g := range gids {
				if n, err := strconv.ParseUint(g, 10, 32); err == nil {
					id.cred.Groups = append(id.cred.Groups, uint32(n))
				}
			}
		}
	}
	if hasGroup {
		gid, err := strconv.ParseUint(groupPart, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("exec user %q: gid must be numeric", who)
		}
		id.cred.Gid = uint32(gid)
		id.cred.Groups = nil
	}
	return id, nil
}

// workDir picks the first of dirs that is set, then the user's home when it
// exists, then /.
func (id *identity) workDir(dirs ...string) string {
	for _, d := range dirs {
		if d != "" {
			return d
		}
	}
	if fi, err := os.Stat(id.home); err == nil && fi.IsDir() {
		return id.home
	}
	return "/"
}

// env adds USER, HOME and LANG to base unless base already sets them.
func (id *identity) env(base []string, lang string) []string {
	env := append([]string(nil), base...)
	set := func(key, value string) {
		if value == "" {
			return
		}
		for _, kv := range env {
			if strings.HasPrefix(kv, key+"=") {
				return
			}
		}
		env = append(env, key+"="+value)
	}
	set("USER", id.name)
	set("HOME", id.home)
	set("LANG", lang)
	return env
}
