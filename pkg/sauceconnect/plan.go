package sauceconnect

import (
	"path/filepath"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

var identifierFlags = []string{"--tunnel-identifier", "--tunnel-name", "-i"}

// splitOptions splits an options string with shell quoting rules. Malformed
// quoting falls back to whitespace splitting.
func splitOptions(options string) []string {
	words, err := shellquote.Split(options)
	if err != nil {
		return strings.Fields(options)
	}
	return words
}

// tunnelIdentifier returns the value of the last identifier flag in args,
// or "" when the tunnel is unnamed.
func tunnelIdentifier(args []string) string {
	var id string
	for i := 0; i < len(args); i++ {
		for _, flag := range identifierFlags {
			if args[i] == flag && i+1 < len(args) {
				id = args[i+1]
			} else if strings.HasPrefix(args[i], flag+"=") {
				id = strings.TrimPrefix(args[i], flag+"=")
			}
		}
	}
	return id
}

// planKey identifies the tunnels of one account and identifier. The Sauce
// Labs service indexes tunnels the same way, so open and close agree on it
// without sharing a handle.
func planKey(username, options string) string {
	return username + "\x00" + tunnelIdentifier(splitOptions(options))
}

func flagValue(args []string, names ...string) string {
	for i := 0; i < len(args); i++ {
		for _, name := range names {
			if args[i] == name && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(args[i], name+"=") {
				return strings.TrimPrefix(args[i], name+"=")
			}
		}
	}
	return ""
}

func isSauceConnectBinary(path string) bool {
	base := strings.TrimSuffix(filepath.Base(path), ".exe")
	return base == binaryName
}

// matchesPlan reports whether cmdline is an sc process started for username
// with the given identifier. sc may sit behind an interpreter, as in
// "/bin/sh /opt/sc/bin/sc -u ...".
func matchesPlan(cmdline []string, username, identifier string) bool {
	var args []string
	switch {
	case len(cmdline) > 0 && isSauceConnectBinary(cmdline[0]):
		args = cmdline[1:]
	case len(cmdline) > 1 && isSauceConnectBinary(cmdline[1]):
		args = cmdline[2:]
	default:
		return false
	}
	if flagValue(args, "-u", "--user") != username {
		return false
	}
	return tunnelIdentifier(args) == identifier
}
