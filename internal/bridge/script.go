package bridge

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

//go:embed header.js
var headerJS string

//go:embed bridge.js
var bodyJS string

const revisionToken = "@REVISION@"

// Script returns the bridge source as injected into the page: the header
// followed by the body, stamped with the binary's revision.
func Script() string {
	return stamp(headerJS+"\n"+bodyJS, Revision())
}

// Revision is the short VCS revision the binary was built from, suffixed
// with -dirty for modified trees, or "unknown".
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return revisionOf(info.Settings)
}

func revisionOf(settings []debug.BuildSetting) string {
	var rev string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "unknown"
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

func stamp(src, rev string) string {
	return strings.ReplaceAll(src, revisionToken, rev)
}
