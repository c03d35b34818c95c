// Package sanitize turns untrusted client file names into safe leaf names
// for the storage root.
package sanitize

import (
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameBytes is the longest leaf name produced, matching common
// filesystem NAME_MAX.
const MaxNameBytes = 255

const fallbackBase = "scan"

// Namer hands out unique names for one request. It is not safe for
// concurrent use; each request owns its own Namer.
type Namer struct {
	seed       string
	defaultExt string
	used       map[string]struct{}
}

// NewNamer returns a Namer whose synthesized names are derived from seed
// (normally the request id) and carry defaultExt.
func NewNamer(seed, defaultExt string) *Namer {
	return &Namer{
		seed:       Clean(seed),
		defaultExt: strings.TrimLeft(Clean(defaultExt), "."),
		used:       make(map[string]struct{}),
	}
}

// Name returns a safe, request-unique leaf name for supplied. Names that
// clean to nothing get a synthesized "scan-<seed>.<ext>" name. Collisions
// are resolved by adding -1, -2, ... before the extension.
func (n *Namer) Name(supplied string) string {
	name := Clean(supplied)
	if name == "" {
		name = n.synthesize()
	}

	candidate := name
	base, ext := splitExt(name)
	for i := 1; n.taken(candidate); i++ {
		suffix := "-" + strconv.Itoa(i)
		candidate = truncate(base, MaxNameBytes-len(suffix)-len(ext)) + suffix + ext
	}
	n.used[key(candidate)] = struct{}{}
	return candidate
}

// Used reports how many names have been handed out.
func (n *Namer) Used() int {
	return len(n.used)
}

func (n *Namer) taken(name string) bool {
	_, ok := n.used[key(name)]
	return ok
}

func (n *Namer) synthesize() string {
	name := fallbackBase
	if n.seed != "" {
		name += "-" + n.seed
	}
	if n.defaultExt != "" {
		name += "." + n.defaultExt
	}
	return truncate(name, MaxNameBytes)
}

// Clean reduces supplied to a single path element. Both separators are
// honored, "." and ".." segments are dropped and the rest are joined with
// "_" so "../../etc/passwd" becomes "etc_passwd". Control characters are
// removed, characters reserved on common filesystems become "_", and
// leading dots and surrounding spaces are trimmed so the result can never
// be hidden or relative. The result may be empty.
func Clean(supplied string) string {
	supplied = strings.ToValidUTF8(supplied, "")
	supplied = strings.ReplaceAll(supplied, `\`, "/")

	var segments []string
	for _, seg := range strings.Split(supplied, "/") {
		seg = strings.Map(safeRune, seg)
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		segments = append(segments, seg)
	}

	name := strings.Join(segments, "_")
	name = strings.TrimLeft(name, ". ")
	name = strings.TrimRight(name, ". ")

	base, ext := splitExt(name)
	if len(name) > MaxNameBytes {
		if len(ext) >= MaxNameBytes/2 {
			ext = ""
		}
		name = truncate(base, MaxNameBytes-len(ext)) + ext
	}
	return name
}

func safeRune(r rune) rune {
	switch {
	case unicode.IsControl(r), r == utf8.RuneError:
		return -1
	case strings.ContainsRune(`<>:"|?*`, r):
		return '_'
	}
	return r
}

func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name || ext == "." {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// key folds case so names that collide on case-insensitive filesystems
// are treated as duplicates.
func key(name string) string {
	return strings.ToLower(name)
}
