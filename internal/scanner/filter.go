package scanner

import (
	"path"
	"strings"
)

// Filter decides which realm entries the scanner considers. Paths are
// slash-separated and relative to the realm root.
type Filter interface {
	Include(path string, dir bool) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(path string, dir bool) bool

// Include calls f.
func (f FilterFunc) Include(p string, dir bool) bool { return f(p, dir) }

// ExtFilter accepts files whose extension is in exts (case-insensitive, no dot)
// and rejects any entry matching one of the glob patterns. A pattern without
// "/" is matched against the entry's base name, otherwise against its path.
type ExtFilter struct {
	exts   map[string]struct{}
	ignore []string
}

// NewExtFilter creates an ExtFilter.
func NewExtFilter(exts, ignore []string) *ExtFilter {
	f := &ExtFilter{exts: make(map[string]struct{}, len(exts)), ignore: ignore}
	for _, e := range exts {
		f.exts[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return f
}

// Include implements Filter.
func (f *ExtFilter) Include(p string, dir bool) bool {
	if f.ignored(p) {
		return false
	}
	if dir {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	_, ok := f.exts[ext]
	return ok
}

func (f *ExtFilter) ignored(p string) bool {
	base := path.Base(p)
	for _, pattern := range f.ignore {
		target := base
		if strings.Contains(pattern, "/") {
			target = p
		}
		if ok, _ := path.Match(pattern, target); ok {
			return true
		}
	}
	return false
}
