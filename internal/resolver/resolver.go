// Package resolver maps raw wikilink targets to node identities.
//
// Matching runs in order of precedence and stops at the first step that
// yields any candidate:
//
//  1. exact, case-sensitive match on the display name;
//  2. case-insensitive match on the display name;
//  3. case-insensitive match on the basename, only when the target has no "/".
//
// One candidate resolves; several are reported as ambiguous, never picked.
package resolver

import (
	"path"
	"slices"
	"strings"

	"github.com/starford/nous/internal/models"
)

type idSet map[string]struct{}

// Universe is the set of known node identities and their display names.
type Universe struct {
	names  map[string]string
	exact  map[string]idSet
	folded map[string]idSet
	base   map[string]idSet
	exts   []string
}

// New creates an empty universe. exts lists node extensions (without dot)
// that may trail a raw target and are ignored when matching.
func New(exts ...string) *Universe {
	lower := make([]string, 0, len(exts))
	for _, e := range exts {
		lower = append(lower, strings.ToLower(strings.TrimPrefix(e, ".")))
	}
	return &Universe{
		names:  make(map[string]string),
		exact:  make(map[string]idSet),
		folded: make(map[string]idSet),
		base:   make(map[string]idSet),
		exts:   lower,
	}
}

// NameFromPath derives a display name from a realm-relative path:
// slash-separated, without the file extension.
func NameFromPath(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	return strings.TrimSuffix(rel, path.Ext(rel))
}

// Basename returns the last element of a display name.
func Basename(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Key returns the lookup key shared by a name and every raw target that
// could resolve to it: the lower-cased basename.
func Key(name string) string {
	return strings.ToLower(Basename(name))
}

// Keys returns the lookup keys of a raw target: its own key and, when it
// carries a node extension, the key without it.
func (u *Universe) Keys(raw string) []string {
	raw = strings.TrimSpace(raw)
	keys := []string{Key(raw)}
	if stripped, ok := u.stripExt(raw); ok {
		if k := Key(stripped); k != keys[0] {
			keys = append(keys, k)
		}
	}
	return keys
}

// Add registers id under name, replacing any previous name for id.
func (u *Universe) Add(id, name string) {
	if old, ok := u.names[id]; ok {
		if old == name {
			return
		}
		u.Remove(id)
	}
	u.names[id] = name
	insert(u.exact, name, id)
	insert(u.folded, strings.ToLower(name), id)
	insert(u.base, Key(name), id)
}

// Remove forgets id.
func (u *Universe) Remove(id string) {
	name, ok := u.names[id]
	if !ok {
		return
	}
	delete(u.names, id)
	drop(u.exact, name, id)
	drop(u.folded, strings.ToLower(name), id)
	drop(u.base, Key(name), id)
}

// Name returns the display name registered for id.
func (u *Universe) Name(id string) (string, bool) {
	n, ok := u.names[id]
	return n, ok
}

// Len returns the number of known nodes.
func (u *Universe) Len() int { return len(u.names) }

// Names returns all display names, sorted.
func (u *Universe) Names() []string {
	out := make([]string, 0, len(u.names))
	for _, n := range u.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Clone returns an independent copy of u.
func (u *Universe) Clone() *Universe {
	c := New()
	c.exts = slices.Clone(u.exts)
	for id, name := range u.names {
		c.Add(id, name)
	}
	return c
}

// Resolve resolves raw against the universe. The outcome depends only on
// raw and the current set of names.
func (u *Universe) Resolve(raw string) models.Resolution {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Resolution{Kind: models.Unresolved}
	}
	res := u.resolve(raw)
	if res.Kind == models.Unresolved {
		if stripped, ok := u.stripExt(raw); ok {
			res = u.resolve(stripped)
		}
	}
	return res
}

func (u *Universe) resolve(raw string) models.Resolution {
	if ids := u.exact[raw]; len(ids) > 0 {
		return u.outcome(ids)
	}
	if ids := u.folded[strings.ToLower(raw)]; len(ids) > 0 {
		return u.outcome(ids)
	}
	if !strings.Contains(raw, "/") {
		if ids := u.base[strings.ToLower(raw)]; len(ids) > 0 {
			return u.outcome(ids)
		}
	}
	return models.Resolution{Kind: models.Unresolved}
}

func (u *Universe) stripExt(raw string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(raw), "."))
	if ext == "" || !slices.Contains(u.exts, ext) {
		return "", false
	}
	stripped := raw[:len(raw)-len(ext)-1]
	return stripped, stripped != ""
}

// outcome orders candidates by display name, then id.
func (u *Universe) outcome(set idSet) models.Resolution {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	if len(ids) == 1 {
		return models.Resolution{Kind: models.Resolved, IDs: ids}
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := strings.Compare(u.names[a], u.names[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return models.Resolution{Kind: models.Ambiguous, IDs: ids}
}

func insert(m map[string]idSet, key, id string) {
	s, ok := m[key]
	if !ok {
		s = make(idSet)
		m[key] = s
	}
	s[id] = struct{}{}
}

func drop(m map[string]idSet, key, id string) {
	s, ok := m[key]
	if !ok {
		return
	}
	delete(s, id)
	if len(s) == 0 {
		delete(m, key)
	}
}
