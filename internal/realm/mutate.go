package realm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/starford/nous/internal/apperr"
	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/parser"
	"github.com/starford/nous/internal/resolver"
)

// MoveResult describes a completed Move.
type MoveResult struct {
	Node      models.Node `json:"node"`
	From      string      `json:"from"`
	Rewritten []string    `json:"rewritten,omitempty"`
	Links     int         `json:"links"`
}

// nodePath turns a node name into the realm-relative path of its file,
// adding ext unless the name already ends in a node extension.
func (r *Realm) nodePath(name, ext string) (string, error) {
	p := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("realm: empty node name")
	}
	p = path.Clean(p)
	if path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("realm: node name %q leaves the realm", name)
	}
	if first, _, _ := strings.Cut(p, "/"); first == MetaDir || strings.HasPrefix(path.Base(p), ".") {
		return "", fmt.Errorf("realm: node name %q is hidden", name)
	}
	e := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if e == "" || !slices.Contains(r.opts.exts, e) {
		p += "." + strings.TrimPrefix(ext, ".")
	}
	if !r.opts.filter.Include(p, false) {
		return "", fmt.Errorf("realm: node name %q is ignored by the realm filter", name)
	}
	return p, nil
}

// Touch bumps the modification time of the node name refers to, or creates
// an empty file for it when no node matches. created reports the latter.
func (r *Realm) Touch(ctx context.Context, name string) (n models.Node, created bool, err error) {
	n, err = r.Resolve(name)
	if err == nil {
		if err := r.files.Touch(n.Path, time.Now()); err != nil {
			return n, false, err
		}
		return n, false, nil
	}
	if !errors.Is(err, apperr.ErrUnresolved) {
		return models.Node{}, false, err
	}

	p, err := r.nodePath(name, r.opts.defaultExt)
	if err != nil {
		return models.Node{}, false, err
	}
	if err := r.files.Create(p, nil); err != nil {
		return models.Node{}, false, err
	}
	if _, err := r.Reindex(ctx); err != nil {
		return models.Node{}, true, err
	}
	n, err = r.Resolve(resolver.NameFromPath(p))
	return n, true, err
}

// Remove deletes the file of the node name refers to and reindexes.
func (r *Realm) Remove(ctx context.Context, name string) (models.Node, error) {
	n, err := r.Resolve(name)
	if err != nil {
		return models.Node{}, err
	}
	if err := r.files.Delete(n.Path); err != nil {
		return n, err
	}
	_, err = r.Reindex(ctx)
	return n, err
}

// EditPath returns the absolute path of the file an editor should open for
// name: the node's file, or where a new node of that name would be created.
func (r *Realm) EditPath(name string) (string, error) {
	n, err := r.Resolve(name)
	switch {
	case err == nil:
		return r.files.Abs(n.Path)
	case errors.Is(err, apperr.ErrUnresolved):
		p, err := r.nodePath(name, r.opts.defaultExt)
		if err != nil {
			return "", err
		}
		return r.files.Abs(p)
	default:
		return "", err
	}
}

// Move renames the node from refers to as to and rewrites every wikilink that
// pointed at it so it still does. Section and alias are kept. The node keeps
// its identity.
func (r *Realm) Move(ctx context.Context, from, to string) (*MoveResult, error) {
	if _, err := r.Reindex(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	n, err := r.resolve(from)
	if err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	// Links to rewrite, by source id, captured while they still resolve.
	pending := make(map[string][]models.Link)
	g := r.state.Graph
	for _, src := range g.Backward(n.ID) {
		for _, l := range g.Links(src.ID) {
			if l.Resolution.Target() == n.ID {
				pending[src.ID] = append(pending[src.ID], l.Link)
			}
		}
	}
	r.mu.RUnlock()

	ext := strings.TrimPrefix(path.Ext(n.Path), ".")
	dst, err := r.nodePath(to, ext)
	if err != nil {
		return nil, err
	}
	if err := r.files.Move(n.Path, dst); err != nil {
		return nil, err
	}
	if _, err := r.Reindex(ctx); err != nil {
		return nil, err
	}

	res := &MoveResult{From: n.Path}
	r.mu.RLock()
	moved, ok := r.state.Graph.Node(n.ID)
	targets := make(map[string]string)
	paths := make(map[string]string)
	for src, links := range pending {
		sn, ok := r.state.Graph.Node(src)
		if !ok {
			continue
		}
		paths[src] = sn.Path
		for _, l := range links {
			targets[l.Target] = r.rewriteTarget(l.Target, moved, ext)
		}
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("realm: %s lost its identity during move", n.Path)
	}
	res.Node = moved

	srcs := make([]string, 0, len(paths))
	for src := range paths {
		srcs = append(srcs, src)
	}
	slices.SortFunc(srcs, func(a, b string) int { return strings.Compare(paths[a], paths[b]) })

	for _, src := range srcs {
		p := paths[src]
		data, err := r.files.Read(p)
		if err != nil {
			return res, err
		}
		out, count := rewriteLinks(data, pending[src], targets)
		if count == 0 {
			r.logger.Warn("move: links changed on disk, not rewritten", slog.String("path", p))
			continue
		}
		if err := r.files.Write(p, out); err != nil {
			return res, err
		}
		res.Rewritten = append(res.Rewritten, p)
		res.Links += count
	}

	if len(res.Rewritten) > 0 {
		if _, err := r.Reindex(ctx); err != nil {
			return res, err
		}
	}
	r.mu.RLock()
	res.Node, _ = r.state.Graph.Node(n.ID)
	r.mu.RUnlock()
	return res, nil
}

// rewriteTarget picks the text a link written as raw should carry to reach
// moved: its bare basename when raw had no folder and that is unambiguous,
// otherwise its full name.
func (r *Realm) rewriteTarget(raw string, moved models.Node, ext string) string {
	target := moved.Name
	if !strings.Contains(raw, "/") {
		if base := resolver.Basename(moved.Name); r.state.Graph.Resolve(base).Target() == moved.ID {
			target = base
		}
	}
	if e := strings.ToLower(strings.TrimPrefix(path.Ext(raw), ".")); e != "" && slices.Contains(r.opts.exts, e) {
		target += "." + ext
	}
	return target
}

// rewriteLinks replaces the markers of links (matched by offset) with ones
// pointing at targets[link.Target]. It returns the new content and the number
// of markers replaced; markers whose text no longer matches are left alone.
func rewriteLinks(data []byte, links []models.Link, targets map[string]string) ([]byte, int) {
	want := make(map[int]models.Link, len(links))
	for _, l := range links {
		want[l.Offset] = l
	}

	type span struct {
		start, end int
		text       string
	}
	var spans []span
	for l := range parser.Links(data) {
		w, ok := want[l.Offset]
		if !ok || w.Target != l.Target || w.Section != l.Section || w.Alias != l.Alias {
			continue
		}
		end := bytes.Index(data[l.Offset+2:], []byte("]]"))
		if end < 0 {
			continue
		}
		var b strings.Builder
		b.WriteString("[[")
		b.WriteString(targets[l.Target])
		if l.Section != "" {
			b.WriteString("#" + l.Section)
		}
		if l.Alias != "" {
			b.WriteString("|" + l.Alias)
		}
		b.WriteString("]]")
		spans = append(spans, span{start: l.Offset, end: l.Offset + 2 + end + 2, text: b.String()})
	}

	var out bytes.Buffer
	prev := 0
	for _, s := range spans {
		out.Write(data[prev:s.start])
		out.WriteString(s.text)
		prev = s.end
	}
	out.Write(data[prev:])
	return out.Bytes(), len(spans)
}
