// Package graph holds the in-memory bidirectional link graph of a realm.
//
// Nodes are addressed by id only: forward and backward adjacency are flat
// id -> set-of-id maps kept as exact transposes of each other. Every link
// occurrence is retained with its resolution, so unresolved and ambiguous
// links stay queryable.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/resolver"
)

type set map[string]struct{}

type linkState struct {
	link models.Link
	res  models.Resolution
}

// Graph is the link graph. It is not safe for concurrent mutation.
type Graph struct {
	nodes    map[string]models.Node
	universe *resolver.Universe
	links    map[string][]linkState
	forward  map[string]set
	backward map[string]set
	byKey    map[string]set
}

// New creates an empty graph. exts are the node extensions a raw target may
// carry (see resolver.New).
func New(exts ...string) *Graph {
	return &Graph{
		nodes:    make(map[string]models.Node),
		universe: resolver.New(exts...),
		links:    make(map[string][]linkState),
		forward:  make(map[string]set),
		backward: make(map[string]set),
		byKey:    make(map[string]set),
	}
}

// Rename moves an existing node to a new path without touching its edges.
type Rename struct {
	ID   string
	Path string
}

// Upsert installs a created or modified node with its freshly parsed links.
type Upsert struct {
	Node  models.Node
	Links []models.Link
}

// Batch is the set of changes of one generation.
type Batch struct {
	Deleted []string
	Renamed []Rename
	Upserts []Upsert
}

// Delta reports the links resolved while applying a batch that ended
// unresolved or ambiguous.
type Delta struct {
	Unresolved int
	Ambiguous  int
}

// dirty records which links of a source need resolving: all of them, or only
// those whose keys are listed.
type dirty struct {
	all  bool
	keys set
}

// Apply applies b and re-resolves every link the changes may affect: links of
// upserted nodes, links that pointed at deleted nodes, and links whose lookup
// key matches a node that appeared, disappeared or was renamed.
func (g *Graph) Apply(b Batch) Delta {
	affected := make(set)
	todo := make(map[string]*dirty)
	mark := func(src string, all bool) {
		d, ok := todo[src]
		if !ok {
			d = &dirty{keys: make(set)}
			todo[src] = d
		}
		d.all = d.all || all
	}

	for _, id := range b.Deleted {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		affected[resolver.Key(n.Name)] = struct{}{}
		for src := range g.backward[id] {
			if src != id {
				mark(src, true)
			}
		}
		g.dropLinks(id)
		g.universe.Remove(id)
		delete(g.nodes, id)
		delete(todo, id)
	}

	for _, r := range b.Renamed {
		n, ok := g.nodes[r.ID]
		if !ok {
			continue
		}
		name := resolver.NameFromPath(r.Path)
		affected[resolver.Key(n.Name)] = struct{}{}
		affected[resolver.Key(name)] = struct{}{}
		n.Path = r.Path
		n.Name = name
		g.nodes[r.ID] = n
		g.universe.Add(r.ID, name)
	}

	for _, u := range b.Upserts {
		n := u.Node
		if n.Name == "" {
			n.Name = resolver.NameFromPath(n.Path)
		}
		if prev, ok := g.nodes[n.ID]; !ok || prev.Name != n.Name {
			affected[resolver.Key(n.Name)] = struct{}{}
			if ok {
				affected[resolver.Key(prev.Name)] = struct{}{}
			}
		}
		g.nodes[n.ID] = n
		g.universe.Add(n.ID, n.Name)
		g.setLinks(n.ID, u.Links)
		mark(n.ID, true)
	}

	for key := range affected {
		for src := range g.byKey[key] {
			mark(src, false)
			todo[src].keys[key] = struct{}{}
		}
	}

	var delta Delta
	for _, src := range sortedKeys(todo) {
		d := todo[src]
		states := g.links[src]
		for i := range states {
			if !d.all && !g.matches(states[i].link.Target, d.keys) {
				continue
			}
			states[i].res = g.universe.Resolve(states[i].link.Target)
			switch states[i].res.Kind {
			case models.Unresolved:
				delta.Unresolved++
			case models.Ambiguous:
				delta.Ambiguous++
			}
		}
		g.rebuildEdges(src)
	}
	return delta
}

func (g *Graph) matches(target string, keys set) bool {
	for _, k := range g.universe.Keys(target) {
		if _, ok := keys[k]; ok {
			return true
		}
	}
	return false
}

// setLinks replaces the links of src, leaving them unresolved until the
// caller resolves them.
func (g *Graph) setLinks(src string, links []models.Link) {
	g.unindex(src)
	states := make([]linkState, len(links))
	for i, l := range links {
		states[i] = linkState{link: l}
		for _, k := range g.universe.Keys(l.Target) {
			addTo(g.byKey, k, src)
		}
	}
	if len(states) == 0 {
		delete(g.links, src)
		return
	}
	g.links[src] = states
}

func (g *Graph) unindex(src string) {
	for _, st := range g.links[src] {
		for _, k := range g.universe.Keys(st.link.Target) {
			removeFrom(g.byKey, k, src)
		}
	}
}

// dropLinks removes every outgoing link and edge of src.
func (g *Graph) dropLinks(src string) {
	g.unindex(src)
	delete(g.links, src)
	for t := range g.forward[src] {
		removeFrom(g.backward, t, src)
	}
	delete(g.forward, src)
}

// rebuildEdges derives the outgoing edge set of src from its resolved links
// and patches the backward map to match.
func (g *Graph) rebuildEdges(src string) {
	next := make(set)
	for _, st := range g.links[src] {
		if t := st.res.Target(); t != "" {
			next[t] = struct{}{}
		}
	}
	for t := range g.forward[src] {
		if _, ok := next[t]; !ok {
			removeFrom(g.backward, t, src)
		}
	}
	for t := range next {
		addTo(g.backward, t, src)
	}
	if len(next) == 0 {
		delete(g.forward, src)
		return
	}
	g.forward[src] = next
}

// Restore rebuilds g from persisted nodes and resolved links without
// re-resolving. It fails when a link points at an unknown node.
func (g *Graph) Restore(nodes []models.Node, links []models.ResolvedLink) error {
	for _, n := range nodes {
		if n.Name == "" {
			n.Name = resolver.NameFromPath(n.Path)
		}
		g.nodes[n.ID] = n
		g.universe.Add(n.ID, n.Name)
	}
	bySource := make(map[string][]models.ResolvedLink)
	for _, l := range links {
		if _, ok := g.nodes[l.Source]; !ok {
			return fmt.Errorf("graph: link from unknown node %s", l.Source)
		}
		for _, id := range l.Resolution.IDs {
			if _, ok := g.nodes[id]; !ok {
				return fmt.Errorf("graph: link from %s to unknown node %s", l.Source, id)
			}
		}
		bySource[l.Source] = append(bySource[l.Source], l)
	}
	for src, ls := range bySource {
		plain := make([]models.Link, len(ls))
		for i, l := range ls {
			plain[i] = l.Link
		}
		g.setLinks(src, plain)
		for i, l := range ls {
			g.links[src][i].res = l.Resolution
		}
		g.rebuildEdges(src)
	}
	return nil
}

// Clone returns an independent deep copy of g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:    make(map[string]models.Node, len(g.nodes)),
		universe: g.universe.Clone(),
		links:    make(map[string][]linkState, len(g.links)),
		forward:  cloneAdjacency(g.forward),
		backward: cloneAdjacency(g.backward),
		byKey:    cloneAdjacency(g.byKey),
	}
	for id, n := range g.nodes {
		c.nodes[id] = n
	}
	for src, states := range g.links {
		cp := make([]linkState, len(states))
		for i, st := range states {
			cp[i] = linkState{link: st.link, res: models.Resolution{Kind: st.res.Kind, IDs: slices.Clone(st.res.IDs)}}
		}
		c.links[src] = cp
	}
	return c
}

// Check verifies the structural invariants: forward and backward are exact
// transposes, no edge touches an unknown node, and every edge is backed by a
// resolved link.
func (g *Graph) Check() error {
	for src, targets := range g.forward {
		if _, ok := g.nodes[src]; !ok {
			return fmt.Errorf("graph: forward entry for unknown node %s", src)
		}
		for t := range targets {
			if _, ok := g.nodes[t]; !ok {
				return fmt.Errorf("graph: edge %s -> unknown node %s", src, t)
			}
			if _, ok := g.backward[t][src]; !ok {
				return fmt.Errorf("graph: edge %s -> %s missing from backward", src, t)
			}
		}
	}
	for t, sources := range g.backward {
		for src := range sources {
			if _, ok := g.forward[src][t]; !ok {
				return fmt.Errorf("graph: backward %s <- %s missing from forward", t, src)
			}
		}
	}
	for src, states := range g.links {
		want := make(set)
		for _, st := range states {
			if t := st.res.Target(); t != "" {
				want[t] = struct{}{}
			}
		}
		if len(want) != len(g.forward[src]) {
			return fmt.Errorf("graph: %s has %d resolved targets but %d edges", src, len(want), len(g.forward[src]))
		}
	}
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (models.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node ordered by name.
func (g *Graph) Nodes() []models.Node {
	out := make([]models.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, targets := range g.forward {
		n += len(targets)
	}
	return n
}

// Names returns all display names, sorted.
func (g *Graph) Names() []string { return g.universe.Names() }

// Resolve resolves a name against the current universe.
func (g *Graph) Resolve(name string) models.Resolution { return g.universe.Resolve(name) }

// Forward returns the nodes id links to, ordered by name.
func (g *Graph) Forward(id string) []models.Node { return g.collect(g.forward[id]) }

// Backward returns the nodes linking to id, ordered by name.
func (g *Graph) Backward(id string) []models.Node { return g.collect(g.backward[id]) }

// Links returns every link occurrence of id in source order.
func (g *Graph) Links(id string) []models.ResolvedLink {
	states := g.links[id]
	out := make([]models.ResolvedLink, len(states))
	for i, st := range states {
		out[i] = models.ResolvedLink{Source: id, Link: st.link, Resolution: st.res}
	}
	return out
}

// AllLinks returns every link occurrence ordered by source id, then position.
func (g *Graph) AllLinks() []models.ResolvedLink {
	var out []models.ResolvedLink
	for _, src := range sortedKeys(g.links) {
		out = append(out, g.Links(src)...)
	}
	return out
}

// Unresolved returns every link that is not resolved to exactly one node,
// ordered by source name, path and id, then position.
func (g *Graph) Unresolved() []models.ResolvedLink {
	var out []models.ResolvedLink
	for src, states := range g.links {
		for _, st := range states {
			if st.res.Kind != models.Resolved {
				out = append(out, models.ResolvedLink{Source: src, Link: st.link, Resolution: st.res})
			}
		}
	}
	slices.SortFunc(out, func(a, b models.ResolvedLink) int {
		na, nb := g.nodes[a.Source], g.nodes[b.Source]
		if c := strings.Compare(na.Name, nb.Name); c != 0 {
			return c
		}
		// Sources that share a name, such as notes.md and notes.txt.
		if c := strings.Compare(na.Path, nb.Path); c != 0 {
			return c
		}
		if c := strings.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return a.Link.Offset - b.Link.Offset
	})
	return out
}

func (g *Graph) collect(ids set) []models.Node {
	out := make([]models.Node, 0, len(ids))
	for id := range ids {
		out = append(out, g.nodes[id])
	}
	sortNodes(out)
	return out
}

func sortNodes(nodes []models.Node) {
	slices.SortFunc(nodes, func(a, b models.Node) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func addTo(m map[string]set, key, id string) {
	s, ok := m[key]
	if !ok {
		s = make(set)
		m[key] = s
	}
	s[id] = struct{}{}
}

func removeFrom(m map[string]set, key, id string) {
	s, ok := m[key]
	if !ok {
		return
	}
	delete(s, id)
	if len(s) == 0 {
		delete(m, key)
	}
}

func cloneAdjacency(m map[string]set) map[string]set {
	c := make(map[string]set, len(m))
	for k, s := range m {
		cp := make(set, len(s))
		for id := range s {
			cp[id] = struct{}{}
		}
		c[k] = cp
	}
	return c
}
