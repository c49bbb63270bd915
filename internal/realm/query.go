package realm

import (
	"path/filepath"

	"github.com/starford/nous/internal/apperr"
	"github.com/starford/nous/internal/models"
)

// ResultSet is the answer to a link query. Node is the node the query name
// resolved to. For forward queries Unresolved and Ambiguous hold the node's
// outgoing links that do not point at exactly one node.
type ResultSet struct {
	Node       models.Node           `json:"node"`
	Nodes      []models.Node         `json:"nodes"`
	Unresolved []models.ResolvedLink `json:"unresolved,omitempty"`
	Ambiguous  []models.ResolvedLink `json:"ambiguous,omitempty"`
}

// BrokenLink is a link that does not resolve to exactly one node.
type BrokenLink struct {
	Source     models.Node           `json:"source"`
	Link       models.Link           `json:"link"`
	Kind       models.ResolutionKind `json:"kind"`
	Candidates []models.Node         `json:"candidates,omitempty"`
}

// Generation returns the generation of the in-memory index.
func (r *Realm) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Generation
}

// Stats returns the result of the last reindex.
func (r *Realm) Stats() models.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Resolve returns the node name refers to. A name matching no node yields a
// *NameError that is ErrUnresolved; several yield one that is ErrAmbiguous
// and lists the candidates.
func (r *Realm) Resolve(name string) (models.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(name)
}

func (r *Realm) resolve(name string) (models.Node, error) {
	g := r.state.Graph
	res := g.Resolve(name)
	switch res.Kind {
	case models.Resolved:
		n, _ := g.Node(res.Target())
		return n, nil
	case models.Ambiguous:
		cands := make([]string, 0, len(res.IDs))
		for _, id := range res.IDs {
			n, _ := g.Node(id)
			cands = append(cands, n.Name)
		}
		return models.Node{}, &apperr.NameError{Name: name, Ambiguous: true, Candidates: cands}
	default:
		return models.Node{}, &apperr.NameError{Name: name}
	}
}

// Backlinks returns the nodes that link to name.
func (r *Realm) Backlinks(name string) (*ResultSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	return &ResultSet{Node: n, Nodes: r.state.Graph.Backward(n.ID)}, nil
}

// ForwardLinks returns the nodes name links to, together with its links
// that are unresolved or ambiguous.
func (r *Realm) ForwardLinks(name string) (*ResultSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	rs := &ResultSet{Node: n, Nodes: r.state.Graph.Forward(n.ID)}
	for _, l := range r.state.Graph.Links(n.ID) {
		switch l.Resolution.Kind {
		case models.Unresolved:
			rs.Unresolved = append(rs.Unresolved, l)
		case models.Ambiguous:
			rs.Ambiguous = append(rs.Ambiguous, l)
		}
	}
	return rs, nil
}

// KnownNames returns every node's display name, sorted.
func (r *Realm) KnownNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Graph.Names()
}

// Nodes returns every node ordered by name.
func (r *Realm) Nodes() []models.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Graph.Nodes()
}

// Unresolved returns every broken or ambiguous link in the realm, ordered by
// source name and position.
func (r *Realm) Unresolved() []BrokenLink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.state.Graph
	links := g.Unresolved()
	out := make([]BrokenLink, 0, len(links))
	for _, l := range links {
		src, _ := g.Node(l.Source)
		b := BrokenLink{Source: src, Link: l.Link, Kind: l.Resolution.Kind}
		for _, id := range l.Resolution.IDs {
			n, _ := g.Node(id)
			b.Candidates = append(b.Candidates, n)
		}
		out = append(out, b)
	}
	return out
}

// Path returns the path of the node name refers to, relative to the realm
// root or absolute.
func (r *Realm) Path(name string, absolute bool) (string, error) {
	n, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	if absolute {
		return r.files.Abs(n.Path)
	}
	return filepath.FromSlash(n.Path), nil
}
