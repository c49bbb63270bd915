// Package models defines the domain types shared by the realm index components.
package models

import "time"

// Node is a file within the realm eligible to hold links.
type Node struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// Link is a single wikilink occurrence inside a node's content.
type Link struct {
	Target  string `json:"target"`
	Section string `json:"section,omitempty"`
	Alias   string `json:"alias,omitempty"`
	Offset  int    `json:"offset"`
	Line    int    `json:"line"`
}

// ResolutionKind tags the outcome of resolving a raw link target.
type ResolutionKind uint8

const (
	Unresolved ResolutionKind = iota
	Resolved
	Ambiguous
)

// String returns the lower-case name of the kind.
func (k ResolutionKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unresolved"
	}
}

// Resolution is the outcome of resolving a raw target against the node universe.
// IDs holds exactly one id when Kind is Resolved, two or more when Ambiguous,
// and none when Unresolved.
type Resolution struct {
	Kind ResolutionKind `json:"kind"`
	IDs  []string       `json:"ids,omitempty"`
}

// Target returns the single resolved id, or "" for any other kind.
func (r Resolution) Target() string {
	if r.Kind != Resolved || len(r.IDs) != 1 {
		return ""
	}
	return r.IDs[0]
}

// Equal reports whether two resolutions carry the same outcome.
func (r Resolution) Equal(o Resolution) bool {
	if r.Kind != o.Kind || len(r.IDs) != len(o.IDs) {
		return false
	}
	for i := range r.IDs {
		if r.IDs[i] != o.IDs[i] {
			return false
		}
	}
	return true
}

// ResolvedLink pairs a link occurrence with its current resolution.
type ResolvedLink struct {
	Source     string     `json:"source"`
	Link       Link       `json:"link"`
	Resolution Resolution `json:"resolution"`
}

// Stats summarizes one reindex pass.
//
// Unresolved and Ambiguous count links whose resolution was recomputed during
// the pass and ended in that state, so a pass that changes nothing reports zeros.
type Stats struct {
	Generation uint64        `json:"generation"`
	Created    int           `json:"created"`
	Modified   int           `json:"modified"`
	Deleted    int           `json:"deleted"`
	Renamed    int           `json:"renamed"`
	Unresolved int           `json:"unresolved"`
	Ambiguous  int           `json:"ambiguous"`
	Duration   time.Duration `json:"duration"`
}

// Changed reports whether the pass observed any filesystem change.
func (s Stats) Changed() bool {
	return s.Created+s.Modified+s.Deleted+s.Renamed > 0
}
