package parser

import (
	"slices"
	"testing"

	"github.com/starford/nous/internal/models"
)

func targets(links []models.Link) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.Target)
	}
	return out
}

func TestParse_FrontmatterTitle(t *testing.T) {
	input := []byte("---\ntitle: Hello\n---\n# Heading\nSee [[world]].\n")
	r := Parse(input)
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if got := targets(r.Links); !slices.Equal(got, []string{"world"}) {
		t.Errorf("links = %v, want [world]", got)
	}
}

func TestParse_H1Fallback(t *testing.T) {
	r := Parse([]byte("some text\n# My Heading\nmore"))
	if r.Title != "My Heading" {
		t.Errorf("title = %q, want %q", r.Title, "My Heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	r := Parse([]byte("---\n: invalid: yaml: {{{\n---\nBody [[x]]\n"))
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if len(r.Links) != 1 {
		t.Errorf("links = %v, want one", r.Links)
	}
}

func TestParse_AliasAndSection(t *testing.T) {
	r := Parse([]byte("See [[ Note A ]] and [[Note B#Intro|the intro]]."))
	if len(r.Links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(r.Links))
	}
	a, b := r.Links[0], r.Links[1]
	if a.Target != "Note A" || a.Alias != "" || a.Section != "" {
		t.Errorf("first link = %+v", a)
	}
	if b.Target != "Note B" || b.Section != "Intro" || b.Alias != "the intro" {
		t.Errorf("second link = %+v", b)
	}
}

func TestParse_KeepsDuplicatesInOrder(t *testing.T) {
	r := Parse([]byte("[[b]] [[a]] [[b]]"))
	if got := targets(r.Links); !slices.Equal(got, []string{"b", "a", "b"}) {
		t.Errorf("links = %v, want [b a b]", got)
	}
}

func TestParse_PreservesCaseAndInnerSpace(t *testing.T) {
	r := Parse([]byte("[[  Big  Idea ]]"))
	if len(r.Links) != 1 || r.Links[0].Target != "Big  Idea" {
		t.Errorf("links = %+v", r.Links)
	}
}

func TestParse_Positions(t *testing.T) {
	input := []byte("first line\nsecond [[a]]\n\nfourth [[b]]")
	r := Parse(input)
	if len(r.Links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(r.Links))
	}
	if r.Links[0].Line != 2 || r.Links[0].Offset != 18 {
		t.Errorf("first = line %d offset %d, want line 2 offset 18", r.Links[0].Line, r.Links[0].Offset)
	}
	if r.Links[1].Line != 4 {
		t.Errorf("second line = %d, want 4", r.Links[1].Line)
	}
	if string(input[r.Links[1].Offset:r.Links[1].Offset+2]) != "[[" {
		t.Errorf("offset %d does not point at the marker", r.Links[1].Offset)
	}
}

func TestParse_MalformedMarkersSkipped(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    []string
		reasons []string
	}{
		{"empty", "see [[ ]] and [[|alias]] then [[ok]]", []string{"ok"}, []string{"empty target", "empty target"}},
		{"section only", "[[#heading]] [[x]]", []string{"x"}, []string{"empty target"}},
		{"unterminated", "open [[never closed\nnext [[fine]]", []string{"fine"}, []string{"unterminated marker"}},
		{"unterminated at eof", "[[a]] tail [[b", []string{"a"}, []string{"unterminated marker"}},
		{"nested", "[[outer [[inner]] rest", []string{"inner"}, []string{"nested marker"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Parse([]byte(tc.input))
			if got := targets(r.Links); !slices.Equal(got, tc.want) {
				t.Errorf("links = %v, want %v", got, tc.want)
			}
			var reasons []string
			for _, d := range r.Diagnostics {
				reasons = append(reasons, d.Reason)
			}
			if !slices.Equal(reasons, tc.reasons) {
				t.Errorf("diagnostics = %v, want %v", reasons, tc.reasons)
			}
		})
	}
}

func TestLinks_Restartable(t *testing.T) {
	seq := Links([]byte("[[a]] [[b]] [[c]]"))
	var first, second []string
	for l := range seq {
		first = append(first, l.Target)
	}
	for l := range seq {
		second = append(second, l.Target)
		break
	}
	if !slices.Equal(first, []string{"a", "b", "c"}) {
		t.Errorf("first pass = %v", first)
	}
	if !slices.Equal(second, []string{"a"}) {
		t.Errorf("second pass = %v, want early stop at [a]", second)
	}
}
