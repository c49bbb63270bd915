// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes realm index queries for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/nous/internal/apperr"
	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/realm"
)

const syntaxURI = "nous://link-syntax"

// Realm is the part of *realm.Realm the MCP tools use.
type Realm interface {
	KnownNames() []string
	Resolve(name string) (models.Node, error)
	Backlinks(name string) (*realm.ResultSet, error)
	ForwardLinks(name string) (*realm.ResultSet, error)
	Unresolved() []realm.BrokenLink
	Path(name string, absolute bool) (string, error)
	Reindex(ctx context.Context, opts ...realm.ReindexOption) (models.Stats, error)
	Touch(ctx context.Context, name string) (models.Node, bool, error)
	Move(ctx context.Context, from, to string) (*realm.MoveResult, error)
}

var _ Realm = (*realm.Realm)(nil)

// Server wraps the MCP server with realm tools.
type Server struct {
	mcp   *server.MCPServer
	realm Realm
}

// New creates a new MCP server with all realm tools registered.
func New(rlm Realm, version string) *Server {
	s := &Server{realm: rlm}

	s.mcp = server.NewMCPServer(
		"Nous",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("known_names",
		mcp.WithDescription("List the name of every node in the realm."),
		mcp.WithString("prefix", mcp.Description("Optional folder prefix to filter names (e.g. projects/)")),
	), s.knownNames)

	s.mcp.AddTool(mcp.NewTool("resolve_name",
		mcp.WithDescription("Resolve a wikilink target or node name to the node it refers to."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Node name or link target (e.g. folder/note)")),
	), s.resolveName)

	s.mcp.AddTool(mcp.NewTool("backlinks",
		mcp.WithDescription("Find all nodes that link to the specified node."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the node to find backlinks for")),
	), s.backlinks)

	s.mcp.AddTool(mcp.NewTool("forward_links",
		mcp.WithDescription("Find the nodes the specified node links to, plus its broken links."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the node to follow")),
	), s.forwardLinks)

	s.mcp.AddTool(mcp.NewTool("unresolved_links",
		mcp.WithDescription("List every link that matches no node or several nodes."),
	), s.unresolvedLinks)

	s.mcp.AddTool(mcp.NewTool("node_path",
		mcp.WithDescription("Return the file path of a node."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Node name")),
		mcp.WithBoolean("absolute", mcp.Description("Return an absolute path instead of a realm-relative one")),
	), s.nodePath)

	s.mcp.AddTool(mcp.NewTool("touch_node",
		mcp.WithDescription("Create an empty node, or bump the modification time of an existing one."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Node name")),
	), s.touchNode)

	s.mcp.AddTool(mcp.NewTool("move_node",
		mcp.WithDescription("Rename a node and rewrite every wikilink pointing at it. "+
			"Read the link syntax first via the get_link_syntax tool or the "+syntaxURI+" resource."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Current node name")),
		mcp.WithString("to", mcp.Required(), mcp.Description("New node name")),
	), s.moveNode)

	s.mcp.AddTool(mcp.NewTool("reindex",
		mcp.WithDescription("Bring the index up to date with the files on disk."),
		mcp.WithBoolean("full", mcp.Description("Re-read every file instead of trusting size and mtime")),
	), s.reindex)

	s.mcp.AddTool(mcp.NewTool("get_link_syntax",
		mcp.WithDescription("Returns the wikilink syntax and name resolution rules."),
	), s.getLinkSyntax)

	// Resource: link syntax.
	s.mcp.AddResource(
		mcp.NewResource(syntaxURI, "Wikilink Syntax",
			mcp.WithResourceDescription("How wikilinks are written and resolved to nodes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLinkSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError renders err for the model, listing candidates of an ambiguous name.
func toolError(err error) *mcp.CallToolResult {
	var nameErr *apperr.NameError
	if errors.As(err, &nameErr) && nameErr.Ambiguous {
		return mcp.NewToolResultError(fmt.Sprintf("%q is ambiguous, use one of:\n%s",
			nameErr.Name, strings.Join(nameErr.Candidates, "\n")))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) knownNames(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix := strings.ToLower(req.GetString("prefix", ""))
	var names []string
	for _, n := range s.realm.KnownNames() {
		if strings.HasPrefix(strings.ToLower(n), prefix) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return mcp.NewToolResultText("no nodes found"), nil
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) resolveName(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.realm.Resolve(name)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(n), nil
}

func (s *Server) backlinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rs, err := s.realm.Backlinks(name)
	if err != nil {
		return toolError(err), nil
	}
	if len(rs.Nodes) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(nodeNames(rs.Nodes), "\n")), nil
}

func (s *Server) forwardLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rs, err := s.realm.ForwardLinks(name)
	if err != nil {
		return toolError(err), nil
	}
	var b strings.Builder
	for _, n := range rs.Nodes {
		b.WriteString(n.Name + "\n")
	}
	for _, l := range rs.Unresolved {
		fmt.Fprintf(&b, "unresolved: %s (line %d)\n", l.Link.Target, l.Link.Line)
	}
	for _, l := range rs.Ambiguous {
		fmt.Fprintf(&b, "ambiguous: %s (line %d)\n", l.Link.Target, l.Link.Line)
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("no links found"), nil
	}
	return mcp.NewToolResultText(strings.TrimSuffix(b.String(), "\n")), nil
}

func (s *Server) unresolvedLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	links := s.realm.Unresolved()
	if len(links) == 0 {
		return mcp.NewToolResultText("no unresolved links"), nil
	}
	return jsonResult(links), nil
}

func (s *Server) nodePath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.realm.Path(name, req.GetBool("absolute", false))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(p), nil
}

func (s *Server) touchNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, created, err := s.realm.Touch(ctx, name)
	if err != nil {
		return toolError(err), nil
	}
	if created {
		return mcp.NewToolResultText(fmt.Sprintf("created: %s", n.Path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("touched: %s", n.Path)), nil
}

func (s *Server) moveNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.realm.Move(ctx, from, to)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) reindex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var opts []realm.ReindexOption
	if req.GetBool("full", false) {
		opts = append(opts, realm.Full())
	}
	stats, err := s.realm.Reindex(ctx, opts...)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(stats), nil
}

func (s *Server) getLinkSyntax(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LinkSyntax), nil
}

func (s *Server) readLinkSyntaxResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      syntaxURI,
			MIMEType: "text/markdown",
			Text:     LinkSyntax,
		},
	}, nil
}

func nodeNames(nodes []models.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}
