package mcpserver

// LinkSyntax describes how wikilinks are written and resolved, for LLM
// consumers that read or edit nodes of a realm.
const LinkSyntax = `# Wikilink Syntax

A realm is a directory tree of text files (nodes). Nodes refer to each other
with wikilinks, which the index resolves to node identities.

## Markers

` + "```" + `markdown
[[target]]
[[target#section]]
[[target|alias]]
[[target#section|alias]]
` + "```" + `

1. A marker opens with ` + "`" + `[[` + "`" + ` and closes with ` + "`" + `]]` + "`" + ` on the same line.
2. ` + "`" + `#` + "`" + ` introduces a section and ` + "`" + `|` + "`" + ` an alias. Neither takes part in resolution.
3. A marker with an empty target, or with another ` + "`" + `[[` + "`" + ` inside it, is skipped.

## Names

- A node's name is its path relative to the realm root without the file
  extension, with forward slashes: ` + "`" + `projects/roadmap.md` + "`" + ` is ` + "`" + `projects/roadmap` + "`" + `.
- Targets match names case-insensitively. The extension may be included.
- A bare basename (` + "`" + `[[roadmap]]` + "`" + `) matches any node with that basename.
  When several nodes share it the link is ambiguous; write the full name.

## Tools

- ` + "`" + `resolve_name` + "`" + ` shows which node a target reaches.
- ` + "`" + `backlinks` + "`" + ` and ` + "`" + `forward_links` + "`" + ` walk the link graph.
- ` + "`" + `unresolved_links` + "`" + ` lists broken and ambiguous links to fix.
- ` + "`" + `move_node` + "`" + ` renames a node and rewrites the links pointing at it.
`
