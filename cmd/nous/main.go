package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

var version = "dev"

func newApp(stdout, stderr io.Writer) *cli.Command {
	c := &cliApp{stdout: stdout, stderr: stderr}
	return &cli.Command{
		Name:      "nous",
		Usage:     "Index and query the wikilinks of a directory of plain-text notes",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a config file layered over .nous/config.yaml",
				Sources: cli.EnvVars("NOUS_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "realm",
				Aliases: []string{"C"},
				Usage:   "Directory inside the realm to operate on",
				Value:   ".",
				Sources: cli.EnvVars("NOUS_REALM"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Make a directory the root of a new realm",
				ArgsUsage: "[dir]",
				Action:    c.initRealm,
			},
			{
				Name:   "root",
				Usage:  "Print the realm root",
				Flags:  []cli.Flag{absoluteFlag()},
				Action: c.root,
			},
			{
				Name:  "ls",
				Usage: "List node names",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "path", Aliases: []string{"p"}, Usage: "Print file paths instead of names"},
					absoluteFlag(),
					noReindexFlag(),
				},
				Action: c.list,
			},
			{
				Name:      "path",
				Usage:     "Print the file path of a node",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{absoluteFlag(), noReindexFlag()},
				Action:    c.path,
			},
			{
				Name:      "fl",
				Usage:     "List the nodes a node links to",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{noReindexFlag()},
				Action:    c.forwardLinks,
			},
			{
				Name:      "bl",
				Usage:     "List the nodes linking to a node",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{noReindexFlag()},
				Action:    c.backlinks,
			},
			{
				Name:      "touch",
				Usage:     "Create a node, or bump the modification time of an existing one",
				ArgsUsage: "NAME",
				Action:    c.touch,
			},
			{
				Name:      "rm",
				Usage:     "Delete a node's file",
				ArgsUsage: "NAME",
				Action:    c.remove,
			},
			{
				Name:      "mv",
				Usage:     "Rename a node and rewrite the links pointing at it",
				ArgsUsage: "FROM TO",
				Action:    c.move,
			},
			{
				Name:      "edit",
				Usage:     "Open a node in an editor and reindex afterwards",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "editor", Aliases: []string{"e"}, Usage: "Editor command (default $VISUAL, $EDITOR or vi)"},
				},
				Action: c.edit,
			},
			{
				Name:  "reindex",
				Usage: "Bring the index up to date with the files",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "full", Aliases: []string{"f"}, Usage: "Re-read every file instead of trusting size and mtime"},
				},
				Action: c.reindex,
			},
			{
				Name:   "unresolved",
				Usage:  "List links that match no node or several nodes",
				Flags:  []cli.Flag{noReindexFlag()},
				Action: c.unresolved,
			},
			{
				Name:   "watch",
				Usage:  "Reindex whenever files change, until interrupted",
				Action: c.watch,
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API, events and metrics while watching for changes",
				Action: c.serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: c.mcp,
			},
		},
	}
}

func main() {
	// Interrupts cancel the command instead of killing the process, so the
	// realm lock and commit temp files are released on the way out.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp(os.Stdout, os.Stderr).Run(ctx, os.Args)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
