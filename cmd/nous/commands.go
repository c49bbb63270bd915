package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/nous/internal"
	"github.com/starford/nous/internal/apperr"
	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/realm"
)

// quickEditor is how fast an editor has to exit for us to suspect it did not
// wait for the file to be closed.
const quickEditor = 100 * time.Millisecond

type cliApp struct {
	stdout io.Writer
	stderr io.Writer
}

func absoluteFlag() cli.Flag {
	return &cli.BoolFlag{Name: "absolute", Aliases: []string{"a"}, Usage: "Print absolute paths"}
}

func noReindexFlag() cli.Flag {
	return &cli.BoolFlag{Name: "no-reindex", Usage: "Query the last committed index without reindexing"}
}

// args returns exactly n positional arguments or a usage error.
func args(cmd *cli.Command, n int) ([]string, error) {
	if cmd.NArg() != n {
		return nil, fmt.Errorf("%s expects %s", cmd.Name, cmd.ArgsUsage)
	}
	return cmd.Args().Slice(), nil
}

// loadConfig finds the realm around the --realm directory and layers its config.
func (c *cliApp) loadConfig(cmd *cli.Command) (string, *internal.Config, error) {
	root, err := realm.FindRoot(cmd.String("realm"))
	if err != nil {
		return "", nil, err
	}
	cfg, err := internal.LoadConfig(root, cmd.String("config"))
	if err != nil {
		return "", nil, err
	}
	if cmd.Bool("verbose") {
		cfg.App.LogLevel = slog.LevelDebug
	}
	return root, cfg, nil
}

func (c *cliApp) logger(cfg *internal.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
}

// open opens the realm. Unless --no-reindex is set (or reindex is false) it
// brings the index up to date first; a realm locked by another writer is
// queried as last committed.
func (c *cliApp) open(ctx context.Context, cmd *cli.Command, reindex bool) (*realm.Realm, *internal.Config, error) {
	root, cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	rlm, err := realm.Open(root, cfg.RealmOptions(c.logger(cfg))...)
	if err != nil {
		return nil, nil, err
	}
	if reindex && !cmd.Bool("no-reindex") {
		_, err := rlm.Reindex(ctx)
		switch {
		case errors.Is(err, apperr.ErrLocked):
			printWarning(c.stderr, "%v; showing the last committed index", err)
		case err != nil:
			rlm.Close()
			return nil, nil, err
		}
	}
	return rlm, cfg, nil
}

func (c *cliApp) initRealm(ctx context.Context, cmd *cli.Command) error {
	dir := "."
	if cmd.NArg() > 1 {
		return fmt.Errorf("init expects at most one directory")
	}
	if cmd.NArg() == 1 {
		dir = cmd.Args().First()
	}
	root, err := realm.Init(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "initialized realm in %s\n", filepath.Join(root, realm.MetaDir))
	return nil
}

func (c *cliApp) root(ctx context.Context, cmd *cli.Command) error {
	root, err := realm.FindRoot(cmd.String("realm"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, c.display(root, cmd.Bool("absolute")))
	return nil
}

// display renders an absolute path relative to the working directory unless
// absolute is set.
func (c *cliApp) display(abs string, absolute bool) string {
	if absolute {
		return abs
	}
	wd, err := os.Getwd()
	if err != nil {
		return abs
	}
	if rel, err := filepath.Rel(wd, abs); err == nil {
		return rel
	}
	return abs
}

func (c *cliApp) list(ctx context.Context, cmd *cli.Command) error {
	rlm, _, err := c.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rlm.Close()

	for _, n := range rlm.Nodes() {
		switch {
		case cmd.Bool("absolute"):
			fmt.Fprintln(c.stdout, filepath.Join(rlm.Root(), filepath.FromSlash(n.Path)))
		case cmd.Bool("path"):
			fmt.Fprintln(c.stdout, filepath.FromSlash(n.Path))
		default:
			fmt.Fprintln(c.stdout, n.Name)
		}
	}
	return nil
}

func (c *cliApp) path(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1)
	if err != nil {
		return err
	}
	rlm, _, err := c.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rlm.Close()

	p, err := rlm.Path(a[0], cmd.Bool("absolute"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, p)
	return nil
}

func (c *cliApp) forwardLinks(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1)
	if err != nil {
		return err
	}
	rlm, _, err := c.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rlm.Close()

	rs, err := rlm.ForwardLinks(a[0])
	if err != nil {
		return err
	}
	for _, n := range rs.Nodes {
		fmt.Fprintln(c.stdout, n.Name)
	}
	warnLinks(c.stderr, rs.Node, rs)
	return nil
}

func (c *cliApp) backlinks(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1)
	if err != nil {
		return err
	}
	rlm, _, err := c.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rlm.Close()

	rs, err := rlm.Backlinks(a[0])
	if err != nil {
		return err
	}
	for _, n := range rs.Nodes {
		fmt.Fprintln(c.stdout, n.Name)
	}
	return nil
}

func (c *cliApp) touch(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1)
	if err != nil {
		return err
	}
	rlm, _, err := c.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rlm.Close()

	n, created, err := rlm.Touch(ctx, a[0])
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(c.stdout, "created %s\n", filepath.FromSlash(n.Path))
	}
	return nil
}

func (c *cliApp) remove(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1)
	if err != nil {
		return err
	}
	rlm, _, err := c.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rlm.Close()

	n, err := rlm.Remove(ctx, a[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "removed %s\n", filepath.FromSlash(n.Path))
	return nil
}

func (c *cliApp) move(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 2)
	if err != nil {
		return err
	}
	rlm, _, err := c.open(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rlm.Close()

	res, err := rlm.Move(ctx, a[0], a[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "moved %s -> %s\n", filepath.FromSlash(res.From), filepath.FromSlash(res.Node.Path))
	if res.Links > 0 {
		fmt.Fprintf(c.stdout, "rewrote %d links in %d files\n", res.Links, len(res.Rewritten))
	}
	return nil
}

// editorCommand picks the editor: the flag, then $VISUAL, then $EDITOR, then vi.
func editorCommand(flag string) []string {
	for _, e := range []string{flag, os.Getenv("VISUAL"), os.Getenv("EDITOR")} {
		if f := strings.Fields(e); len(f) > 0 {
			return f
		}
	}
	return []string{"vi"}
}

func (c *cliApp) edit(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1)
	if err != nil {
		return err
	}
	rlm, _, err := c.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rlm.Close()

	p, err := rlm.EditPath(a[0])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return apperr.IO("edit", p, err)
	}

	editor := editorCommand(cmd.String("editor"))
	// The editor owns the terminal, including Ctrl-C, so it is not tied to ctx.
	ed := exec.Command(editor[0], append(editor[1:], p)...)
	ed.Stdin, ed.Stdout, ed.Stderr = os.Stdin, c.stdout, c.stderr
	start := time.Now()
	if err := ed.Run(); err != nil {
		return fmt.Errorf("editor %s: %w", editor[0], err)
	}
	if time.Since(start) < quickEditor {
		printWarning(c.stderr, "%s exited immediately; if it runs in the background, make it wait for the file to close", editor[0])
	}

	_, err = rlm.Reindex(ctx)
	return err
}

func (c *cliApp) reindex(ctx context.Context, cmd *cli.Command) error {
	rlm, _, err := c.open(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rlm.Close()

	var opts []realm.ReindexOption
	if cmd.Bool("full") {
		opts = append(opts, realm.Full())
	}
	stats, err := rlm.Reindex(ctx, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, formatStats(c.stdout, stats))
	return nil
}

func (c *cliApp) unresolved(ctx context.Context, cmd *cli.Command) error {
	rlm, _, err := c.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rlm.Close()

	for _, b := range rlm.Unresolved() {
		line := fmt.Sprintf("%s:%d: [[%s]] %s", filepath.FromSlash(b.Source.Path), b.Link.Line, b.Link.Target, b.Kind)
		if len(b.Candidates) > 0 {
			names := make([]string, len(b.Candidates))
			for i, n := range b.Candidates {
				names[i] = n.Name
			}
			line += " (" + strings.Join(names, ", ") + ")"
		}
		fmt.Fprintln(c.stdout, line)
	}
	return nil
}

func (c *cliApp) watch(ctx context.Context, cmd *cli.Command) error {
	rlm, cfg, err := c.open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer rlm.Close()

	rlm.OnReindex(func(s models.Stats) {
		fmt.Fprintln(c.stdout, formatStats(c.stdout, s))
	})
	fmt.Fprintf(c.stdout, "watching %s\n", c.display(rlm.Root(), false))
	return rlm.Watch(ctx, cfg.Watch.Debounce)
}

func (c *cliApp) serve(ctx context.Context, cmd *cli.Command) error {
	root, cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Run(ctx,
		internal.WithConfig(cfg),
		internal.WithRoot(root),
		internal.WithVersion(version),
	)
}

func (c *cliApp) mcp(ctx context.Context, cmd *cli.Command) error {
	root, cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx,
		internal.WithConfig(cfg),
		internal.WithRoot(root),
		internal.WithVersion(version),
		internal.WithLogger(c.logger(cfg)),
	)
}
