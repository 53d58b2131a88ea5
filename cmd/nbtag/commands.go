package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starford/nbtag/internal"
	"github.com/starford/nbtag/internal/kernel"
	"github.com/starford/nbtag/internal/markdown"
	"github.com/starford/nbtag/internal/nbformat"
	"github.com/starford/nbtag/internal/notebook"
	"github.com/starford/nbtag/internal/session"
	pkgconfig "github.com/starford/nbtag/pkg/config"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "nbtag",
		Usage:   "Tag notebook blocks and run them selectively",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the REST API and event stream for a notebook workspace",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:      "tags",
				Usage:     "Print the tags of every block of a notebook",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "markdown", Usage: "Keep markdown cells as blocks"},
				},
				Action: printTags,
			},
			{
				Name:      "run",
				Usage:     "Run the blocks of a notebook selected by tag",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tag", Usage: "Run every block carrying `TAG`"},
					&cli.StringFlag{Name: "before", Usage: "Run every block before the first one carrying `TAG`"},
					&cli.StringFlag{Name: "after", Usage: "Run every block after the last one carrying `TAG`"},
					&cli.StringSliceFlag{Name: "exclude", Usage: "Leave blocks carrying `TAG` out of a full run"},
					&cli.BoolFlag{Name: "all", Usage: "Run every block, skipped and hook blocks included"},
					&cli.BoolFlag{Name: "strict", Usage: "Fail when no block carries the tag"},
					&cli.BoolFlag{Name: "markdown", Usage: "Print markdown cells as they are reached"},
				},
				Action: runNotebook,
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOrDefault(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

func fileArg(cmd *cli.Command) (string, error) {
	if cmd.NArg() != 1 {
		return "", fmt.Errorf("%s: expected exactly one notebook file", cmd.Name)
	}
	return cmd.Args().First(), nil
}

func printTags(_ context.Context, cmd *cli.Command) error {
	path, err := fileArg(cmd)
	if err != nil {
		return err
	}
	doc, err := nbformat.ReadFile(path)
	if err != nil {
		return err
	}
	blocks, err := notebook.Load(doc, notebook.LoadOptions{KeepMarkdown: cmd.Bool("markdown")})
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	for _, b := range blocks {
		first, _, _ := strings.Cut(b.Source, "\n")
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", b.Position, b.Kind, b.Tags, first)
	}
	return nil
}

// runRequest maps the run flags to a request. The mode flags are named
// after their modes; at most one may be set and none means a full run.
func runRequest(cmd *cli.Command) (session.Request, error) {
	req := session.Request{
		Mode:        session.ModeAll,
		Exclude:     cmd.StringSlice("exclude"),
		NoBlacklist: cmd.Bool("all"),
		Strict:      cmd.Bool("strict"),
	}
	set := 0
	for _, mode := range []session.Mode{session.ModeTag, session.ModeBefore, session.ModeAfter} {
		if tag := cmd.String(string(mode)); tag != "" {
			req.Mode, req.Tag = mode, tag
			set++
		}
	}
	if set > 1 {
		return req, errors.New("run: --tag, --before and --after are mutually exclusive")
	}
	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("run: %w", err)
	}
	return req, nil
}

func runNotebook(ctx context.Context, cmd *cli.Command) (err error) {
	path, err := fileArg(cmd)
	if err != nil {
		return err
	}
	req, err := runRequest(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	nb, err := notebook.New(ctx, path,
		notebook.WithHost(kernel.NewStarlark(w)),
		notebook.WithMarkdown(cmd.Bool("markdown") || cfg.Notebook.KeepMarkdown),
		notebook.WithRenderer(markdown.TextRenderer{W: w}),
		notebook.WithBlacklist(cfg.Notebook.Blacklist...),
	)
	if err != nil {
		return describe(cmd.Root().ErrWriter, err)
	}
	defer func() {
		if cerr := nb.Close(ctx); cerr != nil && err == nil {
			err = describe(cmd.Root().ErrWriter, cerr)
		}
	}()

	if req.Mode == session.ModeAll && !req.NoBlacklist {
		// The hooks already run on open and close.
		req.Exclude = append(req.Exclude, notebook.InitTag, notebook.DelTag)
	}
	if err := session.Execute(ctx, nb, req); err != nil {
		return describe(cmd.Root().ErrWriter, err)
	}
	return nil
}

// describe writes the Starlark backtrace of an execution failure to w.
func describe(w io.Writer, err error) error {
	var execErr *kernel.ExecutionError
	if errors.As(err, &execErr) && execErr.Backtrace != "" && w != nil {
		fmt.Fprintln(w, execErr.Backtrace)
	}
	return err
}
